package domain

// interfacePatterns maps a node kind to the interface-naming pattern its
// network OS uses. "{n}" is the port index placeholder. The table backs
// the legacy-naming migration: once a pattern is persisted into a node's
// annotation, renders no longer consult it for that node.
var interfacePatterns = map[string]string{
	"nokia_srlinux":  "e1-{n}",
	"nokia_sros":     "1/1/{n}",
	"arista_ceos":    "eth{n}",
	"arista_veos":    "Ethernet{n}",
	"cisco_xrd":      "Gi0-0-0-{n}",
	"cisco_iol":      "Ethernet0/{n}",
	"juniper_crpd":   "eth{n}",
	"juniper_vjunos": "ge-0/0/{n}",
	"sonic-vs":       "Ethernet{n}",
	"linux":          "eth{n}",
	"bridge":         "port{n}",
}

// DefaultInterfacePattern is used for kinds missing from the table.
const DefaultInterfacePattern = "eth{n}"

// InterfacePatternForKind returns the inferred interface-naming pattern
// for a node kind.
func InterfacePatternForKind(kind string) string {
	if p, ok := interfacePatterns[kind]; ok {
		return p
	}
	return DefaultInterfacePattern
}

// HasKnownInterfacePattern reports whether the kind has an explicit table
// entry, as opposed to falling back to the default.
func HasKnownInterfacePattern(kind string) bool {
	_, ok := interfacePatterns[kind]
	return ok
}
