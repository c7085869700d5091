package domain

import (
	"fmt"
	"strings"
)

// Special link types reference an external resource instead of a second
// lab node. These links carry a single endpoint.
const (
	LinkTypeHost    = "host"
	LinkTypeMgmtNet = "mgmt-net"
	LinkTypeMacVLAN = "macvlan"
	LinkTypeVXLAN   = "vxlan"
	LinkTypeDummy   = "dummy"
)

// TopologyDocument is the typed, read-only view of the primary lab file.
// It is decoded from the format-preserving tree on every snapshot build;
// mutations go through the document store, never through this view.
type TopologyDocument struct {
	Name     string        `yaml:"name"`
	Prefix   *string       `yaml:"prefix,omitempty"`
	Mgmt     *MgmtNetwork  `yaml:"mgmt,omitempty"`
	Topology *TopologyBody `yaml:"topology"`
}

// MgmtNetwork is the optional management-network block of the lab file.
type MgmtNetwork struct {
	Network    string `yaml:"network,omitempty" json:"network,omitempty"`
	IPv4Subnet string `yaml:"ipv4-subnet,omitempty" json:"ipv4Subnet,omitempty"`
	IPv6Subnet string `yaml:"ipv6-subnet,omitempty" json:"ipv6Subnet,omitempty"`
}

// TopologyBody holds the node map and the ordered link list.
type TopologyBody struct {
	Nodes map[string]*NodeDefinition `yaml:"nodes"`
	Links []*LinkDefinition          `yaml:"links,omitempty"`
}

// NodeDefinition is one node declaration from the lab file.
type NodeDefinition struct {
	Kind     string            `yaml:"kind,omitempty" json:"kind,omitempty"`
	Image    string            `yaml:"image,omitempty" json:"image,omitempty"`
	Type     string            `yaml:"type,omitempty" json:"type,omitempty"`
	Group    string            `yaml:"group,omitempty" json:"group,omitempty"`
	MgmtIPv4 string            `yaml:"mgmt-ipv4,omitempty" json:"mgmtIPv4,omitempty"`
	MgmtIPv6 string            `yaml:"mgmt-ipv6,omitempty" json:"mgmtIPv6,omitempty"`
	Labels   map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// LinkDefinition is one link declaration. A point-to-point link carries two
// endpoints; a special link carries one endpoint plus a Type naming the
// external resource it attaches to.
type LinkDefinition struct {
	Endpoints []string `yaml:"endpoints" json:"endpoints"`
	Type      string   `yaml:"type,omitempty" json:"type,omitempty"`
}

// IsSpecial reports whether the link references an external resource type
// rather than a second lab node.
func (l *LinkDefinition) IsSpecial() bool {
	return l.Type != "" && l.Type != "veth"
}

// Involves reports whether any endpoint of the link belongs to the node.
func (l *LinkDefinition) Involves(nodeID string) bool {
	for _, ep := range l.Endpoints {
		if node, _ := SplitEndpoint(ep); node == nodeID {
			return true
		}
	}
	return false
}

// Key returns a stable identity for the link derived from its endpoints,
// used to match link-level commands and edge annotations.
func (l *LinkDefinition) Key() string {
	return strings.Join(l.Endpoints, "~")
}

// SplitEndpoint splits "node:interface" into its two parts. Endpoints
// without an interface part return an empty interface name.
func SplitEndpoint(ep string) (node, iface string) {
	if idx := strings.Index(ep, ":"); idx >= 0 {
		return ep[:idx], ep[idx+1:]
	}
	return ep, ""
}

// JoinEndpoint is the inverse of SplitEndpoint.
func JoinEndpoint(node, iface string) string {
	if iface == "" {
		return node
	}
	return fmt.Sprintf("%s:%s", node, iface)
}

// LabSettings are the top-level lab fields a renderer may edit. They are
// extracted from the parsed document on every snapshot build.
type LabSettings struct {
	Name   string       `json:"name"`
	Prefix *string      `json:"prefix,omitempty"`
	Mgmt   *MgmtNetwork `json:"mgmt,omitempty"`
}

// NodeIDs returns the declared node ids in no particular order.
func (d *TopologyDocument) NodeIDs() []string {
	if d.Topology == nil {
		return nil
	}
	ids := make([]string, 0, len(d.Topology.Nodes))
	for id := range d.Topology.Nodes {
		ids = append(ids, id)
	}
	return ids
}

// Node returns the declaration for id, or nil.
func (d *TopologyDocument) Node(id string) *NodeDefinition {
	if d.Topology == nil {
		return nil
	}
	return d.Topology.Nodes[id]
}

// Settings extracts the lab-level settings from the document.
func (d *TopologyDocument) Settings() LabSettings {
	return LabSettings{Name: d.Name, Prefix: d.Prefix, Mgmt: d.Mgmt}
}
