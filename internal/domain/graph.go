package domain

import "fmt"

// Graph is the derived view a renderer consumes.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphNode is one renderable element. Lab nodes and network endpoints
// (bridges, host interfaces) both surface as graph nodes, distinguished by
// Kind.
type GraphNode struct {
	ID               string          `json:"id"`
	Label            string          `json:"label"`
	Kind             string          `json:"kind"`
	Image            string          `json:"image,omitempty"`
	Type             string          `json:"type,omitempty"`
	Group            string          `json:"group,omitempty"`
	Level            string          `json:"level,omitempty"`
	Icon             string          `json:"icon,omitempty"`
	Position         *Position       `json:"position,omitempty"`
	GeoCoordinates   *GeoCoordinates `json:"geoCoordinates,omitempty"`
	InterfacePattern string          `json:"interfacePattern,omitempty"`
	NetworkNode      bool            `json:"networkNode,omitempty"`

	// Runtime enrichment, attached in view mode only.
	State    string `json:"state,omitempty"`
	MgmtIPv4 string `json:"mgmtIPv4,omitempty"`
	MgmtIPv6 string `json:"mgmtIPv6,omitempty"`
}

// GraphEdge is one renderable link.
type GraphEdge struct {
	ID             string `json:"id"`
	Source         string `json:"source"`
	Target         string `json:"target"`
	SourceEndpoint string `json:"sourceEndpoint,omitempty"`
	TargetEndpoint string `json:"targetEndpoint,omitempty"`
	Special        bool   `json:"special,omitempty"`
	Style          string `json:"style,omitempty"`
	Color          string `json:"color,omitempty"`
	Label          string `json:"label,omitempty"`
}

// RuntimeStatus is live per-node state supplied by a status provider
// during snapshot enrichment.
type RuntimeStatus struct {
	State    string `json:"state"`
	MgmtIPv4 string `json:"mgmtIPv4,omitempty"`
	MgmtIPv6 string `json:"mgmtIPv6,omitempty"`
}

// StatusLookup resolves a node name to its runtime status. A nil lookup or
// a nil result leaves the node unenriched.
type StatusLookup func(name string) *RuntimeStatus

// BuildGraph derives renderable elements from the parsed document and its
// annotations. In view mode, statuses enriches lab nodes with runtime
// state; special link endpoints become synthetic network nodes positioned
// by their NetworkNodeAnnotation when one exists.
func BuildGraph(doc *TopologyDocument, ann *Annotations, mode Mode, statuses StatusLookup) *Graph {
	graph := &Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}}
	if doc == nil || doc.Topology == nil {
		return graph
	}

	for id, def := range doc.Topology.Nodes {
		// A bare node declaration (no body) decodes to a nil definition.
		if def == nil {
			def = &NodeDefinition{}
		}
		node := GraphNode{
			ID:    id,
			Label: id,
			Kind:  def.Kind,
			Image: def.Image,
			Type:  def.Type,
			Group: def.Group,
		}
		if na := ann.NodeAnnotation(id); na != nil {
			node.Position = na.Position
			node.GeoCoordinates = na.GeoCoordinates
			node.Icon = na.Icon
			node.Level = na.Level
			node.InterfacePattern = na.InterfacePattern
			if na.Group != "" {
				node.Group = na.Group
			}
		}
		if node.InterfacePattern == "" {
			node.InterfacePattern = InterfacePatternForKind(def.Kind)
		}
		// Statically assigned management addresses are known even before
		// any runtime observation exists.
		node.MgmtIPv4 = def.MgmtIPv4
		node.MgmtIPv6 = def.MgmtIPv6
		if mode == ModeView && statuses != nil {
			if rt := statuses(id); rt != nil {
				node.State = rt.State
				if rt.MgmtIPv4 != "" {
					node.MgmtIPv4 = rt.MgmtIPv4
				}
				if rt.MgmtIPv6 != "" {
					node.MgmtIPv6 = rt.MgmtIPv6
				}
			}
		}
		graph.Nodes = append(graph.Nodes, node)
	}

	seenNetwork := make(map[string]bool)
	for i, link := range doc.Topology.Links {
		edge := GraphEdge{
			ID:      link.Key(),
			Special: link.IsSpecial(),
		}
		if edge.ID == "" {
			edge.ID = fmt.Sprintf("link-%d", i)
		}

		switch len(link.Endpoints) {
		case 2:
			srcNode, srcIface := SplitEndpoint(link.Endpoints[0])
			dstNode, dstIface := SplitEndpoint(link.Endpoints[1])
			edge.Source = srcNode
			edge.SourceEndpoint = srcIface
			edge.Target = dstNode
			edge.TargetEndpoint = dstIface
			for _, end := range []string{srcNode, dstNode} {
				if doc.Node(end) == nil && !seenNetwork[end] {
					seenNetwork[end] = true
					graph.Nodes = append(graph.Nodes, networkNode(end, ann))
				}
			}
		case 1:
			srcNode, srcIface := SplitEndpoint(link.Endpoints[0])
			edge.Source = srcNode
			edge.SourceEndpoint = srcIface
			target := link.Type
			if target == "" {
				target = LinkTypeHost
			}
			edge.Target = target
			if !seenNetwork[target] {
				seenNetwork[target] = true
				graph.Nodes = append(graph.Nodes, networkNode(target, ann))
			}
		default:
			continue
		}

		if ea := edgeAnnotation(ann, edge.ID); ea != nil {
			edge.Style = ea.Style
			edge.Color = ea.Color
			edge.Label = ea.Label
		}
		graph.Edges = append(graph.Edges, edge)
	}

	return graph
}

func networkNode(id string, ann *Annotations) GraphNode {
	node := GraphNode{ID: id, Label: id, Kind: "network", NetworkNode: true}
	if ann == nil {
		return node
	}
	for i := range ann.NetworkNodeAnnotations {
		na := &ann.NetworkNodeAnnotations[i]
		if na.ID == id {
			node.Position = na.Position
			if na.Label != "" {
				node.Label = na.Label
			}
		}
	}
	return node
}

func edgeAnnotation(ann *Annotations, id string) *EdgeAnnotation {
	if ann == nil {
		return nil
	}
	for i := range ann.EdgeAnnotations {
		if ann.EdgeAnnotations[i].ID == id {
			return &ann.EdgeAnnotations[i]
		}
	}
	return nil
}
