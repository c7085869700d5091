package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"labtopo/internal/domain"
)

// HCLExporter writes the lab as HCL blocks, one per node and link, for
// operators who drive lab provisioning from Terraform-style tooling.
type HCLExporter struct{}

// NewHCLExporter creates an HCL exporter.
func NewHCLExporter() *HCLExporter {
	return &HCLExporter{}
}

func (e *HCLExporter) Format() string {
	return "hcl"
}

func (e *HCLExporter) ContentType() string {
	return "text/plain; charset=utf-8"
}

func (e *HCLExporter) Export(snap *domain.Snapshot, w io.Writer) error {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	root.SetAttributeValue("lab", cty.StringVal(snap.Name))
	if snap.LabSettings.Prefix != nil {
		root.SetAttributeValue("prefix", cty.StringVal(*snap.LabSettings.Prefix))
	}
	root.AppendNewline()

	nodes := make([]domain.GraphNode, 0, len(snap.Graph.Nodes))
	for _, node := range snap.Graph.Nodes {
		if !node.NetworkNode {
			nodes = append(nodes, node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	for _, node := range nodes {
		block := root.AppendNewBlock("node", []string{sanitizeName(node.ID)})
		body := block.Body()
		setAttributeStr(body, "kind", node.Kind)
		setAttributeStr(body, "image", node.Image)
		setAttributeStr(body, "type", node.Type)
		setAttributeStr(body, "group", node.Group)
		if node.Position != nil {
			body.SetAttributeValue("position", cty.ObjectVal(map[string]cty.Value{
				"x": cty.NumberFloatVal(node.Position.X),
				"y": cty.NumberFloatVal(node.Position.Y),
			}))
		}
		root.AppendNewline()
	}

	for _, edge := range snap.Graph.Edges {
		block := root.AppendNewBlock("link", nil)
		body := block.Body()
		endpoints := []cty.Value{
			cty.StringVal(domain.JoinEndpoint(edge.Source, edge.SourceEndpoint)),
			cty.StringVal(domain.JoinEndpoint(edge.Target, edge.TargetEndpoint)),
		}
		body.SetAttributeValue("endpoints", cty.ListVal(endpoints))
		root.AppendNewline()
	}

	if _, err := w.Write(f.Bytes()); err != nil {
		return fmt.Errorf("write hcl: %w", err)
	}
	return nil
}

func setAttributeStr(body *hclwrite.Body, name, value string) {
	if value != "" {
		body.SetAttributeValue(name, cty.StringVal(value))
	}
}

// sanitizeName converts a node id to an HCL-safe label.
func sanitizeName(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}
