package codec

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"labtopo/internal/domain"
)

// YAMLExporter writes the derived graph as YAML, a compact form for
// inventory tooling that does not want the full snapshot envelope.
type YAMLExporter struct{}

// NewYAMLExporter creates a YAML exporter.
func NewYAMLExporter() *YAMLExporter {
	return &YAMLExporter{}
}

func (e *YAMLExporter) Format() string {
	return "yaml"
}

func (e *YAMLExporter) ContentType() string {
	return "application/yaml"
}

func (e *YAMLExporter) Export(snap *domain.Snapshot, w io.Writer) error {
	out := struct {
		Name  string       `yaml:"name"`
		Graph domain.Graph `yaml:"graph"`
	}{Name: snap.Name, Graph: snap.Graph}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return enc.Close()
}
