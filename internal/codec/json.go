package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"labtopo/internal/domain"
)

// JSONExporter writes the full snapshot as indented JSON.
type JSONExporter struct{}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

func (e *JSONExporter) Format() string {
	return "json"
}

func (e *JSONExporter) ContentType() string {
	return "application/json"
}

func (e *JSONExporter) Export(snap *domain.Snapshot, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}
