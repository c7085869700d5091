// Package codec renders snapshots into downloadable formats.
package codec

import (
	"io"

	"labtopo/internal/domain"
)

// Exporter renders a snapshot to one output format.
type Exporter interface {
	Export(snap *domain.Snapshot, w io.Writer) error
	Format() string
	ContentType() string
}

// ForFormat returns the exporter for a format name, or nil.
func ForFormat(format string) Exporter {
	switch format {
	case "json":
		return NewJSONExporter()
	case "yaml":
		return NewYAMLExporter()
	case "hcl":
		return NewHCLExporter()
	default:
		return nil
	}
}
