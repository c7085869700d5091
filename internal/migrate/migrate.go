// Package migrate holds the pure, idempotent transformations that upgrade
// legacy on-disk encodings into the current annotation schema. Detection
// runs on every snapshot build; results are persisted so subsequent loads
// do not re-detect.
package migrate

import (
	"strconv"

	"labtopo/internal/domain"
)

// Legacy inline label keys. Early lab files embedded visual metadata in
// node labels; the current schema keeps it in the sidecar.
const (
	labelPosX          = "graph-posX"
	labelPosY          = "graph-posY"
	labelIcon          = "graph-icon"
	labelGroup         = "graph-group"
	labelLevel         = "graph-level"
	labelGroupLabelPos = "graph-groupLabelPos"
	labelGeoLat        = "graph-geoCoordinateLat"
	labelGeoLng        = "graph-geoCoordinateLng"
)

// LegacyLabels extracts old-style embedded visual metadata into annotation
// entries. A node contributes an entry only when it carries at least one
// legacy label and has no existing annotation, so a second run over the
// persisted result is a no-op. Returns whether ann was changed.
func LegacyLabels(doc *domain.TopologyDocument, ann *domain.Annotations) bool {
	if doc == nil || doc.Topology == nil {
		return false
	}
	changed := false
	for id, def := range doc.Topology.Nodes {
		if def == nil || len(def.Labels) == 0 {
			continue
		}
		if ann.NodeAnnotation(id) != nil {
			continue
		}
		entry, ok := annotationFromLabels(id, def.Labels)
		if !ok {
			continue
		}
		ann.NodeAnnotations = append(ann.NodeAnnotations, entry)
		changed = true
	}
	return changed
}

func annotationFromLabels(id string, labels map[string]string) (domain.NodeAnnotation, bool) {
	entry := domain.NodeAnnotation{ID: id}
	found := false

	if xs, ok := labels[labelPosX]; ok {
		if ys, ok := labels[labelPosY]; ok {
			x, errX := strconv.ParseFloat(xs, 64)
			y, errY := strconv.ParseFloat(ys, 64)
			if errX == nil && errY == nil {
				entry.Position = &domain.Position{X: x, Y: y}
				found = true
			}
		}
	}
	if icon, ok := labels[labelIcon]; ok && icon != "" {
		entry.Icon = icon
		found = true
	}
	if group, ok := labels[labelGroup]; ok && group != "" {
		entry.Group = group
		found = true
	}
	if level, ok := labels[labelLevel]; ok && level != "" {
		entry.Level = level
		found = true
	}
	if pos, ok := labels[labelGroupLabelPos]; ok && pos != "" {
		entry.GroupLabelPos = pos
		found = true
	}
	if lats, ok := labels[labelGeoLat]; ok {
		if lngs, ok := labels[labelGeoLng]; ok {
			lat, errLat := strconv.ParseFloat(lats, 64)
			lng, errLng := strconv.ParseFloat(lngs, 64)
			if errLat == nil && errLng == nil {
				entry.GeoCoordinates = &domain.GeoCoordinates{Lat: lat, Lng: lng}
				found = true
			}
		}
	}

	return entry, found
}

// InterfacePatterns persists the kind-inferred interface-naming pattern
// into each node's annotation entry the first time it is observed, so
// future renders no longer depend on the implicit kind table. Nodes whose
// annotation already carries an explicit pattern are skipped. Returns
// whether ann was changed.
func InterfacePatterns(doc *domain.TopologyDocument, ann *domain.Annotations) bool {
	if doc == nil || doc.Topology == nil {
		return false
	}
	changed := false
	for id, def := range doc.Topology.Nodes {
		kind := ""
		if def != nil {
			kind = def.Kind
		}
		if !domain.HasKnownInterfacePattern(kind) {
			continue
		}
		entry := ann.NodeAnnotation(id)
		if entry != nil && entry.InterfacePattern != "" {
			continue
		}
		if entry == nil {
			entry = ann.EnsureNodeAnnotation(id)
		}
		entry.InterfacePattern = domain.InterfacePatternForKind(kind)
		changed = true
	}
	return changed
}
