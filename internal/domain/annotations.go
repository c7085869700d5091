package domain

// Position is a canvas coordinate pair.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GeoCoordinates pin a node to a map location.
type GeoCoordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NodeAnnotation is the per-node visual metadata stored in the sidecar.
type NodeAnnotation struct {
	ID               string          `json:"id"`
	Position         *Position       `json:"position,omitempty"`
	Icon             string          `json:"icon,omitempty"`
	Group            string          `json:"group,omitempty"`
	Level            string          `json:"level,omitempty"`
	GroupLabelPos    string          `json:"groupLabelPos,omitempty"`
	GeoCoordinates   *GeoCoordinates `json:"geoCoordinates,omitempty"`
	InterfacePattern string          `json:"interfacePattern,omitempty"`

	// Deprecated flat coordinates from the first sidecar format. Loaded
	// for backward compatibility, folded into GeoCoordinates, and never
	// written back.
	LegacyLat float64 `json:"lat,omitempty"`
	LegacyLng float64 `json:"lng,omitempty"`
}

// NetworkNodeAnnotation positions non-node graph elements such as bridges
// or external interfaces that exist only as link endpoints.
type NetworkNodeAnnotation struct {
	ID       string    `json:"id"`
	Label    string    `json:"label,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// EdgeAnnotation is the per-link visual metadata, keyed by the link's
// endpoint-derived identity.
type EdgeAnnotation struct {
	ID       string `json:"id"`
	Style    string `json:"style,omitempty"`
	Color    string `json:"color,omitempty"`
	Label    string `json:"label,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

// FreeTextAnnotation is an operator-placed text overlay on the canvas.
type FreeTextAnnotation struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Position Position `json:"position"`
	FontSize int      `json:"fontSize,omitempty"`
	Color    string   `json:"color,omitempty"`
}

// FreeShapeAnnotation is an operator-placed shape overlay on the canvas.
type FreeShapeAnnotation struct {
	ID       string   `json:"id"`
	Shape    string   `json:"shape"` // rect, ellipse, line
	Position Position `json:"position"`
	Width    float64  `json:"width,omitempty"`
	Height   float64  `json:"height,omitempty"`
	Color    string   `json:"color,omitempty"`
	Filled   bool     `json:"filled,omitempty"`
}

// GroupStyleAnnotation styles a group box.
type GroupStyleAnnotation struct {
	ID              string `json:"id"`
	Color           string `json:"color,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	BorderStyle     string `json:"borderStyle,omitempty"`
	LabelPosition   string `json:"labelPosition,omitempty"`
}

// ViewerSettings are viewer-wide toggles persisted alongside annotations.
type ViewerSettings struct {
	Layout         string `json:"layout,omitempty"`
	ShowInterfaces bool   `json:"showInterfaces,omitempty"`
	ShowGrid       bool   `json:"showGrid,omitempty"`
	ZoomToFit      bool   `json:"zoomToFit,omitempty"`
}

// Annotations is the sidecar metadata document. Absence of the sidecar
// file is a valid state and loads as an empty, normalized document.
type Annotations struct {
	FreeTextAnnotations    []FreeTextAnnotation    `json:"freeTextAnnotations"`
	FreeShapeAnnotations   []FreeShapeAnnotation   `json:"freeShapeAnnotations"`
	GroupStyleAnnotations  []GroupStyleAnnotation  `json:"groupStyleAnnotations"`
	NodeAnnotations        []NodeAnnotation        `json:"nodeAnnotations"`
	NetworkNodeAnnotations []NetworkNodeAnnotation `json:"networkNodeAnnotations"`
	EdgeAnnotations        []EdgeAnnotation        `json:"edgeAnnotations"`
	ViewerSettings         *ViewerSettings         `json:"viewerSettings,omitempty"`

	// Deprecated positions map from the first sidecar format, superseded
	// by NodeAnnotations. Folded into NodeAnnotations on load and never
	// written back.
	LegacyPositions map[string]Position `json:"positions,omitempty"`
}

// NewAnnotations returns an empty, normalized document.
func NewAnnotations() *Annotations {
	a := &Annotations{}
	a.Normalize()
	return a
}

// Normalize defaults every optional collection to empty and folds legacy
// fields into their modern counterparts. It is idempotent.
func (a *Annotations) Normalize() {
	if a.FreeTextAnnotations == nil {
		a.FreeTextAnnotations = []FreeTextAnnotation{}
	}
	if a.FreeShapeAnnotations == nil {
		a.FreeShapeAnnotations = []FreeShapeAnnotation{}
	}
	if a.GroupStyleAnnotations == nil {
		a.GroupStyleAnnotations = []GroupStyleAnnotation{}
	}
	if a.NodeAnnotations == nil {
		a.NodeAnnotations = []NodeAnnotation{}
	}
	if a.NetworkNodeAnnotations == nil {
		a.NetworkNodeAnnotations = []NetworkNodeAnnotation{}
	}
	if a.EdgeAnnotations == nil {
		a.EdgeAnnotations = []EdgeAnnotation{}
	}

	// Legacy sidecar carried a flat id -> position map.
	for id, pos := range a.LegacyPositions {
		if a.NodeAnnotation(id) == nil {
			p := pos
			a.NodeAnnotations = append(a.NodeAnnotations, NodeAnnotation{ID: id, Position: &p})
		}
	}
	a.LegacyPositions = nil

	for i := range a.NodeAnnotations {
		na := &a.NodeAnnotations[i]
		if na.GeoCoordinates == nil && (na.LegacyLat != 0 || na.LegacyLng != 0) {
			na.GeoCoordinates = &GeoCoordinates{Lat: na.LegacyLat, Lng: na.LegacyLng}
		}
		na.LegacyLat = 0
		na.LegacyLng = 0
	}
}

// StripDeprecated clears every deprecated field so saved documents only
// carry the current schema.
func (a *Annotations) StripDeprecated() {
	a.LegacyPositions = nil
	for i := range a.NodeAnnotations {
		a.NodeAnnotations[i].LegacyLat = 0
		a.NodeAnnotations[i].LegacyLng = 0
	}
}

// NodeAnnotation returns the entry for the node id, or nil.
func (a *Annotations) NodeAnnotation(id string) *NodeAnnotation {
	for i := range a.NodeAnnotations {
		if a.NodeAnnotations[i].ID == id {
			return &a.NodeAnnotations[i]
		}
	}
	return nil
}

// EnsureNodeAnnotation returns the entry for the node id, creating it when
// missing.
func (a *Annotations) EnsureNodeAnnotation(id string) *NodeAnnotation {
	if na := a.NodeAnnotation(id); na != nil {
		return na
	}
	a.NodeAnnotations = append(a.NodeAnnotations, NodeAnnotation{ID: id})
	return &a.NodeAnnotations[len(a.NodeAnnotations)-1]
}

// RemoveNodeAnnotation drops the entry for id and reports whether one was
// present.
func (a *Annotations) RemoveNodeAnnotation(id string) bool {
	for i := range a.NodeAnnotations {
		if a.NodeAnnotations[i].ID == id {
			a.NodeAnnotations = append(a.NodeAnnotations[:i], a.NodeAnnotations[i+1:]...)
			return true
		}
	}
	return false
}

// RenameNode rewrites every annotation referencing oldID to newID.
func (a *Annotations) RenameNode(oldID, newID string) {
	for i := range a.NodeAnnotations {
		if a.NodeAnnotations[i].ID == oldID {
			a.NodeAnnotations[i].ID = newID
		}
	}
}
