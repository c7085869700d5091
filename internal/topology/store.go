// Package topology owns the in-memory structured form of the primary lab
// file. The document is held as a format-preserving yaml.v3 node tree so
// comments and unrelated formatting survive every mutation; CRUD
// operations rewrite the tree and serialize it back to text.
package topology

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"labtopo/internal/domain"
	"labtopo/internal/fsio"
)

// ErrNotInitialized is returned when an operation runs before a document
// has been loaded.
var ErrNotInitialized = errors.New("document store not initialized")

// Legacy inline label keys carrying visual metadata inside the lab file.
// The migration package moves these into annotations; SavePositions keeps
// them current for documents that still carry them.
const (
	LabelPosX   = "graph-posX"
	LabelPosY   = "graph-posY"
	LabelGeoLat = "graph-geoCoordinateLat"
	LabelGeoLng = "graph-geoCoordinateLng"
)

// NodeChange describes an edit to a node declaration. Nil pointers leave
// the field untouched; a pointer to the empty string removes it. A
// non-empty NewID renames the node and rewrites link endpoints that
// reference it.
type NodeChange struct {
	NewID  string
	Kind   *string
	Image  *string
	Type   *string
	Group  *string
	Labels map[string]string
}

// PositionUpdate carries new canvas or geo coordinates for one node.
type PositionUpdate struct {
	ID  string                 `json:"id"`
	X   float64                `json:"x"`
	Y   float64                `json:"y"`
	Geo *domain.GeoCoordinates `json:"geo,omitempty"`
}

// DocumentStore is the exclusive owner of the lab file's yaml tree.
// Mutations persist immediately unless a batch is open.
type DocumentStore struct {
	fs fsio.FileSystem

	mu          sync.Mutex
	path        string
	root        *yaml.Node
	initialized bool
	batch       bool
	batchDirty  bool
}

// NewDocumentStore creates a store over the given file system, usually the
// host's transactional store.
func NewDocumentStore(fs fsio.FileSystem) *DocumentStore {
	return &DocumentStore{fs: fs}
}

// Initialize parses the lab file at path into the tree. A parse failure
// leaves any previously loaded document in place.
func (s *DocumentStore) Initialize(ctx context.Context, path string) error {
	data, err := s.fs.ReadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("read topology %s: %w", path, err)
	}
	return s.InitializeFromText(path, data)
}

// InitializeFromText parses raw document text, replacing the current tree
// on success.
func (s *DocumentStore) InitializeFromText(path string, data []byte) error {
	root, err := parseDocument(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	s.root = root
	s.initialized = true
	return nil
}

// IsInitialized reports whether a document has been loaded.
func (s *DocumentStore) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Path returns the lab file path of the loaded document.
func (s *DocumentStore) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func parseDocument(data []byte) (*yaml.Node, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if root.Kind == 0 {
		// Empty file: synthesize an empty mapping document.
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{mappingNode()}}
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse topology: document root is not a mapping")
	}
	return &root, nil
}

// Text serializes the current tree back to document text.
func (s *DocumentStore) Text() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return serialize(s.root)
}

func serialize(root *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root.Content[0]); err != nil {
		return nil, fmt.Errorf("serialize topology: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("serialize topology: %w", err)
	}
	return buf.Bytes(), nil
}

// View decodes the tree into the typed read-only document form.
func (s *DocumentStore) View() (*domain.TopologyDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	var doc domain.TopologyDocument
	if err := s.root.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	return &doc, nil
}

// BeginBatch suppresses persistence so a sequence of operations commits as
// one logical write on EndBatch.
func (s *DocumentStore) BeginBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = true
	s.batchDirty = false
}

// EndBatch persists the accumulated mutations, if any.
func (s *DocumentStore) EndBatch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirty := s.batchDirty
	s.batch = false
	s.batchDirty = false
	if !dirty {
		return nil
	}
	return s.persistLocked(ctx)
}

func (s *DocumentStore) persistLocked(ctx context.Context) error {
	if s.batch {
		s.batchDirty = true
		return nil
	}
	data, err := serialize(s.root)
	if err != nil {
		return err
	}
	if err := s.fs.WriteFile(ctx, s.path, data); err != nil {
		return fmt.Errorf("write topology %s: %w", s.path, err)
	}
	return nil
}

func (s *DocumentStore) docMapping() *yaml.Node {
	return s.root.Content[0]
}

// nodesMapping returns topology.nodes, creating the path when create is
// set.
func (s *DocumentStore) nodesMapping(create bool) *yaml.Node {
	doc := s.docMapping()
	topo := mapValue(doc, "topology")
	if topo == nil {
		if !create {
			return nil
		}
		topo = mappingNode()
		mapSet(doc, "topology", topo)
	}
	nodes := mapValue(topo, "nodes")
	if nodes == nil {
		if !create {
			return nil
		}
		nodes = mappingNode()
		mapSet(topo, "nodes", nodes)
	}
	return nodes
}

// linksSequence returns topology.links, creating the path when create is
// set.
func (s *DocumentStore) linksSequence(create bool) *yaml.Node {
	doc := s.docMapping()
	topo := mapValue(doc, "topology")
	if topo == nil {
		if !create {
			return nil
		}
		topo = mappingNode()
		mapSet(doc, "topology", topo)
	}
	links := mapValue(topo, "links")
	if links == nil {
		if !create {
			return nil
		}
		links = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		mapSet(topo, "links", links)
	}
	return links
}

// AddNode appends a node declaration. It fails when the id already exists.
func (s *DocumentStore) AddNode(ctx context.Context, id string, def *domain.NodeDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	nodes := s.nodesMapping(true)
	if mapValue(nodes, id) != nil {
		return fmt.Errorf("node %q already exists", id)
	}
	mapSet(nodes, id, nodeDefinitionNode(def))
	return s.persistLocked(ctx)
}

// EditNode applies a NodeChange, including renames. Renaming rewrites
// every link endpoint that references the old id.
func (s *DocumentStore) EditNode(ctx context.Context, id string, change NodeChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	nodes := s.nodesMapping(false)
	def := mapValue(nodes, id)
	if def == nil {
		return fmt.Errorf("node %q not found", id)
	}
	if def.Kind != yaml.MappingNode {
		// A node declared as a bare null gets promoted to a mapping on
		// first edit.
		*def = *mappingNode()
	}

	applyScalarChange(def, "kind", change.Kind)
	applyScalarChange(def, "image", change.Image)
	applyScalarChange(def, "type", change.Type)
	applyScalarChange(def, "group", change.Group)

	if len(change.Labels) > 0 {
		labels := mapValue(def, "labels")
		if labels == nil {
			labels = mappingNode()
			mapSet(def, "labels", labels)
		}
		keys := make([]string, 0, len(change.Labels))
		for k := range change.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v := change.Labels[k]; v == "" {
				mapDelete(labels, k)
			} else {
				mapSet(labels, k, strScalar(v))
			}
		}
		if len(labels.Content) == 0 {
			mapDelete(def, "labels")
		}
	}

	if change.NewID != "" && change.NewID != id {
		if mapValue(nodes, change.NewID) != nil {
			return fmt.Errorf("node %q already exists", change.NewID)
		}
		mapRenameKey(nodes, id, change.NewID)
		s.renameEndpointsLocked(id, change.NewID)
	}

	return s.persistLocked(ctx)
}

// DeleteNode removes a node declaration and every link referencing it.
func (s *DocumentStore) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	nodes := s.nodesMapping(false)
	if !mapDelete(nodes, id) {
		return fmt.Errorf("node %q not found", id)
	}

	if links := s.linksSequence(false); links != nil {
		kept := links.Content[:0]
		for _, link := range links.Content {
			if !linkInvolves(link, id) {
				kept = append(kept, link)
			}
		}
		links.Content = kept
	}

	return s.persistLocked(ctx)
}

// AddLink appends a link declaration.
func (s *DocumentStore) AddLink(ctx context.Context, def *domain.LinkDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if len(def.Endpoints) == 0 {
		return fmt.Errorf("link requires at least one endpoint")
	}
	links := s.linksSequence(true)
	links.Content = append(links.Content, linkDefinitionNode(def))
	return s.persistLocked(ctx)
}

// EditLink replaces the link matching the given endpoints.
func (s *DocumentStore) EditLink(ctx context.Context, endpoints []string, def *domain.LinkDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	links := s.linksSequence(false)
	i := findLink(links, endpoints)
	if i < 0 {
		return fmt.Errorf("link %v not found", endpoints)
	}
	links.Content[i] = linkDefinitionNode(def)
	return s.persistLocked(ctx)
}

// DeleteLink removes the link matching the given endpoints.
func (s *DocumentStore) DeleteLink(ctx context.Context, endpoints []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	links := s.linksSequence(false)
	i := findLink(links, endpoints)
	if i < 0 {
		return fmt.Errorf("link %v not found", endpoints)
	}
	links.Content = append(links.Content[:i], links.Content[i+1:]...)
	return s.persistLocked(ctx)
}

// SavePositions updates only position and geo-coordinate fields for the
// given nodes. Only nodes that still carry legacy inline position labels
// are touched; documents already migrated to sidecar annotations keep
// their node declarations byte-identical.
func (s *DocumentStore) SavePositions(ctx context.Context, entries []PositionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	nodes := s.nodesMapping(false)
	if nodes == nil {
		return nil
	}

	dirty := false
	for _, entry := range entries {
		def := mapValue(nodes, entry.ID)
		if def == nil || def.Kind != yaml.MappingNode {
			continue
		}
		labels := mapValue(def, "labels")
		if labels == nil {
			continue
		}
		if mapValue(labels, LabelPosX) != nil {
			mapSet(labels, LabelPosX, strScalar(fmt.Sprintf("%g", entry.X)))
			mapSet(labels, LabelPosY, strScalar(fmt.Sprintf("%g", entry.Y)))
			dirty = true
		}
		if entry.Geo != nil && mapValue(labels, LabelGeoLat) != nil {
			mapSet(labels, LabelGeoLat, strScalar(fmt.Sprintf("%g", entry.Geo.Lat)))
			mapSet(labels, LabelGeoLng, strScalar(fmt.Sprintf("%g", entry.Geo.Lng)))
			dirty = true
		}
	}
	if !dirty {
		return nil
	}
	return s.persistLocked(ctx)
}

// SetLabSettings updates the top-level lab fields, keeping the canonical
// key order: name first, prefix immediately after name, the management
// block after prefix when present and after name otherwise.
func (s *DocumentStore) SetLabSettings(ctx context.Context, settings domain.LabSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if settings.Name == "" {
		return fmt.Errorf("lab name is required")
	}
	doc := s.docMapping()

	if mapValue(doc, "name") == nil {
		mapInsertAfter(doc, "name", strScalar(settings.Name))
	} else {
		mapSet(doc, "name", strScalar(settings.Name))
	}

	if settings.Prefix != nil {
		mapInsertAfter(doc, "prefix", strScalar(*settings.Prefix), "name")
	} else {
		mapDelete(doc, "prefix")
	}

	if settings.Mgmt != nil {
		mgmtNode := &yaml.Node{}
		if err := mgmtNode.Encode(settings.Mgmt); err != nil {
			return fmt.Errorf("encode mgmt block: %w", err)
		}
		mapInsertAfter(doc, "mgmt", mgmtNode, "name", "prefix")
	} else {
		mapDelete(doc, "mgmt")
	}

	return s.persistLocked(ctx)
}

// renameEndpointsLocked rewrites "old:iface" endpoints to the new node id
// in every link.
func (s *DocumentStore) renameEndpointsLocked(oldID, newID string) {
	links := s.linksSequence(false)
	if links == nil {
		return
	}
	for _, link := range links.Content {
		eps := mapValue(link, "endpoints")
		if eps == nil {
			continue
		}
		for _, ep := range eps.Content {
			node, iface := domain.SplitEndpoint(ep.Value)
			if node == oldID {
				ep.Value = domain.JoinEndpoint(newID, iface)
			}
		}
	}
}

func applyScalarChange(def *yaml.Node, key string, change *string) {
	if change == nil {
		return
	}
	if *change == "" {
		mapDelete(def, key)
		return
	}
	mapSet(def, key, strScalar(*change))
}

func nodeDefinitionNode(def *domain.NodeDefinition) *yaml.Node {
	n := mappingNode()
	if def == nil {
		return n
	}
	if def.Kind != "" {
		mapSet(n, "kind", strScalar(def.Kind))
	}
	if def.Image != "" {
		mapSet(n, "image", strScalar(def.Image))
	}
	if def.Type != "" {
		mapSet(n, "type", strScalar(def.Type))
	}
	if def.Group != "" {
		mapSet(n, "group", strScalar(def.Group))
	}
	if def.MgmtIPv4 != "" {
		mapSet(n, "mgmt-ipv4", strScalar(def.MgmtIPv4))
	}
	if def.MgmtIPv6 != "" {
		mapSet(n, "mgmt-ipv6", strScalar(def.MgmtIPv6))
	}
	if len(def.Labels) > 0 {
		labels := mappingNode()
		keys := make([]string, 0, len(def.Labels))
		for k := range def.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			mapSet(labels, k, strScalar(def.Labels[k]))
		}
		mapSet(n, "labels", labels)
	}
	return n
}

func linkDefinitionNode(def *domain.LinkDefinition) *yaml.Node {
	n := mappingNode()
	eps := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
	for _, ep := range def.Endpoints {
		eps.Content = append(eps.Content, strScalar(ep))
	}
	mapSet(n, "endpoints", eps)
	if def.Type != "" {
		mapSet(n, "type", strScalar(def.Type))
	}
	return n
}

func linkInvolves(link *yaml.Node, nodeID string) bool {
	eps := mapValue(link, "endpoints")
	if eps == nil {
		return false
	}
	for _, ep := range eps.Content {
		if node, _ := domain.SplitEndpoint(ep.Value); node == nodeID {
			return true
		}
	}
	return false
}

func findLink(links *yaml.Node, endpoints []string) int {
	if links == nil {
		return -1
	}
	for i, link := range links.Content {
		eps := mapValue(link, "endpoints")
		if eps == nil || len(eps.Content) != len(endpoints) {
			continue
		}
		match := true
		for j, ep := range eps.Content {
			if ep.Value != endpoints[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
