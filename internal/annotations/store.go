// Package annotations owns the sidecar metadata document: loading with
// per-path caching, normalization, atomic read-modify-write, and the
// deterministic sidecar path convention.
package annotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"labtopo/internal/domain"
	"labtopo/internal/fsio"
)

// Store loads, caches, and writes sidecar annotation documents keyed by
// the primary document's path.
type Store struct {
	fs fsio.FileSystem

	mu    sync.Mutex
	cache map[string]*domain.Annotations
}

// NewStore creates a store over the given file system, which is usually
// the host's transactional store so writes participate in command
// transactions.
func NewStore(fs fsio.FileSystem) *Store {
	return &Store{fs: fs, cache: make(map[string]*domain.Annotations)}
}

// FilePath derives the sidecar path from the primary document's path:
// the extension (including a composite ".clab.yml") is replaced with
// ".annotations.json" in the same directory.
func FilePath(primaryPath string) string {
	dir := filepath.Dir(primaryPath)
	base := fsio.Basename(primaryPath)
	for _, ext := range []string{".clab.yml", ".clab.yaml", ".yml", ".yaml"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	return filepath.Join(dir, base+".annotations.json")
}

// Load returns the normalized annotations document for the given sidecar
// path. Results are cached per path until the cache is cleared or fresh is
// set. A missing or malformed sidecar loads as an empty document.
func (s *Store) Load(ctx context.Context, path string, fresh bool) (*domain.Annotations, error) {
	s.mu.Lock()
	if !fresh {
		if doc, ok := s.cache[path]; ok {
			s.mu.Unlock()
			return cloneAnnotations(doc), nil
		}
	}
	s.mu.Unlock()

	data, err := s.fs.ReadFile(ctx, path)
	if err != nil {
		if errors.Is(err, fsio.ErrNotExist) {
			doc := domain.NewAnnotations()
			s.put(path, doc)
			return cloneAnnotations(doc), nil
		}
		return nil, fmt.Errorf("read annotations %s: %w", path, err)
	}

	doc := treatParseFailureAsAbsent(path, data)
	doc.Normalize()
	s.put(path, doc)
	return cloneAnnotations(doc), nil
}

// treatParseFailureAsAbsent is the explicit policy for malformed sidecar
// content: the sidecar is optional decoration, so a parse failure loads as
// "document not present" instead of propagating an error.
func treatParseFailureAsAbsent(path string, data []byte) *domain.Annotations {
	var doc domain.Annotations
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("Annotations %s are malformed, treating as absent: %v", path, err)
		return domain.NewAnnotations()
	}
	return &doc
}

// Save writes the full document to the sidecar path, stripping deprecated
// fields first, and updates the cache.
func (s *Store) Save(ctx context.Context, path string, doc *domain.Annotations) error {
	doc.Normalize()
	doc.StripDeprecated()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal annotations: %w", err)
	}
	data = append(data, '\n')

	if err := s.fs.WriteFile(ctx, path, data); err != nil {
		return fmt.Errorf("write annotations %s: %w", path, err)
	}
	s.put(path, doc)
	return nil
}

// Modify performs an atomic read-current, apply-mutator, write-result
// cycle. Every partial update must go through Modify so concurrent callers
// do not lose updates. The mutator sees a fresh normalized document and
// may return an error to abort without writing.
func (s *Store) Modify(ctx context.Context, path string, mutate func(*domain.Annotations) error) (*domain.Annotations, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := mutate(doc); err != nil {
		return nil, err
	}
	doc.Normalize()
	doc.StripDeprecated()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal annotations: %w", err)
	}
	data = append(data, '\n')
	if err := s.fs.WriteFile(ctx, path, data); err != nil {
		return nil, fmt.Errorf("write annotations %s: %w", path, err)
	}
	s.cache[path] = cloneAnnotations(doc)
	return doc, nil
}

// ClearCache drops every cached document; the next Load hits the backing
// store.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*domain.Annotations)
}

func (s *Store) put(path string, doc *domain.Annotations) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[path] = cloneAnnotations(doc)
}

// loadLocked is Load without caching semantics, called with s.mu held.
// Modify always reads current backing content so read-modify-write cycles
// never operate on a stale cache entry.
func (s *Store) loadLocked(ctx context.Context, path string) (*domain.Annotations, error) {
	data, err := s.fs.ReadFile(ctx, path)
	if err != nil {
		if errors.Is(err, fsio.ErrNotExist) {
			return domain.NewAnnotations(), nil
		}
		return nil, fmt.Errorf("read annotations %s: %w", path, err)
	}
	doc := treatParseFailureAsAbsent(path, data)
	doc.Normalize()
	return doc, nil
}

// cloneAnnotations deep-copies a document so cached state never aliases
// what callers mutate.
func cloneAnnotations(doc *domain.Annotations) *domain.Annotations {
	data, err := json.Marshal(doc)
	if err != nil {
		out := *doc
		return &out
	}
	var out domain.Annotations
	if err := json.Unmarshal(data, &out); err != nil {
		copied := *doc
		return &copied
	}
	out.Normalize()
	return &out
}
