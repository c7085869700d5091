// Package fsio abstracts file access behind a small adapter interface so
// the stores can run against the real disk, an in-memory map in tests, or
// the transactional wrapper in TxStore.
package fsio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotExist is returned when a read targets a file that is not present.
var ErrNotExist = errors.New("file does not exist")

// FileSystem is the adapter consumed by every store in this module.
// One implementation exists per host environment.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string) error
}

// Basename returns the final path element.
func Basename(path string) string {
	return filepath.Base(path)
}

// OS implements FileSystem against the local disk.
type OS struct{}

// NewOS creates a disk-backed file system adapter.
func NewOS() *OS {
	return &OS{}
}

func (*OS) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	return data, err
}

func (*OS) WriteFile(_ context.Context, path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func (*OS) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (*OS) Remove(_ context.Context, path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Mem is an in-memory FileSystem used by tests.
type Mem struct {
	mu    sync.RWMutex
	files map[string][]byte

	// FailWrites, when set, makes every write return an error. FailPath
	// restricts the failure to one path. Tests use these to exercise
	// rollback paths.
	FailWrites error
	FailPath   string
}

// NewMem creates an empty in-memory file system.
func NewMem() *Mem {
	return &Mem{files: make(map[string][]byte)}
}

func (m *Mem) ReadFile(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	if !ok {
		return nil, ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Mem) WriteFile(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil && (m.FailPath == "" || m.FailPath == path) {
		return m.FailWrites
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored
	return nil
}

func (m *Mem) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *Mem) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}
