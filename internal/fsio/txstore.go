package fsio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTxOpen is returned by Begin when a transaction is already in flight.
var ErrTxOpen = errors.New("transaction already open")

// ErrNoTx is returned by Commit and Rollback when no transaction is open.
var ErrNoTx = errors.New("no open transaction")

// pendingOp is one buffered write or delete, kept in issue order.
type pendingOp struct {
	path   string
	data   []byte
	remove bool
}

// TxStore wraps a FileSystem with begin/commit/rollback semantics. While a
// transaction is open, writes and removes are buffered; reads see the
// buffered state so in-transaction logic observes its own pending changes.
// Outside a transaction every operation passes straight through.
//
// TxStore itself implements FileSystem, so the stores above it do not know
// whether a transaction is open.
type TxStore struct {
	fs FileSystem

	mu     sync.Mutex
	open   bool
	ops    []pendingOp
	staged map[string]pendingOp // latest state per path
}

// NewTxStore wraps the given file system.
func NewTxStore(fs FileSystem) *TxStore {
	return &TxStore{fs: fs}
}

// Begin opens a buffering scope. It fails if one is already open.
func (t *TxStore) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return ErrTxOpen
	}
	t.open = true
	t.ops = nil
	t.staged = make(map[string]pendingOp)
	return nil
}

// InTransaction reports whether a buffering scope is open.
func (t *TxStore) InTransaction() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Commit flushes the buffered operations to the underlying store in the
// order they were issued, then clears the buffer. If a flush fails partway,
// the already-applied operations are reverted from pre-images captured at
// commit time, so the underlying store ends up either fully updated or
// fully unmodified. The transaction stays open on failure; the caller must
// Rollback.
func (t *TxStore) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return ErrNoTx
	}

	type preimage struct {
		path    string
		data    []byte
		existed bool
	}

	var applied []preimage
	revert := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			pi := applied[i]
			if pi.existed {
				if err := t.fs.WriteFile(ctx, pi.path, pi.data); err != nil {
					// Nothing more we can do here; the caller sees the
					// original commit error.
					continue
				}
			} else {
				_ = t.fs.Remove(ctx, pi.path)
			}
		}
	}

	for _, op := range t.ops {
		data, err := t.fs.ReadFile(ctx, op.path)
		existed := err == nil
		if err != nil && !errors.Is(err, ErrNotExist) {
			revert()
			return fmt.Errorf("commit: read pre-image of %s: %w", op.path, err)
		}

		if op.remove {
			err = t.fs.Remove(ctx, op.path)
		} else {
			err = t.fs.WriteFile(ctx, op.path, op.data)
		}
		if err != nil {
			revert()
			return fmt.Errorf("commit: flush %s: %w", op.path, err)
		}
		applied = append(applied, preimage{path: op.path, data: data, existed: existed})
	}

	t.open = false
	t.ops = nil
	t.staged = nil
	return nil
}

// Rollback discards the buffered operations without touching the
// underlying store.
func (t *TxStore) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return ErrNoTx
	}
	t.open = false
	t.ops = nil
	t.staged = nil
	return nil
}

// ReadFile returns the buffered content when a transaction staged this
// path, the underlying content otherwise.
func (t *TxStore) ReadFile(ctx context.Context, path string) ([]byte, error) {
	t.mu.Lock()
	if t.open {
		if op, ok := t.staged[path]; ok {
			t.mu.Unlock()
			if op.remove {
				return nil, ErrNotExist
			}
			out := make([]byte, len(op.data))
			copy(out, op.data)
			return out, nil
		}
	}
	t.mu.Unlock()
	return t.fs.ReadFile(ctx, path)
}

// WriteFile buffers the write inside a transaction, passes through outside.
func (t *TxStore) WriteFile(ctx context.Context, path string, data []byte) error {
	t.mu.Lock()
	if t.open {
		stored := make([]byte, len(data))
		copy(stored, data)
		op := pendingOp{path: path, data: stored}
		t.ops = append(t.ops, op)
		t.staged[path] = op
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.fs.WriteFile(ctx, path, data)
}

// Exists reports existence, honoring buffered writes and deletes.
func (t *TxStore) Exists(ctx context.Context, path string) (bool, error) {
	t.mu.Lock()
	if t.open {
		if op, ok := t.staged[path]; ok {
			t.mu.Unlock()
			return !op.remove, nil
		}
	}
	t.mu.Unlock()
	return t.fs.Exists(ctx, path)
}

// Remove buffers the delete inside a transaction, passes through outside.
func (t *TxStore) Remove(ctx context.Context, path string) error {
	t.mu.Lock()
	if t.open {
		op := pendingOp{path: path, remove: true}
		t.ops = append(t.ops, op)
		t.staged[path] = op
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.fs.Remove(ctx, path)
}
