// Package host implements the command processor that owns the canonical
// topology state: revision counting, snapshot caching, transactional
// command dispatch, bounded undo/redo history with merge coalescing, and
// resynchronization after external edits.
package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"labtopo/internal/annotations"
	"labtopo/internal/domain"
	"labtopo/internal/fsio"
	"labtopo/internal/topology"
)

// Response status variants. Every failure is translated into one of
// these; callers never see raw errors.
type Status string

const (
	StatusAck   Status = "ack"
	StatusStale Status = "stale"
	StatusError Status = "error"
)

// Push reasons for out-of-band snapshot notifications.
const (
	ReasonInit           = "init"
	ReasonExternalChange = "external-change"
	ReasonResync         = "resync"
)

// Request pairs a command with the revision the caller based it on.
// SkipHistory marks ephemeral mutations (drag-in-progress position saves)
// that must not pollute the undo stack.
type Request struct {
	Command      Command
	BaseRevision int
	SkipHistory  bool
}

// Result is the response to one request: an acknowledgement with the new
// revision and snapshot, a stale rejection with the current ones, or an
// error message with nothing changed.
type Result struct {
	Status   Status           `json:"status"`
	Revision int              `json:"revision"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// StatusProvider supplies live runtime state during snapshot enrichment.
// It is optional; without one every snapshot reports DeployStateUnknown.
type StatusProvider interface {
	NodeStatus(ctx context.Context, labName, nodeName string) (*domain.RuntimeStatus, error)
	DeploymentState(ctx context.Context, labName string) (domain.DeployState, error)
}

// Notifier receives out-of-band snapshot pushes when host state changes
// without a direct command.
type Notifier func(reason string, snap *domain.Snapshot)

// Options configure a Host. Zero values fall back to defaults.
type Options struct {
	Mode         domain.Mode
	HistoryLimit int
	MergeWindow  time.Duration
	Status       StatusProvider
	Logger       *log.Logger
	Now          func() time.Time
}

const (
	defaultHistoryLimit = 50
	defaultMergeWindow  = 400 * time.Millisecond
)

// historyEntry captures raw pre-mutation on-disk state. Entries are
// opaque: restore writes them back verbatim, which keeps history correct
// no matter how the structured representation mutates documents.
type historyEntry struct {
	doc        []byte
	ann        []byte
	annPresent bool
}

// Host is the stateful orchestrator. All public operations serialize on
// an internal mutex; the revision check remains the concurrency guard
// across clients.
type Host struct {
	mu sync.Mutex

	tx      *fsio.TxStore
	docs    *topology.DocumentStore
	ann     *annotations.Store
	path    string
	annPath string

	mode   domain.Mode
	status StatusProvider
	logger *log.Logger
	now    func() time.Time
	notify Notifier

	revision     int
	cache        *domain.Snapshot
	lastDocText  []byte
	past         []historyEntry
	future       []historyEntry
	historyLimit int
	mergeWindow  time.Duration
	mergeUntil   time.Time
}

// New creates a Host over the given file-system adapter and lab file
// path. The host owns a transactional store over the adapter; the
// document and annotations stores run on top of it so their writes join
// command transactions.
func New(fs fsio.FileSystem, path string, opts Options) *Host {
	tx := fsio.NewTxStore(fs)
	h := &Host{
		tx:           tx,
		docs:         topology.NewDocumentStore(tx),
		ann:          annotations.NewStore(tx),
		path:         path,
		annPath:      annotations.FilePath(path),
		mode:         opts.Mode,
		status:       opts.Status,
		logger:       opts.Logger,
		now:          opts.Now,
		revision:     1,
		historyLimit: opts.HistoryLimit,
		mergeWindow:  opts.MergeWindow,
	}
	if h.mode == "" {
		h.mode = domain.ModeEdit
	}
	if h.historyLimit <= 0 {
		h.historyLimit = defaultHistoryLimit
	}
	if h.mergeWindow <= 0 {
		h.mergeWindow = defaultMergeWindow
	}
	if h.logger == nil {
		h.logger = log.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// SetNotifier registers the out-of-band snapshot push sink.
func (h *Host) SetNotifier(n Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notify = n
}

// Revision returns the current revision.
func (h *Host) Revision() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revision
}

// Snapshot returns the cached snapshot, rebuilding it on a cache miss.
// It never changes the revision.
func (h *Host) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked(ctx)
}

func (h *Host) snapshotLocked(ctx context.Context) (*domain.Snapshot, error) {
	if h.cache != nil {
		return h.cache, nil
	}
	snap, err := h.buildSnapshotLocked(ctx)
	if err != nil {
		return nil, err
	}
	h.cache = snap
	return snap, nil
}

// Apply runs one command against the given base revision and returns an
// acknowledgement, a stale rejection, or an error response.
func (h *Host) Apply(ctx context.Context, req Request) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	if req.Command == nil {
		return Result{Status: StatusError, Revision: h.revision, Message: "no command"}
	}

	if req.BaseRevision != h.revision {
		snap, err := h.snapshotLocked(ctx)
		if err != nil {
			h.logger.Printf("Snapshot rebuild failed during stale reject: %v", err)
		}
		return Result{Status: StatusStale, Revision: h.revision, Snapshot: snap}
	}

	// Undo and redo never enter the generic transactional path.
	switch req.Command.(type) {
	case *UndoCommand:
		return h.undoLocked(ctx)
	case *RedoCommand:
		return h.redoLocked(ctx)
	}

	entry, err := h.captureHistoryLocked(ctx)
	if err != nil {
		return h.errorResult(err)
	}

	if err := h.tx.Begin(); err != nil {
		return h.errorResult(err)
	}
	// Parse fresh from disk so a previously rolled-back mutation cannot
	// linger in the in-memory tree.
	if err := h.docs.Initialize(ctx, h.path); err != nil {
		h.rollbackLocked()
		return h.errorResult(err)
	}
	if err := h.dispatch(ctx, req.Command); err != nil {
		h.rollbackLocked()
		return h.errorResult(err)
	}
	if err := h.tx.Commit(ctx); err != nil {
		h.rollbackLocked()
		return h.errorResult(err)
	}
	h.ann.ClearCache()

	now := h.now()
	merged := now.Before(h.mergeUntil)
	if isRename(req.Command) {
		h.mergeUntil = now.Add(h.mergeWindow)
	} else {
		h.mergeUntil = time.Time{}
	}
	if !req.SkipHistory && !merged {
		h.pushPast(entry)
	}
	h.future = nil
	h.revision++

	snap, err := h.buildSnapshotLocked(ctx)
	if err != nil {
		// The mutation is committed; only the derived view failed.
		h.cache = nil
		return h.errorResult(fmt.Errorf("rebuild snapshot: %w", err))
	}
	h.cache = snap
	return Result{Status: StatusAck, Revision: h.revision, Snapshot: snap}
}

// ReplaceContent swaps the whole primary-document text, validating it
// before anything is written. It participates in history and revisioning
// like any other mutation.
func (h *Host) ReplaceContent(ctx context.Context, baseRevision int, text []byte) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	if baseRevision != h.revision {
		snap, _ := h.snapshotLocked(ctx)
		return Result{Status: StatusStale, Revision: h.revision, Snapshot: snap}
	}

	// Validate on a scratch store so the live tree is untouched until the
	// write is committed.
	scratch := topology.NewDocumentStore(h.tx)
	if err := scratch.InitializeFromText(h.path, text); err != nil {
		return h.errorResult(err)
	}

	entry, err := h.captureHistoryLocked(ctx)
	if err != nil {
		return h.errorResult(err)
	}
	if err := h.tx.Begin(); err != nil {
		return h.errorResult(err)
	}
	if err := h.tx.WriteFile(ctx, h.path, text); err != nil {
		h.rollbackLocked()
		return h.errorResult(err)
	}
	if err := h.tx.Commit(ctx); err != nil {
		h.rollbackLocked()
		return h.errorResult(err)
	}
	h.ann.ClearCache()

	h.mergeUntil = time.Time{}
	h.pushPast(entry)
	h.future = nil
	h.revision++

	snap, err := h.buildSnapshotLocked(ctx)
	if err != nil {
		h.cache = nil
		return h.errorResult(fmt.Errorf("rebuild snapshot: %w", err))
	}
	h.cache = snap
	return Result{Status: StatusAck, Revision: h.revision, Snapshot: snap}
}

// ExternalChange resynchronizes after the lab file changed outside the
// command protocol. History is cleared: past mutations are no longer
// valid relative to the new content. Writes the host itself just
// committed are recognized by content comparison and skipped, so the file
// watcher can fire unconditionally.
func (h *Host) ExternalChange(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	text, err := h.tx.ReadFile(ctx, h.path)
	if err == nil && h.lastDocText != nil && string(text) == string(h.lastDocText) {
		return false, nil
	}

	h.past = nil
	h.future = nil
	h.mergeUntil = time.Time{}
	h.revision++
	h.ann.ClearCache()

	snap, err := h.buildSnapshotLocked(ctx)
	if err != nil {
		h.cache = nil
		return true, fmt.Errorf("resync after external change: %w", err)
	}
	h.cache = snap
	if h.notify != nil {
		h.notify(ReasonExternalChange, snap)
	}
	return true, nil
}

// Resync rebuilds the snapshot from disk and pushes it with the resync
// reason. Unlike ExternalChange it preserves history and revision.
func (h *Host) Resync(ctx context.Context) (*domain.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = nil
	h.ann.ClearCache()
	snap, err := h.buildSnapshotLocked(ctx)
	if err != nil {
		return nil, err
	}
	h.cache = snap
	if h.notify != nil {
		h.notify(ReasonResync, snap)
	}
	return snap, nil
}

// NotifyInit pushes the initial snapshot to the notifier.
func (h *Host) NotifyInit(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, err := h.snapshotLocked(ctx)
	if err != nil {
		return err
	}
	if h.notify != nil {
		h.notify(ReasonInit, snap)
	}
	return nil
}

func (h *Host) undoLocked(ctx context.Context) Result {
	if len(h.past) == 0 {
		snap, err := h.snapshotLocked(ctx)
		if err != nil {
			return h.errorResult(err)
		}
		return Result{Status: StatusAck, Revision: h.revision, Snapshot: snap}
	}

	current, err := h.captureHistoryLocked(ctx)
	if err != nil {
		return h.errorResult(err)
	}

	entry := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.future = append(h.future, current)

	if err := h.restoreLocked(ctx, entry); err != nil {
		// Put the stacks back so the failed attempt can be retried.
		h.future = h.future[:len(h.future)-1]
		h.past = append(h.past, entry)
		return h.errorResult(err)
	}
	return h.afterRestoreLocked(ctx)
}

func (h *Host) redoLocked(ctx context.Context) Result {
	if len(h.future) == 0 {
		snap, err := h.snapshotLocked(ctx)
		if err != nil {
			return h.errorResult(err)
		}
		return Result{Status: StatusAck, Revision: h.revision, Snapshot: snap}
	}

	current, err := h.captureHistoryLocked(ctx)
	if err != nil {
		return h.errorResult(err)
	}

	entry := h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	h.past = append(h.past, current)

	if err := h.restoreLocked(ctx, entry); err != nil {
		h.past = h.past[:len(h.past)-1]
		h.future = append(h.future, entry)
		return h.errorResult(err)
	}
	return h.afterRestoreLocked(ctx)
}

// restoreLocked writes a history entry back verbatim inside one
// transaction.
func (h *Host) restoreLocked(ctx context.Context, entry historyEntry) error {
	if err := h.tx.Begin(); err != nil {
		return err
	}
	if err := h.tx.WriteFile(ctx, h.path, entry.doc); err != nil {
		h.rollbackLocked()
		return err
	}
	if entry.annPresent {
		if err := h.tx.WriteFile(ctx, h.annPath, entry.ann); err != nil {
			h.rollbackLocked()
			return err
		}
	} else {
		if err := h.tx.Remove(ctx, h.annPath); err != nil {
			h.rollbackLocked()
			return err
		}
	}
	if err := h.tx.Commit(ctx); err != nil {
		h.rollbackLocked()
		return err
	}
	return nil
}

// rollbackLocked discards the open transaction together with any
// annotation state cached from writes that were staged inside it, so a
// failed mutation cannot leak into the next snapshot build.
func (h *Host) rollbackLocked() {
	_ = h.tx.Rollback()
	h.ann.ClearCache()
}

func (h *Host) afterRestoreLocked(ctx context.Context) Result {
	h.ann.ClearCache()
	h.mergeUntil = time.Time{}
	h.revision++
	snap, err := h.buildSnapshotLocked(ctx)
	if err != nil {
		h.cache = nil
		return h.errorResult(fmt.Errorf("rebuild snapshot: %w", err))
	}
	h.cache = snap
	return Result{Status: StatusAck, Revision: h.revision, Snapshot: snap}
}

// captureHistoryLocked records the current on-disk state of both files.
func (h *Host) captureHistoryLocked(ctx context.Context) (historyEntry, error) {
	doc, err := h.tx.ReadFile(ctx, h.path)
	if err != nil {
		return historyEntry{}, fmt.Errorf("capture history: %w", err)
	}
	entry := historyEntry{doc: doc}
	ann, err := h.tx.ReadFile(ctx, h.annPath)
	if err == nil {
		entry.ann = ann
		entry.annPresent = true
	} else if !errors.Is(err, fsio.ErrNotExist) {
		return historyEntry{}, fmt.Errorf("capture history: %w", err)
	}
	return entry, nil
}

func (h *Host) pushPast(entry historyEntry) {
	h.past = append(h.past, entry)
	if len(h.past) > h.historyLimit {
		h.past = h.past[len(h.past)-h.historyLimit:]
	}
}

func (h *Host) errorResult(err error) Result {
	h.logger.Printf("Command failed: %v", err)
	return Result{Status: StatusError, Revision: h.revision, Message: err.Error()}
}

func isRename(cmd Command) bool {
	switch c := cmd.(type) {
	case *EditNodeCommand:
		return c.IsRename()
	case *BatchCommand:
		for _, sub := range c.Commands {
			if isRename(sub) {
				return true
			}
		}
	}
	return false
}
