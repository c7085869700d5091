package host

import (
	"context"
	"fmt"

	"labtopo/internal/domain"
	"labtopo/internal/migrate"
)

// buildSnapshotLocked derives a full snapshot from the on-disk state.
// The build is multi-pass: parse the document, load the sidecar,
// reconcile orphaned annotations against the node set, run migrations,
// and only then assemble the graph. Repairs discovered along the way are
// persisted immediately so the next build starts clean.
func (h *Host) buildSnapshotLocked(ctx context.Context) (*domain.Snapshot, error) {
	// Always reparse from disk: raw-text restores (undo, redo, content
	// replacement) and external edits bypass the in-memory tree.
	if err := h.docs.Initialize(ctx, h.path); err != nil {
		return nil, err
	}

	text, err := h.docs.Text()
	if err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}
	h.lastDocText = text

	doc, err := h.docs.View()
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	ann, err := h.ann.Load(ctx, h.annPath, false)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}

	changed := migrate.ReconcileOrphans(doc.NodeIDs(), ann)
	if migrate.LegacyLabels(doc, ann) {
		changed = true
	}
	if migrate.InterfacePatterns(doc, ann) {
		changed = true
	}
	if changed {
		if err := h.ann.Save(ctx, h.annPath, ann); err != nil {
			return nil, fmt.Errorf("persist annotation repairs: %w", err)
		}
	}

	var lookup domain.StatusLookup
	deploy := domain.DeployStateUnknown
	if h.mode == domain.ModeView && h.status != nil {
		lab := doc.Name
		lookup = func(name string) *domain.RuntimeStatus {
			st, err := h.status.NodeStatus(ctx, lab, name)
			if err != nil {
				h.logger.Printf("Node status lookup failed for %q: %v", name, err)
				return nil
			}
			return st
		}
		state, err := h.status.DeploymentState(ctx, lab)
		if err != nil {
			h.logger.Printf("Deployment state lookup failed for %q: %v", lab, err)
		} else {
			deploy = state
		}
	}

	graph := domain.BuildGraph(doc, ann, h.mode, lookup)

	return &domain.Snapshot{
		Revision:    h.revision,
		Name:        doc.Name,
		Mode:        h.mode,
		DeployState: deploy,
		Graph:       *graph,
		Annotations: *ann,
		LabSettings: doc.Settings(),
		CanUndo:     len(h.past) > 0,
		CanRedo:     len(h.future) > 0,
	}, nil
}
