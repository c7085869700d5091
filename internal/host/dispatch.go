package host

import (
	"context"
	"fmt"

	"labtopo/internal/domain"
	"labtopo/internal/topology"
)

// dispatch applies one command to the stores. It runs inside an open
// transaction on h.tx, so partial effects of a failed command never reach
// the backing file system.
func (h *Host) dispatch(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case *AddNodeCommand:
		return h.applyAddNode(ctx, c)
	case *EditNodeCommand:
		return h.applyEditNode(ctx, c)
	case *DeleteNodeCommand:
		return h.applyDeleteNode(ctx, c)
	case *AddLinkCommand:
		return h.docs.AddLink(ctx, &c.Link)
	case *EditLinkCommand:
		return h.docs.EditLink(ctx, c.Endpoints, &c.Link)
	case *DeleteLinkCommand:
		return h.docs.DeleteLink(ctx, c.Endpoints)
	case *SavePositionsCommand:
		return h.applySavePositions(ctx, c.Positions, nil)
	case *SavePositionsAndAnnotationsCommand:
		return h.applySavePositions(ctx, c.Positions, &c.Annotations)
	case *SetAnnotationsCommand:
		return h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
			c.Annotations.apply(doc)
			return nil
		})
	case *SetAnnotationsWithMembershipsCommand:
		return h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
			c.Annotations.apply(doc)
			applyMemberships(doc, c.Memberships)
			return nil
		})
	case *SetEdgeAnnotationsCommand:
		return h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
			doc.EdgeAnnotations = c.Edges
			return nil
		})
	case *SetViewerSettingsCommand:
		return h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
			settings := c.Settings
			doc.ViewerSettings = &settings
			return nil
		})
	case *SetNodeGroupMembershipCommand:
		return h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
			applyMemberships(doc, []GroupMembership{c.Membership})
			return nil
		})
	case *SetNodeGroupMembershipsCommand:
		return h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
			applyMemberships(doc, c.Memberships)
			return nil
		})
	case *SetLabSettingsCommand:
		return h.docs.SetLabSettings(ctx, c.Settings)
	case *BatchCommand:
		return h.applyBatch(ctx, c)
	default:
		return fmt.Errorf("unsupported command %q", cmd.Name())
	}
}

func (h *Host) modifyAnnotations(ctx context.Context, mutate func(*domain.Annotations) error) error {
	_, err := h.ann.Modify(ctx, h.annPath, mutate)
	return err
}

func (h *Host) applyAddNode(ctx context.Context, c *AddNodeCommand) error {
	if c.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if err := h.docs.AddNode(ctx, c.ID, &c.Definition); err != nil {
		return err
	}
	if c.Position == nil {
		return nil
	}
	return h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
		pos := *c.Position
		doc.EnsureNodeAnnotation(c.ID).Position = &pos
		return nil
	})
}

func (h *Host) applyEditNode(ctx context.Context, c *EditNodeCommand) error {
	change := topology.NodeChange{
		NewID:  c.NewID,
		Kind:   c.Kind,
		Image:  c.Image,
		Type:   c.Type,
		Group:  c.Group,
		Labels: c.Labels,
	}
	if err := h.docs.EditNode(ctx, c.ID, change); err != nil {
		return err
	}
	if !c.IsRename() {
		return nil
	}
	// Keep sidecar entries pointing at the node's new identity.
	return h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
		doc.RenameNode(c.ID, c.NewID)
		return nil
	})
}

func (h *Host) applyDeleteNode(ctx context.Context, c *DeleteNodeCommand) error {
	if err := h.docs.DeleteNode(ctx, c.ID); err != nil {
		return err
	}
	return h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
		doc.RemoveNodeAnnotation(c.ID)
		return nil
	})
}

// applySavePositions writes positions to the sidecar and, for documents
// still carrying inline position labels, mirrors them into the primary
// file so both representations stay consistent.
func (h *Host) applySavePositions(ctx context.Context, positions []topology.PositionUpdate, patch *AnnotationPatch) error {
	err := h.modifyAnnotations(ctx, func(doc *domain.Annotations) error {
		for _, p := range positions {
			na := doc.EnsureNodeAnnotation(p.ID)
			na.Position = &domain.Position{X: p.X, Y: p.Y}
			if p.Geo != nil {
				geo := *p.Geo
				na.GeoCoordinates = &geo
			}
		}
		if patch != nil {
			patch.apply(doc)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return h.docs.SavePositions(ctx, positions)
}

func (h *Host) applyBatch(ctx context.Context, c *BatchCommand) error {
	h.docs.BeginBatch()
	var firstErr error
	for _, sub := range c.Commands {
		if err := h.dispatch(ctx, sub); err != nil {
			firstErr = fmt.Errorf("batch command %q: %w", sub.Name(), err)
			break
		}
	}
	// EndBatch flushes into the open transaction; on error the caller
	// rolls the transaction back, so the flush never reaches disk.
	if err := h.docs.EndBatch(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func applyMemberships(doc *domain.Annotations, memberships []GroupMembership) {
	for _, m := range memberships {
		na := doc.EnsureNodeAnnotation(m.NodeID)
		na.Group = m.Group
		na.Level = m.Level
	}
}
