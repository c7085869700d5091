package host

import (
	"encoding/json"
	"fmt"

	"labtopo/internal/domain"
	"labtopo/internal/topology"
)

// Command names accepted on the wire.
const (
	CmdAddNode                       = "addNode"
	CmdEditNode                      = "editNode"
	CmdDeleteNode                    = "deleteNode"
	CmdAddLink                       = "addLink"
	CmdEditLink                      = "editLink"
	CmdDeleteLink                    = "deleteLink"
	CmdSavePositions                 = "savePositions"
	CmdSavePositionsAndAnnotations   = "savePositionsAndAnnotations"
	CmdSetAnnotations                = "setAnnotations"
	CmdSetAnnotationsWithMemberships = "setAnnotationsWithMemberships"
	CmdSetEdgeAnnotations            = "setEdgeAnnotations"
	CmdSetViewerSettings             = "setViewerSettings"
	CmdSetNodeGroupMembership        = "setNodeGroupMembership"
	CmdSetNodeGroupMemberships       = "setNodeGroupMemberships"
	CmdSetLabSettings                = "setLabSettings"
	CmdBatch                         = "batch"
	CmdUndo                          = "undo"
	CmdRedo                          = "redo"
)

// Command is the decoded form of one mutating request. The concrete types
// below form a closed set; dispatch switches over them exhaustively, so
// adding a command is a compile-time-checked exercise.
type Command interface {
	Name() string
}

// GroupMembership assigns a node to a visual group at an optional level.
type GroupMembership struct {
	NodeID string `json:"nodeId"`
	Group  string `json:"group"`
	Level  string `json:"level,omitempty"`
}

// AnnotationPatch replaces whole annotation collections. Nil fields leave
// the stored collection untouched.
type AnnotationPatch struct {
	FreeTextAnnotations    *[]domain.FreeTextAnnotation    `json:"freeTextAnnotations,omitempty"`
	FreeShapeAnnotations   *[]domain.FreeShapeAnnotation   `json:"freeShapeAnnotations,omitempty"`
	GroupStyleAnnotations  *[]domain.GroupStyleAnnotation  `json:"groupStyleAnnotations,omitempty"`
	NodeAnnotations        *[]domain.NodeAnnotation        `json:"nodeAnnotations,omitempty"`
	NetworkNodeAnnotations *[]domain.NetworkNodeAnnotation `json:"networkNodeAnnotations,omitempty"`
}

// apply overlays the patch onto a stored document.
func (p *AnnotationPatch) apply(doc *domain.Annotations) {
	if p.FreeTextAnnotations != nil {
		doc.FreeTextAnnotations = *p.FreeTextAnnotations
	}
	if p.FreeShapeAnnotations != nil {
		doc.FreeShapeAnnotations = *p.FreeShapeAnnotations
	}
	if p.GroupStyleAnnotations != nil {
		doc.GroupStyleAnnotations = *p.GroupStyleAnnotations
	}
	if p.NodeAnnotations != nil {
		doc.NodeAnnotations = *p.NodeAnnotations
	}
	if p.NetworkNodeAnnotations != nil {
		doc.NetworkNodeAnnotations = *p.NetworkNodeAnnotations
	}
}

// AddNodeCommand creates a node declaration, optionally placing it.
type AddNodeCommand struct {
	ID         string                `json:"id"`
	Definition domain.NodeDefinition `json:"definition"`
	Position   *domain.Position      `json:"position,omitempty"`
}

func (*AddNodeCommand) Name() string { return CmdAddNode }

// EditNodeCommand edits a node declaration. A non-empty NewID different
// from ID is a rename and participates in history merge-coalescing.
type EditNodeCommand struct {
	ID     string            `json:"id"`
	NewID  string            `json:"newId,omitempty"`
	Kind   *string           `json:"kind,omitempty"`
	Image  *string           `json:"image,omitempty"`
	Type   *string           `json:"type,omitempty"`
	Group  *string           `json:"group,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

func (*EditNodeCommand) Name() string { return CmdEditNode }

// IsRename reports whether the edit renames the node.
func (c *EditNodeCommand) IsRename() bool {
	return c.NewID != "" && c.NewID != c.ID
}

// DeleteNodeCommand removes a node and every link referencing it.
type DeleteNodeCommand struct {
	ID string `json:"id"`
}

func (*DeleteNodeCommand) Name() string { return CmdDeleteNode }

// AddLinkCommand appends a link declaration.
type AddLinkCommand struct {
	Link domain.LinkDefinition `json:"link"`
}

func (*AddLinkCommand) Name() string { return CmdAddLink }

// EditLinkCommand replaces the link matching Endpoints.
type EditLinkCommand struct {
	Endpoints []string              `json:"endpoints"`
	Link      domain.LinkDefinition `json:"link"`
}

func (*EditLinkCommand) Name() string { return CmdEditLink }

// DeleteLinkCommand removes the link matching Endpoints.
type DeleteLinkCommand struct {
	Endpoints []string `json:"endpoints"`
}

func (*DeleteLinkCommand) Name() string { return CmdDeleteLink }

// SavePositionsCommand persists node positions. Drag-in-progress saves are
// sent with the request-level skipHistory flag so they do not pollute the
// undo stack.
type SavePositionsCommand struct {
	Positions []topology.PositionUpdate `json:"positions"`
}

func (*SavePositionsCommand) Name() string { return CmdSavePositions }

// SavePositionsAndAnnotationsCommand persists positions and an annotation
// patch as one mutation.
type SavePositionsAndAnnotationsCommand struct {
	Positions   []topology.PositionUpdate `json:"positions"`
	Annotations AnnotationPatch           `json:"annotations"`
}

func (*SavePositionsAndAnnotationsCommand) Name() string { return CmdSavePositionsAndAnnotations }

// SetAnnotationsCommand replaces annotation collections.
type SetAnnotationsCommand struct {
	Annotations AnnotationPatch `json:"annotations"`
}

func (*SetAnnotationsCommand) Name() string { return CmdSetAnnotations }

// SetAnnotationsWithMembershipsCommand replaces annotation collections and
// applies group memberships in the same mutation.
type SetAnnotationsWithMembershipsCommand struct {
	Annotations AnnotationPatch   `json:"annotations"`
	Memberships []GroupMembership `json:"memberships"`
}

func (*SetAnnotationsWithMembershipsCommand) Name() string { return CmdSetAnnotationsWithMemberships }

// SetEdgeAnnotationsCommand replaces the per-edge annotation collection.
type SetEdgeAnnotationsCommand struct {
	Edges []domain.EdgeAnnotation `json:"edges"`
}

func (*SetEdgeAnnotationsCommand) Name() string { return CmdSetEdgeAnnotations }

// SetViewerSettingsCommand replaces the viewer-wide settings.
type SetViewerSettingsCommand struct {
	Settings domain.ViewerSettings `json:"settings"`
}

func (*SetViewerSettingsCommand) Name() string { return CmdSetViewerSettings }

// SetNodeGroupMembershipCommand assigns one node to a group.
type SetNodeGroupMembershipCommand struct {
	Membership GroupMembership `json:"membership"`
}

func (*SetNodeGroupMembershipCommand) Name() string { return CmdSetNodeGroupMembership }

// SetNodeGroupMembershipsCommand assigns several nodes to groups.
type SetNodeGroupMembershipsCommand struct {
	Memberships []GroupMembership `json:"memberships"`
}

func (*SetNodeGroupMembershipsCommand) Name() string { return CmdSetNodeGroupMemberships }

// SetLabSettingsCommand updates the top-level lab fields.
type SetLabSettingsCommand struct {
	Settings domain.LabSettings `json:"settings"`
}

func (*SetLabSettingsCommand) Name() string { return CmdSetLabSettings }

// BatchCommand runs sub-commands as one transactional mutation. Batches
// may not nest and may not contain undo or redo.
type BatchCommand struct {
	Commands []Command
}

func (*BatchCommand) Name() string { return CmdBatch }

// UndoCommand reverts the most recent undoable mutation.
type UndoCommand struct{}

func (*UndoCommand) Name() string { return CmdUndo }

// RedoCommand re-applies the most recently undone mutation.
type RedoCommand struct{}

func (*RedoCommand) Name() string { return CmdRedo }

// envelope is the wire form of one command inside a batch payload.
type envelope struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeCommand turns a wire command name and payload into its typed
// form. Unknown names and malformed payloads are decode errors, reported
// to the caller as error responses before any mutation is attempted.
func DecodeCommand(name string, payload json.RawMessage) (Command, error) {
	decode := func(cmd Command) (Command, error) {
		if len(payload) == 0 {
			return nil, fmt.Errorf("command %s requires a payload", name)
		}
		if err := json.Unmarshal(payload, cmd); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}
		return cmd, nil
	}

	switch name {
	case CmdAddNode:
		return decode(&AddNodeCommand{})
	case CmdEditNode:
		return decode(&EditNodeCommand{})
	case CmdDeleteNode:
		return decode(&DeleteNodeCommand{})
	case CmdAddLink:
		return decode(&AddLinkCommand{})
	case CmdEditLink:
		return decode(&EditLinkCommand{})
	case CmdDeleteLink:
		return decode(&DeleteLinkCommand{})
	case CmdSavePositions:
		return decode(&SavePositionsCommand{})
	case CmdSavePositionsAndAnnotations:
		return decode(&SavePositionsAndAnnotationsCommand{})
	case CmdSetAnnotations:
		return decode(&SetAnnotationsCommand{})
	case CmdSetAnnotationsWithMemberships:
		return decode(&SetAnnotationsWithMembershipsCommand{})
	case CmdSetEdgeAnnotations:
		return decode(&SetEdgeAnnotationsCommand{})
	case CmdSetViewerSettings:
		return decode(&SetViewerSettingsCommand{})
	case CmdSetNodeGroupMembership:
		return decode(&SetNodeGroupMembershipCommand{})
	case CmdSetNodeGroupMemberships:
		return decode(&SetNodeGroupMembershipsCommand{})
	case CmdSetLabSettings:
		return decode(&SetLabSettingsCommand{})
	case CmdBatch:
		return decodeBatch(payload)
	case CmdUndo:
		return &UndoCommand{}, nil
	case CmdRedo:
		return &RedoCommand{}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}

func decodeBatch(payload json.RawMessage) (Command, error) {
	var wire struct {
		Commands []envelope `json:"commands"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode batch payload: %w", err)
	}
	if len(wire.Commands) == 0 {
		return nil, fmt.Errorf("batch requires at least one command")
	}
	batch := &BatchCommand{}
	for _, env := range wire.Commands {
		switch env.Command {
		case CmdBatch:
			return nil, fmt.Errorf("batch commands may not nest")
		case CmdUndo, CmdRedo:
			return nil, fmt.Errorf("batch commands may not contain %s", env.Command)
		}
		cmd, err := DecodeCommand(env.Command, env.Payload)
		if err != nil {
			return nil, err
		}
		batch.Commands = append(batch.Commands, cmd)
	}
	return batch, nil
}
