package host

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labtopo/internal/annotations"
	"labtopo/internal/domain"
	"labtopo/internal/fsio"
	"labtopo/internal/topology"
)

const labPath = "ring.clab.yml"

const labText = `name: ring
topology:
  nodes:
    r1:
      kind: nokia_srlinux
    r2:
      kind: arista_ceos
  links:
    - endpoints: [r1:e1-1, r2:eth1]
`

// fakeClock drives merge-window decisions deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestHost(t *testing.T) (*Host, *fsio.Mem, *fakeClock) {
	t.Helper()
	mem := fsio.NewMem()
	require.NoError(t, mem.WriteFile(context.Background(), labPath, []byte(labText)))
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	h := New(mem, labPath, Options{Now: clock.now})
	return h, mem, clock
}

func apply(t *testing.T, h *Host, cmd Command) Result {
	t.Helper()
	res := h.Apply(context.Background(), Request{Command: cmd, BaseRevision: h.Revision()})
	require.Equal(t, StatusAck, res.Status, "command %s: %s", cmd.Name(), res.Message)
	return res
}

func TestHost_InitialSnapshot(t *testing.T) {
	h, _, _ := newTestHost(t)

	snap, err := h.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Revision)
	assert.Equal(t, "ring", snap.Name)
	assert.Equal(t, domain.ModeEdit, snap.Mode)
	assert.False(t, snap.CanUndo)
	assert.False(t, snap.CanRedo)
	assert.Len(t, snap.Graph.Nodes, 2)
	assert.Len(t, snap.Graph.Edges, 1)
}

func TestHost_RevisionIncrementsPerMutation(t *testing.T) {
	h, _, _ := newTestHost(t)

	res := apply(t, h, &AddNodeCommand{ID: "r3", Definition: domain.NodeDefinition{Kind: "cisco_xrd"}})
	assert.Equal(t, 2, res.Revision)

	res = apply(t, h, &DeleteNodeCommand{ID: "r3"})
	assert.Equal(t, 3, res.Revision)

	// Reads never change the revision.
	snap, err := h.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Revision)
	assert.Equal(t, 3, h.Revision())
}

func TestHost_StaleBaseRevisionIsRejected(t *testing.T) {
	h, mem, _ := newTestHost(t)
	apply(t, h, &AddNodeCommand{ID: "r3"})

	before, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)

	res := h.Apply(context.Background(), Request{
		Command:      &DeleteNodeCommand{ID: "r3"},
		BaseRevision: 1, // current is 2
	})
	assert.Equal(t, StatusStale, res.Status)
	assert.Equal(t, 2, res.Revision)
	require.NotNil(t, res.Snapshot, "stale rejection carries the current snapshot")
	assert.Equal(t, 2, res.Snapshot.Revision)

	// The rejected command had no effect.
	after, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, 2, h.Revision())
}

func TestHost_FailedCommandChangesNothing(t *testing.T) {
	h, mem, _ := newTestHost(t)
	before, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)

	res := h.Apply(context.Background(), Request{
		Command:      &AddNodeCommand{ID: "r1"}, // duplicate
		BaseRevision: 1,
	})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "already exists")
	assert.Equal(t, 1, res.Revision)

	after, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	// The failed attempt left no history behind.
	snap, err := h.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.CanUndo)
}

func TestHost_MultiFileMutationIsAtomic(t *testing.T) {
	h, mem, _ := newTestHost(t)
	annPath := annotations.FilePath(labPath)

	// Seed an annotation so deleteNode must touch both files.
	apply(t, h, &SetNodeGroupMembershipCommand{Membership: GroupMembership{NodeID: "r1", Group: "core"}})

	docBefore, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)
	annBefore, err := mem.ReadFile(context.Background(), annPath)
	require.NoError(t, err)

	mem.FailWrites = errors.New("disk full")
	mem.FailPath = annPath

	res := h.Apply(context.Background(), Request{
		Command:      &DeleteNodeCommand{ID: "r1"},
		BaseRevision: h.Revision(),
	})
	assert.Equal(t, StatusError, res.Status)
	mem.FailWrites = nil

	// Neither file changed; the document write was reverted.
	docAfter, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)
	assert.Equal(t, string(docBefore), string(docAfter))
	annAfter, err := mem.ReadFile(context.Background(), annPath)
	require.NoError(t, err)
	assert.Equal(t, string(annBefore), string(annAfter))
}

func TestHost_UndoRedoRoundTrip(t *testing.T) {
	h, mem, _ := newTestHost(t)
	ctx := context.Background()
	annPath := annotations.FilePath(labPath)

	// Build once so startup migrations settle before state is captured.
	_, err := h.Snapshot(ctx)
	require.NoError(t, err)

	readBoth := func() (string, string) {
		doc, err := mem.ReadFile(ctx, labPath)
		require.NoError(t, err)
		ann, err := mem.ReadFile(ctx, annPath)
		require.NoError(t, err)
		return string(doc), string(ann)
	}
	docBefore, annBefore := readBoth()

	res := apply(t, h, &AddNodeCommand{ID: "r3", Definition: domain.NodeDefinition{Kind: "cisco_xrd"}})
	require.Equal(t, 2, res.Revision)
	assert.True(t, res.Snapshot.CanUndo)
	docAfter, annAfter := readBoth()

	res = apply(t, h, &UndoCommand{})
	assert.Equal(t, 3, res.Revision, "undo is itself a revisioned mutation")
	assert.Len(t, res.Snapshot.Graph.Nodes, 2)
	assert.False(t, res.Snapshot.CanUndo)
	assert.True(t, res.Snapshot.CanRedo)

	// Both files are byte-identical to the captured pre-command state.
	doc, ann := readBoth()
	assert.Equal(t, docBefore, doc)
	assert.Equal(t, annBefore, ann)

	res = apply(t, h, &RedoCommand{})
	assert.Equal(t, 4, res.Revision)
	assert.Len(t, res.Snapshot.Graph.Nodes, 3)
	assert.True(t, res.Snapshot.CanUndo)
	assert.False(t, res.Snapshot.CanRedo)

	// And redo restores the captured post-command state.
	doc, ann = readBoth()
	assert.Equal(t, docAfter, doc)
	assert.Equal(t, annAfter, ann)
}

func TestHost_UndoOnEmptyStackIsNoOp(t *testing.T) {
	h, _, _ := newTestHost(t)

	res := h.Apply(context.Background(), Request{Command: &UndoCommand{}, BaseRevision: 1})
	assert.Equal(t, StatusAck, res.Status)
	assert.Equal(t, 1, res.Revision, "no-op undo keeps the revision")

	res = h.Apply(context.Background(), Request{Command: &RedoCommand{}, BaseRevision: 1})
	assert.Equal(t, StatusAck, res.Status)
	assert.Equal(t, 1, res.Revision)
}

func TestHost_NewMutationClearsRedo(t *testing.T) {
	h, _, _ := newTestHost(t)

	apply(t, h, &AddNodeCommand{ID: "r3"})
	apply(t, h, &UndoCommand{})
	res := apply(t, h, &AddNodeCommand{ID: "r4"})
	assert.False(t, res.Snapshot.CanRedo, "a fresh mutation invalidates the redo stack")
}

func TestHost_RenameMergeCoalescing(t *testing.T) {
	h, _, clock := newTestHost(t)

	// Two renames inside the merge window collapse into one undo step.
	apply(t, h, &EditNodeCommand{ID: "r1", NewID: "r1a"})
	clock.advance(200 * time.Millisecond)
	apply(t, h, &EditNodeCommand{ID: "r1a", NewID: "r1ab"})

	res := apply(t, h, &UndoCommand{})
	ids := nodeIDSet(res.Snapshot)
	assert.Contains(t, ids, "r1", "one undo reverts the whole rename burst")
	assert.NotContains(t, ids, "r1a")
	assert.False(t, res.Snapshot.CanUndo)
}

func TestHost_RenameOutsideWindowIsSeparate(t *testing.T) {
	h, _, clock := newTestHost(t)

	apply(t, h, &EditNodeCommand{ID: "r1", NewID: "r1a"})
	clock.advance(600 * time.Millisecond) // past the 400ms window
	apply(t, h, &EditNodeCommand{ID: "r1a", NewID: "r1ab"})

	res := apply(t, h, &UndoCommand{})
	ids := nodeIDSet(res.Snapshot)
	assert.Contains(t, ids, "r1a", "first undo only reverts the second rename")
	assert.True(t, res.Snapshot.CanUndo)

	res = apply(t, h, &UndoCommand{})
	assert.Contains(t, nodeIDSet(res.Snapshot), "r1")
}

func TestHost_NonRenameClosesMergeWindow(t *testing.T) {
	h, _, clock := newTestHost(t)

	apply(t, h, &EditNodeCommand{ID: "r1", NewID: "r1a"})
	clock.advance(100 * time.Millisecond)
	apply(t, h, &AddNodeCommand{ID: "r9"})
	clock.advance(100 * time.Millisecond)

	// The add is still within 400ms of the rename, but it closed the
	// window, so the next rename gets its own history entry.
	apply(t, h, &EditNodeCommand{ID: "r1a", NewID: "r1b"})

	res := apply(t, h, &UndoCommand{})
	assert.Contains(t, nodeIDSet(res.Snapshot), "r1a")
	assert.True(t, res.Snapshot.CanUndo)
}

func TestHost_SkipHistoryMutations(t *testing.T) {
	h, _, _ := newTestHost(t)

	apply(t, h, &AddNodeCommand{ID: "r3"})

	res := h.Apply(context.Background(), Request{
		Command:      &SavePositionsCommand{Positions: positionUpdates("r3", 10, 20)},
		BaseRevision: h.Revision(),
		SkipHistory:  true,
	})
	require.Equal(t, StatusAck, res.Status)
	assert.Equal(t, 3, res.Revision, "skip-history mutations still bump the revision")

	// Undo skips the position save and reverts the node addition.
	res = apply(t, h, &UndoCommand{})
	assert.NotContains(t, nodeIDSet(res.Snapshot), "r3")
	assert.False(t, res.Snapshot.CanUndo)
}

func TestHost_HistoryLimitIsBounded(t *testing.T) {
	mem := fsio.NewMem()
	require.NoError(t, mem.WriteFile(context.Background(), labPath, []byte(labText)))
	h := New(mem, labPath, Options{HistoryLimit: 2})

	apply(t, h, &AddNodeCommand{ID: "a1"})
	apply(t, h, &AddNodeCommand{ID: "a2"})
	apply(t, h, &AddNodeCommand{ID: "a3"})

	apply(t, h, &UndoCommand{})
	res := apply(t, h, &UndoCommand{})
	ids := nodeIDSet(res.Snapshot)
	assert.Contains(t, ids, "a1", "the oldest entry was evicted, a1 survives")
	assert.NotContains(t, ids, "a2")
	assert.False(t, res.Snapshot.CanUndo)
}

func TestHost_BatchIsOneHistoryEntry(t *testing.T) {
	h, _, _ := newTestHost(t)

	res := apply(t, h, &BatchCommand{Commands: []Command{
		&AddNodeCommand{ID: "r3", Definition: domain.NodeDefinition{Kind: "cisco_xrd"}},
		&AddLinkCommand{Link: domain.LinkDefinition{Endpoints: []string{"r3:Gi0-0-0-0", "r1:e1-2"}}},
	}})
	assert.Equal(t, 2, res.Revision)
	assert.Len(t, res.Snapshot.Graph.Nodes, 3)
	assert.Len(t, res.Snapshot.Graph.Edges, 2)

	res = apply(t, h, &UndoCommand{})
	assert.Len(t, res.Snapshot.Graph.Nodes, 2)
	assert.Len(t, res.Snapshot.Graph.Edges, 1)
}

func TestHost_BatchFailureRollsBackEverything(t *testing.T) {
	h, mem, _ := newTestHost(t)
	before, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)

	res := h.Apply(context.Background(), Request{
		Command: &BatchCommand{Commands: []Command{
			&AddNodeCommand{ID: "r3"},
			&AddNodeCommand{ID: "r1"}, // duplicate, fails
		}},
		BaseRevision: 1,
	})
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1, h.Revision())

	after, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "partial batch effects never persist")
}

func TestHost_RolledBackBatchLeavesNoAnnotationTrace(t *testing.T) {
	h, mem, _ := newTestHost(t)
	ctx := context.Background()

	// The membership mutates the sidecar inside the transaction before the
	// duplicate add fails the batch.
	res := h.Apply(ctx, Request{
		Command: &BatchCommand{Commands: []Command{
			&SetNodeGroupMembershipCommand{Membership: GroupMembership{NodeID: "r1", Group: "ghost"}},
			&AddNodeCommand{ID: "r2"}, // duplicate, fails
		}},
		BaseRevision: 1,
	})
	require.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1, h.Revision())

	// The discarded mutation must not survive in any cache: the next
	// snapshot build reflects disk, not the rolled-back membership.
	snap, err := h.Snapshot(ctx)
	require.NoError(t, err)
	if na := snap.Annotations.NodeAnnotation("r1"); na != nil {
		assert.NotEqual(t, "ghost", na.Group)
	}

	if data, err := mem.ReadFile(ctx, annotations.FilePath(labPath)); err == nil {
		assert.NotContains(t, string(data), "ghost")
	}
}

func TestHost_DeleteNodeRemovesAnnotationAndLinks(t *testing.T) {
	h, _, _ := newTestHost(t)

	apply(t, h, &SavePositionsCommand{Positions: positionUpdates("r1", 5, 5)})
	res := apply(t, h, &DeleteNodeCommand{ID: "r1"})

	assert.NotContains(t, nodeIDSet(res.Snapshot), "r1")
	assert.Empty(t, res.Snapshot.Graph.Edges)
	assert.Nil(t, res.Snapshot.Annotations.NodeAnnotation("r1"))
}

func TestHost_RenameCarriesAnnotations(t *testing.T) {
	h, _, _ := newTestHost(t)

	apply(t, h, &SavePositionsCommand{Positions: positionUpdates("r1", 7, 9)})
	res := apply(t, h, &EditNodeCommand{ID: "r1", NewID: "core1"})

	entry := res.Snapshot.Annotations.NodeAnnotation("core1")
	require.NotNil(t, entry)
	require.NotNil(t, entry.Position)
	assert.Equal(t, 7.0, entry.Position.X)
	assert.Nil(t, res.Snapshot.Annotations.NodeAnnotation("r1"))

	// The link endpoint follows the rename.
	require.Len(t, res.Snapshot.Graph.Edges, 1)
	assert.Equal(t, "core1", res.Snapshot.Graph.Edges[0].Source)
}

func TestHost_ExternalChangeClearsHistory(t *testing.T) {
	h, mem, _ := newTestHost(t)
	apply(t, h, &AddNodeCommand{ID: "r3"})

	var gotReason string
	var gotSnap *domain.Snapshot
	h.SetNotifier(func(reason string, snap *domain.Snapshot) {
		gotReason = reason
		gotSnap = snap
	})

	edited := strings.Replace(labText, "r2:", "r5:", 1)
	edited = strings.Replace(edited, "r2:eth1", "r5:eth1", 1)
	require.NoError(t, mem.WriteFile(context.Background(), labPath, []byte(edited)))

	changed, err := h.ExternalChange(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ReasonExternalChange, gotReason)
	require.NotNil(t, gotSnap)
	assert.Equal(t, 3, gotSnap.Revision)
	assert.Contains(t, nodeIDSet(gotSnap), "r5")
	assert.False(t, gotSnap.CanUndo, "external edits invalidate history")
	assert.False(t, gotSnap.CanRedo)
}

func TestHost_ExternalChangeSuppressesOwnWrites(t *testing.T) {
	h, _, _ := newTestHost(t)
	apply(t, h, &AddNodeCommand{ID: "r3"})
	rev := h.Revision()

	// The watcher fires after the host's own write; content matches what
	// the host last serialized, so nothing happens.
	changed, err := h.ExternalChange(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, rev, h.Revision())
}

func TestHost_ReplaceContent(t *testing.T) {
	h, mem, _ := newTestHost(t)

	newText := "name: rebuilt\ntopology:\n  nodes:\n    x1:\n      kind: nokia_srlinux\n"
	res := h.ReplaceContent(context.Background(), 1, []byte(newText))
	require.Equal(t, StatusAck, res.Status, res.Message)
	assert.Equal(t, 2, res.Revision)
	assert.Equal(t, "rebuilt", res.Snapshot.Name)

	data, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)
	assert.Equal(t, newText, string(data))

	// The replacement is undoable.
	res = apply(t, h, &UndoCommand{})
	assert.Equal(t, "ring", res.Snapshot.Name)
}

func TestHost_ReplaceContentRejectsInvalidText(t *testing.T) {
	h, mem, _ := newTestHost(t)
	before, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)

	res := h.ReplaceContent(context.Background(), 1, []byte("- not\n- a\n- mapping\n"))
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1, h.Revision())

	after, err := mem.ReadFile(context.Background(), labPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestHost_ReplaceContentStaleRevision(t *testing.T) {
	h, _, _ := newTestHost(t)
	apply(t, h, &AddNodeCommand{ID: "r3"})

	res := h.ReplaceContent(context.Background(), 1, []byte("name: x\n"))
	assert.Equal(t, StatusStale, res.Status)
	assert.Equal(t, 2, res.Revision)
}

func TestHost_LegacyLabelMigrationOnLoad(t *testing.T) {
	legacy := `name: ring
topology:
  nodes:
    r1:
      kind: nokia_srlinux
      labels:
        graph-posX: "120"
        graph-posY: "240"
        graph-icon: router
`
	mem := fsio.NewMem()
	require.NoError(t, mem.WriteFile(context.Background(), labPath, []byte(legacy)))
	h := New(mem, labPath, Options{})

	snap, err := h.Snapshot(context.Background())
	require.NoError(t, err)

	entry := snap.Annotations.NodeAnnotation("r1")
	require.NotNil(t, entry)
	require.NotNil(t, entry.Position)
	assert.Equal(t, 120.0, entry.Position.X)
	assert.Equal(t, "router", entry.Icon)
	assert.Equal(t, "e1-{n}", entry.InterfacePattern)

	// The repaired sidecar was persisted.
	exists, err := mem.Exists(context.Background(), annotations.FilePath(labPath))
	require.NoError(t, err)
	assert.True(t, exists)

	// The graph reflects the migrated position.
	for _, node := range snap.Graph.Nodes {
		if node.ID == "r1" {
			require.NotNil(t, node.Position)
			assert.Equal(t, 120.0, node.Position.X)
		}
	}
}

func TestHost_OrphanReconciliationOnExternalRename(t *testing.T) {
	h, mem, _ := newTestHost(t)

	// Position r1, then rename it to a1 behind the host's back.
	apply(t, h, &SavePositionsCommand{Positions: positionUpdates("r1", 42, 43)})
	edited := strings.ReplaceAll(labText, "r1", "a1")
	require.NoError(t, mem.WriteFile(context.Background(), labPath, []byte(edited)))

	changed, err := h.ExternalChange(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	snap, err := h.Snapshot(context.Background())
	require.NoError(t, err)
	entry := snap.Annotations.NodeAnnotation("a1")
	require.NotNil(t, entry, "the orphaned annotation was re-associated")
	require.NotNil(t, entry.Position)
	assert.Equal(t, 42.0, entry.Position.X)
}

func TestHost_SetLabSettingsAndViewerSettings(t *testing.T) {
	h, _, _ := newTestHost(t)

	prefix := "lab"
	res := apply(t, h, &SetLabSettingsCommand{Settings: domain.LabSettings{Name: "renamed", Prefix: &prefix}})
	assert.Equal(t, "renamed", res.Snapshot.Name)
	require.NotNil(t, res.Snapshot.LabSettings.Prefix)
	assert.Equal(t, "lab", *res.Snapshot.LabSettings.Prefix)

	res = apply(t, h, &SetViewerSettingsCommand{Settings: domain.ViewerSettings{Layout: "geo", ShowGrid: true}})
	require.NotNil(t, res.Snapshot.Annotations.ViewerSettings)
	assert.Equal(t, "geo", res.Snapshot.Annotations.ViewerSettings.Layout)
}

func nodeIDSet(snap *domain.Snapshot) map[string]bool {
	ids := make(map[string]bool, len(snap.Graph.Nodes))
	for _, node := range snap.Graph.Nodes {
		ids[node.ID] = true
	}
	return ids
}

func positionUpdates(id string, x, y float64) []topology.PositionUpdate {
	return []topology.PositionUpdate{{ID: id, X: x, Y: y}}
}
