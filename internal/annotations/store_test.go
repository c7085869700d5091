package annotations

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labtopo/internal/domain"
	"labtopo/internal/fsio"
)

func TestFilePath(t *testing.T) {
	tests := []struct {
		primary string
		want    string
	}{
		{"lab1.clab.yml", "lab1.annotations.json"},
		{"lab1.clab.yaml", "lab1.annotations.json"},
		{"lab1.yml", "lab1.annotations.json"},
		{"lab1.yaml", "lab1.annotations.json"},
		{"/labs/core/ring.clab.yml", "/labs/core/ring.annotations.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FilePath(tt.primary), "primary %s", tt.primary)
	}
}

func TestStore_LoadMissingIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewStore(fsio.NewMem())

	doc, err := store.Load(ctx, "lab.annotations.json", false)
	require.NoError(t, err)
	assert.Empty(t, doc.NodeAnnotations)
	assert.NotNil(t, doc.FreeTextAnnotations)
	assert.NotNil(t, doc.EdgeAnnotations)
}

func TestStore_LoadMalformedIsAbsent(t *testing.T) {
	ctx := context.Background()
	mem := fsio.NewMem()
	require.NoError(t, mem.WriteFile(ctx, "lab.annotations.json", []byte("{not json")))
	store := NewStore(mem)

	doc, err := store.Load(ctx, "lab.annotations.json", false)
	require.NoError(t, err)
	assert.Empty(t, doc.NodeAnnotations)
}

func TestStore_LoadFoldsLegacyFields(t *testing.T) {
	ctx := context.Background()
	mem := fsio.NewMem()
	raw := `{
	  "positions": {"r1": {"x": 10, "y": 20}},
	  "nodeAnnotations": [{"id": "r2", "lat": 48.1, "lng": 11.5}]
	}`
	require.NoError(t, mem.WriteFile(ctx, "lab.annotations.json", []byte(raw)))
	store := NewStore(mem)

	doc, err := store.Load(ctx, "lab.annotations.json", false)
	require.NoError(t, err)

	r1 := doc.NodeAnnotation("r1")
	require.NotNil(t, r1)
	require.NotNil(t, r1.Position)
	assert.Equal(t, 10.0, r1.Position.X)

	r2 := doc.NodeAnnotation("r2")
	require.NotNil(t, r2)
	require.NotNil(t, r2.GeoCoordinates)
	assert.Equal(t, 48.1, r2.GeoCoordinates.Lat)
	assert.Zero(t, r2.LegacyLat)
}

func TestStore_SaveStripsDeprecated(t *testing.T) {
	ctx := context.Background()
	mem := fsio.NewMem()
	store := NewStore(mem)

	doc := domain.NewAnnotations()
	doc.NodeAnnotations = append(doc.NodeAnnotations, domain.NodeAnnotation{
		ID: "r1", LegacyLat: 1.0, LegacyLng: 2.0,
	})
	require.NoError(t, store.Save(ctx, "lab.annotations.json", doc))

	data, err := mem.ReadFile(ctx, "lab.annotations.json")
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"lat"`)
	assert.NotContains(t, string(data), `"positions"`)

	var saved map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Contains(t, saved, "nodeAnnotations")
}

func TestStore_ModifyIsReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	mem := fsio.NewMem()
	store := NewStore(mem)

	_, err := store.Modify(ctx, "lab.annotations.json", func(doc *domain.Annotations) error {
		doc.EnsureNodeAnnotation("r1").Icon = "router"
		return nil
	})
	require.NoError(t, err)

	// A second Modify sees the first one's result even with a cold cache.
	store.ClearCache()
	updated, err := store.Modify(ctx, "lab.annotations.json", func(doc *domain.Annotations) error {
		require.NotNil(t, doc.NodeAnnotation("r1"))
		doc.EnsureNodeAnnotation("r2").Icon = "switch"
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, updated.NodeAnnotations, 2)
}

func TestStore_ModifyErrorAborts(t *testing.T) {
	ctx := context.Background()
	mem := fsio.NewMem()
	store := NewStore(mem)

	_, err := store.Modify(ctx, "lab.annotations.json", func(doc *domain.Annotations) error {
		doc.EnsureNodeAnnotation("r1")
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	exists, err := mem.Exists(ctx, "lab.annotations.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_LoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore(fsio.NewMem())

	first, err := store.Load(ctx, "lab.annotations.json", false)
	require.NoError(t, err)
	first.EnsureNodeAnnotation("mutant")

	second, err := store.Load(ctx, "lab.annotations.json", false)
	require.NoError(t, err)
	assert.Nil(t, second.NodeAnnotation("mutant"))
}
