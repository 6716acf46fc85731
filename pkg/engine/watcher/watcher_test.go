package watcher

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/halcyon-sec/driftwatch/pkg/inventory"
	"github.com/halcyon-sec/driftwatch/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFirstSightingCreatesItems(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", map[string]map[string]any{
		"b1": {"acl": "private"},
		"b2": {"acl": "public-read"},
	})

	w := New("bucket", src, st, nil, discard())
	cs, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	assert.Len(t, cs.Created, 2)
	assert.Empty(t, cs.Changed)
	assert.Empty(t, cs.Deleted)

	item, err := st.GetItem(ctx, "acme", "bucket", "b1")
	require.NoError(t, err)
	rev, err := st.LatestRevision(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, rev.Active)
	assert.Equal(t, map[string]any{"acl": "private"}, rev.Config)
}

func TestSecondRunUnchanged(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", map[string]map[string]any{"b1": {"acl": "private"}})

	w := New("bucket", src, st, nil, discard())
	_, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	cs, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, cs.Created)
	assert.Len(t, cs.Unchanged, 1)
	assert.False(t, cs.HasChanges())

	// No new revisions for unchanged items.
	item, _ := st.GetItem(ctx, "acme", "bucket", "b1")
	rev, err := st.LatestRevision(ctx, item.ID)
	require.NoError(t, err)
	first, _ := st.GetItem(ctx, "acme", "bucket", "b1")
	assert.Equal(t, first.LatestRevisionID, rev.ID)
}

func TestChangedObjectGetsNewRevision(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", map[string]map[string]any{"b1": {"acl": "private"}})

	w := New("bucket", src, st, nil, discard())
	_, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	src.SetSnapshot("acme", map[string]map[string]any{"b1": {"acl": "public-read"}})
	cs, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	require.Len(t, cs.Changed, 1)
	ch := cs.Changed[0]
	assert.False(t, ch.Ephemeral)
	assert.Equal(t, map[string]any{"acl": "private"}, ch.OldConfig)
	assert.Equal(t, map[string]any{"acl": "public-read"}, ch.NewConfig)
	assert.True(t, cs.HasDurableChanges())
}

func TestEphemeralOnlyChange(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", map[string]map[string]any{
		"r1": {"policy": "x", "last_used": "t1"},
	})

	w := New("role", src, st, []string{"last_used"}, discard())
	_, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	src.SetSnapshot("acme", map[string]map[string]any{
		"r1": {"policy": "x", "last_used": "t2"},
	})
	cs, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	require.Len(t, cs.Changed, 1)
	assert.True(t, cs.Changed[0].Ephemeral)
	assert.True(t, cs.HasChanges())
	assert.False(t, cs.HasDurableChanges())
	assert.Empty(t, cs.AuditScope(false))
	assert.Len(t, cs.AuditScope(true), 1)
}

func TestDeletionAppendsInactiveRevision(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", map[string]map[string]any{
		"b1": {"acl": "private"},
		"b2": {"acl": "private"},
	})

	w := New("bucket", src, st, nil, discard())
	_, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	src.SetSnapshot("acme", map[string]map[string]any{"b1": {"acl": "private"}})
	cs, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	require.Len(t, cs.Deleted, 1)
	assert.Equal(t, "b2", cs.Deleted[0].Item.Name)

	item, err := st.GetItem(ctx, "acme", "bucket", "b2")
	require.NoError(t, err, "deletion must not remove the item row")
	rev, err := st.LatestRevision(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, rev.Active)
	assert.Empty(t, rev.Config)
}

func TestFetchFailureIsNotDeletion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", map[string]map[string]any{"b1": {"acl": "private"}})

	w := New("bucket", src, st, nil, discard())
	_, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	src.FailGet("acme", "b1", errors.New("throttled"))
	cs, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err, "object fetch failure must not abort the run")

	assert.Empty(t, cs.Deleted)
	assert.Len(t, cs.Exceptions, 1)

	// Last known revision untouched.
	item, _ := st.GetItem(ctx, "acme", "bucket", "b1")
	rev, err := st.LatestRevision(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, rev.Active)
}

func TestListFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.FailList("acme", errors.New("access denied"))

	w := New("bucket", src, st, nil, discard())
	_, err := w.FetchAndClassify(ctx, "acme")
	assert.ErrorIs(t, err, ErrListFailed)
}

func TestIgnoreListSkipsObjects(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", map[string]map[string]any{
		"b1":      {"acl": "private"},
		"scratch": {"acl": "private"},
	})

	w := New("bucket", src, st, nil, discard())
	w.Ignore = []string{"scratch"}
	cs, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, cs.Created, 1)
	assert.Equal(t, "b1", cs.Created[0].Item.Name)
}

func TestExceptionCoverageGranularity(t *testing.T) {
	m := ExceptionMap{}
	m.Add(Location{Technology: "bucket", Account: "acme", Name: "b1"}, errors.New("throttled"))
	m.Add(Location{Technology: "bucket", Account: "acme", Region: "eu-west-1"}, errors.New("denied"))

	// A name-level entry recorded before the region was known still covers
	// the regioned item.
	assert.True(t, m.Covers(Location{Technology: "bucket", Account: "acme", Region: "us-east-1", Name: "b1"}))
	assert.True(t, m.Covers(Location{Technology: "bucket", Account: "acme", Region: "eu-west-1", Name: "b9"}))
	assert.False(t, m.Covers(Location{Technology: "bucket", Account: "acme", Region: "us-east-1", Name: "b2"}))
	assert.False(t, m.Covers(Location{Technology: "sg", Account: "acme", Name: "b1"}))
}

func TestClassificationCompleteness(t *testing.T) {
	// Every item in the union of store and snapshot lands in exactly one
	// bucket.
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", map[string]map[string]any{
		"a": {"v": 1}, "b": {"v": 1}, "c": {"v": 1},
	})

	w := New("bucket", src, st, nil, discard())
	_, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	// a unchanged, b changed, c deleted, d created.
	src.SetSnapshot("acme", map[string]map[string]any{
		"a": {"v": 1}, "b": {"v": 2}, "d": {"v": 1},
	})
	cs, err := w.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	counts := map[string]int{}
	for _, ci := range cs.Created {
		counts[ci.Item.Name]++
	}
	for _, ci := range cs.Changed {
		counts[ci.Item.Name]++
	}
	for _, ci := range cs.Unchanged {
		counts[ci.Item.Name]++
	}
	for _, ci := range cs.Deleted {
		counts[ci.Item.Name]++
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, counts)
}

func TestRepairOrphans(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()

	// Simulate an item row that lost its revision pointer.
	st.PutItem(store.Item{Account: "acme", Technology: "bucket", Name: "ghost"})

	w := New("bucket", src, st, nil, discard())
	require.NoError(t, w.RepairOrphans(ctx, "acme"))

	item, err := st.GetItem(ctx, "acme", "bucket", "ghost")
	require.NoError(t, err)
	assert.NotZero(t, item.LatestRevisionID)
	rev, err := st.LatestRevision(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, rev.Active)
}
