package watcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/halcyon-sec/driftwatch/pkg/inventory"
	"github.com/halcyon-sec/driftwatch/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigSnapshot(n int) map[string]map[string]any {
	out := make(map[string]map[string]any, n)
	for i := 0; i < n; i++ {
		out[fmt.Sprintf("obj-%03d", i)] = map[string]any{"idx": i, "acl": "private"}
	}
	return out
}

func TestBatchedPagesThroughWholeList(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", bigSnapshot(25))

	b := NewBatched(New("role", src, st, nil, discard()), 10)
	assert.Equal(t, NotStarted, b.State())

	var audited []string
	cs, err := b.Run(ctx, "acme", func(_ context.Context, items []ChangeItem) error {
		for _, ci := range items {
			audited = append(audited, ci.Item.Name)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Done, b.State())

	assert.Len(t, cs.Created, 25)
	// Incremental audit saw every created item, streamed per page.
	assert.Len(t, audited, 25)
}

func TestBatchedNoDoubleCounting(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", bigSnapshot(17))

	b := NewBatched(New("role", src, st, nil, discard()), 5)
	cs, err := b.Run(ctx, "acme", nil)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, bucket := range [][]ChangeItem{cs.Created, cs.Changed, cs.Unchanged} {
		for _, ci := range bucket {
			seen[ci.Item.Name]++
		}
	}
	assert.Len(t, seen, 17)
	for name, n := range seen {
		assert.Equal(t, 1, n, "name %s counted %d times", name, n)
	}
}

func TestBatchedDrainClassifiesDeletions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", bigSnapshot(8))

	b := NewBatched(New("role", src, st, nil, discard()), 3)
	_, err := b.Run(ctx, "acme", nil)
	require.NoError(t, err)

	snap := bigSnapshot(8)
	delete(snap, "obj-002")
	delete(snap, "obj-007")
	src.SetSnapshot("acme", snap)

	b2 := NewBatched(New("role", src, st, nil, discard()), 3)
	cs, err := b2.Run(ctx, "acme", nil)
	require.NoError(t, err)

	names := []string{}
	for _, ci := range cs.Deleted {
		names = append(names, ci.Item.Name)
	}
	assert.ElementsMatch(t, []string{"obj-002", "obj-007"}, names)
}

func TestBatchedListFailureAbortsTechnology(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.FailList("acme", errors.New("service unavailable"))

	b := NewBatched(New("role", src, st, nil, discard()), 10)
	_, err := b.Run(ctx, "acme", nil)
	assert.ErrorIs(t, err, ErrListFailed)
	assert.Equal(t, Done, b.State())
}

func TestBatchedEquivalentToNonBatched(t *testing.T) {
	// Batch size = total object count must match the non-batched path.
	ctx := context.Background()
	snapA := bigSnapshot(12)

	stPlain := store.NewMemoryStore()
	srcPlain := inventory.NewMockSource()
	srcPlain.SetSnapshot("acme", snapA)
	plain := New("role", srcPlain, stPlain, nil, discard())
	_, err := plain.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)

	stBatch := store.NewMemoryStore()
	srcBatch := inventory.NewMockSource()
	srcBatch.SetSnapshot("acme", snapA)
	batched := NewBatched(New("role", srcBatch, stBatch, nil, discard()), 12)
	_, err = batched.Run(ctx, "acme", nil)
	require.NoError(t, err)

	// Mutate one object, delete one, add one; rerun both paths.
	snapB := bigSnapshot(12)
	snapB["obj-003"]["acl"] = "public-read"
	delete(snapB, "obj-009")
	snapB["obj-new"] = map[string]any{"acl": "private"}
	srcPlain.SetSnapshot("acme", snapB)
	srcBatch.SetSnapshot("acme", snapB)

	csPlain, err := plain.FetchAndClassify(ctx, "acme")
	require.NoError(t, err)
	csBatch, err := NewBatched(New("role", srcBatch, stBatch, nil, discard()), 12).Run(ctx, "acme", nil)
	require.NoError(t, err)

	assert.Equal(t, classification(csPlain), classification(csBatch))
}

func classification(cs *ChangeSet) map[string]ChangeType {
	out := map[string]ChangeType{}
	for _, bucket := range [][]ChangeItem{cs.Created, cs.Changed, cs.Unchanged, cs.Deleted} {
		for _, ci := range bucket {
			out[ci.Item.Name] = ci.Type
		}
	}
	return out
}

func TestBatchedSkipsEphemeralInStreamedAudit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	src := inventory.NewMockSource()
	src.SetSnapshot("acme", map[string]map[string]any{
		"r1": {"policy": "x", "seen": "t1"},
	})

	b := NewBatched(New("role", src, st, []string{"seen"}, discard()), 10)
	_, err := b.Run(ctx, "acme", nil)
	require.NoError(t, err)

	src.SetSnapshot("acme", map[string]map[string]any{
		"r1": {"policy": "x", "seen": "t2"},
	})
	var audited int
	b2 := NewBatched(New("role", src, st, []string{"seen"}, discard()), 10)
	_, err = b2.Run(ctx, "acme", func(_ context.Context, items []ChangeItem) error {
		audited += len(items)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, audited, "pure-ephemeral change should not stream to audit by default")
}
