package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps MemStore and fails on demand. Like the SQL stores it
// rejects calls whose context is already done.
type flakyStore struct {
	*MemStore
	getErr error
	putErr error
	puts   int
	gets   int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemStore: NewMemStore()}
}

func (f *flakyStore) Get(ctx context.Context) (Memory, error) {
	f.gets++
	if err := ctx.Err(); err != nil {
		return Memory{}, err
	}
	if f.getErr != nil {
		return Memory{}, f.getErr
	}
	return f.MemStore.Get(ctx)
}

func (f *flakyStore) Put(ctx context.Context, m Memory) error {
	f.puts++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.putErr != nil {
		return f.putErr
	}
	return f.MemStore.Put(ctx, m)
}

type countingObserver struct {
	ok, failed int
}

func (o *countingObserver) SnapshotPersisted(err error) {
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

func fixedClock(t0 time.Time) func() time.Time {
	return func() time.Time { return t0 }
}

func TestGraph_AddNode(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	g := NewGraph(store)

	node := g.AddNode(ctx, NewNode{Kind: KindPrompt, Content: "hello"})

	assert.True(t, strings.HasPrefix(node.ID, nodeIDPrefix))
	assert.Equal(t, KindPrompt, node.Kind)
	assert.Equal(t, "hello", node.Content)
	assert.NotNil(t, node.Connections)
	assert.Empty(t, node.Connections)
	assert.False(t, node.Timestamp.IsZero())
	assert.Equal(t, 1, store.puts)

	// the snapshot was written through
	persisted, err := store.MemStore.Get(ctx)
	require.NoError(t, err)
	require.Len(t, persisted.Nodes, 1)
	assert.Equal(t, node.ID, persisted.Nodes[0].ID)
	assert.True(t, persisted.LastAccessed.Equal(node.Timestamp))
}

func TestGraph_AddNode_SanitizesMetadata(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(NewMemStore())

	node := g.AddNode(ctx, NewNode{
		Kind:    KindMemory,
		Content: "with metadata",
		Metadata: map[string]any{
			"agentId":  "flux",
			"callback": func() {},
		},
	})

	require.False(t, IsFallback(node))
	assert.Equal(t, "flux", node.Metadata["agentId"])
	assert.Equal(t, "[unserializable]", node.Metadata["callback"])
}

func TestGraph_AddNode_Fallback(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid kind", func(t *testing.T) {
		g := NewGraph(NewMemStore())
		node := g.AddNode(ctx, NewNode{Kind: Kind("bogus"), Content: "x"})
		assert.True(t, IsFallback(node))
		assert.Empty(t, g.Memory(ctx).Nodes)
	})

	t.Run("closed graph", func(t *testing.T) {
		g := NewGraph(NewMemStore())
		require.NoError(t, g.Close())
		node := g.AddNode(ctx, NewNode{Kind: KindPrompt, Content: "x"})
		assert.True(t, IsFallback(node))
		assert.Equal(t, "x", node.Content)
	})
}

func TestGraph_PersistFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	store.putErr = errors.New("disk full")
	obs := &countingObserver{}
	g := NewGraph(store, WithObserver(obs))

	node := g.AddNode(ctx, NewNode{Kind: KindMemory, Content: "kept"})

	assert.False(t, IsFallback(node))
	got, ok := g.GetNode(ctx, node.ID)
	require.True(t, ok)
	assert.Equal(t, "kept", got.Content)
	assert.Equal(t, 1, obs.failed)
	assert.Equal(t, 0, obs.ok)
}

func TestGraph_LazyLoad(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()

	seed := NewGraph(store)
	first := seed.AddNode(ctx, NewNode{Kind: KindMemory, Content: "persisted"})

	store.gets = 0
	store.puts = 0
	g := NewGraph(store)
	assert.Equal(t, 0, store.gets, "nothing is read before first access")

	got, ok := g.GetNode(ctx, first.ID)
	require.True(t, ok)
	assert.Equal(t, "persisted", got.Content)

	g.SearchNodes(ctx, "persisted")
	g.RecentNodes(ctx, 5)
	g.Memory(ctx)
	assert.Equal(t, 1, store.gets, "snapshot is loaded once")
	assert.Equal(t, 0, store.puts, "reads never write")
}

func TestGraph_LoadFailureStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	require.NoError(t, store.MemStore.Put(ctx, Memory{Nodes: []Node{{ID: "node_old", Kind: KindMemory, Content: "persisted"}}}))
	store.getErr = errors.New("corrupt snapshot")
	obs := &countingObserver{}
	g := NewGraph(store, WithObserver(obs))

	assert.Empty(t, g.Memory(ctx).Nodes)
	node := g.AddNode(ctx, NewNode{Kind: KindPrompt, Content: "after failure"})
	assert.False(t, IsFallback(node))
	assert.Equal(t, 0, store.puts, "an unread snapshot is never overwritten")
	assert.Equal(t, 1, obs.failed)
	assert.Error(t, g.Flush(ctx))
	assert.Error(t, g.Load(ctx))

	store.getErr = nil
	nodes := g.Memory(ctx).Nodes
	require.Len(t, nodes, 2)
	assert.Equal(t, "node_old", nodes[0].ID)
	assert.Equal(t, node.ID, nodes[1].ID)

	g.AddNode(ctx, NewNode{Kind: KindMemory, Content: "after recovery"})
	persisted, err := store.MemStore.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted.Nodes, 3)
}

func TestGraph_CancelledCallerStillPersists(t *testing.T) {
	store := newFlakyStore()
	g := NewGraph(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	node := g.AddNode(ctx, NewNode{Kind: KindPrompt, Content: "client went away"})
	require.False(t, IsFallback(node))

	persisted, err := store.MemStore.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted.Nodes, 1)
	assert.Equal(t, node.ID, persisted.Nodes[0].ID)

	other := g.AddNode(context.Background(), NewNode{Kind: KindMemory, Content: "later"})
	assert.True(t, g.ConnectNodes(ctx, node.ID, other.ID))
	persisted, err = store.MemStore.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, persisted.Nodes[0].Connections)
}

func TestGraph_UpdateNode(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	g := NewGraph(NewMemStore(), WithClock(func() time.Time { return now }))

	node := g.AddNode(ctx, NewNode{
		Kind:     KindMemory,
		Content:  "before",
		Metadata: map[string]any{"a": 1},
	})

	now = t0.Add(time.Minute)
	content := "after"
	updated, ok := g.UpdateNode(ctx, node.ID, NodeUpdate{
		Content:  &content,
		Metadata: map[string]any{"b": 2},
	})
	require.True(t, ok)

	assert.Equal(t, node.ID, updated.ID)
	assert.Equal(t, KindMemory, updated.Kind)
	assert.Equal(t, "after", updated.Content)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, updated.Metadata)
	assert.True(t, updated.Timestamp.Equal(t0.Add(time.Minute)))

	t.Run("explicit timestamp", func(t *testing.T) {
		later := t0.Add(time.Hour)
		got, ok := g.UpdateNode(ctx, node.ID, NodeUpdate{Timestamp: &later})
		require.True(t, ok)
		assert.True(t, got.Timestamp.Equal(later))
	})

	t.Run("timestamp never moves backwards", func(t *testing.T) {
		earlier := t0.Add(-time.Hour)
		got, ok := g.UpdateNode(ctx, node.ID, NodeUpdate{Timestamp: &earlier})
		require.True(t, ok)
		assert.True(t, got.Timestamp.Equal(t0.Add(time.Hour)))
	})

	t.Run("missing node", func(t *testing.T) {
		_, ok := g.UpdateNode(ctx, "nonexistent", NodeUpdate{Content: &content})
		assert.False(t, ok)
	})
}

func TestGraph_ConnectNodes(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(NewMemStore())

	a := g.AddNode(ctx, NewNode{Kind: KindPrompt, Content: "a"})
	b := g.AddNode(ctx, NewNode{Kind: KindResponse, Content: "b"})

	require.True(t, g.ConnectNodes(ctx, a.ID, b.ID))

	gotA, _ := g.GetNode(ctx, a.ID)
	gotB, _ := g.GetNode(ctx, b.ID)
	assert.Equal(t, []string{b.ID}, gotA.Connections)
	assert.Equal(t, []string{a.ID}, gotB.Connections)

	t.Run("idempotent", func(t *testing.T) {
		require.True(t, g.ConnectNodes(ctx, a.ID, b.ID))
		require.True(t, g.ConnectNodes(ctx, b.ID, a.ID))

		gotA, _ := g.GetNode(ctx, a.ID)
		gotB, _ := g.GetNode(ctx, b.ID)
		assert.Equal(t, []string{b.ID}, gotA.Connections)
		assert.Equal(t, []string{a.ID}, gotB.Connections)
	})

	t.Run("dangling target", func(t *testing.T) {
		before, _ := g.GetNode(ctx, a.ID)
		assert.False(t, g.ConnectNodes(ctx, a.ID, "nonexistent"))
		after, _ := g.GetNode(ctx, a.ID)
		assert.Equal(t, before, after)
	})

	t.Run("dangling source", func(t *testing.T) {
		assert.False(t, g.ConnectNodes(ctx, "nonexistent", b.ID))
	})
}

func TestGraph_ToleratesDanglingConnections(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(NewMemStore())

	node := g.AddNode(ctx, NewNode{
		Kind:        KindDecision,
		Content:     "points nowhere",
		Connections: []string{"node_gone"},
	})

	got, ok := g.GetNode(ctx, node.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"node_gone"}, got.Connections)
	assert.Equal(t, 1, g.Stats(ctx).Dangling)
}

func TestGraph_SearchNodes(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(NewMemStore())

	hello := g.AddNode(ctx, NewNode{Kind: KindMemory, Content: "Hello World"})
	g.AddNode(ctx, NewNode{Kind: KindPrompt, Content: "goodbye"})
	again := g.AddNode(ctx, NewNode{Kind: KindResponse, Content: "oh, HELLO again"})

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "lower case query", query: "hello", want: []string{hello.ID, again.ID}},
		{name: "upper case query", query: "WORLD", want: []string{hello.ID}},
		{name: "no match", query: "absent", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, n := range g.SearchNodes(ctx, tt.query) {
				ids = append(ids, n.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	t.Run("kind filter", func(t *testing.T) {
		got := g.SearchKind(ctx, KindResponse, "hello")
		require.Len(t, got, 1)
		assert.Equal(t, again.ID, got[0].ID)
	})
}

func TestGraph_RecentNodes(t *testing.T) {
	ctx := context.Background()
	// a frozen clock still yields strictly increasing stamps
	g := NewGraph(NewMemStore(), WithClock(fixedClock(time.Unix(1700000000, 0))))

	var ids []string
	for i := range 15 {
		n := g.AddNode(ctx, NewNode{Kind: KindMemory, Content: strings.Repeat("x", i+1)})
		ids = append(ids, n.ID)
	}

	recent := g.RecentNodes(ctx, 3)
	require.Len(t, recent, 3)
	assert.Equal(t, ids[14], recent[0].ID)
	assert.Equal(t, ids[13], recent[1].ID)
	assert.Equal(t, ids[12], recent[2].ID)
	for i := 1; i < len(recent); i++ {
		assert.True(t, recent[i-1].Timestamp.After(recent[i].Timestamp))
	}

	assert.Len(t, g.RecentNodes(ctx, 0), DefaultRecentLimit)
	assert.Len(t, g.RecentNodes(ctx, 100), 15)
}

func TestGraph_Clear(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	g := NewGraph(store)

	seen := map[string]bool{}
	for range 3 {
		seen[g.AddNode(ctx, NewNode{Kind: KindMemory, Content: "old"}).ID] = true
	}

	g.Clear(ctx)
	assert.Empty(t, g.Memory(ctx).Nodes)

	persisted, err := store.MemStore.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted.Nodes)

	fresh := g.AddNode(ctx, NewNode{Kind: KindMemory, Content: "new"})
	assert.False(t, seen[fresh.ID])
	assert.Len(t, g.Memory(ctx).Nodes, 1)
}

func TestGraph_MemoryIsACopy(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(NewMemStore())
	node := g.AddNode(ctx, NewNode{Kind: KindMemory, Content: "original"})

	snap := g.Memory(ctx)
	snap.Nodes[0].Content = "mutated"
	snap.Nodes[0].Connections = append(snap.Nodes[0].Connections, "x")

	got, _ := g.GetNode(ctx, node.ID)
	assert.Equal(t, "original", got.Content)
	assert.Empty(t, got.Connections)
}

func TestGraph_Stats(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(NewMemStore())

	p := g.AddNode(ctx, NewNode{Kind: KindPrompt, Content: "p"})
	r := g.AddNode(ctx, NewNode{Kind: KindResponse, Content: "r", Connections: []string{p.ID}})
	g.ConnectNodes(ctx, p.ID, r.ID)

	st := g.Stats(ctx)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByKind[KindPrompt])
	assert.Equal(t, 1, st.ByKind[KindResponse])
	assert.Equal(t, 2, st.Connections)
	assert.Equal(t, 0, st.Dangling)
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind(" Memory ")
	assert.True(t, ok)
	assert.Equal(t, KindMemory, k)

	_, ok = ParseKind("thought")
	assert.False(t, ok)
}
