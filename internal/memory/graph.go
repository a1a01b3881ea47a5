package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/easeaico/ctrl-clair/internal/jsonsafe"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultRecentLimit is used by RecentNodes when no positive limit is given.
	DefaultRecentLimit = 10

	nodeIDPrefix = "node_"

	// FallbackPrefix marks nodes that exist only in the caller's hands
	// because the graph could not accept them.
	FallbackPrefix = "fallback_"
)

// errNotLoaded is reported for writes skipped because the snapshot could
// not be read yet.
var errNotLoaded = errors.New("memory snapshot not loaded")

// Observer is notified about snapshot persistence outcomes.
type Observer interface {
	SnapshotPersisted(err error)
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithLogger sets the logger used to report degraded operations.
func WithLogger(l *zap.Logger) GraphOption {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) GraphOption {
	return func(g *Graph) {
		if now != nil {
			g.now = now
		}
	}
}

// WithObserver registers an observer for persistence outcomes.
func WithObserver(o Observer) GraphOption {
	return func(g *Graph) { g.observer = o }
}

// Graph is the memory graph: an in-process cache in front of a
// SnapshotStore. The snapshot is loaded lazily on first access and written
// back in full after every mutation.
//
// Graph operations never return storage errors. Failures are logged and the
// operation degrades: the cache keeps the mutation even when persisting it
// failed, lookups report not-found, and AddNode hands back a fallback node.
// Store calls run detached from the caller's cancellation, so a caller that
// goes away does not abort a write already in progress. While the snapshot
// cannot be read, mutations stay in the cache and nothing is written; the
// next operation retries the load and keeps the pending nodes.
type Graph struct {
	mu       sync.Mutex
	store    SnapshotStore
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	cache     Memory
	loaded    bool
	closed    bool
	lastStamp time.Time
}

// NewGraph creates a graph backed by store. Nothing is read until the
// first operation or an explicit Load.
func NewGraph(store SnapshotStore, opts ...GraphOption) *Graph {
	g := &Graph{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load replaces the cache with the persisted snapshot.
func (g *Graph) Load(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	m, err := g.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load memory: %w", err)
	}
	if g.loaded {
		g.adopt(m)
	} else {
		g.merge(m)
	}
	return nil
}

// Flush writes the cache to the store.
func (g *Graph) Flush(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	g.ensureLoaded(ctx)
	if !g.loaded {
		return fmt.Errorf("failed to flush memory: %w", errNotLoaded)
	}
	if err := g.store.Put(ctx, g.cache); err != nil {
		return fmt.Errorf("failed to flush memory: %w", err)
	}
	return nil
}

// Close releases the underlying store. Later mutations yield fallback
// nodes and later reads see an empty graph.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	return g.store.Close()
}

// Memory returns a copy of the current snapshot.
func (g *Graph) Memory(ctx context.Context) Memory {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return Empty(g.now().UTC())
	}
	g.ensureLoaded(ctx)
	return g.cache.clone()
}

// AddNode appends a node with a fresh id and timestamp and persists the graph.
func (g *Graph) AddNode(ctx context.Context, in NewNode) Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		g.logger.Warn("memory graph closed, returning fallback node", zap.String("kind", string(in.Kind)))
		return NewFallbackNode(in, g.now())
	}
	if !in.Kind.Valid() {
		g.logger.Warn("invalid node kind, returning fallback node", zap.String("kind", string(in.Kind)))
		return NewFallbackNode(in, g.now())
	}

	g.ensureLoaded(ctx)

	connections := append([]string{}, in.Connections...)
	node := Node{
		ID:          nodeIDPrefix + uuid.NewString(),
		Kind:        in.Kind,
		Content:     in.Content,
		Timestamp:   g.stamp(),
		Connections: connections,
		Metadata:    jsonsafe.Map(in.Metadata),
	}

	g.cache.Nodes = append(g.cache.Nodes, node)
	g.cache.LastAccessed = node.Timestamp
	g.persist(ctx)

	return node.clone()
}

// GetNode looks a node up by id.
func (g *Graph) GetNode(ctx context.Context, id string) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return Node{}, false
	}
	g.ensureLoaded(ctx)

	i := g.indexOf(id)
	if i < 0 {
		return Node{}, false
	}
	return g.cache.Nodes[i].clone(), true
}

// UpdateNode merges upd into the node with the given id and persists the
// graph. The id and kind never change. It reports false when no such node
// exists.
func (g *Graph) UpdateNode(ctx context.Context, id string, upd NodeUpdate) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return Node{}, false
	}
	g.ensureLoaded(ctx)

	i := g.indexOf(id)
	if i < 0 {
		return Node{}, false
	}

	node := &g.cache.Nodes[i]
	if upd.Content != nil {
		node.Content = *upd.Content
	}
	if len(upd.Metadata) > 0 {
		if node.Metadata == nil {
			node.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range jsonsafe.Map(upd.Metadata) {
			node.Metadata[k] = v
		}
	}

	var ts time.Time
	if upd.Timestamp != nil {
		ts = upd.Timestamp.UTC()
	} else {
		ts = g.stamp()
	}
	// a node's timestamp never moves backwards
	if ts.After(node.Timestamp) {
		node.Timestamp = ts
	}

	g.cache.LastAccessed = g.now().UTC()
	g.persist(ctx)

	return node.clone(), true
}

// ConnectNodes links two nodes in both directions. Nothing changes and
// false is returned unless both nodes exist. Existing links are not duplicated.
func (g *Graph) ConnectNodes(ctx context.Context, sourceID, targetID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.ensureLoaded(ctx)

	si, ti := g.indexOf(sourceID), g.indexOf(targetID)
	if si < 0 || ti < 0 {
		return false
	}

	source := &g.cache.Nodes[si]
	if !source.ConnectedTo(targetID) {
		source.Connections = append(source.Connections, targetID)
	}
	target := &g.cache.Nodes[ti]
	if !target.ConnectedTo(sourceID) {
		target.Connections = append(target.Connections, sourceID)
	}

	g.cache.LastAccessed = g.now().UTC()
	g.persist(ctx)

	return true
}

// SearchNodes returns nodes whose content contains query, ignoring case,
// in insertion order.
func (g *Graph) SearchNodes(ctx context.Context, query string) []Node {
	return g.filter(ctx, query, func(Node) bool { return true })
}

// SearchKind is SearchNodes restricted to one kind.
func (g *Graph) SearchKind(ctx context.Context, kind Kind, query string) []Node {
	return g.filter(ctx, query, func(n Node) bool { return n.Kind == kind })
}

func (g *Graph) filter(ctx context.Context, query string, keep func(Node) bool) []Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := []Node{}
	if g.closed {
		return nodes
	}
	g.ensureLoaded(ctx)

	q := strings.ToLower(query)
	for _, n := range g.cache.Nodes {
		if keep(n) && strings.Contains(strings.ToLower(n.Content), q) {
			nodes = append(nodes, n.clone())
		}
	}
	return nodes
}

// RecentNodes returns up to limit nodes, newest first. Nodes with equal
// timestamps are ordered by reverse insertion.
func (g *Graph) RecentNodes(ctx context.Context, limit int) []Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if g.closed {
		return []Node{}
	}
	g.ensureLoaded(ctx)

	order := make([]int, len(g.cache.Nodes))
	for i := range order {
		order[i] = i
	}
	nodes := g.cache.Nodes
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := nodes[order[a]].Timestamp, nodes[order[b]].Timestamp
		if ta.Equal(tb) {
			return order[a] > order[b]
		}
		return ta.After(tb)
	})

	limit = min(limit, len(order))
	out := make([]Node, limit)
	for i := range limit {
		out[i] = nodes[order[i]].clone()
	}
	return out
}

// Clear drops every node and persists the empty graph.
func (g *Graph) Clear(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.cache = Empty(g.now().UTC())
	g.loaded = true
	g.persist(ctx)
}

// Stats counts nodes by kind and reports connections that point at
// nodes which no longer exist.
func (g *Graph) Stats(ctx context.Context) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := Stats{ByKind: make(map[Kind]int, len(Kinds))}
	if g.closed {
		return st
	}
	g.ensureLoaded(ctx)

	ids := make(map[string]struct{}, len(g.cache.Nodes))
	for _, n := range g.cache.Nodes {
		ids[n.ID] = struct{}{}
	}
	for _, n := range g.cache.Nodes {
		st.Total++
		st.ByKind[n.Kind]++
		st.Connections += len(n.Connections)
		for _, c := range n.Connections {
			if _, ok := ids[c]; !ok {
				st.Dangling++
			}
		}
	}
	st.LastAccessed = g.cache.LastAccessed
	return st
}

// ensureLoaded populates the cache from the store on first use. A failed
// load is logged and retried by the next operation.
func (g *Graph) ensureLoaded(ctx context.Context) {
	if g.loaded {
		return
	}

	m, err := g.store.Get(context.WithoutCancel(ctx))
	if err != nil {
		g.logger.Error("failed to load memory snapshot, keeping changes in memory", zap.Error(err))
		if g.cache.Nodes == nil {
			g.cache = Empty(g.now().UTC())
		}
		return
	}
	g.merge(m)
}

// merge adopts m and re-appends nodes added while the snapshot was
// unavailable.
func (g *Graph) merge(m Memory) {
	pending := g.cache.Nodes
	g.adopt(m)
	for _, n := range pending {
		if g.indexOf(n.ID) < 0 {
			g.cache.Nodes = append(g.cache.Nodes, n)
		}
	}
}

func (g *Graph) adopt(m Memory) {
	g.cache = m
	g.loaded = true
	for _, n := range m.Nodes {
		if n.Timestamp.After(g.lastStamp) {
			g.lastStamp = n.Timestamp
		}
	}
}

// persist writes the whole cache back. The cache is authoritative even
// when the write fails.
func (g *Graph) persist(ctx context.Context) {
	var err error
	if g.loaded {
		err = g.store.Put(context.WithoutCancel(ctx), g.cache)
	} else {
		err = errNotLoaded
	}
	if err != nil {
		g.logger.Error("failed to persist memory snapshot",
			zap.Int("nodes", len(g.cache.Nodes)),
			zap.Error(err),
		)
	}
	if g.observer != nil {
		g.observer.SnapshotPersisted(err)
	}
}

// stamp returns the current time, nudged forward so that consecutive
// stamps are strictly increasing.
func (g *Graph) stamp() time.Time {
	now := g.now().UTC()
	if !now.After(g.lastStamp) {
		now = g.lastStamp.Add(time.Nanosecond)
	}
	g.lastStamp = now
	return now
}

func (g *Graph) indexOf(id string) int {
	for i, n := range g.cache.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// NewFallbackNode builds a node that was never stored. Its id carries
// FallbackPrefix so callers and clients can tell it apart.
func NewFallbackNode(in NewNode, now time.Time) Node {
	now = now.UTC()
	return Node{
		ID:          fmt.Sprintf("%s%d", FallbackPrefix, now.UnixMilli()),
		Kind:        in.Kind,
		Content:     in.Content,
		Timestamp:   now,
		Connections: append([]string{}, in.Connections...),
		Metadata:    jsonsafe.Map(in.Metadata),
	}
}

// IsFallback reports whether n was synthesized instead of stored.
func IsFallback(n Node) bool {
	return strings.HasPrefix(n.ID, FallbackPrefix)
}
