package memory

import (
	"context"
	"errors"
)

// DefaultSnapshotKey names the slot a snapshot is kept under.
const DefaultSnapshotKey = "clair-memory"

// ErrClosed is returned by stores and graphs used after Close.
var ErrClosed = errors.New("memory: store closed")

// SnapshotStore defines the contract for persisting the memory graph.
// It holds exactly one serialized snapshot; Put overwrites it as a whole.
type SnapshotStore interface {
	// Get returns the last written snapshot, or an empty one when nothing
	// has been written yet.
	Get(ctx context.Context) (Memory, error)

	// Put replaces the stored snapshot.
	Put(ctx context.Context, m Memory) error

	// Close releases any resources held by the store.
	Close() error
}
