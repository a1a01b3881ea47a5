package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemStore keeps the snapshot in process memory. The snapshot is stored in
// serialized form so it goes through the same encoding as the SQL backends.
type MemStore struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewMemStore creates an empty in-process snapshot store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Get decodes the stored snapshot.
func (s *MemStore) Get(ctx context.Context) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Memory{}, ErrClosed
	}
	if s.data == nil {
		return Empty(time.Now().UTC()), nil
	}
	return decodeSnapshot(s.data)
}

// Put encodes m and replaces the stored snapshot.
func (s *MemStore) Put(ctx context.Context, m Memory) error {
	data, err := encodeSnapshot(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.data = data
	return nil
}

// Close marks the store closed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func encodeSnapshot(m Memory) ([]byte, error) {
	if m.Nodes == nil {
		m.Nodes = []Node{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (Memory, error) {
	var m Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return Memory{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if m.Nodes == nil {
		m.Nodes = []Node{}
	}
	for i := range m.Nodes {
		if m.Nodes[i].Connections == nil {
			m.Nodes[i].Connections = []string{}
		}
	}
	return m, nil
}

var _ SnapshotStore = (*MemStore)(nil)
