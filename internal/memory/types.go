// Package memory provides the associative memory graph shared by Clair's
// agents: prompts, routing decisions, responses and free-form memories stored
// as connected nodes behind a persisted snapshot.
package memory

import (
	"slices"
	"strings"
	"time"
)

// Kind classifies a memory node.
type Kind string

const (
	KindPrompt   Kind = "prompt"
	KindResponse Kind = "response"
	KindDecision Kind = "decision"
	KindAgent    Kind = "agent"
	KindMemory   Kind = "memory"
)

// Kinds lists every valid node kind.
var Kinds = []Kind{KindPrompt, KindResponse, KindDecision, KindAgent, KindMemory}

// Valid reports whether k is one of the fixed node kinds.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// ParseKind converts s to a Kind, reporting whether it is valid.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Node is one record in the memory graph.
type Node struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"type"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	Connections []string       `json:"connections"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ConnectedTo reports whether id is among the node's connections.
func (n Node) ConnectedTo(id string) bool {
	return slices.Contains(n.Connections, id)
}

// clone returns a copy that shares no slices or maps with n.
func (n Node) clone() Node {
	c := n
	c.Connections = slices.Clone(n.Connections)
	if c.Connections == nil {
		c.Connections = []string{}
	}
	if n.Metadata != nil {
		c.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// NewNode holds the caller-supplied fields of a node about to be added.
type NewNode struct {
	Kind        Kind
	Content     string
	Connections []string
	Metadata    map[string]any
}

// NodeUpdate holds the fields UpdateNode merges into an existing node.
// Nil fields are left untouched. Metadata keys are merged, not replaced.
type NodeUpdate struct {
	Content   *string
	Metadata  map[string]any
	Timestamp *time.Time
}

// Memory is the graph root: the full snapshot that gets persisted.
type Memory struct {
	Nodes        []Node    `json:"nodes"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// Empty returns an empty snapshot stamped with now.
func Empty(now time.Time) Memory {
	return Memory{Nodes: []Node{}, LastAccessed: now}
}

func (m Memory) clone() Memory {
	c := Memory{Nodes: make([]Node, len(m.Nodes)), LastAccessed: m.LastAccessed}
	for i, n := range m.Nodes {
		c.Nodes[i] = n.clone()
	}
	return c
}

// Stats summarizes the graph for health and debug output.
type Stats struct {
	Total        int          `json:"total"`
	ByKind       map[Kind]int `json:"byKind"`
	Connections  int          `json:"connections"`
	Dangling     int          `json:"dangling"`
	LastAccessed time.Time    `json:"lastAccessed"`
}
