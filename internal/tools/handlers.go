package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/easeaico/ctrl-clair/internal/agents"
	"github.com/easeaico/ctrl-clair/internal/flux"
	"github.com/easeaico/ctrl-clair/internal/memory"
)

const (
	defaultSearchLimit = 5
	maxToolLimit       = 50
	maxContentRunes    = 500
)

// Graph is the memory graph surface the tools operate on.
type Graph interface {
	AddNode(ctx context.Context, in memory.NewNode) memory.Node
	ConnectNodes(ctx context.Context, sourceID, targetID string) bool
	SearchNodes(ctx context.Context, query string) []memory.Node
	SearchKind(ctx context.Context, kind memory.Kind, query string) []memory.Node
	RecentNodes(ctx context.Context, limit int) []memory.Node
}

// Handler provides implementations for all agent tools.
type Handler struct {
	graph     Graph
	router    *agents.Router
	generator flux.Generator
}

// NewHandler creates a new tool handler with the given dependencies.
func NewHandler(cfg ToolsConfig) *Handler {
	h := &Handler{graph: cfg.Graph, router: cfg.Router, generator: cfg.Generator}
	if h.router == nil {
		h.router = agents.NewRouter()
	}
	return h
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func failed(format string, args ...any) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// NodeSummary is the compact node view handed to the model.
type NodeSummary struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Content     string   `json:"content"`
	Timestamp   string   `json:"timestamp"`
	Connections []string `json:"connections,omitempty"`
}

func summarize(nodes []memory.Node) []NodeSummary {
	out := make([]NodeSummary, len(nodes))
	for i, n := range nodes {
		content := n.Content
		if r := []rune(content); len(r) > maxContentRunes {
			content = string(r[:maxContentRunes]) + "... (truncated)"
		}
		out[i] = NodeSummary{
			ID:          n.ID,
			Type:        string(n.Kind),
			Content:     content,
			Timestamp:   n.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			Connections: n.Connections,
		}
	}
	return out
}

func clampLimit(limit, fallback int) int {
	switch {
	case limit <= 0:
		return fallback
	case limit > maxToolLimit:
		return maxToolLimit
	default:
		return limit
	}
}

// HandleToolCall dispatches and executes a tool call based on its name.
// args are decoded into the tool's argument struct.
func (h *Handler) HandleToolCall(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	var result ToolResult

	switch name {
	case SearchMemoryTool:
		var a SearchMemoryArgs
		result = decodeThen(args, &a, func() ToolResult { return h.SearchMemory(ctx, a) })
	case RecentMemoryTool:
		var a RecentMemoryArgs
		result = decodeThen(args, &a, func() ToolResult { return h.RecentMemory(ctx, a) })
	case StoreMemoryTool:
		var a StoreMemoryArgs
		result = decodeThen(args, &a, func() ToolResult { return h.StoreMemory(ctx, a) })
	case ConnectMemoryTool:
		var a ConnectMemoryArgs
		result = decodeThen(args, &a, func() ToolResult { return h.ConnectMemory(ctx, a) })
	case RoutePromptTool:
		var a RoutePromptArgs
		result = decodeThen(args, &a, func() ToolResult { return h.RoutePrompt(a) })
	case GenerateImageTool:
		var a GenerateImageArgs
		result = decodeThen(args, &a, func() ToolResult { return h.GenerateImage(ctx, a) })
	default:
		result = failed("unknown tool: %s", name)
	}

	jsonResult, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	return string(jsonResult), nil
}

func decodeThen(args map[string]interface{}, dst any, run func() ToolResult) ToolResult {
	raw, err := json.Marshal(args)
	if err != nil {
		return failed("invalid arguments: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return failed("invalid arguments: %v", err)
	}
	return run()
}

// SearchMemory finds nodes whose content contains the query.
func (h *Handler) SearchMemory(ctx context.Context, args SearchMemoryArgs) ToolResult {
	if strings.TrimSpace(args.Query) == "" {
		return failed("query is required")
	}

	var nodes []memory.Node
	if args.Type != "" {
		kind, ok := memory.ParseKind(args.Type)
		if !ok {
			return failed("unknown node type: %s", args.Type)
		}
		nodes = h.graph.SearchKind(ctx, kind, args.Query)
	} else {
		nodes = h.graph.SearchNodes(ctx, args.Query)
	}

	if len(nodes) == 0 {
		return ToolResult{Success: true, Data: "No matching memories."}
	}

	limit := clampLimit(args.Limit, defaultSearchLimit)
	if len(nodes) > limit {
		nodes = nodes[len(nodes)-limit:]
	}
	return ToolResult{Success: true, Data: summarize(nodes)}
}

// RecentMemory returns the newest nodes.
func (h *Handler) RecentMemory(ctx context.Context, args RecentMemoryArgs) ToolResult {
	nodes := h.graph.RecentNodes(ctx, clampLimit(args.Limit, memory.DefaultRecentLimit))
	return ToolResult{Success: true, Data: summarize(nodes)}
}

// StoreMemory adds a node, of kind memory unless another kind is given.
func (h *Handler) StoreMemory(ctx context.Context, args StoreMemoryArgs) ToolResult {
	if strings.TrimSpace(args.Content) == "" {
		return failed("content is required")
	}

	kind := memory.KindMemory
	if args.Type != "" {
		k, ok := memory.ParseKind(args.Type)
		if !ok {
			return failed("unknown node type: %s", args.Type)
		}
		kind = k
	}

	node := h.graph.AddNode(ctx, memory.NewNode{
		Kind:        kind,
		Content:     args.Content,
		Connections: args.Connections,
		Metadata:    map[string]any{"source": "agent"},
	})
	if memory.IsFallback(node) {
		return failed("memory graph unavailable, node %s was not stored", node.ID)
	}
	return ToolResult{Success: true, Data: summarize([]memory.Node{node})[0]}
}

// ConnectMemory links two existing nodes.
func (h *Handler) ConnectMemory(ctx context.Context, args ConnectMemoryArgs) ToolResult {
	if args.SourceID == "" || args.TargetID == "" {
		return failed("source_id and target_id are both required")
	}
	if !h.graph.ConnectNodes(ctx, args.SourceID, args.TargetID) {
		return failed("could not connect %s and %s: node not found", args.SourceID, args.TargetID)
	}
	return ToolResult{Success: true, Data: "Connected."}
}

// RoutePrompt reports which agent would handle a prompt.
func (h *Handler) RoutePrompt(args RoutePromptArgs) ToolResult {
	d := h.router.Classify(args.Prompt)
	return ToolResult{Success: true, Data: map[string]string{
		"agentId":   d.Agent.ID,
		"agentName": d.Agent.Name,
		"reasoning": d.Reasoning(),
	}}
}

// GenerateImage runs the generation backend.
func (h *Handler) GenerateImage(ctx context.Context, args GenerateImageArgs) ToolResult {
	if h.generator == nil {
		return failed("image generation is not configured")
	}
	res := h.generator.Generate(ctx, args.Prompt)
	if res.Failed() {
		return failed("%s: %s", res.Error, res.Details)
	}
	return ToolResult{Success: true, Data: flux.Interpret(res)}
}
