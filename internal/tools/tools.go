// Package tools defines ADK tool declarations for the Clair agent. These
// tools give the model access to the memory graph, the router and image
// generation.
package tools

import (
	"fmt"

	"github.com/easeaico/ctrl-clair/internal/agents"
	"github.com/easeaico/ctrl-clair/internal/flux"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
)

// Tool names.
const (
	SearchMemoryTool  = "search_memory"
	RecentMemoryTool  = "recent_memory"
	StoreMemoryTool   = "store_memory"
	ConnectMemoryTool = "connect_memory"
	RoutePromptTool   = "route_prompt"
	GenerateImageTool = "generate_image"
)

// ToolsConfig holds dependencies for creating tools.
type ToolsConfig struct {
	Graph     Graph
	Router    *agents.Router
	Generator flux.Generator
}

// --- Tool Input Structs ---

// SearchMemoryArgs is the input for search_memory tool.
type SearchMemoryArgs struct {
	Query string `json:"query" jsonschema:"Text to look for in stored memories (case-insensitive substring)"`
	Type  string `json:"type,omitempty" jsonschema:"Optional node type: prompt, response, decision, agent or memory"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 5)"`
}

// RecentMemoryArgs is the input for recent_memory tool.
type RecentMemoryArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of nodes (default 10)"`
}

// StoreMemoryArgs is the input for store_memory tool.
type StoreMemoryArgs struct {
	Content     string   `json:"content" jsonschema:"What to remember"`
	Type        string   `json:"type,omitempty" jsonschema:"Node type, memory if omitted"`
	Connections []string `json:"connections,omitempty" jsonschema:"Ids of related nodes"`
}

// ConnectMemoryArgs is the input for connect_memory tool.
type ConnectMemoryArgs struct {
	SourceID string `json:"source_id" jsonschema:"Id of the first node"`
	TargetID string `json:"target_id" jsonschema:"Id of the second node"`
}

// RoutePromptArgs is the input for route_prompt tool.
type RoutePromptArgs struct {
	Prompt string `json:"prompt" jsonschema:"The user request to classify"`
}

// GenerateImageArgs is the input for generate_image tool.
type GenerateImageArgs struct {
	Prompt string `json:"prompt" jsonschema:"Description of the image to generate"`
}

type toolDef struct {
	name        string
	description string
	build       func(h *Handler, name, description string) (tool.Tool, error)
}

func newTool[A any](run func(h *Handler, ctx tool.Context, args A) ToolResult) func(h *Handler, name, description string) (tool.Tool, error) {
	return func(h *Handler, name, description string) (tool.Tool, error) {
		handler := func(ctx tool.Context, args A) (ToolResult, error) {
			return run(h, ctx, args), nil
		}
		return functiontool.New(functiontool.Config{
			Name:        name,
			Description: description,
		}, handler)
	}
}

var toolDefs = []toolDef{
	{
		name:        SearchMemoryTool,
		description: "Search Clair's memory graph for nodes whose content contains the query. Use before answering questions about earlier conversations.",
		build: newTool(func(h *Handler, ctx tool.Context, a SearchMemoryArgs) ToolResult {
			return h.SearchMemory(ctx, a)
		}),
	},
	{
		name:        RecentMemoryTool,
		description: "List the most recent memory nodes, newest first.",
		build: newTool(func(h *Handler, ctx tool.Context, a RecentMemoryArgs) ToolResult {
			return h.RecentMemory(ctx, a)
		}),
	},
	{
		name:        StoreMemoryTool,
		description: "Store a new memory node so it can be recalled later.",
		build: newTool(func(h *Handler, ctx tool.Context, a StoreMemoryArgs) ToolResult {
			return h.StoreMemory(ctx, a)
		}),
	},
	{
		name:        ConnectMemoryTool,
		description: "Link two memory nodes as related.",
		build: newTool(func(h *Handler, ctx tool.Context, a ConnectMemoryArgs) ToolResult {
			return h.ConnectMemory(ctx, a)
		}),
	},
	{
		name:        RoutePromptTool,
		description: "Report which Clair agent (flux, memory or clair) would handle a request.",
		build: newTool(func(h *Handler, _ tool.Context, a RoutePromptArgs) ToolResult {
			return h.RoutePrompt(a)
		}),
	},
	{
		name:        GenerateImageTool,
		description: "Generate an image from a description with the Flux generator.",
		build: newTool(func(h *Handler, ctx tool.Context, a GenerateImageArgs) ToolResult {
			return h.GenerateImage(ctx, a)
		}),
	},
}

// BuildTools creates all agent tools with the given configuration.
func BuildTools(cfg ToolsConfig) ([]tool.Tool, error) {
	h := NewHandler(cfg)

	tools := make([]tool.Tool, 0, len(toolDefs))
	for _, def := range toolDefs {
		t, err := def.build(h, def.name, def.description)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tool: %w", def.name, err)
		}
		tools = append(tools, t)
	}
	return tools, nil
}
