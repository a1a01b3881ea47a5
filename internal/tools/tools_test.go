package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/easeaico/ctrl-clair/internal/agents"
	"github.com/easeaico/ctrl-clair/internal/flux"
	"github.com/easeaico/ctrl-clair/internal/memory"
)

func newTestHandler(t *testing.T, gen flux.Generator) (*Handler, *memory.Graph) {
	t.Helper()
	g := memory.NewGraph(memory.NewMemStore())
	t.Cleanup(func() { _ = g.Close() })
	return NewHandler(ToolsConfig{Graph: g, Generator: gen}), g
}

func TestBuildTools(t *testing.T) {
	g := memory.NewGraph(memory.NewMemStore())
	defer func() { _ = g.Close() }()

	built, err := BuildTools(ToolsConfig{Graph: g})
	if err != nil {
		t.Fatalf("Failed to build tools: %v", err)
	}

	want := []string{SearchMemoryTool, RecentMemoryTool, StoreMemoryTool, ConnectMemoryTool, RoutePromptTool, GenerateImageTool}
	if len(built) != len(want) {
		t.Fatalf("Expected %d tools, got %d", len(want), len(built))
	}
	for i, tl := range built {
		if tl.Name() != want[i] {
			t.Errorf("Tool %d: expected %q, got %q", i, want[i], tl.Name())
		}
	}
}

func TestStoreAndSearchMemory(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	ctx := context.Background()

	stored := h.StoreMemory(ctx, StoreMemoryArgs{Content: "The user's cat is called Miso"})
	if !stored.Success {
		t.Fatalf("store failed: %s", stored.Error)
	}
	summary, ok := stored.Data.(NodeSummary)
	if !ok {
		t.Fatalf("Expected NodeSummary, got %T", stored.Data)
	}
	if summary.Type != "memory" {
		t.Errorf("Expected type memory, got %q", summary.Type)
	}

	res := h.SearchMemory(ctx, SearchMemoryArgs{Query: "miso"})
	if !res.Success {
		t.Fatalf("search failed: %s", res.Error)
	}
	nodes, ok := res.Data.([]NodeSummary)
	if !ok || len(nodes) != 1 {
		t.Fatalf("Expected one result, got %#v", res.Data)
	}
	if nodes[0].ID != summary.ID {
		t.Errorf("Expected %s, got %s", summary.ID, nodes[0].ID)
	}

	res = h.SearchMemory(ctx, SearchMemoryArgs{Query: "miso", Type: "prompt"})
	if res.Data != "No matching memories." {
		t.Errorf("Expected no prompt matches, got %#v", res.Data)
	}
}

func TestSearchMemory_Validation(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	ctx := context.Background()

	if res := h.SearchMemory(ctx, SearchMemoryArgs{Query: "  "}); res.Success {
		t.Error("Expected empty query to fail")
	}
	if res := h.SearchMemory(ctx, SearchMemoryArgs{Query: "x", Type: "dream"}); res.Success {
		t.Error("Expected unknown type to fail")
	}
	if res := h.StoreMemory(ctx, StoreMemoryArgs{Content: ""}); res.Success {
		t.Error("Expected empty content to fail")
	}
	if res := h.StoreMemory(ctx, StoreMemoryArgs{Content: "x", Type: "dream"}); res.Success {
		t.Error("Expected unknown type to fail")
	}
}

func TestSearchMemory_Limit(t *testing.T) {
	h, g := newTestHandler(t, nil)
	ctx := context.Background()
	for range 8 {
		g.AddNode(ctx, memory.NewNode{Kind: memory.KindMemory, Content: "note"})
	}

	res := h.SearchMemory(ctx, SearchMemoryArgs{Query: "note"})
	if nodes := res.Data.([]NodeSummary); len(nodes) != defaultSearchLimit {
		t.Errorf("Expected %d results, got %d", defaultSearchLimit, len(nodes))
	}

	res = h.SearchMemory(ctx, SearchMemoryArgs{Query: "note", Limit: 2})
	if nodes := res.Data.([]NodeSummary); len(nodes) != 2 {
		t.Errorf("Expected 2 results, got %d", len(nodes))
	}
}

func TestRecentMemory(t *testing.T) {
	h, g := newTestHandler(t, nil)
	ctx := context.Background()
	g.AddNode(ctx, memory.NewNode{Kind: memory.KindPrompt, Content: "older"})
	g.AddNode(ctx, memory.NewNode{Kind: memory.KindPrompt, Content: strings.Repeat("界", 600)})

	res := h.RecentMemory(ctx, RecentMemoryArgs{Limit: 1})
	nodes := res.Data.([]NodeSummary)
	if len(nodes) != 1 {
		t.Fatalf("Expected 1 node, got %d", len(nodes))
	}
	if !strings.HasSuffix(nodes[0].Content, "... (truncated)") {
		t.Errorf("Expected long content to be truncated")
	}
	if !strings.HasPrefix(nodes[0].Content, strings.Repeat("界", maxContentRunes)) {
		t.Errorf("Expected truncation on rune boundary")
	}
}

func TestConnectMemory(t *testing.T) {
	h, g := newTestHandler(t, nil)
	ctx := context.Background()
	a := g.AddNode(ctx, memory.NewNode{Kind: memory.KindMemory, Content: "a"})
	b := g.AddNode(ctx, memory.NewNode{Kind: memory.KindMemory, Content: "b"})

	if res := h.ConnectMemory(ctx, ConnectMemoryArgs{SourceID: a.ID, TargetID: b.ID}); !res.Success {
		t.Fatalf("connect failed: %s", res.Error)
	}
	got, _ := g.GetNode(ctx, b.ID)
	if !got.ConnectedTo(a.ID) {
		t.Error("Expected b to be connected to a")
	}

	if res := h.ConnectMemory(ctx, ConnectMemoryArgs{SourceID: a.ID, TargetID: "node_missing"}); res.Success {
		t.Error("Expected missing node to fail")
	}
	if res := h.ConnectMemory(ctx, ConnectMemoryArgs{SourceID: a.ID}); res.Success {
		t.Error("Expected missing target to fail")
	}
}

func TestRoutePrompt(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	res := h.RoutePrompt(RoutePromptArgs{Prompt: "draw a boat"})
	data := res.Data.(map[string]string)
	if data["agentId"] != agents.FluxID {
		t.Errorf("Expected flux, got %q", data["agentId"])
	}
	if !strings.Contains(data["reasoning"], `"draw"`) {
		t.Errorf("Expected keyword in reasoning, got %q", data["reasoning"])
	}
}

func TestGenerateImage(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	if res := h.GenerateImage(context.Background(), GenerateImageArgs{Prompt: "boat"}); res.Success {
		t.Error("Expected failure without a generator")
	}

	gen := flux.GeneratorFunc(func(_ context.Context, prompt string) flux.Result {
		return flux.Result{Predictions: []flux.Prediction{{URI: "gs://b/" + prompt + ".png"}}}
	})
	h, _ = newTestHandler(t, gen)
	res := h.GenerateImage(context.Background(), GenerateImageArgs{Prompt: "boat"})
	if !res.Success {
		t.Fatalf("generate failed: %s", res.Error)
	}
	out := res.Data.(flux.Output)
	if out.Type != flux.OutputImage || out.Content != "gs://b/boat.png" {
		t.Errorf("Unexpected output %#v", out)
	}

	failing := flux.GeneratorFunc(func(context.Context, string) flux.Result {
		return flux.Result{Error: "Failed to generate prediction", Details: "timed out after 30s"}
	})
	h, _ = newTestHandler(t, failing)
	res = h.GenerateImage(context.Background(), GenerateImageArgs{Prompt: "boat"})
	if res.Success || res.Error != "Failed to generate prediction: timed out after 30s" {
		t.Errorf("Unexpected result %#v", res)
	}
}

func TestHandleToolCall(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	ctx := context.Background()

	out, err := h.HandleToolCall(ctx, StoreMemoryTool, map[string]interface{}{"content": "remember the milk"})
	if err != nil {
		t.Fatalf("HandleToolCall failed: %v", err)
	}
	var res struct {
		Success bool `json:"success"`
		Data    struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if !res.Success || !strings.HasPrefix(res.Data.ID, "node_") {
		t.Errorf("Unexpected result %s", out)
	}

	out, _ = h.HandleToolCall(ctx, "drop_tables", nil)
	if !strings.Contains(out, "unknown tool: drop_tables") {
		t.Errorf("Unexpected result %s", out)
	}

	out, _ = h.HandleToolCall(ctx, RecentMemoryTool, map[string]interface{}{"limit": "many"})
	if !strings.Contains(out, "invalid arguments") {
		t.Errorf("Unexpected result %s", out)
	}
}
