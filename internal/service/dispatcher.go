// Package service provides the dispatcher: the orchestration point that
// turns prompts and explicit agent actions into memory graph writes and a
// response.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/easeaico/ctrl-clair/internal/agents"
	"github.com/easeaico/ctrl-clair/internal/flux"
	"github.com/easeaico/ctrl-clair/internal/jsonsafe"
	"github.com/easeaico/ctrl-clair/internal/memory"
	"github.com/easeaico/ctrl-clair/internal/metrics"
	"go.uber.org/zap"
)

// DefaultMaxDelegationDepth bounds chains of delegate actions.
const DefaultMaxDelegationDepth = 5

// Responses shown to users.
const (
	fluxFailureResponse     = "I encountered an error while generating content with Flux."
	noMemoriesResponse      = "I don't have any memories related to that query."
	memoryFailureResponse   = "I encountered an error while searching my memories."
	processFailureResponse  = "I encountered an unexpected error while processing your request."
	promptFailureResponse   = "I encountered an error processing your request. Please try again."
	promptFailureNodeText   = "I encountered an error processing your request."
	memoryExcerptRunes      = 100
	memoryExcerptCount      = 3
	generatedContentMessage = "Generated content is available at: "
)

// Graph is the part of the memory graph the dispatcher writes to and reads from.
// *memory.Graph satisfies it.
type Graph interface {
	AddNode(ctx context.Context, in memory.NewNode) memory.Node
	SearchKind(ctx context.Context, kind memory.Kind, query string) []memory.Node
}

// Config holds the dispatcher's collaborators.
type Config struct {
	Graph              Graph
	Router             *agents.Router
	Generator          flux.Generator
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
	MaxDelegationDepth int
}

// Dispatcher routes prompts to agents and records every step in the graph.
// Neither of its entry points panics or returns an error: failures are
// folded into the returned result.
type Dispatcher struct {
	graph     Graph
	router    *agents.Router
	generator flux.Generator
	logger    *zap.Logger
	metrics   *metrics.Metrics
	maxDepth  int
	now       func() time.Time
}

// NewDispatcher creates a dispatcher from cfg, filling in defaults for the
// router, logger and delegation depth.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		graph:     cfg.Graph,
		router:    cfg.Router,
		generator: cfg.Generator,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		maxDepth:  cfg.MaxDelegationDepth,
		now:       time.Now,
	}
	if d.router == nil {
		d.router = agents.NewRouter()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.maxDepth <= 0 {
		d.maxDepth = DefaultMaxDelegationDepth
	}
	return d
}

// PromptResult is what ProcessPrompt returns to the transport.
type PromptResult struct {
	Response   string       `json:"response"`
	Agent      agents.Agent `json:"agent"`
	MemoryNode memory.Node  `json:"memoryNode"`
}

// ProcessPrompt stores prompt, routes it, runs the chosen agent and stores
// the agent's decision and response. The returned node is the response node.
func (d *Dispatcher) ProcessPrompt(ctx context.Context, prompt string) (result PromptResult) {
	defer func() {
		if r := recover(); r != nil {
			result = d.promptFailure(ctx, fmt.Errorf("%v", r))
		}
	}()

	promptNode := d.record(ctx, memory.NewNode{
		Kind:    memory.KindPrompt,
		Content: prompt,
	})

	decision := d.classify(prompt)
	agent := decision.Agent

	decisionNode := d.record(ctx, memory.NewNode{
		Kind:        memory.KindDecision,
		Content:     fmt.Sprintf("Routed to %s agent", agent.Name),
		Connections: []string{promptNode.ID},
		Metadata: map[string]any{
			"agentId":   agent.ID,
			"reasoning": decision.Reasoning(),
		},
	})

	response, extra := d.runAgent(ctx, agent, prompt)

	metadata := map[string]any{"agentId": agent.ID}
	for k, v := range extra {
		metadata[k] = v
	}
	responseNode := d.record(ctx, memory.NewNode{
		Kind:        memory.KindResponse,
		Content:     response,
		Connections: []string{promptNode.ID, decisionNode.ID},
		Metadata:    metadata,
	})

	d.metrics.PromptRouted(agent.ID)
	d.logger.Debug("prompt processed",
		zap.String("agent", agent.ID),
		zap.String("promptNode", promptNode.ID),
		zap.String("responseNode", responseNode.ID),
	)

	return PromptResult{
		Response:   response,
		Agent:      agent,
		MemoryNode: responseNode,
	}
}

// classify routes prompt, falling back to the default agent if the router
// misbehaves.
func (d *Dispatcher) classify(prompt string) (decision agents.Decision) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("router panicked, using default agent", zap.Any("panic", r))
			decision = agents.Decision{Agent: agents.Default()}
		}
	}()
	return d.router.Classify(prompt)
}

// runAgent produces the agent's response text plus any metadata worth
// keeping on the response node.
func (d *Dispatcher) runAgent(ctx context.Context, agent agents.Agent, prompt string) (response string, extra map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("agent panicked", zap.String("agent", agent.ID), zap.Any("panic", r))
			response = processFailureResponse
			extra = map[string]any{"error": fmt.Sprint(r)}
		}
	}()

	switch agent.ID {
	case agents.FluxID:
		res := d.generate(ctx, prompt)
		if res.Failed() {
			return fluxFailureResponse, map[string]any{"error": res.Error, "details": res.Details}
		}
		return generatedResponse(res), nil

	case agents.MemoryID:
		return d.recall(ctx, prompt), nil

	default:
		return fmt.Sprintf("I'm Clair, your AI assistant. I've processed your request: \"%s\". How can I assist you further?", prompt), nil
	}
}

func (d *Dispatcher) generate(ctx context.Context, prompt string) flux.Result {
	if d.generator == nil {
		res := flux.Result{Error: "Failed to initialize Flux client", Details: "no generator configured", Code: flux.CodeClientInit}
		d.metrics.Generation(string(res.Code))
		return res
	}
	res := d.generator.Generate(ctx, prompt)
	d.metrics.Generation(string(res.Code))
	return res
}

func generatedResponse(res flux.Result) string {
	return generatedContentMessage + jsonsafe.String(res.Predictions)
}

// recall answers from earlier responses whose content contains prompt.
func (d *Dispatcher) recall(ctx context.Context, prompt string) (response string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("memory search panicked", zap.Any("panic", r))
			response = memoryFailureResponse
		}
	}()

	nodes := d.graph.SearchKind(ctx, memory.KindResponse, prompt)
	if len(nodes) == 0 {
		return noMemoriesResponse
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Timestamp.After(nodes[j].Timestamp)
	})
	nodes = nodes[:min(memoryExcerptCount, len(nodes))]

	excerpts := make([]string, len(nodes))
	for i, n := range nodes {
		excerpts[i] = "- " + truncateRunes(n.Content, memoryExcerptRunes) + "..."
	}
	return "I found these relevant memories:\n\n" + strings.Join(excerpts, "\n\n")
}

// promptFailure is the outermost fallback of ProcessPrompt.
func (d *Dispatcher) promptFailure(ctx context.Context, err error) PromptResult {
	d.logger.Error("failed to process prompt", zap.Error(err))

	node := d.recordBestEffort(ctx, memory.NewNode{
		Kind:    memory.KindResponse,
		Content: promptFailureNodeText,
		Metadata: map[string]any{
			"error": err.Error(),
		},
	})

	return PromptResult{
		Response:   promptFailureResponse,
		Agent:      agents.Default(),
		MemoryNode: node,
	}
}

// record adds a node to the graph. The graph degrades to a fallback node
// rather than failing; that is logged here.
func (d *Dispatcher) record(ctx context.Context, in memory.NewNode) memory.Node {
	node := d.graph.AddNode(ctx, in)
	if memory.IsFallback(node) {
		d.metrics.FallbackNode()
		d.logger.Warn("memory node not stored, continuing with fallback",
			zap.String("kind", string(in.Kind)),
			zap.String("id", node.ID),
		)
	}
	return node
}

// recordBestEffort is record that also survives a panicking graph.
func (d *Dispatcher) recordBestEffort(ctx context.Context, in memory.NewNode) (node memory.Node) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("failed to record memory node", zap.String("kind", string(in.Kind)), zap.Any("panic", r))
			d.metrics.FallbackNode()
			node = memory.NewFallbackNode(in, d.now())
		}
	}()
	return d.record(ctx, in)
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
