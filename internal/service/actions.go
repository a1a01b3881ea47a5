package service

import (
	"context"
	"fmt"

	"github.com/easeaico/ctrl-clair/internal/agents"
	"github.com/easeaico/ctrl-clair/internal/jsonsafe"
	"github.com/easeaico/ctrl-clair/internal/memory"
	"go.uber.org/zap"
)

// ActionType names an explicit agent action.
type ActionType string

const (
	ActionProcess  ActionType = "process"
	ActionDelegate ActionType = "delegate"
	ActionRespond  ActionType = "respond"
	ActionGenerate ActionType = "generate"
	ActionStore    ActionType = "store"
)

// Known reports whether t is one of the supported actions.
func (t ActionType) Known() bool {
	switch t {
	case ActionProcess, ActionDelegate, ActionRespond, ActionGenerate, ActionStore:
		return true
	}
	return false
}

// metricLabel bounds the action label to the supported set.
func (t ActionType) metricLabel() string {
	if !t.Known() {
		return "unknown"
	}
	return string(t)
}

const (
	unknownActionResponse = "I don't know how to do that."
	acknowledgedResponse  = "Acknowledged."
	storedResponse        = "stored"
)

// Action is an explicit instruction for an agent.
type Action struct {
	AgentID   string         `json:"agentId"`
	Action    ActionType     `json:"action"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// ActionResult is the outcome of ExecuteAgentAction. Error and Details are
// set when the action failed; the remaining fields depend on the action.
type ActionResult struct {
	Response   string        `json:"response,omitempty"`
	Agent      *agents.Agent `json:"agent,omitempty"`
	MemoryNode *memory.Node  `json:"memoryNode,omitempty"`
	Node       *memory.Node  `json:"node,omitempty"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Details    string        `json:"details,omitempty"`
}

// Failed reports whether the action failed.
func (r ActionResult) Failed() bool {
	return r.Error != ""
}

func actionFailure(action ActionType, details string) ActionResult {
	return ActionResult{
		Error:   fmt.Sprintf("Failed to execute %s", action),
		Details: details,
	}
}

// ExecuteAgentAction records the action as a decision node and then carries
// it out. Failures, including unknown actions and unknown delegation
// targets, are reported in the result.
func (d *Dispatcher) ExecuteAgentAction(ctx context.Context, a Action) ActionResult {
	return d.execute(ctx, a, 0)
}

func (d *Dispatcher) execute(ctx context.Context, a Action, depth int) (result ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("agent action panicked",
				zap.String("action", string(a.Action)),
				zap.Any("panic", r),
			)
			result = actionFailure(a.Action, fmt.Sprint(r))
		}
		d.metrics.ActionExecuted(a.Action.metricLabel(), !result.Failed())
	}()

	d.recordBestEffort(ctx, memory.NewNode{
		Kind:    memory.KindDecision,
		Content: fmt.Sprintf("Agent %s executed %s", a.AgentID, a.Action),
		Metadata: map[string]any{
			"agentId": a.AgentID,
			"action":  string(a.Action),
			"payload": a.Payload,
		},
	})

	switch a.Action {
	case ActionProcess:
		pr := d.ProcessPrompt(ctx, payloadString(a.Payload, "prompt"))
		return ActionResult{
			Response:   pr.Response,
			Agent:      &pr.Agent,
			MemoryNode: &pr.MemoryNode,
		}

	case ActionDelegate:
		return d.delegate(ctx, a, depth)

	case ActionRespond:
		response := payloadString(a.Payload, "response")
		if response == "" {
			response = acknowledgedResponse
		}
		return ActionResult{
			Response: response,
			Result:   jsonsafe.Map(a.Payload),
		}

	case ActionGenerate:
		return d.generateAction(ctx, a)

	case ActionStore:
		return d.store(ctx, a)

	default:
		d.logger.Warn("unknown agent action", zap.String("action", string(a.Action)))
		res := actionFailure(a.Action, fmt.Sprintf("Unknown action type: %s", a.Action))
		res.Response = unknownActionResponse
		return res
	}
}

func (d *Dispatcher) delegate(ctx context.Context, a Action, depth int) ActionResult {
	targetID := payloadString(a.Payload, "targetAgentId")
	target, ok := agents.Lookup(targetID)
	if !ok {
		return actionFailure(a.Action, fmt.Sprintf("Target agent %s not found", targetID))
	}
	if depth >= d.maxDepth {
		d.logger.Warn("delegation chain too deep",
			zap.String("target", target.ID),
			zap.Int("depth", depth),
		)
		return actionFailure(a.Action, "delegation depth exceeded")
	}

	res := d.execute(ctx, Action{
		AgentID:   target.ID,
		Action:    ActionType(payloadString(a.Payload, "action")),
		Payload:   payloadMap(a.Payload, "actionPayload"),
		Timestamp: d.now().UnixMilli(),
	}, depth+1)
	if res.Agent == nil {
		res.Agent = &target
	}
	return res
}

// generateAction carries predictions, or the failed flux.Result, in Result.
func (d *Dispatcher) generateAction(ctx context.Context, a Action) ActionResult {
	agent, ok := agents.Lookup(a.AgentID)
	if !ok {
		agent, _ = agents.Lookup(agents.FluxID)
	}

	res := d.generate(ctx, payloadString(a.Payload, "prompt"))
	if res.Failed() {
		return ActionResult{
			Response: fluxFailureResponse,
			Agent:    &agent,
			Result:   res,
			Error:    res.Error,
			Details:  res.Details,
		}
	}
	return ActionResult{
		Response: generatedResponse(res),
		Agent:    &agent,
		Result:   res.Predictions,
	}
}

func (d *Dispatcher) store(ctx context.Context, a Action) ActionResult {
	kind := memory.KindMemory
	if raw := payloadString(a.Payload, "nodeType"); raw != "" {
		k, ok := memory.ParseKind(raw)
		if !ok {
			return actionFailure(a.Action, fmt.Sprintf("invalid node type %q", raw))
		}
		kind = k
	}

	node := d.record(ctx, memory.NewNode{
		Kind:        kind,
		Content:     payloadString(a.Payload, "content"),
		Connections: payloadStrings(a.Payload, "connections"),
		Metadata:    payloadMap(a.Payload, "metadata"),
	})

	agent, ok := agents.Lookup(a.AgentID)
	if !ok {
		agent = agents.Default()
	}
	return ActionResult{
		Response: storedResponse,
		Agent:    &agent,
		Node:     &node,
	}
}
