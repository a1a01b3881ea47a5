package server

import (
	"encoding/json"
	"net/http"

	"github.com/easeaico/ctrl-clair/internal/agents"
	"github.com/easeaico/ctrl-clair/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	unsureResponse    = "I received your message but I'm not sure how to process it. Could you try again?"
	troubleResponse   = "I'm having some technical difficulties right now. Please try again later."
	invalidRequestMsg = "Invalid request format"
	unparsableBody    = "Could not parse JSON body"
)

// AgentRequest is the body of POST /api/agents: either a prompt or an
// explicit agent action.
type AgentRequest struct {
	Prompt  string         `json:"prompt"`
	AgentID string         `json:"agentId"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// agentRef is the short agent description used in canned responses.
type agentRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type cannedResponse struct {
	Response string   `json:"response"`
	Agent    agentRef `json:"agent"`
}

func clairRef() agentRef {
	a := agents.Default()
	return agentRef{ID: a.ID, Name: a.Name}
}

// handleAgents answers 200 for anything it can decode.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("agents request panicked", zap.Any("panic", rec))
			s.respondJSON(w, http.StatusOK, cannedResponse{Response: troubleResponse, Agent: clairRef()})
		}
	}()

	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("failed to parse agents request", zap.Error(err))
		s.respondError(w, http.StatusBadRequest, invalidRequestMsg, unparsableBody)
		return
	}

	switch {
	case req.Prompt != "":
		s.logger.Debug("processing prompt", zap.Int("length", len(req.Prompt)))
		s.respondJSON(w, http.StatusOK, s.cfg.Dispatcher.ProcessPrompt(r.Context(), req.Prompt))

	case req.AgentID != "" && req.Action != "":
		payload := req.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		res := s.cfg.Dispatcher.ExecuteAgentAction(r.Context(), service.Action{
			AgentID:   req.AgentID,
			Action:    service.ActionType(req.Action),
			Payload:   payload,
			Timestamp: s.now().UnixMilli(),
		})
		s.respondJSON(w, http.StatusOK, res)

	default:
		s.respondJSON(w, http.StatusOK, cannedResponse{Response: unsureResponse, Agent: clairRef()})
	}
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"agents": agents.Catalog()})
}

// FluxRequest is the body of POST /api/flux.
type FluxRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

func (s *Server) handleFlux(w http.ResponseWriter, r *http.Request) {
	var req FluxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, invalidRequestMsg, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "prompt is required", "")
		return
	}
	if s.cfg.Generator == nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to initialize Flux client", "no generator configured")
		return
	}

	res := s.cfg.Generator.Generate(r.Context(), req.Prompt)
	if res.Failed() {
		s.respondError(w, http.StatusInternalServerError, res.Error, res.Details)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"result": res.Predictions})
}

func (s *Server) callTool(w http.ResponseWriter, r *http.Request) {
	var args map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		s.respondError(w, http.StatusBadRequest, invalidRequestMsg, err.Error())
		return
	}

	out, err := s.cfg.Tools.HandleToolCall(r.Context(), chi.URLParam(r, "tool"), args)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "Tool call failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}
