package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/easeaico/ctrl-clair/internal/memory"
	"github.com/go-chi/chi/v5"
)

// CreateNodeRequest is the body of POST /api/memory/nodes.
type CreateNodeRequest struct {
	Type        string         `json:"type" validate:"required,oneof=prompt response decision agent memory"`
	Content     string         `json:"content" validate:"required"`
	Connections []string       `json:"connections" validate:"omitempty,dive,required"`
	Metadata    map[string]any `json:"metadata"`
}

// UpdateNodeRequest is the body of PATCH /api/memory/nodes/{nodeID}.
type UpdateNodeRequest struct {
	Content   *string        `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp *time.Time     `json:"timestamp"`
}

// ConnectRequest is the body of POST /api/memory/connect.
type ConnectRequest struct {
	SourceID string `json:"sourceId" validate:"required"`
	TargetID string `json:"targetId" validate:"required"`
}

func (s *Server) getMemory(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cfg.Graph.Memory(r.Context()))
}

func (s *Server) clearMemory(w http.ResponseWriter, r *http.Request) {
	s.cfg.Graph.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) memoryStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cfg.Graph.Stats(r.Context()))
}

func (s *Server) recentNodes(w http.ResponseWriter, r *http.Request) {
	limit := memory.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = n
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"nodes": s.cfg.Graph.RecentNodes(r.Context(), limit)})
}

func (s *Server) searchNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")

	var nodes []memory.Node
	if raw := q.Get("type"); raw != "" {
		kind, ok := memory.ParseKind(raw)
		if !ok {
			s.respondError(w, http.StatusBadRequest, "unknown node type", raw)
			return
		}
		nodes = s.cfg.Graph.SearchKind(r.Context(), kind, query)
	} else {
		nodes = s.cfg.Graph.SearchNodes(r.Context(), query)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, invalidRequestMsg, err.Error())
		return
	}
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Validation error", err.Error())
		return
	}

	node := s.cfg.Graph.AddNode(r.Context(), memory.NewNode{
		Kind:        memory.Kind(req.Type),
		Content:     req.Content,
		Connections: req.Connections,
		Metadata:    req.Metadata,
	})
	if memory.IsFallback(node) {
		s.respondError(w, http.StatusServiceUnavailable, "Memory unavailable", "node was not stored")
		return
	}
	s.respondJSON(w, http.StatusCreated, node)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	node, ok := s.cfg.Graph.GetNode(r.Context(), chi.URLParam(r, "nodeID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "Node not found", "")
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) updateNode(w http.ResponseWriter, r *http.Request) {
	var req UpdateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, invalidRequestMsg, err.Error())
		return
	}

	node, ok := s.cfg.Graph.UpdateNode(r.Context(), chi.URLParam(r, "nodeID"), memory.NodeUpdate{
		Content:   req.Content,
		Metadata:  req.Metadata,
		Timestamp: req.Timestamp,
	})
	if !ok {
		s.respondError(w, http.StatusNotFound, "Node not found", "")
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) connectNodes(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, invalidRequestMsg, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Validation error", err.Error())
		return
	}

	if !s.cfg.Graph.ConnectNodes(r.Context(), req.SourceID, req.TargetID) {
		s.respondError(w, http.StatusNotFound, "Node not found", "both nodes must exist")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"connected": true})
}
