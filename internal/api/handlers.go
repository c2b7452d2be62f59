package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/nugget/dazzy/internal/assistant"
	"github.com/nugget/dazzy/internal/buildinfo"
	"github.com/nugget/dazzy/internal/connwatch"
	"github.com/nugget/dazzy/internal/session"
	"github.com/nugget/dazzy/internal/speech"
)

// maxBody bounds request bodies.
const maxBody = 64 << 10

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Message string `json:"message"`
}

// AskResponse is the reply to POST /ask.
type AskResponse struct {
	Reply string `json:"reply"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the reply to POST /v1/chat.
type ChatResponse struct {
	assistant.Reply
	ReplyHTML      string `json:"reply_html"`
	ConversationID string `json:"conversation_id"`
}

// decode reads a JSON body into v. An empty body leaves v zero.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "Dazzy",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleAsk answers one message without session state. An empty
// message still gets the assistant's "say something" reply.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply, err := s.cfg.Assistant.Ask(r.Context(), assistant.ChannelAPI, req.Message)
	if err != nil {
		s.logger.Error("ask failed", "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "assistant unavailable")
		return
	}
	writeJSON(w, AskResponse{Reply: reply.Text}, s.logger)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	convID := req.ConversationID
	if convID == "" {
		convID = session.DefaultID
	}

	reply, err := s.cfg.Assistant.HandleIn(r.Context(), convID, assistant.ChannelAPI, req.Message)
	if err != nil {
		s.logger.Error("chat failed", "conversation_id", convID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "assistant unavailable")
		return
	}
	if reply.Busy() {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, ChatResponse{
		Reply:          reply,
		ReplyHTML:      speech.HTML(reply.Text),
		ConversationID: convID,
	}, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := struct {
		assistant.Status
		Services []connwatch.ServiceStatus `json:"services,omitempty"`
	}{Status: s.cfg.Assistant.Status()}
	if s.cfg.Health != nil {
		st.Services = s.cfg.Health.Status()
	}
	writeJSON(w, st, s.logger)
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = r.URL.Query().Get("conversation_id")
	}
	if req.ConversationID == "" {
		req.ConversationID = session.DefaultID
	}
	existed := s.cfg.Assistant.Reset(req.ConversationID)
	writeJSON(w, map[string]any{
		"status":          "reset",
		"conversation_id": req.ConversationID,
		"existed":         existed,
	}, s.logger)
}

// handleHealth reports 200 while the process is up. Collaborator
// outages degrade the status but do not fail the check: the assistant
// still answers offline.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if s.cfg.Health != nil {
		resp["services"] = s.cfg.Health.Status()
		if !s.cfg.Health.Healthy() {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, resp, s.logger)
}
