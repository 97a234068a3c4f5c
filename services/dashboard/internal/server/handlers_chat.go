package server

import (
	"net/http"
	"strings"

	"finboard/pkg/session"
)

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	id, _ := sess.Require()
	if !s.allowRate(w, r, s.chatLimiter, "account|"+id.AccountID, "too many chat messages, slow down") {
		return
	}
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reply, err := s.app.Chat(r.Context(), sess, strings.TrimSpace(req.SessionID), req.Message)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit, _, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	turns, err := s.app.ChatHistory(r.Context(), sess, strings.TrimSpace(r.URL.Query().Get("sessionId")), limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}
