package server

import (
	"net/http"
	"strings"

	"finboard/pkg/session"
)

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	var symbols []string
	for raw := range strings.SplitSeq(r.URL.Query().Get("symbols"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			symbols = append(symbols, raw)
		}
	}
	quotes, err := s.app.Quotes(r.Context(), sess, symbols)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

func (s *Server) handleMarketOverview(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	indices, err := s.app.MarketOverview(r.Context(), sess)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indices": indices})
}
