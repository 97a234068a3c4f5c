package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finboard/internal/security"
	"finboard/pkg/domain"
	"finboard/pkg/session"
)

const dateLayout = "2006-01-02"

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case http.MethodGet:
		prefs, err := s.app.Preferences(r.Context(), sess)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	case http.MethodPut:
		var form domain.PreferenceForm
		if !decodeJSON(w, r, &form) {
			return
		}
		prefs, err := s.app.SavePreferences(r.Context(), sess, form)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

type reminderRequest struct {
	Title       string              `json:"title"`
	Type        domain.ReminderType `json:"type"`
	Description string              `json:"description"`
	TargetDate  string              `json:"targetDate"`
	Priority    domain.Priority     `json:"priority"`
	Recurring   bool                `json:"recurring"`
	Frequency   domain.Frequency    `json:"frequency"`
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case http.MethodGet:
		filter, err := domain.ParseReminderFilter(r.URL.Query().Get("status"))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		items, err := s.app.Reminders(r.Context(), sess, filter)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reminders": items})
	case http.MethodPost:
		var req reminderRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		target, err := time.Parse(dateLayout, strings.TrimSpace(req.TargetDate))
		if err != nil {
			writeError(w, http.StatusBadRequest, "targetDate must be YYYY-MM-DD")
			return
		}
		item, err := s.app.AddReminder(r.Context(), sess, domain.Reminder{
			Title:       req.Title,
			Type:        req.Type,
			Description: req.Description,
			TargetDate:  target,
			Priority:    req.Priority,
			Recurring:   req.Recurring,
			Frequency:   req.Frequency,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleReminderByID serves /api/reminders/upcoming, /api/reminders/suggestions,
// /api/reminders/{id}/complete and DELETE /api/reminders/{id}.
func (s *Server) handleReminderByID(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reminders/"), "/")
	switch rest {
	case "":
		writeError(w, http.StatusNotFound, "not found")
		return
	case "upcoming":
		s.handleUpcomingReminders(w, r, sess)
		return
	case "suggestions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reminders": s.app.SuggestedReminders()})
		return
	}

	parts := strings.Split(rest, "/")
	reminderID := parts[0]
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		if err := s.app.DeleteReminder(r.Context(), sess, reminderID); err != nil {
			s.auditOwnership(r, err)
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[1] == "complete":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if err := s.app.CompleteReminder(r.Context(), sess, reminderID); err != nil {
			s.auditOwnership(r, err)
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleUpcomingReminders(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	days, present, ok := queryInt(w, r, "days")
	if !ok {
		return
	}
	if !present {
		days = s.app.UpcomingDays()
	}
	items, err := s.app.UpcomingReminders(r.Context(), sess, days)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": items})
}

// auditOwnership records attempts to touch another account's records.
func (s *Server) auditOwnership(r *http.Request, err error) {
	if errors.Is(err, domain.ErrWrongOwner) {
		s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "wrong_owner")
	}
}

// queryInt parses an optional integer query parameter. present is false when
// the parameter is missing or blank; ok is false once a 400 was written.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (v int, present, ok bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, false, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false, false
	}
	return v, true, true
}
