package server

import (
	"errors"
	"net/http"

	"finboard/internal/security"
	"finboard/pkg/domain"
	"finboard/pkg/session"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token   string             `json:"token"`
	Account domain.AccountView `json:"account"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, s.ipRateKey(r), "too many signup attempts, try again later") {
		s.audit(r, security.EventRegister, security.OutcomeRateLimited)
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := s.app.NewSession()
	view, err := s.app.Register(r.Context(), sess, req.Username, req.Email, req.Password)
	if err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", failureReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventRegister, security.OutcomeSuccess, "account_id", view.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: sess.Token(), Account: view})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, s.ipRateKey(r), "too many login attempts, try again later") {
		s.audit(r, security.EventLogin, security.OutcomeRateLimited)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := s.app.NewSession()
	view, err := s.app.Login(r.Context(), sess, req.Username, req.Password)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", failureReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventLogin, security.OutcomeSuccess, "account_id", view.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: sess.Token(), Account: view})
}

// handleLogout revokes the presented token. It succeeds without one.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if token, ok := bearerToken(r); ok {
		if sess, err := s.app.Resume(r.Context(), token); err == nil {
			s.app.Logout(r.Context(), sess)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateEmailRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.Me(r.Context(), sess)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPatch:
		var req updateEmailRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		view, err := s.app.UpdateEmail(r.Context(), sess, req.Email)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		if err := s.app.DeactivateAccount(r.Context(), sess); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	id, _ := sess.Require()
	if !s.allowRate(w, r, s.passwordLimiter, "account|"+id.AccountID, "too many password change attempts, try again later") {
		s.audit(r, security.EventPasswordChange, security.OutcomeRateLimited, "account_id", id.AccountID)
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.ChangePassword(r.Context(), sess, req.CurrentPassword, req.NewPassword); err != nil {
		s.audit(r, security.EventPasswordChange, security.OutcomeFail, "account_id", id.AccountID, "reason", failureReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventPasswordChange, security.OutcomeSuccess, "account_id", id.AccountID)
	w.WriteHeader(http.StatusNoContent)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "error"
	}
}
