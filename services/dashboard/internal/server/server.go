package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finboard/internal/ratelimit"
	"finboard/internal/security"
	"finboard/internal/util"
	"finboard/pkg/domain"
	"finboard/pkg/session"
	"finboard/services/dashboard/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// Rate limits and security alerts need Redis. Without RedisAddr both are off.
	RedisAddr                  string
	RedisPassword              string
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	PasswordRateLimitPerMinute int
	ChatRateLimitPerMinute     int

	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
}

// Server exposes the dashboard JSON API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	trustedProxies *util.TrustedProxies
	corsOrigins    []string

	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	passwordLimiter *ratelimit.FixedWindowLimiter
	chatLimiter     *ratelimit.FixedWindowLimiter
	alerter         *security.AuditAlerter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		trustedProxies: cfg.TrustedProxies,
		corsOrigins:    cfg.CORSAllowedOrigins,
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			if limit <= 0 {
				return nil, nil
			}
			prefix := "finboard:dashboard:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.registerLimiter, err = newLimiter("register", cfg.RegisterRateLimitPerMinute); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute); err != nil {
			return nil, err
		}
		if s.passwordLimiter, err = newLimiter("password", cfg.PasswordRateLimitPerMinute); err != nil {
			return nil, err
		}
		if s.chatLimiter, err = newLimiter("chat", cfg.ChatRateLimitPerMinute); err != nil {
			return nil, err
		}
		s.alerter = security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, "finboard:dashboard:alerts")
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

// Close releases the Redis clients of limiters and the alerter.
func (s *Server) Close() error {
	var errs []error
	for _, l := range []*ratelimit.FixedWindowLimiter{s.registerLimiter, s.loginLimiter, s.passwordLimiter, s.chatLimiter} {
		errs = append(errs, l.Close())
	}
	errs = append(errs, s.alerter.Close())
	return errors.Join(errs...)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/me/password", s.authenticated(s.handleChangePassword))

	// per-account data
	s.mux.Handle("/api/preferences", s.authenticated(s.handlePreferences))
	s.mux.Handle("/api/reminders", s.authenticated(s.handleReminders))
	s.mux.Handle("/api/reminders/", s.authenticated(s.handleReminderByID))
	s.mux.Handle("/api/chat", s.authenticated(s.handleChat))
	s.mux.Handle("/api/chat/history", s.authenticated(s.handleChatHistory))

	// market data
	s.mux.Handle("/api/quotes", s.authenticated(s.handleQuotes))
	s.mux.Handle("/api/market/overview", s.authenticated(s.handleMarketOverview))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Health(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Error("health_check_failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, *session.Session)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, err := s.app.Resume(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrPersistence) {
				s.writeAppError(w, r, err)
				return
			}
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, _ := sess.Require()
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("account_id", id.AccountID))
		next(w, r.WithContext(ctx), sess)
	})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trustedProxies)
	logger := util.LoggerFromContext(r.Context())
	logAttrs := append([]any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}, attrs...)
	if outcome == security.OutcomeSuccess {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security_alert_observe_failed", "event", event, "error", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

// allowRate counts one hit against limiter. A nil limiter allows everything.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, key, msg string) bool {
	if limiter == nil {
		return true
	}
	ok, retryAfter := limiter.Allow(r.Context(), key)
	if ok {
		return true
	}
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) ipRateKey(r *http.Request) string {
	return r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
}

// writeAppError maps domain and application errors onto HTTP statuses.
// Infrastructure details never reach the client.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error())
	case errors.Is(err, domain.ErrWrongOwner):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "username or email already in use")
	case errors.Is(err, domain.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, domain.ErrAlreadyTerminal.Error())
	case errors.Is(err, domain.ErrPersistence):
		util.LoggerFromContext(r.Context()).Error("persistence_failure", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, try again")
	case errors.Is(err, app.ErrAssistantUnavailable):
		writeError(w, http.StatusServiceUnavailable, app.ErrAssistantUnavailable.Error())
	case errors.Is(err, app.ErrMarketUnavailable):
		writeError(w, http.StatusServiceUnavailable, app.ErrMarketUnavailable.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
