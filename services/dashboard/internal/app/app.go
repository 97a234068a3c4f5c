package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"finboard/pkg/ai"
	"finboard/pkg/auth"
	"finboard/pkg/domain"
	"finboard/pkg/market"
	"finboard/pkg/session"
	"finboard/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL          string
	ReusePolicy          domain.ReusePolicy
	AllowDeleteCompleted bool

	RedisAddr           string
	RedisPassword       string
	SessionTTL          time.Duration
	JWTPrivateKeyPath   string
	JWTKeyID            string
	JWTVerifyPublicKeys map[string]string
	JWTIssuer           string
	JWTAudience         string
	JWTLeeway           time.Duration

	UpcomingDays int
	HistoryLimit int
	Currency     string
	Watchlist    []string

	Logger *slog.Logger
	Now    func() time.Time

	// Optional collaborators. Store and Sessions are built from the fields
	// above when nil; a nil Generator or Market disables that feature.
	Store     store.Store
	Sessions  store.SessionStore
	Generator ai.TextGenerator
	Market    market.Provider
}

// App is the core application service wiring storage, sessions and the
// external collaborators together.
type App struct {
	store     store.Store
	creds     *auth.Credentials
	gate      *session.Gate
	generator ai.TextGenerator
	market    market.Provider
	logger    *slog.Logger
	now       func() time.Time

	upcomingDays int
	historyLimit int
	currency     string
	watchlist    []string

	closers []func() error
}

const (
	defaultSessionTTL   = 12 * time.Hour
	defaultUpcomingDays = 7
	defaultHistoryLimit = 20
	defaultCurrency     = "USD"
)

// New constructs the application.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	a := &App{
		generator:    cfg.Generator,
		market:       cfg.Market,
		logger:       logger,
		now:          func() time.Time { return now().UTC() },
		upcomingDays: cfg.UpcomingDays,
		historyLimit: cfg.HistoryLimit,
		currency:     cfg.Currency,
		watchlist:    cfg.Watchlist,
	}
	if a.upcomingDays <= 0 {
		a.upcomingDays = defaultUpcomingDays
	}
	if a.historyLimit <= 0 {
		a.historyLimit = defaultHistoryLimit
	}
	if a.currency == "" {
		a.currency = defaultCurrency
	}

	dataStore := cfg.Store
	if dataStore == nil {
		var err error
		dataStore, err = a.openStore(cfg)
		if err != nil {
			return nil, err
		}
	}
	a.store = dataStore

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		var err error
		sessionStore, err = a.openSessions(cfg)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.creds = auth.NewCredentials(dataStore, logger)
	a.gate = session.NewGate(a.creds, sessionStore, logger)
	return a, nil
}

func (a *App) openStore(cfg Config) (store.Store, error) {
	opts := []store.Option{
		store.WithReusePolicy(cfg.ReusePolicy),
		store.WithAllowDeleteCompleted(cfg.AllowDeleteCompleted),
	}
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	switch {
	case dsn == "":
		return nil, fmt.Errorf("database URL required")
	case strings.EqualFold(dsn, "memory"):
		a.logger.Warn("using in-memory store, data is lost on exit")
		return store.NewMemoryStore(opts...), nil
	}
	gormStore, err := store.NewGormStore(dsn, opts...)
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	a.closers = append(a.closers, gormStore.Close)
	return gormStore, nil
}

func (a *App) openSessions(cfg Config) (store.SessionStore, error) {
	var revoker store.TokenRevoker
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisRevoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		a.closers = append(a.closers, redisRevoker.Close)
		revoker = redisRevoker
	} else {
		a.logger.Warn("redisAddr not set, session revocation is local to this process")
		revoker = store.NewMemoryTokenRevoker()
	}
	jwtOpts := store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   cfg.JWTLeeway,
	}
	if strings.TrimSpace(cfg.JWTPrivateKeyPath) != "" {
		sessions, err := store.NewJWTSessionStoreFromPEM(cfg.JWTPrivateKeyPath, cfg.JWTKeyID, cfg.JWTVerifyPublicKeys, cfg.SessionTTL, revoker, jwtOpts)
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		return sessions, nil
	}
	a.logger.Warn("jwtPrivateKeyPath not set, signing sessions with an ephemeral key")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral jwt key: %w", err)
	}
	sessions, err := store.NewJWTSessionStore(key, cfg.JWTKeyID, cfg.SessionTTL, revoker, jwtOpts)
	if err != nil {
		return nil, fmt.Errorf("init jwt session store: %w", err)
	}
	return sessions, nil
}

// Close releases database and Redis connections.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// Health reports whether the backing store answers.
func (a *App) Health(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// NewSession returns an anonymous session.
func (a *App) NewSession() *session.Session {
	return session.New()
}

// Register creates an account and signs sess in as it.
func (a *App) Register(ctx context.Context, sess *session.Session, username, email, password string) (domain.AccountView, error) {
	if _, err := a.creds.Register(ctx, username, email, password); err != nil {
		return domain.AccountView{}, err
	}
	return a.gate.Login(ctx, sess, username, password)
}

// Login authenticates sess. Any previous identity on sess is dropped first.
func (a *App) Login(ctx context.Context, sess *session.Session, username, password string) (domain.AccountView, error) {
	return a.gate.Login(ctx, sess, username, password)
}

// Logout revokes the session token and clears every scoped value.
func (a *App) Logout(ctx context.Context, sess *session.Session) {
	a.gate.Logout(ctx, sess)
}

// Resume rebuilds a session from a bearer token.
func (a *App) Resume(ctx context.Context, token string) (*session.Session, error) {
	return a.gate.Resume(ctx, token)
}

// Me returns the signed-in account.
func (a *App) Me(ctx context.Context, sess *session.Session) (domain.AccountView, error) {
	id, err := sess.Require()
	if err != nil {
		return domain.AccountView{}, err
	}
	view, ok, err := a.creds.GetAccount(ctx, id)
	if err != nil {
		return domain.AccountView{}, err
	}
	if !ok {
		return domain.AccountView{}, domain.ErrAuthenticationRequired
	}
	return view, nil
}

func (a *App) UpdateEmail(ctx context.Context, sess *session.Session, email string) (domain.AccountView, error) {
	id, err := sess.Require()
	if err != nil {
		return domain.AccountView{}, err
	}
	return a.creds.UpdateEmail(ctx, id, email)
}

func (a *App) ChangePassword(ctx context.Context, sess *session.Session, currentPassword, newPassword string) error {
	id, err := sess.Require()
	if err != nil {
		return err
	}
	return a.creds.ChangePassword(ctx, id, currentPassword, newPassword)
}

// DeactivateAccount soft-deletes the signed-in account and ends every session of it.
func (a *App) DeactivateAccount(ctx context.Context, sess *session.Session) error {
	return a.gate.Deactivate(ctx, sess)
}
