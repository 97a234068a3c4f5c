package store

import (
	"context"
	"time"

	"finboard/pkg/domain"
)

// AccountStore persists identity records.
type AccountStore interface {
	// CreateAccount inserts a new account. It returns domain.ErrAlreadyExists
	// when the username or email is taken under the configured reuse policy.
	CreateAccount(ctx context.Context, account domain.Account) error
	GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error)
	GetActiveAccountByUsername(ctx context.Context, username string) (domain.Account, bool, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	UpdateEmail(ctx context.Context, id, email string) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	Deactivate(ctx context.Context, id string) error
}

// PreferenceStore persists one preference set per account.
type PreferenceStore interface {
	// GetPreferences returns domain.DefaultPreferences when nothing was saved.
	GetPreferences(ctx context.Context, id domain.Identity) (domain.PreferenceSet, error)
	// SavePreferences replaces the stored set entirely.
	SavePreferences(ctx context.Context, id domain.Identity, prefs domain.PreferenceSet) error
}

// ReminderStore persists per-account reminders and their lifecycle.
type ReminderStore interface {
	ListReminders(ctx context.Context, id domain.Identity, filter domain.ReminderFilter) ([]domain.Reminder, error)
	AddReminder(ctx context.Context, id domain.Identity, reminder domain.Reminder) (string, error)
	CompleteReminder(ctx context.Context, id domain.Identity, reminderID string) error
	DeleteReminder(ctx context.Context, id domain.Identity, reminderID string) error
	UpcomingReminders(ctx context.Context, id domain.Identity, withinDays int) ([]domain.Reminder, error)
}

// ConversationStore persists append-only chat turns.
type ConversationStore interface {
	AppendTurn(ctx context.Context, id domain.Identity, sessionID string, role domain.Role, content string) (int64, error)
	// RecentTurns returns up to limit latest turns, oldest first.
	RecentTurns(ctx context.Context, id domain.Identity, limit int) ([]domain.Turn, error)
	RecentTurnsInSession(ctx context.Context, id domain.Identity, sessionID string, limit int) ([]domain.Turn, error)
}

// Store is the full persistence surface of the dashboard.
type Store interface {
	AccountStore
	PreferenceStore
	ReminderStore
	ConversationStore
	Ping(ctx context.Context) error
}

// SessionStore issues and resolves bearer tokens.
type SessionStore interface {
	NewSession(accountID string) (string, error)
	GetAccountIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// AccountSessionRevoker is an optional capability that revokes every session
// issued for an account up to a cutoff time.
type AccountSessionRevoker interface {
	RevokeAccountSessions(accountID string, since time.Time) error
}

// Options configures policy shared by every Store implementation.
type Options struct {
	ReusePolicy          domain.ReusePolicy
	AllowDeleteCompleted bool
	Now                  func() time.Time
}

type Option func(*Options)

// WithReusePolicy selects whether inactive accounts keep their username and
// email reserved.
func WithReusePolicy(policy domain.ReusePolicy) Option {
	return func(opts *Options) {
		opts.ReusePolicy = policy
	}
}

// WithAllowDeleteCompleted lets completed reminders be soft-deleted.
func WithAllowDeleteCompleted(allow bool) Option {
	return func(opts *Options) {
		opts.AllowDeleteCompleted = allow
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

func buildOptions(options []Option) Options {
	opts := Options{ReusePolicy: domain.ReuseStrict}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	if opts.ReusePolicy == "" {
		opts.ReusePolicy = domain.ReuseStrict
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return opts
}

// deletableFrom lists the statuses a reminder may be soft-deleted from.
func (o Options) deletableFrom() []domain.ReminderStatus {
	if o.AllowDeleteCompleted {
		return []domain.ReminderStatus{domain.ReminderActive, domain.ReminderCompleted}
	}
	return []domain.ReminderStatus{domain.ReminderActive}
}

const defaultSessionID = "default"

func requireIdentity(id domain.Identity) error {
	if id.IsZero() {
		return domain.ErrAuthenticationRequired
	}
	return nil
}

func normalizeSessionID(sessionID string) (string, error) {
	if sessionID == "" {
		return defaultSessionID, nil
	}
	if len(sessionID) > 100 {
		return "", domain.Invalid("sessionId", "must be at most 100 characters")
	}
	return sessionID, nil
}

func validateTurn(role domain.Role, content string) error {
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return domain.Invalid("role", "must be user or assistant")
	}
	if content == "" {
		return domain.Invalid("content", "is required")
	}
	return nil
}
