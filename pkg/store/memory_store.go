package store

import (
	"cmp"
	"context"
	"crypto/rand"
	"encoding/hex"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"finboard/pkg/domain"
)

// MemoryStore keeps every record in-process. It follows the same contracts
// as GormStore and backs tests and the "memory" database URL.
type MemoryStore struct {
	mu        sync.RWMutex
	opts      Options
	accounts  map[string]domain.Account // key: account ID
	prefs     map[string]domain.PreferenceSet
	reminders map[string]domain.Reminder
	turns     []domain.Turn
	nextTurn  int64
	sess      map[string]string // token -> account ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore(options ...Option) *MemoryStore {
	return &MemoryStore{
		opts:      buildOptions(options),
		accounts:  make(map[string]domain.Account),
		prefs:     make(map[string]domain.PreferenceSet),
		reminders: make(map[string]domain.Reminder),
		sess:      make(map[string]string),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// CreateAccount registers an account under the configured reuse policy.
func (m *MemoryStore) CreateAccount(_ context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if !existing.Active && m.opts.ReusePolicy == domain.ReuseRelaxed {
			continue
		}
		if existing.Username == account.Username || existing.Email == account.Email {
			return domain.ErrAlreadyExists
		}
	}
	m.accounts[account.ID] = account
	return nil
}

// GetAccountByID returns an account regardless of its active flag.
func (m *MemoryStore) GetAccountByID(_ context.Context, id string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[id]
	return account, ok, nil
}

// GetActiveAccountByUsername looks up the active account holding username.
func (m *MemoryStore) GetActiveAccountByUsername(_ context.Context, username string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, account := range m.accounts {
		if account.Active && account.Username == username {
			return account, true, nil
		}
	}
	return domain.Account{}, false, nil
}

func (m *MemoryStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[id]; ok {
		at = at.UTC()
		account.LastLoginAt = &at
		m.accounts[id] = account
	}
	return nil
}

func (m *MemoryStore) UpdateEmail(_ context.Context, id, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok || !account.Active {
		return domain.ErrNotFound
	}
	for otherID, other := range m.accounts {
		if otherID == id || (!other.Active && m.opts.ReusePolicy == domain.ReuseRelaxed) {
			continue
		}
		if other.Email == email {
			return domain.ErrAlreadyExists
		}
	}
	account.Email = email
	m.accounts[id] = account
	return nil
}

func (m *MemoryStore) UpdatePasswordHash(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok || !account.Active {
		return domain.ErrNotFound
	}
	account.PasswordHash = passwordHash
	m.accounts[id] = account
	return nil
}

func (m *MemoryStore) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	account.Active = false
	m.accounts[id] = account
	return nil
}

func (m *MemoryStore) GetPreferences(_ context.Context, id domain.Identity) (domain.PreferenceSet, error) {
	if err := requireIdentity(id); err != nil {
		return domain.PreferenceSet{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefs, ok := m.prefs[id.AccountID]
	if !ok {
		return domain.DefaultPreferences(), nil
	}
	return clonePreferences(prefs), nil
}

func (m *MemoryStore) SavePreferences(_ context.Context, id domain.Identity, prefs domain.PreferenceSet) error {
	if err := requireIdentity(id); err != nil {
		return err
	}
	prefs = prefs.Normalize()
	if err := prefs.Validate(); err != nil {
		return err
	}
	prefs.UpdatedAt = m.opts.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[id.AccountID] = clonePreferences(prefs)
	return nil
}

func (m *MemoryStore) ListReminders(_ context.Context, id domain.Identity, filter domain.ReminderFilter) ([]domain.Reminder, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	statuses := filter.Statuses()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectReminders(func(r domain.Reminder) bool {
		return r.AccountID == id.AccountID && slices.Contains(statuses, r.Status)
	}), nil
}

func (m *MemoryStore) AddReminder(_ context.Context, id domain.Identity, reminder domain.Reminder) (string, error) {
	if err := requireIdentity(id); err != nil {
		return "", err
	}
	r, err := domain.NewReminder(reminder)
	if err != nil {
		return "", err
	}
	r.ID = uuid.NewString()
	r.AccountID = id.AccountID
	r.CreatedAt = m.opts.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[r.ID] = r
	return r.ID, nil
}

func (m *MemoryStore) CompleteReminder(_ context.Context, id domain.Identity, reminderID string) error {
	return m.transition(id, reminderID, domain.ReminderCompleted, []domain.ReminderStatus{domain.ReminderActive})
}

func (m *MemoryStore) DeleteReminder(_ context.Context, id domain.Identity, reminderID string) error {
	return m.transition(id, reminderID, domain.ReminderDeleted, m.opts.deletableFrom())
}

func (m *MemoryStore) transition(id domain.Identity, reminderID string, to domain.ReminderStatus, from []domain.ReminderStatus) error {
	if err := requireIdentity(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[reminderID]
	switch {
	case !ok:
		return domain.ErrNotFound
	case r.AccountID != id.AccountID:
		return domain.ErrWrongOwner
	case !slices.Contains(from, r.Status):
		return domain.ErrAlreadyTerminal
	}
	r.Status = to
	if r.CompletedAt == nil {
		now := m.opts.Now().UTC()
		r.CompletedAt = &now
	}
	m.reminders[reminderID] = r
	return nil
}

func (m *MemoryStore) UpcomingReminders(_ context.Context, id domain.Identity, withinDays int) ([]domain.Reminder, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	if withinDays < 0 {
		return nil, domain.Invalid("days", "must not be negative")
	}
	today := domain.DateOf(m.opts.Now())
	until := today.AddDate(0, 0, withinDays)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectReminders(func(r domain.Reminder) bool {
		return r.AccountID == id.AccountID &&
			r.Status == domain.ReminderActive &&
			!r.TargetDate.Before(today) &&
			!r.TargetDate.After(until)
	}), nil
}

// collectReminders must be called with m.mu held.
func (m *MemoryStore) collectReminders(keep func(domain.Reminder) bool) []domain.Reminder {
	res := make([]domain.Reminder, 0)
	for _, r := range m.reminders {
		if keep(r) {
			res = append(res, r)
		}
	}
	slices.SortFunc(res, func(a, b domain.Reminder) int {
		if c := a.TargetDate.Compare(b.TargetDate); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res
}

func (m *MemoryStore) AppendTurn(_ context.Context, id domain.Identity, sessionID string, role domain.Role, content string) (int64, error) {
	if err := requireIdentity(id); err != nil {
		return 0, err
	}
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return 0, err
	}
	if err := validateTurn(role, content); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Turns are kept in append order, so timestamps must not go backwards
	// even when the wall clock does.
	createdAt := m.opts.Now().UTC()
	if n := len(m.turns); n > 0 && createdAt.Before(m.turns[n-1].CreatedAt) {
		createdAt = m.turns[n-1].CreatedAt
	}
	m.nextTurn++
	m.turns = append(m.turns, domain.Turn{
		ID:        m.nextTurn,
		AccountID: id.AccountID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	})
	return m.nextTurn, nil
}

func (m *MemoryStore) RecentTurns(_ context.Context, id domain.Identity, limit int) ([]domain.Turn, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	return m.recentTurns(limit, func(t domain.Turn) bool {
		return t.AccountID == id.AccountID
	}), nil
}

func (m *MemoryStore) RecentTurnsInSession(_ context.Context, id domain.Identity, sessionID string, limit int) ([]domain.Turn, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return m.recentTurns(limit, func(t domain.Turn) bool {
		return t.AccountID == id.AccountID && t.SessionID == sessionID
	}), nil
}

// recentTurns walks backwards from the newest turn. Turns are appended in
// sequence order, so the slice is already chronological.
func (m *MemoryStore) recentTurns(limit int, keep func(domain.Turn) bool) []domain.Turn {
	res := make([]domain.Turn, 0)
	if limit <= 0 {
		return res
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.turns) - 1; i >= 0 && len(res) < limit; i-- {
		if keep(m.turns[i]) {
			res = append(res, m.turns[i])
		}
	}
	slices.Reverse(res)
	return res
}

// NewSession creates an opaque session token for an account.
func (m *MemoryStore) NewSession(accountID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess[token] = accountID
	return token, nil
}

// GetAccountIDByToken returns the account bound to a token.
func (m *MemoryStore) GetAccountIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	accountID, ok := m.sess[token]
	return accountID, ok, nil
}

// DeleteSession invalidates a token.
func (m *MemoryStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}

func clonePreferences(p domain.PreferenceSet) domain.PreferenceSet {
	p.Goals = slices.Clone(p.Goals)
	p.AssetClasses = slices.Clone(p.AssetClasses)
	p.Sectors = slices.Clone(p.Sectors)
	p.Geographies = slices.Clone(p.Geographies)
	return p
}

var (
	_ Store        = (*MemoryStore)(nil)
	_ SessionStore = (*MemoryStore)(nil)
)
