package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
)

// ReusePolicy decides whether deactivated accounts keep their username and
// email reserved.
type ReusePolicy string

const (
	// ReuseStrict keeps usernames and emails of inactive accounts reserved.
	ReuseStrict ReusePolicy = "strict"
	// ReuseRelaxed frees usernames and emails once an account is deactivated.
	ReuseRelaxed ReusePolicy = "relaxed"
)

// ParseReusePolicy maps a config value to a policy. Empty means strict.
func ParseReusePolicy(raw string) (ReusePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ReuseStrict):
		return ReuseStrict, nil
	case string(ReuseRelaxed):
		return ReuseRelaxed, nil
	default:
		return "", fmt.Errorf("unknown reuse policy %q", raw)
	}
}

// Identity is the resolved reference to exactly one account. Every store
// operation is scoped by it.
type Identity struct {
	AccountID string `json:"accountId"`
	Username  string `json:"username"`
}

// IsZero reports whether the identity carries no account.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.AccountID) == ""
}

// Account is the persisted identity record.
type Account struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	Active       bool       `json:"active"`
}

// Identity returns the identity bound to the account.
func (a Account) Identity() Identity {
	return Identity{AccountID: a.ID, Username: a.Username}
}

// View projects the account without credentials.
func (a Account) View() AccountView {
	return AccountView{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		CreatedAt:   a.CreatedAt,
		LastLoginAt: a.LastLoginAt,
	}
}

// AccountView is the read-only projection handed to callers.
type AccountView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Identity returns the session identity of the viewed account.
func (v AccountView) Identity() Identity {
	return Identity{AccountID: v.ID, Username: v.Username}
}

const (
	maxUsernameLen = 50
	maxEmailLen    = 100
)

// ValidateUsername checks the username as typed. Usernames are case-sensitive
// and never rewritten.
func ValidateUsername(username string) error {
	if username == "" {
		return Invalid("username", "is required")
	}
	if len(username) > maxUsernameLen {
		return Invalid("username", fmt.Sprintf("must be at most %d characters", maxUsernameLen))
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return Invalid("username", "must not contain whitespace")
		}
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks a normalized email address.
func ValidateEmail(email string) error {
	if email == "" {
		return Invalid("email", "is required")
	}
	if len(email) > maxEmailLen {
		return Invalid("email", fmt.Sprintf("must be at most %d characters", maxEmailLen))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return Invalid("email", "is not a valid address")
	}
	return nil
}
