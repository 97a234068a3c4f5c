package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"finboard/pkg/domain"
	"finboard/pkg/store"
)

// dummyHash is compared against when a username is unknown so a miss costs
// as much as a wrong password.
var dummyHash = sync.OnceValue(func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte("finboard-unknown-account"), bcrypt.DefaultCost)
	if err != nil {
		return ""
	}
	return string(hash)
})

// Credentials registers and authenticates accounts.
type Credentials struct {
	accounts store.AccountStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewCredentials wraps an account store. A nil logger falls back to slog.Default.
func NewCredentials(accounts store.AccountStore, logger *slog.Logger) *Credentials {
	if logger == nil {
		logger = slog.Default()
	}
	return &Credentials{
		accounts: accounts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an active account and returns its ID.
func (c *Credentials) Register(ctx context.Context, username, email, password string) (string, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return "", err
	}
	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(email); err != nil {
		return "", err
	}
	if err := ValidatePassword(password); err != nil {
		return "", domain.Invalid("password", err.Error())
	}
	passwordHash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	account := domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    c.now(),
		Active:       true,
	}
	if err := c.accounts.CreateAccount(ctx, account); err != nil {
		return "", err
	}
	return account.ID, nil
}

// Authenticate checks a username and password against active accounts.
// Every credential failure is domain.ErrInvalidCredentials.
func (c *Credentials) Authenticate(ctx context.Context, username, password string) (domain.AccountView, error) {
	account, ok, err := c.accounts.GetActiveAccountByUsername(ctx, username)
	if err != nil {
		return domain.AccountView{}, err
	}
	if !ok {
		CheckPassword(password, dummyHash())
		return domain.AccountView{}, domain.ErrInvalidCredentials
	}
	if !CheckPassword(password, account.PasswordHash) {
		return domain.AccountView{}, domain.ErrInvalidCredentials
	}
	now := c.now()
	if err := c.accounts.TouchLastLogin(ctx, account.ID, now); err != nil {
		c.logger.Warn("last_login_update_failed", "account_id", account.ID, "error", err)
	} else {
		account.LastLoginAt = &now
	}
	return account.View(), nil
}

// GetAccount returns the active account behind id.
func (c *Credentials) GetAccount(ctx context.Context, id domain.Identity) (domain.AccountView, bool, error) {
	if id.IsZero() {
		return domain.AccountView{}, false, domain.ErrAuthenticationRequired
	}
	account, ok, err := c.accounts.GetAccountByID(ctx, id.AccountID)
	if err != nil || !ok || !account.Active {
		return domain.AccountView{}, false, err
	}
	return account.View(), true, nil
}

// UpdateEmail changes the email of the signed-in account.
func (c *Credentials) UpdateEmail(ctx context.Context, id domain.Identity, email string) (domain.AccountView, error) {
	account, err := c.activeAccount(ctx, id)
	if err != nil {
		return domain.AccountView{}, err
	}
	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(email); err != nil {
		return domain.AccountView{}, err
	}
	if email == account.Email {
		return account.View(), nil
	}
	if err := c.accounts.UpdateEmail(ctx, account.ID, email); err != nil {
		return domain.AccountView{}, err
	}
	account.Email = email
	return account.View(), nil
}

// ChangePassword replaces the password after verifying the current one.
func (c *Credentials) ChangePassword(ctx context.Context, id domain.Identity, currentPassword, newPassword string) error {
	account, err := c.activeAccount(ctx, id)
	if err != nil {
		return err
	}
	if !CheckPassword(currentPassword, account.PasswordHash) {
		return domain.ErrInvalidCredentials
	}
	if err := ValidatePassword(newPassword); err != nil {
		return domain.Invalid("newPassword", err.Error())
	}
	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return c.accounts.UpdatePasswordHash(ctx, account.ID, passwordHash)
}

// Deactivate soft-deletes the signed-in account. Its records are kept.
func (c *Credentials) Deactivate(ctx context.Context, id domain.Identity) error {
	if id.IsZero() {
		return domain.ErrAuthenticationRequired
	}
	return c.accounts.Deactivate(ctx, id.AccountID)
}

func (c *Credentials) activeAccount(ctx context.Context, id domain.Identity) (domain.Account, error) {
	if id.IsZero() {
		return domain.Account{}, domain.ErrAuthenticationRequired
	}
	account, ok, err := c.accounts.GetAccountByID(ctx, id.AccountID)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok || !account.Active {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}
