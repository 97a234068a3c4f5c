package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"finboard/pkg/auth"
	"finboard/pkg/domain"
	"finboard/pkg/store"
)

// Gate authenticates sessions and issues or revokes their bearer tokens.
type Gate struct {
	creds  *auth.Credentials
	tokens store.SessionStore
	logger *slog.Logger
}

func NewGate(creds *auth.Credentials, tokens store.SessionStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{creds: creds, tokens: tokens, logger: logger}
}

// Login resets sess, then authenticates. On failure sess stays anonymous.
func (g *Gate) Login(ctx context.Context, sess *Session, username, password string) (domain.AccountView, error) {
	g.revoke(sess.clear())
	view, err := g.creds.Authenticate(ctx, username, password)
	if err != nil {
		return domain.AccountView{}, err
	}
	token, err := g.tokens.NewSession(view.ID)
	if err != nil {
		return domain.AccountView{}, fmt.Errorf("issue session token: %w", err)
	}
	sess.establish(view.Identity(), token)
	return view, nil
}

// Logout always leaves sess anonymous with no scoped values.
func (g *Gate) Logout(_ context.Context, sess *Session) {
	g.revoke(sess.clear())
}

// Resume rebuilds an authenticated session from a bearer token. Tokens of
// deactivated accounts are rejected.
func (g *Gate) Resume(ctx context.Context, token string) (*Session, error) {
	accountID, ok, err := g.tokens.GetAccountIDByToken(token)
	if err != nil || !ok {
		return nil, domain.ErrAuthenticationRequired
	}
	view, ok, err := g.creds.GetAccount(ctx, domain.Identity{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrAuthenticationRequired
	}
	sess := New()
	sess.establish(view.Identity(), token)
	return sess, nil
}

// Deactivate soft-deletes the signed-in account, revokes all of its tokens
// and logs sess out.
func (g *Gate) Deactivate(ctx context.Context, sess *Session) error {
	id, err := sess.Require()
	if err != nil {
		return err
	}
	if err := g.creds.Deactivate(ctx, id); err != nil {
		return err
	}
	if revoker, ok := g.tokens.(store.AccountSessionRevoker); ok {
		if err := revoker.RevokeAccountSessions(id.AccountID, time.Now().UTC()); err != nil {
			g.logger.Warn("account_session_revoke_failed", "account_id", id.AccountID, "error", err)
		}
	}
	g.Logout(ctx, sess)
	return nil
}

func (g *Gate) revoke(token string) {
	if token == "" {
		return
	}
	if err := g.tokens.DeleteSession(token); err != nil {
		g.logger.Warn("session_revoke_failed", "error", err)
	}
}
