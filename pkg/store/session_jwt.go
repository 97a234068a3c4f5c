package store

import (
	"cmp"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultJWTIssuer   = "finboard-dashboard"
	defaultJWTAudience = "finboard-api"
	defaultJWTKeyID    = "jwt-active"
	defaultJWTLeeway   = 30 * time.Second
)

var (
	errTokenRevoked = errors.New("session token revoked")
	errTokenClaims  = errors.New("session token claims incomplete")
)

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
	// VerifyKeys holds previous public keys by kid so tokens signed before a
	// key rotation stay valid until they expire.
	VerifyKeys map[string]*rsa.PublicKey
}

// JWTSessionStore issues RS256 session tokens for accounts. Every token
// carries a kid and a jti; the jti is what DeleteSession revokes.
type JWTSessionStore struct {
	key      *rsa.PrivateKey
	kid      string
	keys     map[string]*rsa.PublicKey
	ttl      time.Duration
	revoker  TokenRevoker
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewJWTSessionStore builds a session store around an RSA signing key.
func NewJWTSessionStore(privateKey *rsa.PrivateKey, keyID string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if privateKey == nil {
		return nil, errors.New("jwt private key required")
	}
	if ttl <= 0 {
		return nil, errors.New("jwt ttl must be positive")
	}
	s := &JWTSessionStore{
		key:      privateKey,
		kid:      cmp.Or(strings.TrimSpace(keyID), defaultJWTKeyID),
		keys:     make(map[string]*rsa.PublicKey, len(opts.VerifyKeys)+1),
		ttl:      ttl,
		revoker:  revoker,
		issuer:   cmp.Or(strings.TrimSpace(opts.Issuer), defaultJWTIssuer),
		audience: cmp.Or(strings.TrimSpace(opts.Audience), defaultJWTAudience),
	}
	for kid, pub := range opts.VerifyKeys {
		if kid = strings.TrimSpace(kid); kid != "" && pub != nil {
			s.keys[kid] = pub
		}
	}
	s.keys[s.kid] = &privateKey.PublicKey

	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = defaultJWTLeeway
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	return s, nil
}

// NewJWTSessionStoreFromPEM reads the signing key and the previous public keys
// (kid -> PEM path) from disk.
func NewJWTSessionStoreFromPEM(privateKeyPath, keyID string, verifyKeyFiles map[string]string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read jwt private key: %w", err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse jwt private key: %w", err)
	}
	verifyKeys := make(map[string]*rsa.PublicKey, len(opts.VerifyKeys)+len(verifyKeyFiles))
	for kid, pub := range opts.VerifyKeys {
		verifyKeys[kid] = pub
	}
	for kid, path := range verifyKeyFiles {
		if strings.TrimSpace(path) == "" {
			continue
		}
		data, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return nil, fmt.Errorf("read verify key %q: %w", kid, err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse verify key %q: %w", kid, err)
		}
		verifyKeys[kid] = pub
	}
	opts.VerifyKeys = verifyKeys
	return NewJWTSessionStore(privateKey, keyID, ttl, revoker, opts)
}

// NewSession creates a signed JWT whose subject is accountID.
func (s *JWTSessionStore) NewSession(accountID string) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   accountID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// GetAccountIDByToken returns the account of a valid, unrevoked token.
func (s *JWTSessionStore) GetAccountIDByToken(token string) (string, bool, error) {
	claims, err := s.verify(token)
	if err != nil {
		return "", false, err
	}
	if err := s.checkRevoked(claims); err != nil {
		return "", false, err
	}
	return claims.Subject, true, nil
}

// DeleteSession revokes the token until it expires. Invalid tokens are ignored.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.verify(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RevokeAccountSessions revokes every session of an account issued at or
// before since.
func (s *JWTSessionStore) RevokeAccountSessions(accountID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	accounts, ok := s.revoker.(AccountTokenRevoker)
	if !ok {
		return errors.New("session revoker does not support account revocation")
	}
	return accounts.RevokeAccount(accountID, since)
}

func (s *JWTSessionStore) verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := s.parser.ParseWithClaims(strings.TrimSpace(token), claims, s.keyFor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return nil, errTokenClaims
	}
	return claims, nil
}

// keyFor picks the verification key named by the token's kid header.
func (s *JWTSessionStore) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if pub, ok := s.keys[strings.TrimSpace(kid)]; ok {
		return pub, nil
	}
	return nil, fmt.Errorf("unknown session key %q", kid)
}

func (s *JWTSessionStore) checkRevoked(claims *jwt.RegisteredClaims) error {
	if s.revoker == nil {
		return nil
	}
	revoked, err := s.revoker.IsRevoked(claims.ID)
	if err != nil {
		return err
	}
	if revoked {
		return errTokenRevoked
	}
	accounts, ok := s.revoker.(AccountTokenRevoker)
	if !ok {
		return nil
	}
	cutoff, err := accounts.RevokedAfter(claims.Subject)
	if err != nil {
		return err
	}
	if !cutoff.IsZero() && !claims.IssuedAt.Time.After(cutoff) {
		return errTokenRevoked
	}
	return nil
}

var (
	_ SessionStore          = (*JWTSessionStore)(nil)
	_ AccountSessionRevoker = (*JWTSessionStore)(nil)
)
