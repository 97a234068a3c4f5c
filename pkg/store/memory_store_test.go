package store

import (
	"testing"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, options ...Option) Store {
		return NewMemoryStore(options...)
	})
}

func TestMemoryStoreSessions(t *testing.T) {
	s := NewMemoryStore()
	token, err := s.NewSession("acct-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	accountID, ok, err := s.GetAccountIDByToken(token)
	if err != nil || !ok || accountID != "acct-1" {
		t.Fatalf("unexpected lookup: id=%q ok=%v err=%v", accountID, ok, err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := s.GetAccountIDByToken(token); ok {
		t.Fatalf("expected token to be gone")
	}
}
