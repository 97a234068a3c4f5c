package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTokenRevokerAccountCutoffMonotonic(t *testing.T) {
	testAccountCutoffMonotonic(t, NewMemoryTokenRevoker())
}

func TestRedisTokenRevokerAccountCutoffMonotonic(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")
	t.Cleanup(func() { _ = r.Close() })
	testAccountCutoffMonotonic(t, r)
}

func TestRedisTokenRevokerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")
	t.Cleanup(func() { _ = r.Close() })

	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	mr.FastForward(2 * time.Minute)
	revoked, err = r.IsRevoked("jti-1")
	if err != nil || revoked {
		t.Fatalf("expected revocation to expire, got %v err=%v", revoked, err)
	}
}

func testAccountCutoffMonotonic(t *testing.T, r AccountTokenRevoker) {
	t.Helper()
	first := time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond)
	second := time.Now().UTC().Truncate(time.Microsecond)

	got, err := r.RevokedAfter("acct-1")
	if err != nil {
		t.Fatalf("revoked after empty: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero cutoff, got %v", got)
	}

	if err := r.RevokeAccount("acct-1", first); err != nil {
		t.Fatalf("revoke account first: %v", err)
	}
	if err := r.RevokeAccount("acct-1", first.Add(-time.Minute)); err != nil {
		t.Fatalf("revoke account older cutoff: %v", err)
	}
	got, err = r.RevokedAfter("acct-1")
	if err != nil {
		t.Fatalf("revoked after first: %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("expected first cutoff to be kept, got %v", got)
	}

	if err := r.RevokeAccount("acct-1", second); err != nil {
		t.Fatalf("revoke account second: %v", err)
	}
	got, err = r.RevokedAfter("acct-1")
	if err != nil {
		t.Fatalf("revoked after second: %v", err)
	}
	if !got.Equal(second) {
		t.Fatalf("expected newest cutoff, got %v", got)
	}
}
