package auth

import (
	"strings"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected a one-way hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cret", "") {
		t.Fatalf("expected empty stored hash to fail")
	}
}

func TestHashPasswordIsSalted(t *testing.T) {
	first, err := HashPassword("same")
	if err != nil {
		t.Fatalf("hash first: %v", err)
	}
	second, err := HashPassword("same")
	if err != nil {
		t.Fatalf("hash second: %v", err)
	}
	if first == second {
		t.Fatalf("expected different salts to produce different hashes")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("pw1"); err != nil {
		t.Fatalf("expected short password to be accepted, got: %v", err)
	}
	if err := ValidatePassword(""); err == nil {
		t.Fatalf("expected empty password to fail")
	}
	if err := ValidatePassword(strings.Repeat("a", 73)); err == nil {
		t.Fatalf("expected over-long password to fail")
	}
}
