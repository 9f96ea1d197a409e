package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestVerifierDefaultsToBcrypt(t *testing.T) {
	v := NewVerifier(nil)
	hash, err := v.Hash("password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Fatalf("expected bcrypt hash, got %q", hash)
	}

	ok, err := v.Verify("password", hash)
	if err != nil || !ok {
		t.Fatalf("expected match: ok=%v err=%v", ok, err)
	}
	ok, err = v.Verify("wrong", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch: ok=%v err=%v", ok, err)
	}
}

func TestVerifierAcceptsBothSchemes(t *testing.T) {
	argon, err := NewArgon2(fastArgon2Config())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	argonHash, err := argon.Hash("secret-one")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	bcryptHash, err := bcrypt.GenerateFromPassword([]byte("secret-two"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	v := NewVerifier(nil)
	if ok, err := v.Verify("secret-one", argonHash); err != nil || !ok {
		t.Fatalf("argon2 hash should verify: ok=%v err=%v", ok, err)
	}
	if ok, err := v.Verify("secret-two", string(bcryptHash)); err != nil || !ok {
		t.Fatalf("bcrypt hash should verify: ok=%v err=%v", ok, err)
	}

	if up, err := v.NeedsUpgrade(argonHash); err != nil || !up {
		t.Fatalf("argon2 hash under bcrypt primary should need upgrade: up=%v err=%v", up, err)
	}
	if up, err := v.NeedsUpgrade(string(bcryptHash)); err != nil || !up {
		t.Fatalf("min-cost bcrypt hash should need upgrade: up=%v err=%v", up, err)
	}
}

func TestVerifierUnknownScheme(t *testing.T) {
	v := NewVerifier(nil)
	if _, err := v.Verify("password", "plaintext"); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}
}

func TestBcryptLongPassword(t *testing.T) {
	b, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	if _, err := b.Hash(strings.Repeat("x", 73)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if _, err := NewBcrypt(99); err == nil {
		t.Fatalf("expected invalid cost to be rejected")
	}
}
