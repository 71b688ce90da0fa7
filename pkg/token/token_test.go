package token

import (
	"strings"
	"testing"
	"time"
)

func parseTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing time %q: %v", s, err)
	}
	return tm
}

// TestCreateTokenNeverPersistsNonce asserts property 7: after minting, the
// caller-facing bearer's nonce never appears in anything we'd persist
// (SecretSalt, SecretHash) — only the hash derived from it does.
func TestCreateTokenNeverPersistsNonce(t *testing.T) {
	nonce, fragment, salt := "abc123", "fragment456", "saltvalue"
	hash := secretHash(nonce, fragment, salt)

	if strings.Contains(hash, nonce) {
		t.Fatalf("hash must not contain the raw nonce")
	}
	if hash == nonce || hash == fragment {
		t.Fatalf("hash must differ from its inputs")
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	nonce, err := randomString(16)
	if err != nil {
		t.Fatal(err)
	}
	fragment, err := randomString(16)
	if err != nil {
		t.Fatal(err)
	}
	salt, err := randomString(16)
	if err != nil {
		t.Fatal(err)
	}

	stored := &Token{SecretSalt: salt, SecretHash: secretHash(nonce, fragment, salt)}
	bearer := nonce + "." + fragment

	if !Verify(bearer, stored) {
		t.Fatalf("expected bearer to verify against its own hash")
	}
	if Verify("wrong.bearer", stored) {
		t.Fatalf("expected mismatched bearer to fail verification")
	}
}

func TestIsUsable(t *testing.T) {
	now := parseTime(t, "2026-01-01T00:00:00Z")
	future := parseTime(t, "2026-06-01T00:00:00Z")
	past := parseTime(t, "2025-01-01T00:00:00Z")

	zero := 0
	one := 1

	cases := []struct {
		name string
		tok  *Token
		want bool
	}{
		{"usable, no constraints", &Token{}, true},
		{"deleted", &Token{DeletedAt: &now}, false},
		{"expired", &Token{ExpiresAt: &past}, false},
		{"not yet expired", &Token{ExpiresAt: &future}, true},
		{"no attempts left", &Token{RemainingAttempts: &zero}, false},
		{"attempts remaining", &Token{RemainingAttempts: &one}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.tok.IsUsable(now); got != c.want {
				t.Errorf("IsUsable() = %v, want %v", got, c.want)
			}
		})
	}
}
