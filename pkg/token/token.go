// Package token implements opaque bearer tokens: browser sessions, client
// tokens, email login tokens, API client tokens, and relay/gateway group
// join tokens. Secret material is never persisted — only its salted hash.
package token

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/edgemark/conclave/internal/dbtx"
)

// Type enumerates the kinds of token this system issues.
type Type string

const (
	TypeBrowser     Type = "browser"
	TypeClient      Type = "client"
	TypeEmail       Type = "email"
	TypeAPIClient   Type = "api_client"
	TypeRelayGroup  Type = "relay_group"
	TypeGatewayGroup Type = "gateway_group"
)

// Token is opaque bearer material. The raw secret is split into a nonce
// (caller-held, never persisted) and a fragment; secret_hash is computed
// over both plus a per-token salt so two tokens never collide even if a
// fragment were reused.
type Token struct {
	ID                uuid.UUID
	AccountID         *uuid.UUID
	Type              Type
	SecretSalt        string
	SecretHash        string
	ExpiresAt         *time.Time
	RemainingAttempts *int
	LastSeenAt        *time.Time
	LastSeenIP        string
	LastSeenUserAgent string
	DeletedAt         *time.Time
	CreatedAt         time.Time
}

// IsUsable reports whether the token may still authenticate a request, per
// spec §3: not deleted, not expired, and attempts remaining (if bounded).
func (t *Token) IsUsable(now time.Time) bool {
	if t == nil || t.DeletedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	if t.RemainingAttempts != nil && *t.RemainingAttempts <= 0 {
		return false
	}
	return true
}

// secretHash computes SHA3-256(nonce ‖ fragment ‖ salt) and returns it
// encoded as unpadded URL-safe base64.
func secretHash(nonce, fragment, salt string) string {
	h := sha3.New256()
	h.Write([]byte(nonce))
	h.Write([]byte(fragment))
	h.Write([]byte(salt))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// randomString returns a URL-safe random string of n raw bytes, base64-encoded.
func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Minted is the result of Create: the durable Token row plus the
// bearer string the caller must hand to the client. The bearer string is
// never stored; only Token.SecretHash is.
type Minted struct {
	Token  *Token
	Bearer string // "<nonce>.<fragment>" — caller-facing secret
}

// Create mints a new token of the given type and persists its hash. The
// plaintext nonce and fragment exist only in the returned Minted value.
func Create(ctx context.Context, db dbtx.DBTX, accountID *uuid.UUID, typ Type, expiresAt *time.Time, remainingAttempts *int) (*Minted, error) {
	nonce, err := randomString(16)
	if err != nil {
		return nil, err
	}
	fragment, err := randomString(16)
	if err != nil {
		return nil, err
	}
	salt, err := randomString(16)
	if err != nil {
		return nil, err
	}

	hash := secretHash(nonce, fragment, salt)

	t := &Token{
		ID:                uuid.New(),
		AccountID:         accountID,
		Type:              typ,
		SecretSalt:        salt,
		SecretHash:        hash,
		ExpiresAt:         expiresAt,
		RemainingAttempts: remainingAttempts,
	}

	_, err = db.Exec(ctx,
		`INSERT INTO tokens (id, account_id, type, secret_salt, secret_hash, expires_at, remaining_attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.AccountID, t.Type, t.SecretSalt, t.SecretHash, t.ExpiresAt, t.RemainingAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting token: %w", err)
	}

	return &Minted{Token: t, Bearer: nonce + "." + fragment}, nil
}

// Verify recomputes the hash for a candidate bearer string against a stored
// token's salt and reports whether it matches, comparing in constant time
// to avoid leaking hash bytes through response-timing side channels.
func Verify(candidateBearer string, stored *Token) bool {
	nonce, fragment, ok := splitBearer(candidateBearer)
	if !ok {
		return false
	}
	candidate := secretHash(nonce, fragment, stored.SecretSalt)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(stored.SecretHash)) == 1
}

func splitBearer(bearer string) (nonce, fragment string, ok bool) {
	for i := 0; i < len(bearer); i++ {
		if bearer[i] == '.' {
			return bearer[:i], bearer[i+1:], true
		}
	}
	return "", "", false
}
