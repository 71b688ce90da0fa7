package directorysync

import (
	"context"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/edgemark/conclave/pkg/directory"
)

func TestExchangeRefreshToken_MissingRefreshTokenFails(t *testing.T) {
	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: "https://example.com/token"}}

	_, err := exchangeRefreshToken(context.Background(), cfg, directory.AdapterState{})
	if err != ErrNoRefreshToken {
		t.Errorf("err = %v, want ErrNoRefreshToken", err)
	}
}

func TestRotateFromToken_PreservesRefreshTokenWhenNotReissued(t *testing.T) {
	state := directory.AdapterState{AccessToken: "stale", RefreshToken: "rt-1"}
	tok := &oauth2.Token{AccessToken: "fresh"}

	rotated := rotateFromToken(state, tok)

	if rotated.AccessToken != "fresh" {
		t.Errorf("AccessToken = %q, want fresh", rotated.AccessToken)
	}
	if rotated.RefreshToken != "rt-1" {
		t.Errorf("RefreshToken should be preserved when the grant response omits it, got %q", rotated.RefreshToken)
	}
	if rotated.ExpiresAt != nil {
		t.Error("ExpiresAt should stay nil when the token carries a zero expiry")
	}
}

func TestRotateFromToken_AdoptsReissuedRefreshTokenAndExpiry(t *testing.T) {
	state := directory.AdapterState{AccessToken: "stale", RefreshToken: "rt-1"}
	expiry := time.Now().Add(time.Hour)
	tok := &oauth2.Token{AccessToken: "fresh", RefreshToken: "rt-2", Expiry: expiry}

	rotated := rotateFromToken(state, tok)

	if rotated.RefreshToken != "rt-2" {
		t.Errorf("RefreshToken = %q, want rt-2", rotated.RefreshToken)
	}
	if rotated.ExpiresAt == nil || !rotated.ExpiresAt.Equal(expiry) {
		t.Errorf("ExpiresAt = %v, want %v", rotated.ExpiresAt, expiry)
	}
}
