package directorysync

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/edgemark/conclave/pkg/directory"
)

// googleDirectoryScopes are the union of Admin SDK Directory read-only
// scopes spec §6 lists for the Google Workspace adapter.
var googleDirectoryScopes = []string{
	"https://www.googleapis.com/auth/admin.directory.user.readonly",
	"https://www.googleapis.com/auth/admin.directory.group.readonly",
	"https://www.googleapis.com/auth/admin.directory.group.member.readonly",
}

// ErrNoRefreshToken is returned when a provider's adapter state has no
// refresh token to exchange.
var ErrNoRefreshToken = fmt.Errorf("no refresh token on file")

// OAuth2RefreshFunc builds a Refresher that rotates an access token via the
// standard OAuth2 refresh-token grant, resolving the token endpoint from
// the provider's OIDC discovery document. This backs the Entra, Okta, and
// WorkOS (JumpCloud) refresh paths for C5.
func OAuth2RefreshFunc(ctx context.Context, issuerURL, clientID, clientSecret string) (Refresher, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider at %s: %w", issuerURL, err)
	}

	var discovery struct {
		TokenURL string `json:"token_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("reading token_endpoint from discovery document: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: discovery.TokenURL},
	}

	return func(ctx context.Context, state directory.AdapterState) (directory.AdapterState, error) {
		return exchangeRefreshToken(ctx, cfg, state)
	}, nil
}

func exchangeRefreshToken(ctx context.Context, cfg *oauth2.Config, state directory.AdapterState) (directory.AdapterState, error) {
	if state.RefreshToken == "" {
		return state, ErrNoRefreshToken
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: state.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return state, fmt.Errorf("refreshing access token: %w", err)
	}
	return rotateFromToken(state, tok), nil
}

// GoogleServiceAccountRefreshFunc mints a fresh Workspace Admin SDK access
// token from a service-account JSON key via the JWT bearer grant scoped to
// googleDirectoryScopes, impersonating subject (the Workspace super-admin
// the service account is delegated to act as).
func GoogleServiceAccountRefreshFunc(serviceAccountJSON []byte, subject string) (Refresher, error) {
	cfg, err := google.JWTConfigFromJSON(serviceAccountJSON, googleDirectoryScopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}
	cfg.Subject = subject

	return func(ctx context.Context, state directory.AdapterState) (directory.AdapterState, error) {
		tok, err := cfg.TokenSource(ctx).Token()
		if err != nil {
			return state, fmt.Errorf("minting service-account access token: %w", err)
		}
		return rotateFromToken(state, tok), nil
	}, nil
}

func rotateFromToken(state directory.AdapterState, tok *oauth2.Token) directory.AdapterState {
	rotated := state
	rotated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		rotated.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		rotated.ExpiresAt = &exp
	}
	return rotated
}
