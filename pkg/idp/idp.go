// Package idp defines the common contract every identity-provider adapter
// implements: paginated listing of users, groups, and group members, and a
// single error taxonomy the sync orchestrator (C3) and classifier (C4) key
// off of regardless of which provider produced the failure.
package idp

import (
	"context"
	"errors"
	"fmt"
)

// User is a provider-native user record, reduced to the fields the sync
// planner needs. Email is resolved per-adapter (Entra: userPrincipalName,
// falling back to mail; Okta: profile.email; Google: primaryEmail; WorkOS:
// the primary entry of emails, else the first) before the identity is built.
type User struct {
	ProviderIdentifier string
	Enabled            bool
	DisplayName        string
	Email              string
}

// Group is a provider-native group record.
type Group struct {
	ProviderIdentifier string
	DisplayName        string
}

// Member is a single user membership in a group, as returned by
// list_group_members before it is reduced into membership tuples.
type Member struct {
	ProviderIdentifier string
}

// Kind enumerates the classifier-relevant shape of an adapter error.
type Kind int

const (
	// KindRetryLater covers 5xx responses, non-200 2xx statuses, and
	// transport failures (nxdomain, timeout, connection refused/closed,
	// TLS alerts, host/network unreachable) — all transient.
	KindRetryLater Kind = iota
	// KindUnauthorized covers a 401: the stored access token is no
	// longer valid.
	KindUnauthorized
	// KindStatus covers a decoded 4xx response body.
	KindStatus
)

// Error is the one error taxonomy every adapter returns instead of a bare
// error, so C4 can classify any provider's failure uniformly.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Body    map[string]any // decoded provider error envelope, when Kind == KindStatus
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnauthorized:
		return fmt.Sprintf("unauthorized: %s", e.Message)
	case KindStatus:
		return fmt.Sprintf("HTTP %d - %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("retry later: %s", e.Message)
	}
}

// RetryLater constructs a transient adapter error.
func RetryLater(message string) error {
	return &Error{Kind: KindRetryLater, Message: message}
}

// Unauthorized constructs a 401 adapter error.
func Unauthorized(message string) error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Status constructs a decoded 4xx adapter error.
func Status(status int, message string, body map[string]any) error {
	return &Error{Kind: KindStatus, Status: status, Message: message, Body: body}
}

// AsError unwraps err into an *Error, or synthesizes a KindRetryLater one
// if it isn't already tagged — callers that receive a raw transport error
// (e.g. from http.Client.Do) can push it straight through the classifier.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindRetryLater, Message: err.Error()}
}

// Client is the contract every IdP adapter implements.
type Client interface {
	ListUsers(ctx context.Context, endpoint, accessToken string) ([]User, error)
	ListGroups(ctx context.Context, endpoint, accessToken string) ([]Group, error)
	ListGroupMembers(ctx context.Context, endpoint, accessToken, groupProviderIdentifier string) ([]Member, error)
}
