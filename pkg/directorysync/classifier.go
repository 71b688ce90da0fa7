package directorysync

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/edgemark/conclave/pkg/idp"
)

// Classification is the outcome of running an error through the classifier:
// whether the directory should be disabled immediately, and the
// human-readable message to persist.
type Classification struct {
	ClientError bool // true disables the provider immediately; false is transient
	Message     string
}

// transportErrorMarkers are the transport-level failure substrings spec
// §4.4 calls out as transient (nxdomain, timeout, econnrefused, closed,
// tls_alert, ehostunreach, enetunreach).
var transportErrorMarkers = []string{
	"no such host", "nxdomain", "timeout", "connection refused",
	"connection reset", "use of closed network connection",
	"tls:", "no route to host", "network is unreachable",
}

// ErrMissingScopes signals an OAuth grant lacking the scopes a sync pass
// needs; the message lists exactly which ones.
type ErrMissingScopes struct {
	Missing []string
}

func (e *ErrMissingScopes) Error() string {
	return fmt.Sprintf("missing OAuth scopes: %s", strings.Join(e.Missing, ", "))
}

// ErrCircuitBreaker signals a sync pass whose plan would delete every
// remaining resource of a class (identities, groups, or memberships) —
// almost always a sign of a broken remote query rather than a real mass
// deletion, so it is classified as a client error rather than applied.
type ErrCircuitBreaker struct {
	Resource string
}

func (e *ErrCircuitBreaker) Error() string {
	return fmt.Sprintf("refusing to delete all %s: looks like a broken sync rather than a real mass deletion", e.Resource)
}

// Classify maps a raw error from the fetch or validation stage into a
// Classification, formatting provider-native error codes where available.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var missing *ErrMissingScopes
	if errors.As(err, &missing) {
		return Classification{ClientError: true, Message: err.Error()}
	}
	var breaker *ErrCircuitBreaker
	if errors.As(err, &breaker) {
		return Classification{ClientError: true, Message: err.Error()}
	}

	var adapterErr *idp.Error
	if errors.As(err, &adapterErr) {
		switch adapterErr.Kind {
		case idp.KindUnauthorized:
			return Classification{ClientError: true, Message: fmt.Sprintf("HTTP 401 - %s", adapterErr.Message)}
		case idp.KindStatus:
			return Classification{ClientError: true, Message: formatProviderError(adapterErr)}
		default:
			return Classification{ClientError: false, Message: fmt.Sprintf("HTTP %d - %s", adapterErr.Status, adapterErr.Message)}
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, marker := range transportErrorMarkers {
		if strings.Contains(lower, marker) {
			return Classification{ClientError: false, Message: fmt.Sprintf("HTTP 0 - %s", msg)}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{ClientError: false, Message: fmt.Sprintf("HTTP 0 - %s", msg)}
	}

	// Unrecognized errors (e.g. a validation failure for a missing
	// required field in the remote payload) are treated as client errors
	// per spec §4.4's "validation" row.
	return Classification{ClientError: true, Message: fmt.Sprintf("HTTP 0 - %s", msg)}
}

// formatProviderError preserves provider-native error codes while producing
// a single-line "HTTP <n> - ..." string, per spec §4.4's formatter rules.
func formatProviderError(e *idp.Error) string {
	if code, ok := e.Body["error"].(map[string]any); ok {
		googleErrs, _ := code["errors"].([]any)
		// Entra shape: error.code + error.innerError.code + error.message.
		if msg, ok := code["message"].(string); ok && len(googleErrs) == 0 {
			parts := []string{}
			if c, ok := code["code"].(string); ok && c != "" {
				parts = append(parts, c)
			}
			if inner, ok := code["innerError"].(map[string]any); ok {
				if ic, ok := inner["code"].(string); ok && ic != "" {
					parts = append(parts, ic)
				}
			}
			prefix := strings.Join(parts, "/")
			if prefix != "" {
				return fmt.Sprintf("HTTP %d - %s: %s", e.Status, prefix, msg)
			}
			return fmt.Sprintf("HTTP %d - %s", e.Status, msg)
		}
		// Google shape: error.code + errors[].reason + error.message.
		if errs, ok := code["errors"].([]any); ok && len(errs) > 0 {
			reason := ""
			if first, ok := errs[0].(map[string]any); ok {
				if r, ok := first["reason"].(string); ok {
					reason = r
				}
			}
			msg, _ := code["message"].(string)
			if reason != "" {
				return fmt.Sprintf("HTTP %d - %s: %s", e.Status, reason, msg)
			}
			return fmt.Sprintf("HTTP %d - %s", e.Status, msg)
		}
	}
	// Okta shape: errorCode + errorSummary.
	if errorCode, ok := e.Body["errorCode"].(string); ok {
		summary, _ := e.Body["errorSummary"].(string)
		return fmt.Sprintf("HTTP %d - %s: %s", e.Status, errorCode, summary)
	}
	return fmt.Sprintf("HTTP %d - %s", e.Status, e.Message)
}
