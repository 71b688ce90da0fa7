package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// admissionWindow is the bucket width for the token-based admission rate
// limit: 1 token/second per (remote_ip, token_id), per spec §4.12.
const admissionWindow = time.Second

// ErrRateLimited is returned when a socket's (ip, token) bucket already
// admitted a connection within the current window.
var ErrRateLimited = errors.New("rate_limit")

// RateLimitObserver is notified each time Admit rejects a connection, so
// callers can feed the presence_rate_limited_total counter; a nil observer
// is a valid no-op, following the same callback shape as the replication
// dispatcher's MetricsSink.
type RateLimitObserver func()

// AdmissionLimiter enforces the per-(remote_ip, token_id) connect rate
// limit for sockets joining a gateway/relay topic, per spec §4.12 and the
// isolation guarantee in spec §8 property 8: the same IP with different
// tokens is never limited, and the same token from different IPs is never
// limited — only the exact pair shares a bucket.
type AdmissionLimiter struct {
	redis    *redis.Client
	observer RateLimitObserver
}

// NewAdmissionLimiter creates an AdmissionLimiter backed by rdb. observer
// may be nil.
func NewAdmissionLimiter(rdb *redis.Client, observer RateLimitObserver) *AdmissionLimiter {
	return &AdmissionLimiter{redis: rdb, observer: observer}
}

// admissionKey builds the Redis bucket key for a (remoteIP, tokenID) pair.
func admissionKey(remoteIP, tokenID string) string {
	return fmt.Sprintf("presence:admission:%s:%s", remoteIP, tokenID)
}

// Admit attempts to claim the (remoteIP, tokenID) bucket for this
// connection. It returns ErrRateLimited if a connection from the same pair
// was already admitted within the last second.
func (l *AdmissionLimiter) Admit(ctx context.Context, remoteIP, tokenID string) error {
	key := admissionKey(remoteIP, tokenID)
	ok, err := l.redis.SetNX(ctx, key, 1, admissionWindow).Result()
	if err != nil {
		return fmt.Errorf("checking admission bucket: %w", err)
	}
	if !ok {
		if l.observer != nil {
			l.observer()
		}
		return ErrRateLimited
	}
	return nil
}
