// Package client carries the pieces shared by the partner API clients:
// the retry/circuit-breaker guard every outbound call goes through and
// the transient-error classification it relies on.
package client

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// StatusError is implemented by the partner APIError types so the
// guard can classify HTTP failures without importing each client.
type StatusError interface {
	error
	HTTPStatus() int
}

// Guard wraps a partner call with bounded exponential-backoff retries
// inside a per-partner circuit breaker. Only transient failures are
// retried; auth and validation errors surface immediately.
type Guard struct {
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	initial    time.Duration
}

func NewGuard(name string) *Guard {
	return &Guard{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		maxRetries: 3,
		initial:    400 * time.Millisecond,
	}
}

func (g *Guard) Do(ctx context.Context, op func() error) error {
	if g == nil || g.breaker == nil {
		return op()
	}
	_, err := g.breaker.Execute(func() (any, error) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = g.initial
		bo.MaxElapsedTime = 0
		policy := backoff.WithContext(backoff.WithMaxRetries(bo, g.maxRetries), ctx)
		return nil, backoff.Retry(func() error {
			err := op()
			if err == nil {
				return nil
			}
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}, policy)
	})
	return err
}

// IsTransient reports whether a partner call failed in a way worth
// retrying: connect/DNS trouble, timeouts, throttling, or a 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		status := statusErr.HTTPStatus()
		return status == 429 || status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
