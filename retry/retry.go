package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// SenderFunc is one attempt. Wrap an error with Permanent to stop retrying.
type SenderFunc func() error

// Policy controls the backoff between attempts.
type Policy struct {
	// Attempts is the number of retries after the first try.
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy starts at 500ms and doubles.
func DefaultPolicy(attempts int) Policy {
	return Policy{
		Attempts:        attempts,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Execute calls send until it succeeds, returns a permanent error, the
// attempts are used up, or ctx ends. The last error is returned.
func Execute(ctx context.Context, p Policy, logger *zap.Logger, send SenderFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if p.Attempts >= 0 {
		b = backoff.WithMaxRetries(b, uint64(p.Attempts))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return send()
	}, b, func(err error, wait time.Duration) {
		logger.Warn("send failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
}
