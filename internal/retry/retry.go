package retry

import (
	"context"
	"time"

	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Policy configures Do. The wait before attempt i+1 is BaseDelay*i; there is
// no wait before the first attempt and no jitter.
type Policy struct {
	MaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"2s"`
}

// DefaultPolicy returns three attempts spaced two and four seconds apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// linearBackOff yields base, 2*base, 3*base, ...
type linearBackOff struct {
	base time.Duration
	n    int64
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	return l.base * time.Duration(l.n)
}

func (l *linearBackOff) Reset() {
	l.n = 0
}

// BackOff builds the backoff schedule for p bound to ctx.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	p = p.normalized()
	return backoff.WithMaxRetries(
		backoff.WithContext(&linearBackOff{base: p.BaseDelay}, ctx),
		uint64(p.MaxAttempts-1),
	)
}

// Do invokes fn until it succeeds or MaxAttempts calls have failed, and
// returns the first success or the last failure. Errors wrapped with
// backoff.Permanent stop the loop immediately.
func Do[T any](ctx context.Context, p Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	attempt := 0
	op := func() (T, error) {
		attempt++
		return fn(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logx.Warn().Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("max_attempts", p.MaxAttempts).
			Dur("retry_in", wait).
			Msg("attempt failed, retrying")
	}

	res, err := backoff.RetryNotifyWithData(op, p.BackOff(ctx), notify)
	if err != nil {
		logx.Error().Err(err).
			Str("operation", name).
			Int("attempts", attempt).
			Msg("all attempts failed")
		return res, err
	}
	return res, nil
}
