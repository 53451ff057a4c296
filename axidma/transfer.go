package axidma

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// Policy controls polling and retry of a Transfer
type Policy struct {
	// Poll is the interval between status reads
	Poll time.Duration `koanf:"interval" yaml:"interval"`

	// Timeout is the deadline for a single attempt
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`

	// MaxTimeouts is the number of consecutive failed attempts tolerated
	// before the transfer is abandoned.  Values below 1 mean 1
	MaxTimeouts int `koanf:"max_timeouts" yaml:"max_timeouts"`

	// RetryErrors retries hardware errors as well as timeouts
	RetryErrors bool `koanf:"retry_errors" yaml:"retry_errors"`

	// RetryDelay is the pause between attempts
	RetryDelay time.Duration `koanf:"retry_delay" yaml:"retry_delay"`
}

// DefaultPolicy polls every millisecond, gives each attempt a second and
// tolerates three consecutive timeouts
var DefaultPolicy = Policy{
	Poll:        time.Millisecond,
	Timeout:     time.Second,
	MaxTimeouts: 3,
	RetryDelay:  10 * time.Millisecond,
}

// Transfer runs reset, start, wait and acknowledge on c for d.  Timeouts
// are always retried up to p.MaxTimeouts attempts; hardware errors only if
// p.RetryErrors.  Attempts are p.RetryDelay apart on the channel's clock.
// The outcome of the last attempt is returned with the error, which is
// ctx.Err() once ctx is done.
func (c *Channel) Transfer(ctx context.Context, d Descriptor, p Policy) (Outcome, error) {
	var last Outcome
	tries := 0
	op := func() error {
		if tries > 0 {
			c.clock.Sleep(p.RetryDelay)
		}
		tries++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := c.Reset(ctx); err != nil {
			return backoff.Permanent(err)
		}
		if err := c.Start(d); err != nil {
			return backoff.Permanent(err)
		}
		o, err := c.Wait(ctx, p.Poll, p.Timeout)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = o
		if err := c.Acknowledge(ctx, o); err != nil {
			return backoff.Permanent(err)
		}
		err = o.Err()
		if o.Kind == OutcomeErrored && !p.RetryErrors {
			return backoff.Permanent(err)
		}
		return err
	}
	attempts := p.MaxTimeouts
	if attempts < 1 {
		attempts = 1
	}
	// the pause is taken inside op so it follows the injected clock
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(0), uint64(attempts-1)),
		ctx)
	err := backoff.Retry(op, b)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return last, cerr
		}
	}
	return last, err
}
