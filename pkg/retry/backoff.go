// Package retry provides bounded retry loops with exponential backoff
// and deterministic jitter.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt; later attempts double it.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// MaxJitter bounds the deterministic jitter added to each delay.
	MaxJitter time.Duration
	// Fixed disables exponential growth; every delay equals BaseDelay.
	Fixed bool
}

// DefaultPolicy matches the pipeline's extraction retry budget.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// FixedPolicy retries n times with a constant delay. Used for the
// object-store eventual-consistency window, where backing off harder
// does not make the object appear sooner.
func FixedPolicy(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: delay, MaxDelay: delay, Fixed: true}
}

// Delay returns the wait before attempt (0-indexed: Delay(0) precedes the
// second try). Jitter is a PRF of the operation key and attempt index so
// replays of the same schedule are reproducible.
func (p Policy) Delay(opKey string, attempt int) time.Duration {
	d := p.BaseDelay
	if !p.Fixed && attempt > 0 {
		shift := attempt
		if shift > 30 {
			shift = 30
		}
		d = p.BaseDelay << shift
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d + p.jitter(opKey, attempt)
}

func (p Policy) jitter(opKey string, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", opKey, attempt)
	sum := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(sum[:8])
	return time.Duration(basis % uint64(p.MaxJitter))
}

// Permanent wraps an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Abort marks err as terminal for Do.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Do runs fn until it succeeds, the policy is exhausted, the error is
// permanent, or ctx is done. The returned error is the last attempt's,
// wrapped with the attempt count.
func Do(ctx context.Context, opKey string, policy Policy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var last error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(policy.Delay(opKey, attempt-1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		last = err
	}
	return fmt.Errorf("retry: %d attempts exhausted for %s: %w", policy.MaxAttempts, opKey, last)
}
