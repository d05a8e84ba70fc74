package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "op", Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "op", Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "3 attempts exhausted")
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("bad input")
	err := Do(context.Background(), "op", Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return Abort(boom)
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, "op", Policy{MaxAttempts: 3, BaseDelay: time.Hour}, func(context.Context) error {
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDelay_DeterministicJitter(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxJitter: 100 * time.Millisecond}
	a := p.Delay("get:tenant1/key", 2)
	b := p.Delay("get:tenant1/key", 2)
	assert.Equal(t, a, b, "same op and attempt must yield the same delay")

	c := p.Delay("get:tenant1/other", 2)
	// Base component identical; jitter almost certainly differs.
	assert.InDelta(t, float64(a), float64(c), float64(time.Second))
}

func TestDelay_ExponentialGrowthCapped(t *testing.T) {
	p := Policy{MaxAttempts: 8, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.Delay("x", 0))
	assert.Equal(t, 2*time.Second, p.Delay("x", 1))
	assert.Equal(t, 4*time.Second, p.Delay("x", 2))
	assert.Equal(t, 5*time.Second, p.Delay("x", 3))
	assert.Equal(t, 5*time.Second, p.Delay("x", 30))
}

func TestFixedPolicy(t *testing.T) {
	p := FixedPolicy(5, time.Second)
	for i := 0; i < 5; i++ {
		assert.Equal(t, time.Second, p.Delay("x", i))
	}
}
