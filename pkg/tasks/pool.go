package tasks

import "context"

// Pool bounds concurrent workers process-wide. Two pools exist in the
// server: one for upload/extraction batches, one for stock rebuilds.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with n slots.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{slots: make(chan struct{}, n)}
}

// Acquire blocks for a slot. The returned release function must be
// called exactly once.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case p.slots <- struct{}{}:
		return func() { <-p.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run executes fn inside a slot.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
