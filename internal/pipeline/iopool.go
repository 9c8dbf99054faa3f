package pipeline

import "context"

// ioPool bounds blocking filesystem and database work so a burst of runs
// cannot pile unbounded goroutines onto slow I/O. Sized slightly above the
// gate capacity so persistence never starves the frame loops.
type ioPool struct {
	slots chan struct{}
}

func newIOPool(size int) *ioPool {
	if size < 1 {
		size = 1
	}
	return &ioPool{slots: make(chan struct{}, size)}
}

// Do runs fn under a pool slot, waiting for one if all are taken. The wait is
// abandoned when ctx is cancelled; fn itself is never interrupted once
// started.
func (p *ioPool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()

	return fn()
}
