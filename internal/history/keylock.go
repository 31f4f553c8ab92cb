package history

import "context"

// runLock is a capacity-one semaphore. Unlike sync.Mutex, acquiring it can be
// abandoned when the caller's context ends.
type runLock struct {
	ch chan struct{}
}

func newRunLock() *runLock {
	return &runLock{ch: make(chan struct{}, 1)}
}

func (l *runLock) acquire(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *runLock) tryAcquire() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *runLock) release() {
	<-l.ch
}
