package autosave

import (
	"context"
	"time"
)

// writeTask is a joinable handle on a store write running in the background.
// The write itself is never cancelled; callers only decide how long to wait for it.
type writeTask struct {
	done     chan struct{}
	location string
	err      error
}

func startWrite(fn func() (string, error)) *writeTask {
	t := &writeTask{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.location, t.err = fn()
	}()
	return t
}

// Wait blocks until the write finishes, d elapses or ctx is done. It reports whether the write finished.
func (t *writeTask) Wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-t.done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *writeTask) Done() <-chan struct{} {
	return t.done
}

// Result blocks until the write finishes.
func (t *writeTask) Result() (string, error) {
	<-t.done
	return t.location, t.err
}
