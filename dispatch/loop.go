package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Loop is a Dispatcher backed by a single goroutine. Posting never blocks, so
// tasks may post to their own loop.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
}

func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

func (l *Loop) Post(task func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) PostDelayed(d time.Duration, task func()) Task {
	t := &loopTask{canceled: atomic.NewBool(false)}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.canceled.CAS(false, true) {
				task()
			}
		})
	})
	return t
}

// Run executes posted tasks until ctx is done. Tasks still queued at that
// point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, task := range tasks {
			task()
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

type loopTask struct {
	timer    *time.Timer
	canceled *atomic.Bool
}

func (t *loopTask) Cancel() bool {
	if !t.canceled.CAS(false, true) {
		return false
	}
	t.timer.Stop()
	return true
}
