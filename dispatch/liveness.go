package dispatch

import "go.uber.org/atomic"

// Liveness is a revocable flag shared between an owner and the callbacks it
// hands out. Callbacks check it before touching the owner so that late
// completions arriving after the owner was closed are dropped.
type Liveness struct {
	alive *atomic.Bool
}

func NewLiveness() *Liveness {
	return &Liveness{alive: atomic.NewBool(true)}
}

func (l *Liveness) Alive() bool {
	return l != nil && l.alive.Load()
}

// Invalidate marks the owner as gone. It returns false if it already was.
func (l *Liveness) Invalidate() bool {
	return l.alive.CompareAndSwap(true, false)
}

// Guard wraps f so that it is a no-op once l has been invalidated.
func (l *Liveness) Guard(f func()) func() {
	return func() {
		if l.Alive() {
			f()
		}
	}
}
