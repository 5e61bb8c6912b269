// Package dispatch provides the single-threaded cooperative task runners the
// host stack components live on. Every component owns exactly one Dispatcher
// and only mutates its state from tasks running on it; other components reach
// it by posting.
package dispatch

import "time"

// Dispatcher runs posted tasks one at a time in FIFO order.
type Dispatcher interface {
	Post(task func())
	PostDelayed(d time.Duration, task func()) Task
}

// Task is a handle to a delayed task.
type Task interface {
	// Cancel prevents the task from running. It returns false if the task
	// already ran or was canceled.
	Cancel() bool
}

// RunOrPost posts task to d, or runs it inline when d is nil.
func RunOrPost(task func(), d Dispatcher) {
	if d == nil {
		task()
		return
	}
	d.Post(task)
}
