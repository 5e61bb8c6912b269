package dispatch

import (
	"sort"
	"sync"
	"time"
)

// TestLoop is a manually driven Dispatcher with a fake clock, for tests.
type TestLoop struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*testTask
	seq    int
}

func NewTestLoop() *TestLoop {
	return &TestLoop{now: time.Unix(0, 0)}
}

func (l *TestLoop) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

func (l *TestLoop) Post(task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, task)
}

func (l *TestLoop) PostDelayed(d time.Duration, task func()) Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	t := &testTask{loop: l, deadline: l.now.Add(d), seq: l.seq, task: task}
	l.timers = append(l.timers, t)
	sort.Slice(l.timers, func(i, j int) bool {
		if l.timers[i].deadline.Equal(l.timers[j].deadline) {
			return l.timers[i].seq < l.timers[j].seq
		}
		return l.timers[i].deadline.Before(l.timers[j].deadline)
	})
	return t
}

// RunUntilIdle runs queued tasks, including tasks they post and timers that
// are due, until nothing is left to run at the current time.
func (l *TestLoop) RunUntilIdle() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			if !l.promoteDueLocked() {
				l.mu.Unlock()
				return
			}
		}
		task := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		task()
	}
}

// AdvanceTime moves the clock forward by d, firing timers in deadline order
// and running the loop until idle after each.
func (l *TestLoop) AdvanceTime(d time.Duration) {
	l.RunUntilIdle()

	l.mu.Lock()
	end := l.now.Add(d)
	l.mu.Unlock()

	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].deadline.After(end) {
			l.now = end
			l.mu.Unlock()
			break
		}
		if l.timers[0].deadline.After(l.now) {
			l.now = l.timers[0].deadline
		}
		l.mu.Unlock()

		l.RunUntilIdle()
	}

	l.RunUntilIdle()
}

// promoteDueLocked moves the earliest due timer into the run queue.
func (l *TestLoop) promoteDueLocked() bool {
	if len(l.timers) == 0 || l.timers[0].deadline.After(l.now) {
		return false
	}
	t := l.timers[0]
	l.timers = l.timers[1:]
	l.queue = append(l.queue, t.task)
	return true
}

type testTask struct {
	loop     *TestLoop
	deadline time.Time
	seq      int
	task     func()
}

func (t *testTask) Cancel() bool {
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, tt := range l.timers {
		if tt == t {
			l.timers = append(l.timers[:i], l.timers[i+1:]...)
			return true
		}
	}
	return false
}
