package loop

import (
	"context"
	"sync"
)

// Loop is a single-consumer task queue. Tasks posted from any goroutine run one
// at a time, in post order, on whichever goroutine drives the loop (Run or Drain).
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wakeCh chan struct{}
}

// New creates an empty loop.
func New() *Loop {
	return &Loop{
		wakeCh: make(chan struct{}, 1),
	}
}

// Post enqueues fn. It never blocks.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	// Wake the runner; a pending wake-up already covers this task
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Drain runs queued tasks on the calling goroutine until the queue is empty,
// including tasks posted while draining. It returns how many tasks ran.
func (l *Loop) Drain() int {
	ran := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return ran
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// Run drains the queue every time a task is posted until ctx is done.
// Tasks still queued when ctx ends are discarded.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wakeCh:
		}
	}
}
