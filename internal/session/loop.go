package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// loop runs queued functions one at a time on its own goroutine. Every
// mutation of session state happens on a loop, so handlers never race.
type loop struct {
	mu      sync.Mutex
	pending []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newLoop() *loop {
	l := &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// post queues fn without waiting. It reports false once the loop stopped.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the loop and waits for it. It reports false when the
// loop stopped before fn ran. Must not be used from the loop itself.
func (l *loop) call(fn func()) bool {
	ran := make(chan struct{})
	if !l.post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// stop discards pending work and waits for the running function, if any.
func (l *loop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.pending = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return
		}
		if len(l.pending) == 0 {
			l.mu.Unlock()
			<-l.wake
			continue
		}
		fn := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()

		fn()
	}
}

const writeTimeout = 10 * time.Second

// outbox performs mailbox writes in the order they were queued, off the
// session loop. Candidate pushes keep their generation order this way.
type outbox struct {
	loop   *loop
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func newOutbox(logger *slog.Logger) *outbox {
	ctx, cancel := context.WithCancel(context.Background())
	return &outbox{loop: newLoop(), ctx: ctx, cancel: cancel, logger: logger}
}

// send queues a write. Failures are logged and never surfaced.
func (o *outbox) send(op string, fn func(context.Context) error) {
	o.loop.post(func() {
		ctx, cancel := context.WithTimeout(o.ctx, writeTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && o.ctx.Err() == nil {
			o.logger.Warn("Mailbox write failed", "op", op, "error", err)
		}
	})
}

// close drops queued writes and waits for the one in flight.
func (o *outbox) close() {
	o.cancel()
	o.loop.stop()
}
