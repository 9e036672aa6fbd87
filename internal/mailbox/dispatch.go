package mailbox

import "sync"

// dispatcher delivers snapshots to one watch callback in order on its own
// goroutine, so producers never block on a slow consumer and callbacks
// never run under the producer's locks.
type dispatcher struct {
	fn func(Snapshot)

	mu      sync.Mutex
	pending []Snapshot
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newDispatcher(fn func(Snapshot)) *dispatcher {
	d := &dispatcher{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(snapshot Snapshot) {
	d.mu.Lock()
	d.pending = append(d.pending, snapshot)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.done) })
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			next := d.pending[0]
			d.pending = d.pending[1:]
			d.mu.Unlock()

			select {
			case <-d.done:
				return
			default:
			}
			d.fn(next)
		}
	}
}
