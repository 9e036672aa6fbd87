// Package session drives one end of a camera room.
//
// A [Broadcaster] publishes an offer and streams local tracks; a [Watcher]
// answers it and sends controls back. Both run every callback (mailbox
// watches, pion notifications, timers and media acquisition results) on a
// single event loop per session, so the order in which notifications arrive
// never matters. Mailbox writes leave the loop through an ordered outbox.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
	"github.com/kalkanci/guvenlikkamerasi/internal/media"
	"github.com/kalkanci/guvenlikkamerasi/internal/power"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
)

const (
	DefaultPreferredCodec    = "H264/90000"
	DefaultTelemetryInterval = 10 * time.Second

	cleanupTimeout = 5 * time.Second
)

// Options configures a session.
type Options struct {
	Mailbox mailbox.Mailbox
	Room    room.ID

	// NewPeerConnection creates the connection for one attempt.
	NewPeerConnection func() (PeerConnection, error)

	// Media is used to re-acquire the camera on a facing change and the
	// microphone for push-to-talk. Optional.
	Media media.Source

	// Power feeds Broadcaster telemetry. Without it the battery level is
	// reported as unknown.
	Power power.Source

	PreferredCodec    string
	TelemetryInterval time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (o *Options) validate(op string) error {
	if o.Mailbox == nil {
		return NewError(op, errors.New("no mailbox"))
	}
	if o.NewPeerConnection == nil {
		return NewError(op, errors.New("no peer connection factory"))
	}
	id, err := room.ParseID(string(o.Room))
	if err != nil {
		return NewError(op, err)
	}
	o.Room = id

	if o.PreferredCodec == "" {
		o.PreferredCodec = DefaultPreferredCodec
	}
	if o.TelemetryInterval <= 0 {
		o.TelemetryInterval = DefaultTelemetryInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// peerSession is the part shared by both roles. Fields below the loop are
// owned by it.
type peerSession struct {
	role   Role
	opts   Options
	logger *slog.Logger
	events *emitter
	out    *outbox

	ctx    context.Context
	cancel context.CancelFunc

	watchMu sync.Mutex
	watches []mailbox.Unsubscribe
	dropped bool

	teardownOnce sync.Once
	done         chan struct{}

	// describe builds the role's event snapshot.
	describe func() Event

	loop       *loop
	state      State
	status     string
	connected  bool
	closed     bool
	generation uint64
	pc         PeerConnection
	queue      CandidateQueue
}

func newPeerSession(role Role, opts Options) *peerSession {
	logger := opts.Logger.With("role", string(role), "room", opts.Room.String())
	ctx, cancel := context.WithCancel(context.Background())
	s := &peerSession{
		role:   role,
		opts:   opts,
		logger: logger,
		events: newEmitter(),
		out:    newOutbox(logger),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		loop:   newLoop(),
	}
	s.describe = s.event
	return s
}

// event returns the current snapshot. Called on the loop.
func (s *peerSession) event() Event {
	return Event{
		Role:      s.role,
		State:     s.state,
		Status:    s.status,
		Connected: s.connected,
	}
}

// setState moves to next when the move is allowed and reports whether it
// happened.
func (s *peerSession) setState(next State) bool {
	if s.state == next {
		return false
	}
	if !CanTransition(s.state, next) {
		s.logger.Debug("Ignoring state change", "from", s.state, "to", next)
		return false
	}
	s.logger.Debug("State changed", "from", s.state, "to", next)
	s.state = next
	return true
}

// current reports whether a callback registered in generation gen may
// still act.
func (s *peerSession) current(gen uint64) bool {
	return !s.closed && gen == s.generation
}

// post runs fn on the loop if gen is still current when it gets there.
func (s *peerSession) post(gen uint64, fn func()) {
	s.loop.post(func() {
		if s.current(gen) {
			fn()
		}
	})
}

// watch registers a subscription through the outbox so it is ordered
// after the writes queued before it.
func (s *peerSession) watch(op string, subscribe func(context.Context) (mailbox.Unsubscribe, error)) {
	s.out.send(op, func(ctx context.Context) error {
		unsubscribe, err := subscribe(ctx)
		if err != nil {
			return err
		}
		s.keepWatch(unsubscribe)
		return nil
	})
}

func (s *peerSession) keepWatch(unsubscribe mailbox.Unsubscribe) {
	s.watchMu.Lock()
	if s.dropped {
		s.watchMu.Unlock()
		unsubscribe()
		return
	}
	s.watches = append(s.watches, unsubscribe)
	s.watchMu.Unlock()
}

func (s *peerSession) dropWatches() {
	s.watchMu.Lock()
	watches := s.watches
	s.watches = nil
	s.dropped = true
	s.watchMu.Unlock()

	for _, unsubscribe := range watches {
		unsubscribe()
	}
}

// remoteCandidate applies c, or queues it while no remote description is
// set.
func (s *peerSession) remoteCandidate(c room.Candidate) {
	if s.pc == nil {
		return
	}
	if desc := s.pc.RemoteDescription(); desc == nil || desc.Type == pion.SDPTypeUnknown {
		s.queue.Push(c)
		return
	}
	s.addCandidate(c)
}

func (s *peerSession) addCandidate(c room.Candidate) {
	if err := s.pc.AddICECandidate(c); err != nil {
		s.logger.Warn("Skipping remote candidate", "candidate", c.Candidate, "error", err)
	}
}

// drainQueue applies the queued candidates. Called right after the remote
// description is set.
func (s *peerSession) drainQueue() {
	queued := s.queue.Drain()
	if len(queued) > 0 {
		s.logger.Debug("Applying queued candidates", "count", len(queued))
	}
	for _, c := range queued {
		s.addCandidate(c)
	}
}

// wirePeer installs the handlers shared by both roles. push publishes a
// local candidate and liveStatus is shown while connected.
func (s *peerSession) wirePeer(pc PeerConnection, push func(context.Context, room.Candidate) error, onTrack func(media.RemoteTrack), liveStatus string) {
	gen := s.generation

	pc.OnICECandidate(func(c *pion.ICECandidateInit) {
		if c == nil {
			return
		}
		candidate := *c
		s.post(gen, func() {
			s.out.send("push candidate", func(ctx context.Context) error {
				return push(ctx, candidate)
			})
		})
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		s.post(gen, func() {
			s.connectionState(state, liveStatus)
		})
	})

	pc.OnTrack(func(track media.RemoteTrack) {
		s.post(gen, func() {
			onTrack(track)
		})
	})
}

func (s *peerSession) connectionState(state pion.PeerConnectionState, liveStatus string) {
	s.logger.Info("Connection state changed", "state", state.String())

	switch state {
	case pion.PeerConnectionStateConnecting:
		if s.state == StateAwaitingRemote || s.state == StateNegotiating {
			s.status = StatusConnecting
		}
	case pion.PeerConnectionStateConnected:
		if !s.setState(StateConnected) && s.state != StateConnected {
			return
		}
		s.connected = true
		s.status = liveStatus
	case pion.PeerConnectionStateDisconnected, pion.PeerConnectionStateFailed:
		if !s.setState(StateDegraded) && s.state != StateDegraded {
			return
		}
		s.connected = false
		s.status = StatusConnectionLost
	default:
		return
	}
	s.events.emit(s.describe())
}

// teardown stops the session. release runs on the loop before the
// connection closes; cleanup is the role's final mailbox write.
func (s *peerSession) teardown(release func(), cleanup func(context.Context) error) {
	s.teardownOnce.Do(func() {
		s.loop.call(func() {
			s.closed = true
			s.generation++
			release()
			if s.pc != nil {
				if err := s.pc.Close(); err != nil {
					s.logger.Warn("Failed to close peer connection", "error", err)
				}
			}
			s.connected = false
			if s.state != StateClosed {
				s.state = StateClosed
			}
			s.events.emit(s.describe())
		})
		s.loop.stop()
		s.cancel()
		s.out.close()
		s.dropWatches()

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		if err := cleanup(ctx); err != nil {
			s.logger.Warn("Room cleanup failed", "error", err)
		}
		cancel()

		s.events.close()
		close(s.done)
		s.logger.Info("Session closed")
	})
	<-s.done
}

// closeOn tears the session down when ctx ends.
func (s *peerSession) closeOn(ctx context.Context, teardown func()) {
	go func() {
		select {
		case <-ctx.Done():
			teardown()
		case <-s.done:
		}
	}()
}
