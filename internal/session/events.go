package session

import (
	"sync"

	"github.com/kalkanci/guvenlikkamerasi/internal/media"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
)

// Status strings shown to the operator.
const (
	StatusPreparing         = "Preparing..."
	StatusWaiting           = "Waiting for connection..."
	StatusConnecting        = "Connecting..."
	StatusLive              = "LIVE"
	StatusConnectionLost    = "Connection lost"
	StatusCameraUnavailable = "Camera unavailable"
	StatusConnectionFailed  = "Connection failed"
	StatusJoining           = "Connecting to camera..."
	StatusOffline           = "Camera offline"
	StatusWatching          = ""
)

// Event is a snapshot of a session, sent whenever something a viewer
// would render changes.
type Event struct {
	Role   Role
	State  State
	Status string

	// Connected is the active remote peer flag.
	Connected bool

	// RemoteAudioAvailable is set on the Broadcaster once talkback audio
	// arrived.
	RemoteAudioAvailable bool

	// RemoteTrack is set on the event announcing a newly received track.
	RemoteTrack media.RemoteTrack

	// LocalTracks is set when the Broadcaster's outgoing tracks changed.
	LocalTracks *media.TrackSet

	Telemetry *room.DeviceStatus
	Controls  *room.Controls
	Talking   bool

	// Err carries capture failures and other actionable errors.
	Err error
}

const eventBuffer = 64

// emitter is a buffered event channel that drops the oldest event rather
// than block the session loop.
type emitter struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newEmitter() *emitter {
	return &emitter{ch: make(chan Event, eventBuffer)}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for {
		select {
		case e.ch <- ev:
			return
		default:
		}
		select {
		case <-e.ch:
		default:
		}
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
