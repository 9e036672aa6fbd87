// Package media supplies local tracks to a session and stores remote ones.
//
// A [Source] hands out [TrackSet]s for a set of [Constraints], the way a
// browser's getUserMedia would. [FileSource] streams looped media files
// and [Recorder] writes received tracks to disk.
package media

import (
	"context"
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/kalkanci/guvenlikkamerasi/internal/room"
)

var (
	ErrUnavailable   = errors.New("media unavailable")
	ErrNotSupported  = errors.New("constraint not supported")
	ErrTrackStopped  = errors.New("track stopped")
	ErrUnknownFormat = errors.New("unknown media format")
)

// Capabilities lists the optional controls a track supports.
type Capabilities struct {
	Torch bool
}

// Track is a local capture track.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType

	// Local is what gets attached to a peer connection sender.
	Local() webrtc.TrackLocal

	// Facing is the camera a video track comes from. Empty for audio.
	Facing() room.CameraFacing

	Capabilities() Capabilities

	// SetTorch switches the torch. Tracks without the capability return
	// ErrNotSupported.
	SetTorch(on bool) error

	// Stop releases the capture. It is idempotent.
	Stop()
}

// TrackSet is the result of one acquisition.
type TrackSet struct {
	Video Track
	Audio Track
}

// Tracks returns the non-nil tracks of the set.
func (s TrackSet) Tracks() []Track {
	var tracks []Track
	if s.Video != nil {
		tracks = append(tracks, s.Video)
	}
	if s.Audio != nil {
		tracks = append(tracks, s.Audio)
	}
	return tracks
}

// Empty reports whether the set holds no track.
func (s TrackSet) Empty() bool {
	return s.Video == nil && s.Audio == nil
}

// Stop stops every track of the set.
func (s TrackSet) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Constraints selects what to acquire.
type Constraints struct {
	Video  bool
	Audio  bool
	Facing room.CameraFacing
}

// Source acquires local tracks. Acquire may block for as long as the
// underlying device takes to open.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (TrackSet, error)
}

// RemoteTrack is a track received from the peer. *webrtc.TrackRemote
// implements it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}
