package session

import (
	"context"

	pion "github.com/pion/webrtc/v4"

	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
	"github.com/kalkanci/guvenlikkamerasi/internal/media"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
	"github.com/kalkanci/guvenlikkamerasi/internal/sdp"
)

// Broadcaster streams local tracks into a room.
type Broadcaster struct {
	s       *peerSession
	channel *room.BroadcasterChannel

	// Owned by the loop.
	tracks        media.TrackSet
	videoSender   Sender
	audioSender   Sender
	answerApplied bool
	torch         bool
	acquiring     bool
	pendingFacing room.CameraFacing
	remoteAudio   bool
}

// StartBroadcast resets the room, publishes an offer for tracks and starts
// listening for a Watcher. The session owns tracks from here on. It ends
// on Teardown or when ctx is done.
func StartBroadcast(ctx context.Context, opts Options, tracks media.TrackSet) (*Broadcaster, error) {
	if err := opts.validate("start broadcast"); err != nil {
		return nil, err
	}
	if tracks.Empty() {
		return nil, NewRoomError("start broadcast", opts.Room.String(), ErrNoTracks)
	}

	s := newPeerSession(RoleBroadcaster, opts)
	b := &Broadcaster{
		s:       s,
		channel: room.NewBroadcasterChannel(opts.Mailbox, opts.Room, s.logger),
		tracks:  tracks,
	}
	s.describe = b.event

	var err error
	s.loop.call(func() {
		err = b.start()
	})
	if err != nil {
		b.Teardown()
		return nil, err
	}

	go b.runTelemetry(s.ctx)
	s.closeOn(ctx, b.Teardown)
	return b, nil
}

func (b *Broadcaster) start() error {
	s := b.s
	s.setState(StateInitializing)
	s.status = StatusPreparing
	s.events.emit(b.event())

	s.out.send("reset room", b.channel.Reset)

	pc, err := s.opts.NewPeerConnection()
	if err != nil {
		return b.fail(NewRoomError("create peer connection", s.opts.Room.String(), err))
	}
	s.pc = pc
	s.wirePeer(pc, b.channel.PushCandidate, b.remoteTrack, StatusLive)

	if b.tracks.Video != nil {
		if b.videoSender, err = pc.AddTrack(b.tracks.Video.Local()); err != nil {
			return b.fail(WrapError("add track", err, "video"))
		}
	}
	if b.tracks.Audio != nil {
		if b.audioSender, err = pc.AddTrack(b.tracks.Audio.Local()); err != nil {
			return b.fail(WrapError("add track", err, "audio"))
		}
	}

	codec := s.opts.PreferredCodec
	if b.videoSender != nil {
		if err := pc.PreferCodec(pion.RTPCodecTypeVideo, codec); err != nil {
			s.logger.Warn("Failed to prefer codec", "codec", codec, "error", err)
		}
	}

	offer, err := pc.CreateOffer()
	if err != nil {
		return b.fail(NewError("create offer", err))
	}
	// The connection only accepts the offer text it created, so the codec
	// order has to come from PreferCodec. The rewrite must be a no-op here.
	if rewritten := sdp.PreferCodec(offer.SDP, codec); rewritten != offer.SDP {
		s.logger.Warn("Offer does not list the preferred codec first", "codec", codec)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return b.fail(NewError("set local description", err))
	}
	published := room.Offer{Type: offer.Type.String(), SDP: offer.SDP}
	s.out.send("publish offer", func(ctx context.Context) error {
		return b.channel.PublishOffer(ctx, published)
	})

	s.setState(StateAwaitingRemote)
	s.status = StatusWaiting
	s.events.emit(b.event())

	gen := s.generation
	s.watch("watch answer", func(ctx context.Context) (mailbox.Unsubscribe, error) {
		return b.channel.WatchAnswer(ctx, func(a *room.AnswerEnvelope) {
			s.post(gen, func() { b.answer(a) })
		})
	})
	s.watch("watch candidates", func(ctx context.Context) (mailbox.Unsubscribe, error) {
		return b.channel.WatchCandidates(ctx, func(c room.Candidate) {
			s.post(gen, func() { s.remoteCandidate(c) })
		})
	})
	s.watch("watch controls", func(ctx context.Context) (mailbox.Unsubscribe, error) {
		return b.channel.WatchControls(ctx, func(c *room.Controls) {
			s.post(gen, func() { b.controls(c) })
		})
	})

	s.logger.Info("Broadcast started")
	return nil
}

func (b *Broadcaster) fail(err error) error {
	b.s.status = StatusConnectionFailed
	ev := b.event()
	ev.Err = err
	b.s.events.emit(ev)
	return err
}

func (b *Broadcaster) event() Event {
	ev := b.s.event()
	ev.RemoteAudioAvailable = b.remoteAudio
	return ev
}

// answer applies the Watcher's answer once per offer.
func (b *Broadcaster) answer(a *room.AnswerEnvelope) {
	s := b.s
	if a == nil || a.Answer.SDP == "" || b.answerApplied {
		return
	}
	if s.pc.SignalingState() == pion.SignalingStateStable {
		s.logger.Debug("Ignoring answer in stable state")
		return
	}

	desc := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: a.Answer.SDP}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		s.logger.Warn("Failed to apply answer", "error", err)
		return
	}
	b.answerApplied = true
	s.drainQueue()

	if s.setState(StateNegotiating) {
		s.status = StatusConnecting
		s.events.emit(b.event())
	}
}

func (b *Broadcaster) controls(c *room.Controls) {
	if c == nil {
		return
	}
	b.torch = c.Torch
	b.applyTorch()

	if c.CameraFacing.Valid() {
		b.switchFacing(c.CameraFacing)
	}

	ev := b.event()
	ev.Controls = c
	b.s.events.emit(ev)
}

// applyTorch sets the torch on the current video track. Tracks without
// the capability are left alone.
func (b *Broadcaster) applyTorch() {
	video := b.tracks.Video
	if video == nil || !video.Capabilities().Torch {
		b.s.logger.Debug("Torch not supported by video track")
		return
	}
	if err := video.SetTorch(b.torch); err != nil {
		b.s.logger.Warn("Failed to set torch", "error", err)
	}
}

func (b *Broadcaster) facing() room.CameraFacing {
	if b.tracks.Video == nil {
		return ""
	}
	return b.tracks.Video.Facing()
}

// switchFacing re-acquires the camera with facing f and swaps it into the
// video sender. Requests arriving during an acquisition are coalesced.
func (b *Broadcaster) switchFacing(f room.CameraFacing) {
	s := b.s
	if b.acquiring {
		b.pendingFacing = f
		return
	}
	if f == b.facing() || b.videoSender == nil {
		return
	}
	if s.opts.Media == nil {
		s.logger.Warn("Cannot switch camera", "error", ErrNoMediaSource)
		return
	}

	s.logger.Info("Switching camera", "facing", string(f))
	b.acquiring = true
	b.pendingFacing = ""
	if b.tracks.Video != nil {
		b.tracks.Video.Stop()
	}

	gen := s.generation
	ctx := s.ctx
	source := s.opts.Media
	go func() {
		set, err := source.Acquire(ctx, media.Constraints{Video: true, Facing: f})
		ran := s.loop.call(func() {
			b.facingAcquired(gen, f, set, err)
		})
		if !ran && err == nil {
			set.Stop()
		}
	}()
}

func (b *Broadcaster) facingAcquired(gen uint64, f room.CameraFacing, set media.TrackSet, err error) {
	s := b.s
	b.acquiring = false
	if !s.current(gen) {
		set.Stop()
		return
	}

	if err == nil && set.Video == nil {
		set.Stop()
		err = media.ErrUnavailable
	}
	if err != nil {
		s.logger.Error("Failed to acquire camera", "facing", string(f), "error", err)
		s.status = StatusCameraUnavailable
		ev := b.event()
		ev.Err = WrapError("switch camera", ErrCaptureFailed, err.Error())
		s.events.emit(ev)
		return
	}

	if set.Audio != nil {
		set.Audio.Stop()
	}
	if err := b.videoSender.ReplaceTrack(set.Video.Local()); err != nil {
		s.logger.Error("Failed to replace video track", "error", err)
		set.Video.Stop()
		return
	}
	b.tracks.Video = set.Video
	b.applyTorch()

	ev := b.event()
	tracks := b.tracks
	ev.LocalTracks = &tracks
	s.events.emit(ev)

	if next := b.pendingFacing; next != "" {
		b.pendingFacing = ""
		b.switchFacing(next)
	}
}

func (b *Broadcaster) remoteTrack(track media.RemoteTrack) {
	s := b.s
	s.logger.Info("Remote track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	if track.Kind() == pion.RTPCodecTypeAudio {
		b.remoteAudio = true
	}
	ev := b.event()
	ev.RemoteTrack = track
	s.events.emit(ev)
}

// Events returns the session's event stream. It is closed after Teardown.
func (b *Broadcaster) Events() <-chan Event {
	return b.s.events.ch
}

// Done is closed once the session is torn down.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.s.done
}

// Room returns the room being broadcast.
func (b *Broadcaster) Room() room.ID {
	return b.s.opts.Room
}

// Teardown stops the local tracks, closes the connection and deletes the
// room. It is safe to call more than once and from any goroutine.
func (b *Broadcaster) Teardown() {
	b.s.teardown(func() {
		b.tracks.Stop()
	}, b.channel.Cleanup)
}
