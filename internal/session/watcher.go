package session

import (
	"context"

	pion "github.com/pion/webrtc/v4"

	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
	"github.com/kalkanci/guvenlikkamerasi/internal/media"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
)

// Watcher receives a room's stream and drives its controls.
type Watcher struct {
	s       *peerSession
	channel *room.WatcherChannel

	// Owned by the loop.
	offerApplied bool
	audioSender  Sender
	controls     room.Controls
	telemetry    *room.DeviceStatus
	talk         media.Track
	talkPending  bool
	talkSeq      uint64
}

// StartWatch joins a room and answers the Broadcaster's offer once it is
// there. It ends on Teardown or when ctx is done.
func StartWatch(ctx context.Context, opts Options) (*Watcher, error) {
	if err := opts.validate("start watch"); err != nil {
		return nil, err
	}

	s := newPeerSession(RoleWatcher, opts)
	w := &Watcher{
		s:        s,
		channel:  room.NewWatcherChannel(opts.Mailbox, opts.Room, s.logger),
		controls: room.Controls{CameraFacing: room.FacingEnvironment},
	}
	s.describe = w.event

	var err error
	s.loop.call(func() {
		err = w.start()
	})
	if err != nil {
		w.Teardown()
		return nil, err
	}

	s.closeOn(ctx, w.Teardown)
	return w, nil
}

func (w *Watcher) start() error {
	s := w.s
	s.setState(StateInitializing)
	s.status = StatusJoining
	s.events.emit(w.event())

	pc, err := s.opts.NewPeerConnection()
	if err != nil {
		return w.fail(NewRoomError("create peer connection", s.opts.Room.String(), err))
	}
	s.pc = pc
	s.wirePeer(pc, w.channel.PushCandidate, w.remoteTrack, StatusWatching)

	if _, err := pc.AddTransceiver(pion.RTPCodecTypeVideo, pion.RTPTransceiverDirectionRecvonly); err != nil {
		return w.fail(WrapError("add transceiver", err, "video"))
	}
	if w.audioSender, err = pc.AddTransceiver(pion.RTPCodecTypeAudio, pion.RTPTransceiverDirectionSendrecv); err != nil {
		return w.fail(WrapError("add transceiver", err, "audio"))
	}

	s.setState(StateAwaitingRemote)

	gen := s.generation
	s.watch("watch offer", func(ctx context.Context) (mailbox.Unsubscribe, error) {
		return w.channel.WatchOffer(ctx, func(o *room.Offer) {
			s.post(gen, func() { w.offer(o) })
		})
	})
	s.watch("watch candidates", func(ctx context.Context) (mailbox.Unsubscribe, error) {
		return w.channel.WatchCandidates(ctx, func(c room.Candidate) {
			s.post(gen, func() { s.remoteCandidate(c) })
		})
	})
	s.watch("watch status", func(ctx context.Context) (mailbox.Unsubscribe, error) {
		return w.channel.WatchStatus(ctx, func(st *room.DeviceStatus) {
			s.post(gen, func() { w.status(st) })
		})
	})

	s.logger.Info("Watch started")
	return nil
}

func (w *Watcher) fail(err error) error {
	w.s.status = StatusConnectionFailed
	ev := w.event()
	ev.Err = err
	w.s.events.emit(ev)
	return err
}

func (w *Watcher) event() Event {
	ev := w.s.event()
	ev.Telemetry = w.telemetry
	ev.Talking = w.talk != nil
	controls := w.controls
	ev.Controls = &controls
	return ev
}

// offer answers the Broadcaster's offer. An empty offer means the camera
// is not there.
func (w *Watcher) offer(o *room.Offer) {
	s := w.s
	if o == nil || o.SDP == "" {
		s.logger.Info("No offer in room")
		s.connected = false
		s.setState(StateDegraded)
		s.status = StatusOffline
		s.events.emit(w.event())
		return
	}
	if w.offerApplied {
		return
	}
	if s.pc.SignalingState() != pion.SignalingStateStable || s.pc.RemoteDescription() != nil {
		s.logger.Debug("Ignoring offer", "signaling", s.pc.SignalingState().String())
		return
	}

	desc := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: o.SDP}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		s.logger.Warn("Failed to apply offer", "error", err)
		return
	}
	w.offerApplied = true
	s.setState(StateNegotiating)
	s.status = StatusConnecting
	s.drainQueue()

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		s.logger.Warn("Failed to create answer", "error", err)
		s.events.emit(w.event())
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.logger.Warn("Failed to set local description", "error", err)
		s.events.emit(w.event())
		return
	}
	published := room.Answer{Type: answer.Type.String(), SDP: answer.SDP}
	s.out.send("publish answer", func(ctx context.Context) error {
		return w.channel.PublishAnswer(ctx, published)
	})
	s.events.emit(w.event())
}

func (w *Watcher) status(st *room.DeviceStatus) {
	if st == nil {
		return
	}
	w.telemetry = st
	w.s.events.emit(w.event())
}

func (w *Watcher) remoteTrack(track media.RemoteTrack) {
	s := w.s
	s.logger.Info("Remote track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	ev := w.event()
	ev.RemoteTrack = track
	s.events.emit(ev)
}

// SetTorch asks the camera to switch its torch. The camera facing is
// always sent as environment along with it.
func (w *Watcher) SetTorch(on bool) error {
	return w.publishControls("set torch", func(c *room.Controls) {
		c.Torch = on
		c.CameraFacing = room.FacingEnvironment
	})
}

// SetCameraFacing asks the camera to switch to facing, keeping the torch.
func (w *Watcher) SetCameraFacing(facing room.CameraFacing) error {
	if !facing.Valid() {
		return WrapError("set camera facing", ErrInvalidFacing, string(facing))
	}
	return w.publishControls("set camera facing", func(c *room.Controls) {
		c.CameraFacing = facing
	})
}

// Controls returns the last controls this Watcher sent.
func (w *Watcher) Controls() room.Controls {
	var c room.Controls
	w.s.loop.call(func() { c = w.controls })
	return c
}

func (w *Watcher) publishControls(op string, change func(*room.Controls)) error {
	s := w.s
	err := ErrClosed
	s.loop.call(func() {
		if s.closed {
			return
		}
		err = nil
		change(&w.controls)
		controls := w.controls
		s.out.send(op, func(ctx context.Context) error {
			return w.channel.PublishControls(ctx, controls)
		})
		s.events.emit(w.event())
	})
	if err != nil {
		return NewRoomError(op, s.opts.Room.String(), err)
	}
	return nil
}

// PushToTalkStart acquires the microphone and sends it to the camera. The
// acquisition completes asynchronously; failures arrive as events.
func (w *Watcher) PushToTalkStart() error {
	s := w.s
	err := ErrClosed
	s.loop.call(func() {
		if s.closed {
			return
		}
		err = nil
		if w.talk != nil || w.talkPending {
			return
		}
		if s.opts.Media == nil {
			err = ErrNoMediaSource
			return
		}

		w.talkSeq++
		w.talkPending = true
		seq := w.talkSeq
		gen := s.generation
		ctx := s.ctx
		source := s.opts.Media
		go func() {
			set, acquireErr := source.Acquire(ctx, media.Constraints{Audio: true})
			ran := s.loop.call(func() {
				w.talkAcquired(gen, seq, set, acquireErr)
			})
			if !ran && acquireErr == nil {
				set.Stop()
			}
		}()
	})
	if err != nil {
		return NewRoomError("push to talk", s.opts.Room.String(), err)
	}
	return nil
}

func (w *Watcher) talkAcquired(gen, seq uint64, set media.TrackSet, err error) {
	s := w.s
	if !s.current(gen) || seq != w.talkSeq {
		set.Stop()
		return
	}
	w.talkPending = false

	if err == nil && set.Audio == nil {
		set.Stop()
		err = media.ErrUnavailable
	}
	if err != nil {
		s.logger.Error("Failed to acquire microphone", "error", err)
		ev := w.event()
		ev.Err = WrapError("push to talk", ErrCaptureFailed, err.Error())
		s.events.emit(ev)
		return
	}
	if set.Video != nil {
		set.Video.Stop()
	}

	track := set.Audio
	if w.audioSender != nil {
		err = w.audioSender.ReplaceTrack(track.Local())
	} else {
		w.audioSender, err = s.pc.AddTrack(track.Local())
	}
	if err != nil {
		s.logger.Error("Failed to attach microphone", "error", err)
		track.Stop()
		ev := w.event()
		ev.Err = NewError("push to talk", err)
		s.events.emit(ev)
		return
	}

	w.talk = track
	s.logger.Info("Push to talk started")
	s.events.emit(w.event())
}

// PushToTalkStop stops the microphone. The sender stays attached without
// a track.
func (w *Watcher) PushToTalkStop() {
	s := w.s
	s.loop.call(func() {
		w.talkSeq++
		w.talkPending = false
		if w.talk == nil {
			return
		}
		w.stopTalk()
		s.logger.Info("Push to talk stopped")
		s.events.emit(w.event())
	})
}

func (w *Watcher) stopTalk() {
	if w.talk == nil {
		return
	}
	if w.audioSender != nil {
		if err := w.audioSender.ReplaceTrack(nil); err != nil {
			w.s.logger.Warn("Failed to detach microphone", "error", err)
		}
	}
	w.talk.Stop()
	w.talk = nil
}

// Events returns the session's event stream. It is closed after Teardown.
func (w *Watcher) Events() <-chan Event {
	return w.s.events.ch
}

// Done is closed once the session is torn down.
func (w *Watcher) Done() <-chan struct{} {
	return w.s.done
}

// Room returns the watched room.
func (w *Watcher) Room() room.ID {
	return w.s.opts.Room
}

// Teardown stops the microphone, closes the connection and deletes the
// controls this Watcher wrote. It is safe to call more than once.
func (w *Watcher) Teardown() {
	w.s.teardown(func() {
		w.talkSeq++
		w.stopTalk()
	}, w.channel.Cleanup)
}
