package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
	"github.com/kalkanci/guvenlikkamerasi/internal/media"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
	"github.com/kalkanci/guvenlikkamerasi/internal/sdp"
)

const offerSDP = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 102\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=rtpmap:102 H264/90000\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

const answerSDP = "v=0\r\no=- 3 4 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

var (
	errSignaling     = errors.New("invalid signaling state")
	errModifiedOffer = errors.New("new sdp does not match previous offer")
)

// fakeSender records the tracks it was given.
type fakeSender struct {
	mu       sync.Mutex
	track    pion.TrackLocal
	replaced []pion.TrackLocal
}

func (s *fakeSender) ReplaceTrack(track pion.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	s.replaced = append(s.replaced, track)
	return nil
}

func (s *fakeSender) Track() pion.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) replacements() []pion.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pion.TrackLocal(nil), s.replaced...)
}

// fakePeer follows the offer/answer state machine closely enough to catch
// descriptions applied twice or in the wrong state. Like pion it only
// accepts the offer text it created last.
type fakePeer struct {
	mu           sync.Mutex
	signaling    pion.SignalingState
	preferred    string
	ignorePrefer bool
	offered      string
	local        *pion.SessionDescription
	remote       *pion.SessionDescription
	remoteSets   int
	candidates   []string
	senders      []*fakeSender
	transceivers []pion.RTPTransceiverDirection
	closed       bool

	onCandidate func(*pion.ICECandidateInit)
	onState     func(pion.PeerConnectionState)
	onTrack     func(media.RemoteTrack)
}

func newFakePeer() *fakePeer {
	return &fakePeer{signaling: pion.SignalingStateStable}
}

func (p *fakePeer) AddTrack(track pion.TrackLocal) (Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{track: track}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) AddTransceiver(kind pion.RTPCodecType, direction pion.RTPTransceiverDirection) (Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transceivers = append(p.transceivers, direction)
	if direction == pion.RTPTransceiverDirectionRecvonly {
		return nil, nil
	}
	s := &fakeSender{}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) PreferCodec(kind pion.RTPCodecType, codec string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kind == pion.RTPCodecTypeVideo && !p.ignorePrefer {
		p.preferred = codec
	}
	return nil
}

func (p *fakePeer) CreateOffer() (pion.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offered = offerSDP
	if p.preferred != "" {
		p.offered = sdp.PreferCodec(offerSDP, p.preferred)
	}
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: p.offered}, nil
}

func (p *fakePeer) CreateAnswer() (pion.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signaling != pion.SignalingStateHaveRemoteOffer {
		return pion.SessionDescription{}, errSignaling
	}
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answerSDP}, nil
}

func (p *fakePeer) SetLocalDescription(desc pion.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case desc.Type == pion.SDPTypeOffer && desc.SDP != p.offered:
		return errModifiedOffer
	case desc.Type == pion.SDPTypeOffer && p.signaling == pion.SignalingStateStable:
		p.signaling = pion.SignalingStateHaveLocalOffer
	case desc.Type == pion.SDPTypeAnswer && p.signaling == pion.SignalingStateHaveRemoteOffer:
		p.signaling = pion.SignalingStateStable
	default:
		return errSignaling
	}
	p.local = &desc
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc pion.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case desc.Type == pion.SDPTypeOffer && p.signaling == pion.SignalingStateStable:
		p.signaling = pion.SignalingStateHaveRemoteOffer
	case desc.Type == pion.SDPTypeAnswer && p.signaling == pion.SignalingStateHaveLocalOffer:
		p.signaling = pion.SignalingStateStable
	default:
		return errSignaling
	}
	p.remote = &desc
	p.remoteSets++
	return nil
}

func (p *fakePeer) RemoteDescription() *pion.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeer) SignalingState() pion.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaling
}

func (p *fakePeer) AddICECandidate(c pion.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	if c.Candidate == "bad" {
		return errors.New("malformed candidate")
	}
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(*pion.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(pion.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) OnTrack(fn func(media.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) fireState(state pion.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(state)
}

func (p *fakePeer) fireCandidate(candidate string) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	zero := uint16(0)
	mid := "0"
	fn(&pion.ICECandidateInit{Candidate: candidate, SDPMid: &mid, SDPMLineIndex: &zero})
}

func (p *fakePeer) fireTrack(track media.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(track)
}

func (p *fakePeer) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

func (p *fakePeer) remoteSetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSets
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) localSDP() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return ""
	}
	return p.local.SDP
}

func (p *fakePeer) sender(i int) *fakeSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.senders[i]
}

// fakeTrack is a capture track backed by a real static sample track.
type fakeTrack struct {
	local   *pion.TrackLocalStaticSample
	kind    pion.RTPCodecType
	facing  room.CameraFacing
	torch   bool
	torchOn atomic.Bool
	stopped atomic.Bool
}

func newFakeTrack(t *testing.T, kind pion.RTPCodecType, facing room.CameraFacing, torch bool) *fakeTrack {
	t.Helper()
	mime := pion.MimeTypeH264
	if kind == pion.RTPCodecTypeAudio {
		mime = pion.MimeTypeOpus
	}
	local, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: mime}, kind.String(), "kamera")
	require.NoError(t, err)
	return &fakeTrack{local: local, kind: kind, facing: facing, torch: torch}
}

func (t *fakeTrack) ID() string { return t.local.ID() }
func (t *fakeTrack) Kind() pion.RTPCodecType { return t.kind }
func (t *fakeTrack) Local() pion.TrackLocal { return t.local }
func (t *fakeTrack) Facing() room.CameraFacing { return t.facing }
func (t *fakeTrack) Stop() { t.stopped.Store(true) }
func (t *fakeTrack) Capabilities() media.Capabilities {
	return media.Capabilities{Torch: t.torch}
}

func (t *fakeTrack) SetTorch(on bool) error {
	if !t.torch {
		return media.ErrNotSupported
	}
	t.torchOn.Store(on)
	return nil
}

// fakeSource hands out fresh fake tracks and remembers them.
type fakeSource struct {
	t      *testing.T
	mu     sync.Mutex
	err    error
	issued []*fakeTrack
}

func (s *fakeSource) Acquire(ctx context.Context, c media.Constraints) (media.TrackSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return media.TrackSet{}, s.err
	}
	var set media.TrackSet
	if c.Video {
		v := newFakeTrack(s.t, pion.RTPCodecTypeVideo, c.Facing, false)
		s.issued = append(s.issued, v)
		set.Video = v
	}
	if c.Audio {
		a := newFakeTrack(s.t, pion.RTPCodecTypeAudio, "", false)
		s.issued = append(s.issued, a)
		set.Audio = a
	}
	return set, nil
}

func (s *fakeSource) tracks() []*fakeTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTrack(nil), s.issued...)
}

// fakeRemote stands in for a received track.
type fakeRemote struct {
	kind pion.RTPCodecType
}

func (r fakeRemote) ID() string              { return "remote-" + r.kind.String() }
func (r fakeRemote) Kind() pion.RTPCodecType { return r.kind }
func (r fakeRemote) Codec() pion.RTPCodecParameters {
	return pion.RTPCodecParameters{RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus}}
}

func (r fakeRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("not readable")
}

// collector drains an event stream.
type collector struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func collect(ch <-chan Event) *collector {
	c := &collector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for ev := range ch {
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *collector) last() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return Event{}
	}
	return c.events[len(c.events)-1]
}

func (c *collector) seen(match func(Event) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if match(ev) {
			return true
		}
	}
	return false
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// harness wires sessions to one in-memory store.
type harness struct {
	t     *testing.T
	store *mailbox.Store
	id    room.ID
	mu    sync.Mutex
	peers []*fakePeer
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, store: mailbox.NewStore(nil), id: "cam-1"}
}

func (h *harness) options(owner string) Options {
	return Options{
		Mailbox: h.store.Connect(owner),
		Room:    h.id,
		NewPeerConnection: func() (PeerConnection, error) {
			p := newFakePeer()
			h.mu.Lock()
			h.peers = append(h.peers, p)
			h.mu.Unlock()
			return p, nil
		},
		TelemetryInterval: time.Hour,
	}
}

func (h *harness) peer(i int) *fakePeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[i]
}

func (h *harness) exists(rel string) bool {
	snap, err := h.store.Get(h.id.Path(rel))
	require.NoError(h.t, err)
	return snap.Exists()
}

func (h *harness) decode(rel string, v any) {
	snap, err := h.store.Get(h.id.Path(rel))
	require.NoError(h.t, err)
	require.NoError(h.t, snap.Decode(v))
}

// watcherChannel and broadcasterChannel play a role by hand.
func (h *harness) watcherChannel(owner string) *room.WatcherChannel {
	return room.NewWatcherChannel(h.store.Connect(owner), h.id, nil)
}

func (h *harness) broadcasterChannel(owner string) *room.BroadcasterChannel {
	return room.NewBroadcasterChannel(h.store.Connect(owner), h.id, nil)
}
