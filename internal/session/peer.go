package session

import (
	"log/slog"
	"strings"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"

	"github.com/kalkanci/guvenlikkamerasi/internal/config"
	"github.com/kalkanci/guvenlikkamerasi/internal/logging"
	"github.com/kalkanci/guvenlikkamerasi/internal/media"
	"github.com/kalkanci/guvenlikkamerasi/internal/sdp"
	"github.com/kalkanci/guvenlikkamerasi/internal/utils"
)

// Sender is the outgoing side of a transceiver.
type Sender interface {
	ReplaceTrack(track pion.TrackLocal) error
	Track() pion.TrackLocal
}

// PeerConnection is the part of a pion peer connection a session drives.
type PeerConnection interface {
	AddTrack(track pion.TrackLocal) (Sender, error)

	// AddTransceiver returns a nil Sender for receive-only transceivers.
	AddTransceiver(kind pion.RTPCodecType, direction pion.RTPTransceiverDirection) (Sender, error)

	// PreferCodec puts codec first in the codec list of the sending
	// transceivers of kind, so offers created afterwards list it first.
	// Other codecs keep their order. Unknown codecs are ignored.
	PreferCodec(kind pion.RTPCodecType, codec string) error

	CreateOffer() (pion.SessionDescription, error)
	CreateAnswer() (pion.SessionDescription, error)
	SetLocalDescription(desc pion.SessionDescription) error
	SetRemoteDescription(desc pion.SessionDescription) error
	RemoteDescription() *pion.SessionDescription
	SignalingState() pion.SignalingState
	AddICECandidate(candidate pion.ICECandidateInit) error

	// OnICECandidate receives nil once gathering is complete.
	OnICECandidate(fn func(*pion.ICECandidateInit))
	OnConnectionStateChange(fn func(pion.PeerConnectionState))
	OnTrack(fn func(media.RemoteTrack))

	Close() error
}

// NewPeerConnection creates a pion peer connection with the ICE servers and
// relay policy from cfg. Pion's own logs go to logger.
func NewPeerConnection(cfg *config.Config, logger *slog.Logger) (PeerConnection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || utils.ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, NewError("register codecs", err)
	}

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, NewError("register interceptors", err)
	}

	var settings pion.SettingEngine
	settings.LoggerFactory = logging.PionFactory{Logger: logger}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(registry),
		pion.WithSettingEngine(settings),
	)

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *pion.PeerConnection
}

func (p *pionPeer) AddTrack(track pion.TrackLocal) (Sender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)
	return sender, nil
}

func (p *pionPeer) AddTransceiver(kind pion.RTPCodecType, direction pion.RTPTransceiverDirection) (Sender, error) {
	t, err := p.pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{Direction: direction})
	if err != nil {
		return nil, err
	}
	sender := t.Sender()
	if sender == nil {
		return nil, nil
	}
	go drainRTCP(sender)
	return sender, nil
}

// drainRTCP keeps the interceptors fed until the sender stops.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *pionPeer) PreferCodec(kind pion.RTPCodecType, codec string) error {
	for _, t := range p.pc.GetTransceivers() {
		sender := t.Sender()
		if t.Kind() != kind || sender == nil {
			continue
		}
		ordered, ok := preferCodec(sender.GetParameters().Codecs, codec)
		if !ok {
			continue
		}
		if err := t.SetCodecPreferences(ordered); err != nil {
			return err
		}
	}
	return nil
}

// preferCodec moves the codecs matching codec to the front. ok is false
// when none match.
func preferCodec(codecs []pion.RTPCodecParameters, codec string) ([]pion.RTPCodecParameters, bool) {
	var first, rest []pion.RTPCodecParameters
	for _, c := range codecs {
		_, name, _ := strings.Cut(c.MimeType, "/")
		if sdp.MatchesCodec(name, c.ClockRate, codec) {
			first = append(first, c)
		} else {
			rest = append(rest, c)
		}
	}
	if len(first) == 0 {
		return nil, false
	}
	return append(first, rest...), true
}

func (p *pionPeer) CreateOffer() (pion.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (pion.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc pion.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc pion.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) RemoteDescription() *pion.SessionDescription {
	return p.pc.RemoteDescription()
}

func (p *pionPeer) SignalingState() pion.SignalingState {
	return p.pc.SignalingState()
}

func (p *pionPeer) AddICECandidate(candidate pion.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) OnICECandidate(fn func(*pion.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(pion.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) OnTrack(fn func(media.RemoteTrack)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		fn(track)
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
