package session

import (
	"strings"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalkanci/guvenlikkamerasi/internal/config"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
	"github.com/kalkanci/guvenlikkamerasi/internal/sdp"
)

func codecParams(mime string, pt pion.PayloadType) pion.RTPCodecParameters {
	return pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: mime, ClockRate: 90000},
		PayloadType:        pt,
	}
}

func TestPreferCodecOrder(t *testing.T) {
	codecs := []pion.RTPCodecParameters{
		codecParams(pion.MimeTypeVP8, 96),
		codecParams(pion.MimeTypeRTX, 97),
		codecParams(pion.MimeTypeH264, 102),
		codecParams(pion.MimeTypeRTX, 103),
		codecParams(pion.MimeTypeH264, 106),
	}

	ordered, ok := preferCodec(codecs, "h264/90000")
	require.True(t, ok)
	var pts []pion.PayloadType
	for _, c := range ordered {
		pts = append(pts, c.PayloadType)
	}
	assert.Equal(t, []pion.PayloadType{102, 106, 96, 97, 103}, pts)

	_, ok = preferCodec(codecs, "AV1/90000")
	assert.False(t, ok)
}

// firstVideoPayload returns the first payload type of the m=video line and
// the encoding mapped to it.
func firstVideoPayload(t *testing.T, description string) (string, string) {
	t.Helper()
	var pt string
	for _, line := range strings.Split(description, "\r\n") {
		if strings.HasPrefix(line, "m=video ") {
			fields := strings.Fields(line)
			require.Greater(t, len(fields), 3, line)
			pt = fields[3]
		}
		if pt != "" && strings.HasPrefix(line, "a=rtpmap:"+pt+" ") {
			return pt, strings.TrimPrefix(line, "a=rtpmap:"+pt+" ")
		}
	}
	t.Fatalf("no video payload in %q", description)
	return "", ""
}

func TestPionOfferListsPreferredCodecFirst(t *testing.T) {
	pc, err := NewPeerConnection(&config.Config{}, nil)
	require.NoError(t, err)
	defer pc.Close()

	track := newFakeTrack(t, pion.RTPCodecTypeVideo, room.FacingEnvironment, false)
	_, err = pc.AddTrack(track.Local())
	require.NoError(t, err)
	require.NoError(t, pc.PreferCodec(pion.RTPCodecTypeVideo, DefaultPreferredCodec))

	offer, err := pc.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, offer.SDP, sdp.PreferCodec(offer.SDP, DefaultPreferredCodec))
	require.NoError(t, pc.SetLocalDescription(offer))

	_, encoding := firstVideoPayload(t, offer.SDP)
	assert.True(t, strings.HasPrefix(strings.ToUpper(encoding), "H264/90000"), encoding)
}

func TestBroadcastAndWatchOverPion(t *testing.T) {
	if testing.Short() {
		t.Skip("opens local network sockets")
	}

	h := newHarness(t)
	factory := func() (PeerConnection, error) {
		return NewPeerConnection(&config.Config{}, nil)
	}
	camera := h.options("camera")
	camera.NewPeerConnection = factory
	viewer := h.options("viewer")
	viewer.NewPeerConnection = factory

	_, _, _, bEvents := startBroadcaster(t, h, camera, false)

	var offer room.Offer
	h.decode(room.OfferPath, &offer)
	_, encoding := firstVideoPayload(t, offer.SDP)
	assert.True(t, strings.HasPrefix(strings.ToUpper(encoding), "H264/90000"), encoding)

	_, wEvents := startWatcher(t, viewer)

	connected := func(ev Event) bool { return ev.State == StateConnected && ev.Connected }
	require.Eventually(t, func() bool { return bEvents.seen(connected) }, 15*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return wEvents.seen(connected) }, 15*time.Second, 10*time.Millisecond)
	assert.True(t, bEvents.seen(func(ev Event) bool { return ev.Status == StatusLive }))
}
