package sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func join(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

var offer = join(
	"v=0",
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1",
	"s=-",
	"t=0 0",
	"a=group:BUNDLE 0 1",
	"m=audio 9 UDP/TLS/RTP/SAVPF 111 0",
	"c=IN IP4 0.0.0.0",
	"a=rtpmap:111 opus/48000/2",
	"a=rtpmap:0 PCMU/8000",
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97 102 103 106 107",
	"c=IN IP4 0.0.0.0",
	"a=rtpmap:96 VP8/90000",
	"a=rtpmap:97 rtx/90000",
	"a=fmtp:97 apt=96",
	"a=rtpmap:102 H264/90000",
	"a=fmtp:102 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
	"a=rtpmap:103 rtx/90000",
	"a=rtpmap:106 h264/90000",
	"a=rtpmap:107 VP9/90000",
)

func videoLine(t *testing.T, description string) string {
	t.Helper()
	for _, line := range strings.Split(description, "\r\n") {
		if strings.HasPrefix(line, "m=video") {
			return line
		}
	}
	t.Fatalf("no m=video line in %q", description)
	return ""
}

func TestPreferCodecMovesMatchesFirst(t *testing.T) {
	got := PreferCodec(offer, "H264/90000")

	assert.Equal(t, "m=video 9 UDP/TLS/RTP/SAVPF 102 106 96 97 103 107", videoLine(t, got))
}

func TestPreferCodecLeavesOtherLinesIdentical(t *testing.T) {
	got := PreferCodec(offer, "H264/90000")

	before := strings.Split(offer, "\r\n")
	after := strings.Split(got, "\r\n")
	require.Len(t, after, len(before))
	for i := range before {
		if strings.HasPrefix(before[i], "m=video") {
			continue
		}
		assert.Equal(t, before[i], after[i], "line %d", i)
	}
	assert.True(t, strings.HasSuffix(got, "\r\n"))
}

func TestPreferCodecCaseInsensitive(t *testing.T) {
	got := PreferCodec(offer, "h264/90000")
	assert.Equal(t, "m=video 9 UDP/TLS/RTP/SAVPF 102 106 96 97 103 107", videoLine(t, got))

	got = PreferCodec(offer, "vp9/90000")
	assert.Equal(t, "m=video 9 UDP/TLS/RTP/SAVPF 107 96 97 102 103 106", videoLine(t, got))
}

func TestPreferCodecRequiresClockRate(t *testing.T) {
	assert.Equal(t, offer, PreferCodec(offer, "H264/48000"))
	assert.Equal(t, offer, PreferCodec(offer, "H264"))
}

func TestPreferCodecWithoutVideoIsIdentity(t *testing.T) {
	audioOnly := join(
		"v=0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"a=rtpmap:111 opus/48000/2",
		"a=rtpmap:102 H264/90000",
	)
	assert.Equal(t, audioOnly, PreferCodec(audioOnly, "H264/90000"))
	assert.Equal(t, "", PreferCodec("", "H264/90000"))
}

func TestPreferCodecWithoutMatchIsIdentity(t *testing.T) {
	assert.Equal(t, offer, PreferCodec(offer, "AV1/90000"))
}

func TestPreferCodecIsIdempotent(t *testing.T) {
	once := PreferCodec(offer, "H264/90000")
	assert.Equal(t, once, PreferCodec(once, "H264/90000"))
}

func TestPreferCodecGroupsKeepRelativeOrder(t *testing.T) {
	cases := []struct {
		name  string
		mline string
		want  string
	}{
		{"already first", "m=video 9 RTP/AVP 102 96", "m=video 9 RTP/AVP 102 96"},
		{"last", "m=video 9 RTP/AVP 96 97 102", "m=video 9 RTP/AVP 102 96 97"},
		{"interleaved", "m=video 9 RTP/AVP 96 102 97 106 98", "m=video 9 RTP/AVP 102 106 96 97 98"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			description := join(
				"v=0",
				tc.mline,
				"a=rtpmap:96 VP8/90000",
				"a=rtpmap:97 rtx/90000",
				"a=rtpmap:98 VP9/90000",
				"a=rtpmap:102 H264/90000",
				"a=rtpmap:106 H264/90000",
			)
			assert.Equal(t, tc.want, videoLine(t, PreferCodec(description, "H264/90000")))
		})
	}
}

func TestPreferCodecHandlesBareLineFeeds(t *testing.T) {
	description := "v=0\nm=video 9 RTP/AVP 96 102\na=rtpmap:96 VP8/90000\na=rtpmap:102 H264/90000\n"
	want := "v=0\nm=video 9 RTP/AVP 102 96\na=rtpmap:96 VP8/90000\na=rtpmap:102 H264/90000\n"
	assert.Equal(t, want, PreferCodec(description, "H264/90000"))
}

func TestMatchesCodec(t *testing.T) {
	assert.True(t, MatchesCodec("H264", 90000, "H264/90000"))
	assert.True(t, MatchesCodec("h264", 90000, "H264/90000"))
	assert.True(t, MatchesCodec("opus", 48000, "OPUS/48000/2"))
	assert.False(t, MatchesCodec("H264", 48000, "H264/90000"))
	assert.False(t, MatchesCodec("VP8", 90000, "H264/90000"))
	assert.False(t, MatchesCodec("H264", 90000, "H264"))
}
