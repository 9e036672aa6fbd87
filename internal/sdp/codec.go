// Package sdp rewrites session descriptions so that a preferred codec is
// negotiated first while every fallback codec stays available.
package sdp

import (
	"strconv"
	"strings"
)

const (
	videoMediaPrefix = "m=video"
	rtpmapPrefix     = "a=rtpmap:"

	// m=<media> <port> <proto> <fmt> ...
	mediaHeaderFields = 3
)

// PreferCodec reorders the payload type list of the m=video line so that the
// payload types mapped to codec come first. codec is a Name/ClockRate token
// such as "H264/90000" and is compared case-insensitively.
//
// Only the m=video line is rewritten. All other lines, including the rtpmap
// and fmtp lines of the deprioritized codecs, are returned byte for byte.
// A description without a video section, or without any payload type for the
// codec, is returned unchanged.
func PreferCodec(description, codec string) string {
	lines := strings.Split(description, "\n")

	videoLine := -1
	for i, line := range lines {
		if strings.HasPrefix(line, videoMediaPrefix) {
			videoLine = i
			break
		}
	}
	if videoLine < 0 {
		return description
	}

	preferred := payloadTypesFor(lines, codec)
	if len(preferred) == 0 {
		return description
	}

	line, terminator := splitTerminator(lines[videoLine])
	fields := strings.Split(line, " ")
	if len(fields) <= mediaHeaderFields {
		return description
	}

	header := fields[:mediaHeaderFields]
	var first, rest []string
	for _, pt := range fields[mediaHeaderFields:] {
		if _, ok := preferred[pt]; ok {
			first = append(first, pt)
		} else {
			rest = append(rest, pt)
		}
	}
	if len(first) == 0 {
		return description
	}

	reordered := make([]string, 0, len(fields))
	reordered = append(reordered, header...)
	reordered = append(reordered, first...)
	reordered = append(reordered, rest...)

	lines[videoLine] = strings.Join(reordered, " ") + terminator
	return strings.Join(lines, "\n")
}

// payloadTypesFor scans every rtpmap attribute and returns the payload types
// whose encoding matches codec.
func payloadTypesFor(lines []string, codec string) map[string]struct{} {
	want := encodingKey(codec)
	if want == "" {
		return nil
	}

	found := make(map[string]struct{})
	for _, raw := range lines {
		line, _ := splitTerminator(raw)
		if !strings.HasPrefix(line, rtpmapPrefix) {
			continue
		}
		pt, encoding, ok := strings.Cut(strings.TrimPrefix(line, rtpmapPrefix), " ")
		if !ok || pt == "" {
			continue
		}
		if strings.EqualFold(encodingKey(encoding), want) {
			found[pt] = struct{}{}
		}
	}
	return found
}

// encodingKey reduces an rtpmap encoding (Name/ClockRate[/Channels]) to its
// Name/ClockRate part.
func encodingKey(encoding string) string {
	parts := strings.Split(strings.TrimSpace(encoding), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + "/" + parts[1]
}

// splitTerminator separates a trailing carriage return so CRLF descriptions
// round-trip unchanged.
func splitTerminator(line string) (string, string) {
	if strings.HasSuffix(line, "\r") {
		return line[:len(line)-1], "\r"
	}
	return line, ""
}

// MatchesCodec reports whether an encoding name and clock rate, as pion
// lists them in a codec capability, denote codec.
func MatchesCodec(name string, clockRate uint32, codec string) bool {
	want := encodingKey(codec)
	return want != "" && strings.EqualFold(encodingKey(name+"/"+strconv.FormatUint(uint64(clockRate), 10)), want)
}
