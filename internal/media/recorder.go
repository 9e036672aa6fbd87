package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/kalkanci/guvenlikkamerasi/internal/utils"
)

type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Recorder writes received tracks to files in Dir: VP8 and VP9 to IVF,
// H.264 to an Annex-B stream and Opus to Ogg.
type Recorder struct {
	Dir    string
	Prefix string
	Logger *slog.Logger
	Now    func() time.Time
}

// Path returns the file a track with the given codec would be written to.
func (r *Recorder) Path(kind webrtc.RTPCodecType, mimeType string) (string, error) {
	ext, err := extension(mimeType)
	if err != nil {
		return "", err
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	name := kind.String() + "-" + now().Format("20060102-150405") + ext
	if r.Prefix != "" {
		name = r.Prefix + "-" + name
	}
	return filepath.Join(r.Dir, name), nil
}

func extension(mimeType string) (string, error) {
	switch strings.ToLower(mimeType) {
	case strings.ToLower(webrtc.MimeTypeVP8), strings.ToLower(webrtc.MimeTypeVP9):
		return ".ivf", nil
	case strings.ToLower(webrtc.MimeTypeH264):
		return ".h264", nil
	case strings.ToLower(webrtc.MimeTypeOpus):
		return ".ogg", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, mimeType)
}

func newWriter(path string, codec webrtc.RTPCodecParameters) (rtpWriter, error) {
	switch strings.ToLower(codec.MimeType) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		return ivfwriter.New(path, ivfwriter.WithCodec(webrtc.MimeTypeVP8))
	case strings.ToLower(webrtc.MimeTypeVP9):
		return ivfwriter.New(path, ivfwriter.WithCodec(webrtc.MimeTypeVP9))
	case strings.ToLower(webrtc.MimeTypeH264):
		return h264writer.New(path)
	case strings.ToLower(webrtc.MimeTypeOpus):
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		rate := codec.ClockRate
		if rate == 0 {
			rate = opusSampleRate
		}
		return oggwriter.New(path, rate, channels)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, codec.MimeType)
}

// Record writes track until it ends and returns the file path. It blocks
// for the life of the track.
func (r *Recorder) Record(track RemoteTrack) (string, error) {
	codec := track.Codec()
	path, err := r.Path(track.Kind(), codec.MimeType)
	if err != nil {
		return "", err
	}
	if r.Dir != "" {
		if err := os.MkdirAll(r.Dir, 0o755); err != nil {
			return "", err
		}
	}
	path = utils.UniquePath(path)

	w, err := newWriter(path, codec)
	if err != nil {
		return "", err
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("path", path, "codec", codec.MimeType)
	logger.Info("Recording track")

	packets := 0
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if closeErr := w.Close(); closeErr != nil {
				logger.Warn("Failed to close recording", "error", closeErr)
			}
			logger.Info("Recording finished", "packets", packets)
			if errors.Is(err, io.EOF) {
				return path, nil
			}
			return path, err
		}
		if err := w.WriteRTP(packet); err != nil {
			logger.Warn("Dropping packet", "error", err)
			continue
		}
		packets++
	}
}
