package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/kalkanci/guvenlikkamerasi/internal/room"
)

const (
	h264FrameDuration = time.Second / 30
	oggPageDuration   = 20 * time.Millisecond
	opusSampleRate    = 48000
	streamID          = "kamera"
)

// FileSource plays media files in a loop as if they were a camera and a
// microphone. Supported formats are IVF (VP8, VP9) and Annex-B H.264 for
// video and Ogg/Opus for audio. File tracks have no torch.
type FileSource struct {
	// Video maps a facing to its file. A facing without a file falls back
	// to the environment camera.
	Video  map[room.CameraFacing]string
	Audio  string
	Logger *slog.Logger
}

func (s *FileSource) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *FileSource) Acquire(ctx context.Context, c Constraints) (TrackSet, error) {
	if err := ctx.Err(); err != nil {
		return TrackSet{}, err
	}
	var set TrackSet
	if c.Video {
		facing := c.Facing
		if !facing.Valid() {
			facing = room.FacingEnvironment
		}
		path := s.Video[facing]
		if path == "" {
			path = s.Video[room.FacingEnvironment]
			if path != "" {
				s.logger().Info("No file for camera, using environment", "facing", string(facing))
			}
		}
		if path == "" {
			return TrackSet{}, fmt.Errorf("%w: no video file", ErrUnavailable)
		}
		track, err := openFileTrack(path, facing, s.logger())
		if err != nil {
			return TrackSet{}, err
		}
		set.Video = track
	}
	if c.Audio {
		if s.Audio == "" {
			set.Stop()
			return TrackSet{}, fmt.Errorf("%w: no audio file", ErrUnavailable)
		}
		track, err := openFileTrack(s.Audio, "", s.logger())
		if err != nil {
			set.Stop()
			return TrackSet{}, err
		}
		set.Audio = track
	}
	if set.Empty() {
		return TrackSet{}, fmt.Errorf("%w: nothing requested", ErrNotSupported)
	}
	return set, nil
}

// player writes one pass over a file into a track and returns the number
// of samples written.
type player func(ctx context.Context, r io.Reader, track *webrtc.TrackLocalStaticSample) (int, error)

// probe inspects path and returns its codec and player.
func probe(path string) (string, player, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ivf":
		f, err := os.Open(path)
		if err != nil {
			return "", nil, err
		}
		defer f.Close()
		_, header, err := ivfreader.NewWith(f)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
		}
		switch header.FourCC {
		case "VP80":
			return webrtc.MimeTypeVP8, playIVF, nil
		case "VP90":
			return webrtc.MimeTypeVP9, playIVF, nil
		}
		return "", nil, fmt.Errorf("%w: ivf fourcc %q", ErrUnknownFormat, header.FourCC)
	case ".h264", ".264":
		return webrtc.MimeTypeH264, playH264, nil
	case ".ogg", ".opus":
		return webrtc.MimeTypeOpus, playOgg, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(path))
}

func playIVF(ctx context.Context, r io.Reader, track *webrtc.TrackLocalStaticSample) (int, error) {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return 0, err
	}
	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}
	return pace(ctx, frameDuration, func() (bool, error) {
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration})
	})
}

func playH264(ctx context.Context, r io.Reader, track *webrtc.TrackLocalStaticSample) (int, error) {
	h264, err := h264reader.NewReader(r)
	if err != nil {
		return 0, err
	}
	return pace(ctx, h264FrameDuration, func() (bool, error) {
		nal, err := h264.NextNAL()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, track.WriteSample(pionmedia.Sample{Data: nal.Data, Duration: h264FrameDuration})
	})
}

func playOgg(ctx context.Context, r io.Reader, track *webrtc.TrackLocalStaticSample) (int, error) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return 0, err
	}
	var lastGranule uint64
	return pace(ctx, oggPageDuration, func() (bool, error) {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))
		return true, track.WriteSample(pionmedia.Sample{Data: page, Duration: duration})
	})
}

// pace calls next once per interval until it reports the end of input.
func pace(ctx context.Context, interval time.Duration, next func() (bool, error)) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 0; ; n++ {
		more, err := next()
		if err != nil || !more {
			return n, err
		}
		select {
		case <-ctx.Done():
			return n + 1, nil
		case <-ticker.C:
		}
	}
}

// fileTrack is a looped file played into a static sample track.
type fileTrack struct {
	local  *webrtc.TrackLocalStaticSample
	kind   webrtc.RTPCodecType
	facing room.CameraFacing
	cancel context.CancelFunc
	once   sync.Once
}

func openFileTrack(path string, facing room.CameraFacing, logger *slog.Logger) (*fileTrack, error) {
	mime, play, err := probe(path)
	if err != nil {
		return nil, err
	}
	kind := webrtc.RTPCodecTypeVideo
	if mime == webrtc.MimeTypeOpus {
		kind = webrtc.RTPCodecTypeAudio
		facing = ""
	}

	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind.String()+"-"+uuid.NewString()[:8], streamID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &fileTrack{local: local, kind: kind, facing: facing, cancel: cancel}
	logger = logger.With("file", filepath.Base(path), "codec", mime)
	go t.loop(ctx, path, play, logger)
	return t, nil
}

func (t *fileTrack) loop(ctx context.Context, path string, play player, logger *slog.Logger) {
	logger.Debug("Playing media file")
	for ctx.Err() == nil {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("Failed to open media file", "error", err)
			return
		}
		n, err := play(ctx, f, t.local)
		f.Close()
		if err != nil {
			logger.Error("Media file playback stopped", "error", err)
			return
		}
		if n == 0 {
			logger.Warn("Media file has no samples")
			return
		}
	}
}

func (t *fileTrack) ID() string { return t.local.ID() }

func (t *fileTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *fileTrack) Local() webrtc.TrackLocal { return t.local }

func (t *fileTrack) Facing() room.CameraFacing { return t.facing }

func (t *fileTrack) Capabilities() Capabilities { return Capabilities{} }

func (t *fileTrack) SetTorch(bool) error { return ErrNotSupported }

func (t *fileTrack) Stop() { t.once.Do(t.cancel) }
