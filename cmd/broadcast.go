package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalkanci/guvenlikkamerasi/internal/config"
	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
	"github.com/kalkanci/guvenlikkamerasi/internal/media"
	"github.com/kalkanci/guvenlikkamerasi/internal/power"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
	"github.com/kalkanci/guvenlikkamerasi/internal/session"
	"github.com/kalkanci/guvenlikkamerasi/internal/ui"
)

var (
	flagVideo         string
	flagVideoUser     string
	flagAudio         string
	flagCodec         string
	flagTelemetry     time.Duration
	flagPowerRoot     string
	flagRecordTalk    string
	flagBroadcastText bool
)

var broadcastCmd = &cobra.Command{
	Use:     "broadcast [room-id]",
	Aliases: []string{"b", "camera"},
	Short:   "Stream this device as a camera",
	Long: `Publish a camera in a room and wait for a viewer.

Without a room id a memorable one is generated. Media comes from files that
are played in a loop: IVF (VP8/VP9) or Annex-B H.264 for video, Ogg/Opus for
audio. A second video file serves the front camera when the viewer flips it.

Examples:
  kamera broadcast --video back.ivf
  kamera broadcast porch --video back.h264 --video-user front.h264 --audio mic.ogg
  kamera broadcast --video back.ivf --record-talkback ./talkback`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		return broadcast(cmd.Context(), id)
	},
}

func broadcast(ctx context.Context, rawID string) error {
	if flagVideo == "" {
		return fmt.Errorf("no video file specified (--video)")
	}

	cfg, err := LoadConfig(config.Options{
		PreferredCodec:    flagCodec,
		TelemetryInterval: flagTelemetry,
	})
	if err != nil {
		return err
	}

	source := &media.FileSource{
		Video: map[room.CameraFacing]string{
			room.FacingEnvironment: flagVideo,
			room.FacingUser:        flagVideoUser,
		},
		Audio:  flagAudio,
		Logger: slog.Default(),
	}

	sp := ui.NewSimpleSpinner("Opening camera...")
	sp.Start()
	tracks, err := source.Acquire(ctx, media.Constraints{
		Video:  true,
		Audio:  flagAudio != "",
		Facing: room.FacingEnvironment,
	})
	if err != nil {
		sp.Stop()
		return session.WrapError("open camera", session.ErrCaptureFailed, err.Error())
	}
	sp.Success(fmt.Sprintf("Camera open (%d track(s))", len(tracks.Tracks())))

	client, err := connectMailbox(ctx, cfg)
	if err != nil {
		tracks.Stop()
		return err
	}
	defer client.Close()

	ctx, disconnected := untilDisconnected(ctx, client)

	id, err := pickRoom(ctx, client, rawID)
	if err != nil {
		tracks.Stop()
		return err
	}

	b, err := session.StartBroadcast(ctx, session.Options{
		Mailbox:           client,
		Room:              id,
		NewPeerConnection: peerFactory(cfg),
		Media:             source,
		Power:             power.Sysfs{Root: flagPowerRoot},
		PreferredCodec:    cfg.PreferredCodec,
		TelemetryInterval: cfg.TelemetryInterval,
		Logger:            slog.Default(),
	}, tracks)
	if err != nil {
		tracks.Stop()
		return err
	}
	defer b.Teardown()

	fmt.Println()
	fmt.Println(ui.RoomCardView(id))

	stop := make(chan struct{})
	defer close(stop)
	events := forward(b.Events(), recorder(flagRecordTalk, id.String()+"-talkback"), stop)

	err = display(ctx, ui.LiveOptions{
		Role:      session.RoleBroadcaster,
		Room:      id,
		Recording: flagRecordTalk,
	}, events, flagBroadcastText)
	if lost := disconnected(); lost != nil {
		return lost
	}
	return err
}

// pickRoom validates rawID, or generates an id not currently in use.
func pickRoom(ctx context.Context, mb mailbox.Mailbox, rawID string) (room.ID, error) {
	if rawID != "" {
		return room.ParseID(rawID)
	}

	taken := make(map[string]bool)
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if rooms, err := room.List(listCtx, mb); err == nil {
		for _, r := range rooms {
			taken[r.ID.String()] = true
		}
	} else {
		slog.Warn("Could not list rooms", "error", err)
	}

	return room.ParseID(room.Generate(func(id string) bool { return taken[id] }))
}

func init() {
	rootCmd.AddCommand(broadcastCmd)

	flags := broadcastCmd.Flags()
	flags.StringVar(&flagVideo, "video", "", "Video file for the back camera (.ivf, .h264)")
	flags.StringVar(&flagVideoUser, "video-user", "", "Video file for the front camera")
	flags.StringVar(&flagAudio, "audio", "", "Audio file for the microphone (.ogg)")
	flags.StringVar(&flagCodec, "codec", "", "Preferred video codec (default H264/90000)")
	flags.DurationVar(&flagTelemetry, "telemetry", 0, "Status heartbeat interval (default 10s)")
	flags.StringVar(&flagPowerRoot, "power-root", power.DefaultRoot, "Power supply directory for battery telemetry")
	flags.StringVar(&flagRecordTalk, "record-talkback", "", "Directory to record the viewer's talkback audio to")
	flags.BoolVar(&flagBroadcastText, "plain", false, "Print status lines instead of the live view")
}
