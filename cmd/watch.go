package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kalkanci/guvenlikkamerasi/internal/config"
	"github.com/kalkanci/guvenlikkamerasi/internal/media"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
	"github.com/kalkanci/guvenlikkamerasi/internal/session"
	"github.com/kalkanci/guvenlikkamerasi/internal/ui"
)

var (
	flagRecordDir string
	flagTalkAudio string
	flagWatchText bool
)

var watchCmd = &cobra.Command{
	Use:     "watch <room-id>",
	Aliases: []string{"w", "view"},
	Short:   "Watch a camera",
	Long: `Join a camera's room and receive its stream.

Keys in the live view: t toggles the torch, f flips the camera, space starts
and stops talking through the camera, q quits. Talking needs an audio file
(--talk) standing in for the microphone.

Examples:
  kamera watch sleepy-porch-otter-comet
  kamera watch porch --record ./recordings
  kamera watch porch --talk hello.ogg --plain`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watch(cmd.Context(), args[0])
	},
}

func watch(ctx context.Context, rawID string) error {
	id, err := room.ParseID(rawID)
	if err != nil {
		return err
	}

	cfg, err := LoadConfig(config.Options{})
	if err != nil {
		return err
	}

	client, err := connectMailbox(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, disconnected := untilDisconnected(ctx, client)

	opts := session.Options{
		Mailbox:           client,
		Room:              id,
		NewPeerConnection: peerFactory(cfg),
		Logger:            slog.Default(),
	}
	if flagTalkAudio != "" {
		opts.Media = &media.FileSource{Audio: flagTalkAudio, Logger: slog.Default()}
	}

	w, err := session.StartWatch(ctx, opts)
	if err != nil {
		return err
	}
	defer w.Teardown()

	stop := make(chan struct{})
	defer close(stop)
	events := forward(w.Events(), recorder(flagRecordDir, id.String()), stop)

	err = display(ctx, ui.LiveOptions{
		Role:       session.RoleWatcher,
		Room:       id,
		Controller: w,
		Recording:  flagRecordDir,
	}, events, flagWatchText)
	if lost := disconnected(); lost != nil {
		return lost
	}
	return err
}

func init() {
	rootCmd.AddCommand(watchCmd)

	flags := watchCmd.Flags()
	flags.StringVar(&flagRecordDir, "record", "", "Directory to record the received video and audio to")
	flags.StringVar(&flagTalkAudio, "talk", "", "Audio file sent when talking (.ogg)")
	flags.BoolVar(&flagWatchText, "plain", false, "Print status lines instead of the live view")
}
