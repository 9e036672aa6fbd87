package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalkanci/guvenlikkamerasi/internal/config"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
	"github.com/kalkanci/guvenlikkamerasi/internal/session"
	"github.com/kalkanci/guvenlikkamerasi/internal/ui"
)

var flagRoomsTimeout time.Duration

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"ls"},
	Short:   "List the rooms in the mailbox",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRooms(cmd.Context())
	},
}

func listRooms(ctx context.Context) error {
	cfg, err := LoadConfig(config.Options{})
	if err != nil {
		return err
	}

	client, err := connectMailbox(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	listCtx, cancel := context.WithTimeout(ctx, flagRoomsTimeout)
	defer cancel()
	rooms, err := room.List(listCtx, client)
	if err != nil {
		return session.NewError("list rooms", err)
	}

	ui.RenderRooms(os.Stdout, rooms, time.Now())
	return nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)

	roomsCmd.Flags().DurationVar(&flagRoomsTimeout, "timeout", 10*time.Second, "How long to wait for the mailbox")
}
