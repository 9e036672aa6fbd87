package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalkanci/guvenlikkamerasi/internal/config"
	"github.com/kalkanci/guvenlikkamerasi/internal/discovery"
	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
	"github.com/kalkanci/guvenlikkamerasi/internal/ui"
)

var (
	flagListen  string
	flagRoomTTL time.Duration
	flagMDNS    bool
)

var mailboxCmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Run or inspect a signaling mailbox",
}

var mailboxServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a mailbox server",
	Long: `Run an in-memory mailbox that cameras and viewers signal through.

Clients connect over a websocket on /v1/ws. Any path can be followed as
server-sent events under /v1/events/, and /health answers load balancers.

Examples:
  kamera mailbox serve
  kamera mailbox serve --listen :9000 --room-ttl 1h --mdns`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveMailbox(cmd.Context())
	},
}

var mailboxTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Follow a mailbox path",
	Long: `Print every value of a mailbox path as it changes, one JSON document per
line. The path defaults to all rooms.

Examples:
  kamera mailbox tail
  kamera mailbox tail rooms/porch/status`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := room.Root
		if len(args) == 1 {
			path = args[0]
		}
		return tailMailbox(cmd, path)
	},
}

func serveMailbox(ctx context.Context) error {
	logger := slog.Default()
	store := mailbox.NewStore(logger)
	server := mailbox.NewServer(store, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go server.Run(ctx)
	if flagRoomTTL > 0 {
		go mailbox.NewReaper(store, flagRoomTTL, logger).Run(ctx)
	}

	ln, err := net.Listen("tcp", flagListen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", flagListen, err)
	}

	if flagMDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		adv, err := discovery.Advertise(nil, port, "/v1/ws")
		if err != nil {
			ui.PrintWarning(fmt.Sprintf("mDNS advertisement failed: %v", err))
		} else {
			defer adv.Shutdown()
		}
	}

	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Mailbox shutdown", "error", err)
		}
	}()

	ui.PrintSuccess(fmt.Sprintf("Mailbox listening on %s", ln.Addr()))
	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func tailMailbox(cmd *cobra.Command, path string) error {
	cfg, err := LoadConfig(config.Options{})
	if err != nil {
		return err
	}

	base, err := mailbox.HTTPURL(mailboxURL(cmd.Context(), cfg))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	return mailbox.Tail(cmd.Context(), base, path, func(s mailbox.Snapshot) {
		raw := string(s.Raw)
		if raw == "" {
			raw = "null"
		}
		fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.RFC3339), s.Path, raw)
	})
}

func init() {
	rootCmd.AddCommand(mailboxCmd)
	mailboxCmd.AddCommand(mailboxServeCmd, mailboxTailCmd)

	flags := mailboxServeCmd.Flags()
	flags.StringVarP(&flagListen, "listen", "l", config.DefaultListenAddr, "Address to listen on")
	flags.DurationVar(&flagRoomTTL, "room-ttl", 0, "Expire rooms not written for this long (0 keeps them)")
	flags.BoolVar(&flagMDNS, "mdns", false, "Advertise the mailbox on the local network")
}
