package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalkanci/guvenlikkamerasi/internal/config"
	"github.com/kalkanci/guvenlikkamerasi/internal/discovery"
	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
	"github.com/kalkanci/guvenlikkamerasi/internal/media"
	"github.com/kalkanci/guvenlikkamerasi/internal/session"
	"github.com/kalkanci/guvenlikkamerasi/internal/ui"
)

// LoadConfig merges the global flags with the environment and config file.
func LoadConfig(overrides config.Options) (*config.Config, error) {
	overrides.ConfigFile = flagConfig
	overrides.MailboxURL = flagMailbox
	overrides.STUNServer = flagSTUN
	overrides.TURNServer = flagTURN
	overrides.TURNUser = flagTURNUser
	overrides.TURNPass = flagTURNPass
	overrides.ForceRelay = flagRelay
	overrides.Discover = flagDiscover

	cfg, err := config.Load(overrides)
	if err != nil {
		return nil, session.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// mailboxURL returns the configured mailbox, or the one found on the LAN
// when discovery is enabled.
func mailboxURL(ctx context.Context, cfg *config.Config) string {
	if !cfg.Discover {
		return cfg.MailboxURL
	}

	stopSpinner := ui.RunConnectionSpinner("Looking for a mailbox on the local network...")
	found, err := discovery.Find(ctx, nil, discovery.DefaultTimeout)
	stopSpinner()
	if err != nil {
		ui.PrintWarning(fmt.Sprintf("%v, using %s", err, cfg.MailboxURL))
		return cfg.MailboxURL
	}
	ui.PrintInfof("Found mailbox %s at %s", found.Instance, found.URL())
	return found.URL()
}

// connectMailbox dials the mailbox with a spinner.
func connectMailbox(ctx context.Context, cfg *config.Config) (*mailbox.Client, error) {
	url := mailboxURL(ctx, cfg)

	sp := ui.NewConnectionSpinner("Connecting to mailbox...")
	sp.Start()
	client, err := mailbox.Dial(ctx, url, slog.Default())
	if err != nil {
		sp.Error("Mailbox unreachable")
		return nil, session.NewError("connect to mailbox", err)
	}
	sp.Success("Connected to " + url)
	return client, nil
}

// connection is the part of a mailbox client that reports a dropped link.
type connection interface {
	Done() <-chan struct{}
	Err() error
}

// untilDisconnected derives a context that also ends when conn drops.
// The returned function releases it and reports the drop, if any.
func untilDisconnected(ctx context.Context, conn connection) (context.Context, func() error) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() error {
		cancel()
		select {
		case <-conn.Done():
			err := conn.Err()
			if err == nil {
				err = mailbox.ErrDisconnected
			}
			return session.NewError("mailbox connection lost", err)
		default:
			return nil
		}
	}
}

// peerFactory creates peer connections configured from cfg.
func peerFactory(cfg *config.Config) func() (session.PeerConnection, error) {
	return func() (session.PeerConnection, error) {
		return session.NewPeerConnection(cfg, slog.Default())
	}
}

// forward relays session events until they end or stop closes, starting a
// recording for every remote track when rec is set.
func forward(events <-chan session.Event, rec *media.Recorder, stop <-chan struct{}) <-chan session.Event {
	out := make(chan session.Event, 64)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.RemoteTrack != nil && rec != nil {
				go record(rec, ev.RemoteTrack)
			}
			select {
			case out <- ev:
			case <-stop:
				return
			}
		}
	}()
	return out
}

func record(rec *media.Recorder, track media.RemoteTrack) {
	path, err := rec.Record(track)
	if err != nil {
		slog.Error("Recording failed", "track", track.ID(), "path", path, "error", err)
	}
}

// display shows events until the session ends, the user quits or ctx is
// done.
func display(ctx context.Context, opts ui.LiveOptions, events <-chan session.Event, plain bool) error {
	if plain {
		p := &ui.Plain{Out: os.Stdout}
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				p.Show(ev)
			}
		}
	}

	live := ui.NewLive(opts, events)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		select {
		case <-ctx.Done():
			live.Quit()
		case <-quit:
		}
	}()
	return live.Run()
}

// recorder returns a recorder writing into dir, or nil without one.
func recorder(dir, prefix string) *media.Recorder {
	if dir == "" {
		return nil
	}
	return &media.Recorder{Dir: dir, Prefix: prefix, Logger: slog.Default()}
}
