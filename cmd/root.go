package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalkanci/guvenlikkamerasi/internal/ui"
	"github.com/kalkanci/guvenlikkamerasi/internal/version"
)

var (
	flagConfig   string
	flagMailbox  string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagDiscover bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kamera",
	Short: "Turn a spare device into a peer-to-peer security camera",
	Long: `kamera streams a camera directly to a viewer over WebRTC. The two sides
find each other through a shared mailbox: the camera publishes an offer in a
room, the viewer answers it, and media flows peer to peer from then on.

The viewer can switch the camera's torch and lens, talk back through the
camera's speaker, and sees the camera's battery level.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagConfig, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/kamera/config.yaml)")
	flags.StringVarP(&flagMailbox, "mailbox", "m", "", "Mailbox server URL")
	flags.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	flags.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	flags.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	flags.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	flags.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	flags.BoolVar(&flagDiscover, "discover", false, "Find the mailbox on the local network")
}
