package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/harshpratap3205/VedioCall/internal/ui"
	"github.com/harshpratap3205/VedioCall/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "vediocall",
	Short:   "Peer-to-peer video and audio calls from the terminal using WebRTC",
	Long:    `VedioCall is a command-line client for the VedioCall signaling server. It joins rooms, negotiates direct WebRTC sessions with the other members, and runs the call from your terminal: audio, video, screen sharing, and chat, with no media ever touching the server.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
