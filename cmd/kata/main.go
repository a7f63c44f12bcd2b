package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kata/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFile = "katad.pid"

var (
	daemonAddr string
	userID     string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:   "kata",
		Short: "Practice coding exercises against hidden fixtures",
		Long: `kata evaluates JavaScript solutions to coding exercises and keeps
per-user progress: solved, starred, liked and disliked.

Most commands talk to the katad daemon; start it with 'kata start'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
)

func init() {
	defaultAddr := "http://" + config.DefaultLocalConfig().Addr()
	if cfg, err := config.LoadLocalConfig(); err == nil {
		defaultAddr = "http://" + cfg.Addr()
	}
	if env := os.Getenv("KATA_ADDR"); env != "" {
		defaultAddr = env
	}

	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", defaultAddr, "daemon base URL")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("KATA_USER"), "user id (default $KATA_USER)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses")

	rootCmd.AddCommand(
		startCmd, stopCmd, statusCmd, logsCmd, doctorCmd,
		exerciseCmd, submitCmd, draftCmd, factsCmd,
		newToggleCmd("like", "Toggle a like (removes a dislike)"),
		newToggleCmd("dislike", "Toggle a dislike (removes a like)"),
		newToggleCmd("star", "Toggle the star"),
		newToggleCmd("solve", "Mark the exercise solved"),
		mcpCmd, eventsCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient() *client {
	return newAPIClient(daemonAddr, userID)
}
