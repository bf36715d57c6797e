package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8000"

// newRootCmd creates the root legionctl command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var server, token string

	cmd := &cobra.Command{
		Use:           "legionctl",
		Short:         "Command your minions from the terminal",
		Long:          "legionctl lists minions and channels, reads channel history and\nsends commander messages to a running Legion control plane.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&server, "server", envOr("LEGION_URL", defaultServer), "control plane base URL")
	cmd.PersistentFlags().StringVar(&token, "token", os.Getenv("LEGION_TOKEN"), "access token for /api routes")

	connect := func() *client { return newClient(server, token) }
	cmd.AddCommand(
		newMinionsCmd(connect),
		newChannelsCmd(connect),
		newHistoryCmd(connect),
		newSayCmd(connect),
		newContinueCmd(connect),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
