package main

import (
	"fmt"
	"os"

	"github.com/anatoly-dev/go-presence-gateway/cmd/presence-gateway/commands"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "presence-gateway",
		Short: "Real-time cursor presence gateway",
		Long:  "A WebSocket gateway that tracks connected users, their cursor positions and idle state, and broadcasts every change to all participants",
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewSessionsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
