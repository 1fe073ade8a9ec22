package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// shutdownCmd represents the shutdown command
var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop all instances and exit the daemon",
	Long:  `Ask the daemon to stop every supervised instance in reverse start order and then exit.`,
	Args:  cobra.NoArgs,
	RunE:  runShutdown,
}

func init() {
	rootCmd.AddCommand(shutdownCmd)
}

func runShutdown(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := newClient().Shutdown(ctx); err != nil {
		return err
	}
	fmt.Println("Daemon is shutting down")
	return nil
}
