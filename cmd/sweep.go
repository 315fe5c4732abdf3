package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scanforge/keysweep/internal/app"
	"github.com/scanforge/keysweep/internal/config"
)

// newSweepCmd creates the 'sweep' subcommand, which runs the crawl loop and
// the sync dispatcher until interrupted.
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Starts the key sweep",
		Long: `Runs the scan loop: searches the configured queries, validates any
extracted keys and delivers confirmed ones downstream. Stops cleanly on
SIGINT/SIGTERM after saving a final checkpoint.`,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
