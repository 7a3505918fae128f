package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/weave/internal/cli/ui"
	"github.com/conduit-lang/weave/internal/orm/store/backend"
)

var checkTimeoutFlag time.Duration

// NewCheckCommand creates the check command
func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the configured store backend is reachable",
		Example: `  weave check
  weave check --config prod.yaml --timeout 2s`,
		RunE: runCheck,
	}
	cmd.Flags().DurationVar(&checkTimeoutFlag, "timeout", 5*time.Second, "Give up after this long")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeoutFlag)
	defer cancel()

	be, err := backend.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	if err := be.Ping(ctx); err != nil {
		ui.Message{
			Level:   ui.LevelError,
			Text:    fmt.Sprintf("%s backend unreachable", be.Name()),
			Detail:  err.Error(),
			Hints:   []string{"Check store.url in weave.yaml", "Show the effective settings: weave config show"},
			NoColor: noColorFlag,
		}.Write(cmd.ErrOrStderr())
		return fmt.Errorf("check %s backend: %w", be.Name(), err)
	}
	ui.Success(cmd.OutOrStdout(), noColorFlag, "%s backend reachable", be.Name())
	return nil
}
