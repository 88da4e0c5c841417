package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vbonduro/invtrack/internal/config"
	"github.com/vbonduro/invtrack/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
	cleanup    func()
}

func newRootCmd() *cobra.Command {
	a := &app{cleanup: func() {}}

	cmd := &cobra.Command{
		Use:           "invtrack",
		Short:         "Track inventory items with live updates in the browser",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.cleanup()
		},
	}
	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file (default $CONFIG_FILE)")

	cmd.AddCommand(newServeCmd(a), newExportCmd(a), newMigrateCmd(a))
	return cmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	a.cleanup = cleanup
	return nil
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
