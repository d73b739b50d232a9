package main

import (
	"fmt"
	"os"

	"github.com/Phillezi/daemonutils/internal/config"
	"github.com/Phillezi/daemonutils/internal/daemon"
	"github.com/Phillezi/daemonutils/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagVerbosity int
	flagPrompt    bool
	flagAddr      string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tickd",
		Short: "Run periodic tasks with graceful shutdown",
		Long: `tickd runs loop and delay runners from a YAML config file.

On SIGHUP, SIGINT, SIGQUIT or SIGTERM, or a POST to /stop, every runner is
asked to stop and the process exits once the last one has finished.
Settings can be overridden with TICKD_ environment variables, using "__"
to separate nested keys (TICKD_HTTP__ADDRESS).`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "Path to a YAML config file")
	root.Flags().IntVarP(&flagVerbosity, "verbosity", "v", -1, "Log verbosity, overrides the config file when set")
	root.Flags().BoolVar(&flagPrompt, "prompt", false, "Print a notice to stderr when shutdown begins")
	root.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address, overrides the config file when set")

	return root
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagVerbosity >= 0 {
		cfg.LogVerbosity = flagVerbosity
	}
	if cmd.Flags().Changed("prompt") {
		cfg.Prompt = flagPrompt
	}
	if flagAddr != "" {
		cfg.HTTP.Address = flagAddr
	}

	logger := logging.New(os.Stderr, cfg.LogVerbosity).WithName("tickd")

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("starting", "runners", len(cfg.Runners))

	if err := d.Run(); err != nil {
		return fmt.Errorf("tickd: %w", err)
	}
	logger.Info("stopped")
	return nil
}
