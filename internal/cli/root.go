package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/ratekit/internal/config"
	"github.com/SmitUplenchwar2687/ratekit/internal/logging"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the root ratekit command.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "ratekit",
		Short: "In-process rate limiters you can serve, test and replay",
		Long: `ratekit ships five admission algorithms (fixed window, token bucket,
sliding window log, sliding window counter and leaky bucket).

Serve them over HTTP, test them against a virtual clock that fast-forwards
time, or replay recorded traffic through them.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to a JSON or YAML config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format (text, json)")

	root.AddCommand(
		newServerCmd(g),
		newTestCmd(g),
		newReplayCmd(g),
		newGenerateCmd(),
	)

	return root
}

// load resolves the config file and logging flags, installs the logger as
// the slog default and returns both.
func (g *globalOptions) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(g.configPath); err != nil {
			return cfg, nil, err
		}
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return cfg, nil, fmt.Errorf("configuring logger: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
