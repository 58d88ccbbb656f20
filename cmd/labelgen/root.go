package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/phrazzld/labelgen/internal/config"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/spf13/cobra"
)

// cliContext carries what PersistentPreRunE prepares for every subcommand.
type cliContext struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	cli := &cliContext{}

	cmd := &cobra.Command{
		Use:           "labelgen",
		Short:         "labelgen turns submitted labels into generated content.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cli.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&cli.configPath, "config", "",
		"config file (defaults to $"+config.ConfigFileEnv+" or ./config.yaml)")
	cmd.PersistentFlags().StringVar(&cli.logLevel, "log-level", "",
		"override server.log_level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(cli),
		submitCmd(cli),
		statusCmd(cli),
		listCmd(cli),
		resetStaleCmd(cli),
		tokenCmd(cli),
		migrateCmd(cli),
	)

	return cmd
}

// load reads the configuration and sets up logging. Logs go to stderr so
// that command output on stdout stays machine readable.
func (c *cliContext) load(cmd *cobra.Command) error {
	path := c.configPath
	if path == "" {
		path = os.Getenv(config.ConfigFileEnv)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.logLevel != "" {
		cfg.Server.LogLevel = c.logLevel
	}

	l, err := logger.Setup(logger.LoggerConfig{
		Level:  cfg.Server.LogLevel,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	c.cfg = cfg
	c.logger = l
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
