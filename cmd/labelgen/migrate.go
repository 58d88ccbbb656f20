package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type migrateResult struct {
	Driver  string `json:"driver"`
	Version int64  `json:"version"`
}

func migrateCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// Opening the store applies pending migrations.
			h, err := openStore(ctx, cli.cfg, cli.logger, nil)
			if err != nil {
				return fmt.Errorf("failed to open job store: %w", err)
			}
			defer func() { _ = h.close() }()

			version, err := h.migrationVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			cli.logger.Info("migrations applied", "driver", h.driver, "version", version)
			return printJSON(cmd, migrateResult{Driver: h.driver, Version: version})
		},
	}
}
