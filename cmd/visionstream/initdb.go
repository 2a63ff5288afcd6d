package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdougie/visionstream/internal/config"
	"github.com/bdougie/visionstream/internal/storage"
)

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the Postgres job log schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cfg.Postgres.Enabled() {
				return fmt.Errorf("postgres is not configured (set postgres.host or DATABASE_URL)")
			}
			if err := storage.InitSchema(cmd.Context(), cfg.Postgres); err != nil {
				return err
			}
			fmt.Println("Schema ready.")
			return nil
		},
	}
}
