package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema, symbols table and partitioned parent tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			repo, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.Migrate(ctx, a.reg); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.log.Info("migrate: done", zap.Int("tables", len(a.reg.Tables())))
			fmt.Fprintf(a.out, "migrated %d tables\n", len(a.reg.Tables()))
			return nil
		},
	}
}
