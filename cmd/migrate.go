package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and seed the markets catalog",
	Long:  "Applies all pending SQL migrations in lexicographic order under an advisory lock, then upserts the static market catalog.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}
		if err := st.SeedMarkets(ctx); err != nil {
			return eris.Wrap(err, "seed markets")
		}

		zap.L().Info("all migrations applied, markets seeded")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
