package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/citylens/citysync/internal/store"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all tables and invalidate scrape id mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return eris.New("reset: refusing to drop all tables without --yes")
		}
		ctx := cmd.Context()

		session, closer, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer closer()

		if err := store.Reset(ctx, session.Pool); err != nil {
			return err
		}
		// Scrape ids assigned before the drop no longer exist.
		session.Ledger.Reset()

		zap.L().Info("store reset, run migrate to recreate the schema")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm the destructive reset")
	rootCmd.AddCommand(resetCmd)
}
