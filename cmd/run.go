package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/citylens/citysync/internal/etl"
	"github.com/citylens/citysync/internal/source"
)

var runSources []string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ETL pipeline",
	Long:  "Runs all sources (or a subset via --source) in dependency order and prints the per-source summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		session, closer, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer closer()

		engine := etl.NewEngine(session, source.DefaultRegistry())
		summary, runErr := engine.Run(ctx, runSources)

		// The summary is printed even when the run failed partway.
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runSources, "source", nil, "restrict to specific sources (default all)")
	rootCmd.AddCommand(runCmd)
}
