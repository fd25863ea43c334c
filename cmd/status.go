package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/citylens/citysync/internal/db"
	"github.com/citylens/citysync/internal/etl"
	"github.com/citylens/citysync/internal/model"
	"github.com/citylens/citysync/internal/store"
)

var statusLimit int

type statusReport struct {
	Tables   map[string]int64 `json:"tables"`
	Measures []model.Measure  `json:"measures"`
	Runs     []etl.RunEntry   `json:"runs"`
}

func tableCount(ctx context.Context, pool db.Pool, table string) (int64, error) {
	var n int64
	// Table names come from the fixed list below, never from input.
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "status: count %s", table)
	}
	return n, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show table counts and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		report := statusReport{Tables: make(map[string]int64)}
		for _, table := range []string{"scrape", "city", "measure", "fact", "weather", "airport", "city_airport", "flight"} {
			n, err := tableCount(ctx, pool, table)
			if err != nil {
				return err
			}
			report.Tables[table] = n
		}

		measures, err := store.New(pool).Measures(ctx)
		if err != nil {
			return err
		}
		report.Measures = measures

		runs, err := etl.NewRunLog(pool).List(ctx, statusLimit)
		if err != nil {
			return err
		}
		report.Runs = runs

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "runs", 10, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}
