package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/citylens/citysync/internal/snapshot"
)

var latestCmd = &cobra.Command{
	Use:       "latest {facts|weather|flights}",
	Short:     "Show the current view of a history table",
	Long:      "Resolves the not-superseded rows of a history table: the newest scrape per partition for facts and weather, the newest two per origin airport for flights.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"facts", "weather", "flights"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		var rows any
		switch args[0] {
		case "facts":
			rows, err = snapshot.LatestFacts(ctx, pool)
		case "weather":
			rows, err = snapshot.LatestWeather(ctx, pool)
		case "flights":
			rows, err = snapshot.LatestFlights(ctx, pool)
		default:
			return eris.Errorf("latest: unknown view %q", args[0])
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	rootCmd.AddCommand(latestCmd)
}
