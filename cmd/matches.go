package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	matchesProductID string
	pricesMatchID    string
	pricesProductID  string
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "List stored match decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if matchesProductID != "" {
			matches, err := st.GetMatchesByProduct(ctx, matchesProductID)
			if err != nil {
				return eris.Wrap(err, "get matches")
			}
			return enc.Encode(matches)
		}

		matches, err := st.GetAllMatches(ctx)
		if err != nil {
			return eris.Wrap(err, "get matches")
		}
		return enc.Encode(matches)
	},
}

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Show recorded price history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if pricesMatchID == "" && pricesProductID == "" {
			return eris.New("one of --match-id or --product-id is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if pricesMatchID != "" {
			history, err := st.PriceHistory(ctx, pricesMatchID)
			if err != nil {
				return eris.Wrap(err, "price history")
			}
			return enc.Encode(history)
		}

		latest, err := st.LatestPriceByProduct(ctx, pricesProductID)
		if err != nil {
			return eris.Wrap(err, "latest prices")
		}
		return enc.Encode(latest)
	},
}

func init() {
	matchesCmd.Flags().StringVar(&matchesProductID, "product-id", "", "filter matches to one product")
	rootCmd.AddCommand(matchesCmd)

	pricesCmd.Flags().StringVar(&pricesMatchID, "match-id", "", "full price history for one match")
	pricesCmd.Flags().StringVar(&pricesProductID, "product-id", "", "latest price per competitor for one product")
	rootCmd.AddCommand(pricesCmd)
}
