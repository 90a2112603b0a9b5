package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scrapeMatchID string

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Refresh prices for stored matches",
	Long:  "Scrapes the current price for every stored match with a listing URL, or for a single match with --match-id.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initService(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if scrapeMatchID != "" {
			m, err := env.Store.GetMatch(ctx, scrapeMatchID)
			if err != nil {
				return eris.Wrap(err, "get match")
			}
			sample, err := env.Service.ScrapeAndPersist(ctx, m)
			if err != nil {
				return eris.Wrap(err, "scrape match")
			}
			if sample == nil {
				zap.L().Info("no price recorded",
					zap.String("match_id", scrapeMatchID))
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sample)
		}

		scraped, failed, err := env.Service.RescrapeAll(ctx)
		if err != nil {
			return eris.Wrap(err, "rescrape all")
		}
		zap.L().Info("scrape pass finished",
			zap.Int("scraped", scraped), zap.Int("failed", failed))
		return nil
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeMatchID, "match-id", "", "scrape a single match instead of all")
	rootCmd.AddCommand(scrapeCmd)
}
