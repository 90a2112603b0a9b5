package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricetrack/internal/model"
)

var (
	overrideProductID  string
	overrideTitle      string
	overrideCompetitor string
	overrideURL        string
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Pin a match to a human-verified listing URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		competitor, err := model.ParseCompetitor(overrideCompetitor)
		if err != nil {
			return err
		}

		env, err := initService(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		m, err := env.Service.Override(ctx, overrideProductID, overrideTitle, competitor, overrideURL)
		if err != nil {
			return eris.Wrap(err, "override match")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

func init() {
	overrideCmd.Flags().StringVar(&overrideProductID, "product-id", "", "product identifier (required)")
	overrideCmd.Flags().StringVar(&overrideTitle, "title", "", "product title (required)")
	overrideCmd.Flags().StringVar(&overrideCompetitor, "competitor", "", "amazon, ebay, or walmart (required)")
	overrideCmd.Flags().StringVar(&overrideURL, "url", "", "listing URL to pin (required)")
	_ = overrideCmd.MarkFlagRequired("product-id")
	_ = overrideCmd.MarkFlagRequired("title")
	_ = overrideCmd.MarkFlagRequired("competitor")
	_ = overrideCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(overrideCmd)
}
