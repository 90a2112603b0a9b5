package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	researchProductID  string
	researchTitle      string
	researchPriceCents int64
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Search competitors for a product and persist match decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initService(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var sourcePrice *int64
		if researchPriceCents > 0 {
			sourcePrice = &researchPriceCents
		}

		result, err := env.Service.ResearchProduct(ctx, researchProductID, researchTitle, sourcePrice)
		if err != nil {
			return eris.Wrap(err, "research product")
		}

		confirmed := 0
		for _, m := range result.Matches {
			if m.Best != nil {
				confirmed++
			}
		}
		zap.L().Info("research complete",
			zap.String("product_id", researchProductID),
			zap.Int("confirmed", confirmed),
			zap.Int("competitors", len(result.Matches)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	researchCmd.Flags().StringVar(&researchProductID, "product-id", "", "product identifier (required)")
	researchCmd.Flags().StringVar(&researchTitle, "title", "", "product title to search for (required)")
	researchCmd.Flags().Int64Var(&researchPriceCents, "price-cents", 0, "our price in cents, used for price-proximity scoring")
	_ = researchCmd.MarkFlagRequired("product-id")
	_ = researchCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(researchCmd)
}
