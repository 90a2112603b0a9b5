// Package fetch discovers candidate listings on competitor marketplaces,
// through structured search APIs where available and headless-browser
// rendered pages otherwise, under rate limits and anti-bot mitigations.
package fetch

import (
	"context"
	"errors"
	"net/url"

	"go.uber.org/zap"

	"github.com/sells-group/pricetrack/internal/model"
)

// MaxCandidates bounds the number of candidates returned per competitor.
const MaxCandidates = 5

// Baseline seller-trust scores per retrieval channel.
const (
	TrustEbayAPI     = 60
	TrustAmazonPage  = 80
	TrustWalmartPage = 70
	TrustEbayPage    = 50
	TrustPlaceholder = 40
)

// Searcher produces candidate listings for a query on one competitor.
// Implementations return (nil, nil) when their channel is disabled or not
// configured, letting the chain fall through to the next strategy.
type Searcher interface {
	Competitor() model.Competitor
	Name() string
	Search(ctx context.Context, query string) ([]model.Candidate, error)
}

// Chain tries a competitor's searchers in priority order for a single
// query and returns the first non-empty candidate list. Soft failures move
// on to the next strategy; a captcha aborts the whole chain for this call.
type Chain struct {
	competitor model.Competitor
	searchers  []Searcher
}

// NewChain builds a search chain. Searchers run in the given order:
// structured API first, rendered page as fallback.
func NewChain(competitor model.Competitor, searchers ...Searcher) *Chain {
	return &Chain{competitor: competitor, searchers: searchers}
}

// Competitor returns the marketplace this chain searches.
func (c *Chain) Competitor() model.Competitor { return c.competitor }

// Search runs the chain for one query.
func (c *Chain) Search(ctx context.Context, query string) ([]model.Candidate, error) {
	for _, s := range c.searchers {
		candidates, err := s.Search(ctx, query)
		if err != nil {
			if IsCaptcha(err) {
				return nil, err
			}
			zap.L().Debug("fetch: searcher failed, trying next",
				zap.String("searcher", s.Name()),
				zap.String("competitor", c.competitor.String()),
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}
		if len(candidates) > 0 {
			if len(candidates) > MaxCandidates {
				candidates = candidates[:MaxCandidates]
			}
			return candidates, nil
		}
	}
	return nil, nil
}

// IsCaptcha reports whether err stems from a detected bot challenge.
func IsCaptcha(err error) bool {
	return errors.Is(err, ErrCaptchaDetected)
}

// SearchURL returns the competitor's public search results URL for a
// query. Used for rendered-page search and for placeholder candidates.
func SearchURL(competitor model.Competitor, query string) string {
	q := url.QueryEscape(query)
	switch competitor {
	case model.CompetitorAmazon:
		return "https://www.amazon.com/s?k=" + q
	case model.CompetitorWalmart:
		return "https://www.walmart.com/search?q=" + q
	case model.CompetitorEbay:
		return "https://www.ebay.com/sch/i.html?_nkw=" + q
	}
	return ""
}

// Placeholder synthesizes the low-trust fallback candidate returned when a
// competitor path yields nothing: a reviewable link to the competitor's
// generic search for the first variant.
func Placeholder(competitor model.Competitor, query string) model.Candidate {
	return model.Candidate{
		Title:       competitor.String() + " search for " + query,
		URL:         SearchURL(competitor, query),
		SellerTrust: TrustPlaceholder,
	}
}
