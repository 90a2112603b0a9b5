// Package tracker orchestrates competitor research: search, score, persist,
// and price collection for matched listings.
package tracker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pricetrack/internal/fetch"
	"github.com/sells-group/pricetrack/internal/match"
	"github.com/sells-group/pricetrack/internal/model"
	"github.com/sells-group/pricetrack/internal/price"
	"github.com/sells-group/pricetrack/internal/store"
)

// researchConcurrency bounds how many competitors are searched in parallel
// for one product. Each competitor already rate-limits its own requests.
const researchConcurrency = 2

// Searcher finds listing candidates for a query on one competitor.
// fetch.Chain implements it.
type Searcher interface {
	Competitor() model.Competitor
	Search(ctx context.Context, query string) ([]model.Candidate, error)
}

// Scraper fetches the current price from a listing page.
// fetch.PriceScraper implements it.
type Scraper interface {
	ScrapePrice(ctx context.Context, competitor model.Competitor, pageURL string) (price.Price, bool, error)
}

// Service runs product research and price collection against the store.
type Service struct {
	store     store.Store
	searchers map[model.Competitor]Searcher
	scraper   Scraper
	cooldown  time.Duration
}

// New creates a Service. Searchers missing for a competitor cause that
// competitor to be recorded as unmatched rather than skipped.
func New(st store.Store, searchers []Searcher, scraper Scraper, captchaCooldown time.Duration) *Service {
	byCompetitor := make(map[model.Competitor]Searcher, len(searchers))
	for _, s := range searchers {
		byCompetitor[s.Competitor()] = s
	}
	if captchaCooldown <= 0 {
		captchaCooldown = 6 * time.Hour
	}
	return &Service{
		store:     st,
		searchers: byCompetitor,
		scraper:   scraper,
		cooldown:  captchaCooldown,
	}
}

// ResearchProduct searches every competitor for the product, scores the
// candidates, and persists one match decision per competitor. A decision is
// written even when nothing clears the confidence threshold, so the product
// shows up as searched. Confirmed matches get an immediate price sample.
func (s *Service) ResearchProduct(ctx context.Context, productID, productTitle string, sourcePriceCents *int64) (*model.ResearchResult, error) {
	log := zap.L().With(zap.String("product_id", productID), zap.String("title", productTitle))
	log.Info("tracker: researching product")

	var mu sync.Mutex
	byCompetitor := make(map[model.Competitor]model.CompetitorResearch)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(researchConcurrency)
	for _, competitor := range model.Competitors() {
		g.Go(func() error {
			research, err := s.researchCompetitor(gctx, competitor, productTitle, sourcePriceCents)
			if err != nil {
				return err
			}
			mu.Lock()
			byCompetitor[competitor] = research
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "tracker: research product %s", productID)
	}

	result := &model.ResearchResult{}
	for _, competitor := range model.Competitors() {
		research := byCompetitor[competitor]
		result.Matches = append(result.Matches, research)

		params := store.UpsertParams{
			ProductID:    productID,
			ProductTitle: productTitle,
			Competitor:   competitor,
		}
		if research.Best != nil {
			params.URL = &research.Best.URL
			params.Title = &research.Best.Title
			params.Confidence = research.Best.Confidence
		} else {
			// Unconfirmed rows still carry the best score seen, so a
			// reviewer can tell a near-miss from an empty marketplace.
			for _, c := range research.Candidates {
				if c.Score > params.Confidence {
					params.Confidence = c.Score
				}
			}
		}
		m, err := s.store.UpsertMatch(ctx, params)
		if err != nil {
			return nil, err
		}

		if research.Best == nil || m.URL == nil {
			continue
		}
		if err := s.recordInitialPrice(ctx, m, research); err != nil {
			log.Warn("tracker: initial price failed",
				zap.String("competitor", competitor.String()), zap.Error(err))
		}
	}

	log.Info("tracker: research complete", zap.Int("competitors", len(result.Matches)))
	return result, nil
}

// SearchCompetitor runs one competitor's search for a product title: query
// variants in order, stopping at the first that yields candidates. When
// every variant comes back empty it synthesizes a single search-page
// placeholder from the first variant, so callers always have something to
// score and a human has a link to follow up. At most fetch.MaxCandidates
// are returned. A captcha surfaces as an error; callers decide whether to
// skip or back off.
func (s *Service) SearchCompetitor(ctx context.Context, competitor model.Competitor, title string) ([]model.Candidate, error) {
	searcher, ok := s.searchers[competitor]
	if !ok {
		return nil, nil
	}

	variants := match.BuildVariants(title)
	var candidates []model.Candidate
	for _, variant := range variants {
		found, err := searcher.Search(ctx, variant)
		if err != nil {
			return nil, eris.Wrapf(err, "tracker: search %s", competitor)
		}
		if len(found) > 0 {
			candidates = found
			break
		}
	}
	if len(candidates) == 0 {
		query := title
		if len(variants) > 0 {
			query = variants[0]
		}
		candidates = []model.Candidate{fetch.Placeholder(competitor, query)}
	}
	if len(candidates) > fetch.MaxCandidates {
		candidates = candidates[:fetch.MaxCandidates]
	}
	return candidates, nil
}

// researchCompetitor searches one competitor and scores what came back.
func (s *Service) researchCompetitor(ctx context.Context, competitor model.Competitor, title string, sourcePriceCents *int64) (model.CompetitorResearch, error) {
	research := model.CompetitorResearch{Competitor: competitor}

	candidates, err := s.SearchCompetitor(ctx, competitor, title)
	if err != nil {
		if fetch.IsCaptcha(err) {
			// Leave the competitor unmatched for this run; the others
			// are on separate sites and can still proceed.
			zap.L().Warn("tracker: captcha during search",
				zap.String("competitor", competitor.String()))
			return research, nil
		}
		return research, err
	}

	var best *model.ScoredCandidate
	for i := range candidates {
		c := candidates[i]
		score, reason := match.Score(title, sourcePriceCents, &c)
		scored := model.ScoredCandidate{Candidate: c, Score: int(math.Round(score)), Reason: reason}
		research.Candidates = append(research.Candidates, scored)
		if best == nil || scored.Score > best.Score {
			best = &research.Candidates[len(research.Candidates)-1]
		}
	}

	if best != nil && best.Score >= match.ConfidenceThreshold {
		research.Best = &model.BestMatch{
			Confidence: best.Score,
			URL:        best.Candidate.URL,
			Title:      best.Candidate.Title,
		}
	}
	return research, nil
}

// recordInitialPrice persists the first price for a freshly confirmed match.
// The candidate's own price is preferred; a page scrape is the fallback.
func (s *Service) recordInitialPrice(ctx context.Context, m *model.CompetitorMatch, research model.CompetitorResearch) error {
	var bestCandidate *model.Candidate
	for i := range research.Candidates {
		if research.Candidates[i].Candidate.URL == research.Best.URL {
			bestCandidate = &research.Candidates[i].Candidate
			break
		}
	}

	if bestCandidate != nil && bestCandidate.Price != nil {
		source := model.PriceSourceScrape
		if m.Competitor == model.CompetitorEbay && bestCandidate.SellerTrust == fetch.TrustEbayAPI {
			source = model.PriceSourceAPI
		}
		_, err := s.store.InsertPriceSample(ctx, m.ID, *bestCandidate.Price, bestCandidate.Currency, source, nil)
		return err
	}

	_, err := s.ScrapeAndPersist(ctx, m)
	return err
}

// ScrapeAndPersist fetches the current price for one match and appends it to
// price history. Matches without a URL or inside a captcha cool-down are
// skipped. A captcha during the scrape sets the cool-down instead of failing.
func (s *Service) ScrapeAndPersist(ctx context.Context, m *model.CompetitorMatch) (*model.PriceSample, error) {
	if m.URL == nil || *m.URL == "" {
		return nil, nil
	}
	if m.CoolingDown(time.Now()) {
		return nil, nil
	}

	p, ok, err := s.scraper.ScrapePrice(ctx, m.Competitor, *m.URL)
	if err != nil {
		if fetch.IsCaptcha(err) {
			until := time.Now().UTC().Add(s.cooldown)
			zap.L().Warn("tracker: captcha challenge, backing off",
				zap.String("match_id", m.ID),
				zap.String("competitor", m.Competitor.String()),
				zap.Time("cooldown_until", until))
			if cdErr := s.store.SetCooldown(ctx, m.ID, until); cdErr != nil {
				return nil, cdErr
			}
			return nil, nil
		}
		return nil, eris.Wrapf(err, "tracker: scrape price for match %s", m.ID)
	}
	if !ok {
		return nil, nil
	}

	return s.store.InsertPriceSample(ctx, m.ID, p.Cents, p.Currency, model.PriceSourceScrape, nil)
}

// Override pins a match to a human-provided URL and collects a price for it
// right away.
func (s *Service) Override(ctx context.Context, productID, productTitle string, competitor model.Competitor, url string) (*model.CompetitorMatch, error) {
	m, err := s.store.OverrideMatch(ctx, productID, productTitle, competitor, url)
	if err != nil {
		return nil, err
	}
	zap.L().Info("tracker: manual override",
		zap.String("product_id", productID),
		zap.String("competitor", competitor.String()),
		zap.String("url", url))

	if _, err := s.ScrapeAndPersist(ctx, m); err != nil {
		zap.L().Warn("tracker: override price scrape failed",
			zap.String("match_id", m.ID), zap.Error(err))
	}
	return m, nil
}
