package tracker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RescrapeAll walks every stored match with a URL and refreshes its price.
// Matches inside a captcha cool-down are skipped. Individual scrape failures
// are logged and counted, not fatal.
func (s *Service) RescrapeAll(ctx context.Context) (scraped, failed int, err error) {
	matches, err := s.store.GetAllMatches(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "tracker: rescrape all")
	}

	log := zap.L()
	now := time.Now()
	for i := range matches {
		m := &matches[i]
		if m.URL == nil || *m.URL == "" || m.CoolingDown(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return scraped, failed, eris.Wrap(err, "tracker: rescrape all")
		}

		sample, scrapeErr := s.ScrapeAndPersist(ctx, m)
		if scrapeErr != nil {
			failed++
			log.Warn("tracker: rescrape failed",
				zap.String("match_id", m.ID),
				zap.String("competitor", m.Competitor.String()),
				zap.Error(scrapeErr))
			continue
		}
		if sample != nil {
			scraped++
		}
	}

	log.Info("tracker: rescrape pass done",
		zap.Int("scraped", scraped), zap.Int("failed", failed))
	return scraped, failed, nil
}

// ReresearchRecent re-runs match research for the most recently searched
// products, refreshing decisions that may have gone stale.
func (s *Service) ReresearchRecent(ctx context.Context, limit int) (int, error) {
	products, err := s.store.RecentProducts(ctx, limit)
	if err != nil {
		return 0, eris.Wrap(err, "tracker: reresearch recent")
	}

	done := 0
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return done, eris.Wrap(err, "tracker: reresearch recent")
		}
		if _, err := s.ResearchProduct(ctx, p.ProductID, p.Title, nil); err != nil {
			zap.L().Warn("tracker: reresearch failed",
				zap.String("product_id", p.ProductID), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// Watch runs the periodic maintenance loop until the context is cancelled:
// price rescrapes on scrapeInterval, match re-research on researchInterval.
func (s *Service) Watch(ctx context.Context, scrapeInterval, researchInterval time.Duration, researchLimit int) error {
	log := zap.L()
	log.Info("tracker: watch loop starting",
		zap.Duration("scrape_interval", scrapeInterval),
		zap.Duration("research_interval", researchInterval))

	scrapeTicker := time.NewTicker(scrapeInterval)
	defer scrapeTicker.Stop()
	researchTicker := time.NewTicker(researchInterval)
	defer researchTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("tracker: watch loop stopping")
			return ctx.Err()
		case <-scrapeTicker.C:
			if _, _, err := s.RescrapeAll(ctx); err != nil {
				log.Error("tracker: scheduled rescrape failed", zap.Error(err))
			}
		case <-researchTicker.C:
			if _, err := s.ReresearchRecent(ctx, researchLimit); err != nil {
				log.Error("tracker: scheduled reresearch failed", zap.Error(err))
			}
		}
	}
}
