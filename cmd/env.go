package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricetrack/internal/fetch"
	"github.com/sells-group/pricetrack/internal/model"
	"github.com/sells-group/pricetrack/internal/store"
	"github.com/sells-group/pricetrack/internal/tracker"
)

// env bundles the wired subsystems a command needs.
type env struct {
	Store   store.Store
	Service *tracker.Service
	browser *fetch.Browser
}

func (e *env) Close() {
	if e.browser != nil {
		_ = e.browser.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "pricetrack.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initService(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	limiters := fetch.NewLimiters(cfg.Scrape.RateLimit)
	browser := fetch.NewBrowser(fetch.BrowserOptions{
		Headless:         cfg.Browser.Headless,
		ProxyURL:         cfg.Scrape.ProxyURL,
		BlockedResources: cfg.Browser.BlockedResources,
	})
	pageOpts := fetch.PageSearchOptions{
		Compliant:       cfg.Scrape.CompliantMode,
		NavTimeout:      cfg.Scrape.NavTimeout(),
		SelectorTimeout: cfg.Scrape.SelectorTimeout(),
	}

	// eBay gets the structured API first with the rendered page as fallback;
	// amazon and walmart only have the page.
	searchers := []tracker.Searcher{
		fetch.NewChain(model.CompetitorAmazon,
			fetch.NewPageSearcher(model.CompetitorAmazon, browser, limiters.Search, pageOpts)),
		fetch.NewChain(model.CompetitorWalmart,
			fetch.NewPageSearcher(model.CompetitorWalmart, browser, limiters.Search, pageOpts)),
		fetch.NewChain(model.CompetitorEbay,
			fetch.NewEbaySearcher(cfg.Ebay.AppID, cfg.Ebay.BaseURL, limiters.Search),
			fetch.NewPageSearcher(model.CompetitorEbay, browser, limiters.Search, pageOpts)),
	}
	scraper := fetch.NewPriceScraper(browser, limiters, pageOpts)

	svc := tracker.New(st, searchers, scraper, cfg.Schedule.CaptchaCooldown())

	return &env{Store: st, Service: svc, browser: browser}, nil
}
