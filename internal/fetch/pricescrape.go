package fetch

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/pricetrack/internal/model"
	"github.com/sells-group/pricetrack/internal/price"
)

// priceSelectors lists, per competitor, the ordered extraction strategies
// for the current price on a product page. First selector yielding text
// wins; none matching is an expected empty result.
var priceSelectors = map[model.Competitor][]string{
	model.CompetitorAmazon: {
		"#corePriceDisplay_desktop_feature_div .a-offscreen",
		"#priceblock_ourprice",
		"#priceblock_dealprice",
	},
	model.CompetitorWalmart: {
		`span[aria-label^="Current price"]`,
		`span[itemprop="price"]`,
	},
	model.CompetitorEbay: {
		"#prcIsum",
		"#mm-saleDscPrc",
		"#convbinPrice",
		`span[itemprop="price"]`,
	},
}

// PriceScraper fetches the current price from a known listing URL in the
// shared headless browser.
type PriceScraper struct {
	browser  *Browser
	limiters *Limiters
	opts     PageSearchOptions
}

// NewPriceScraper builds the rendered-page price scraper.
func NewPriceScraper(browser *Browser, limiters *Limiters, opts PageSearchOptions) *PriceScraper {
	opts.defaults()
	return &PriceScraper{browser: browser, limiters: limiters, opts: opts}
}

func (s *PriceScraper) scrapeLimiter(competitor model.Competitor) *rate.Limiter {
	switch competitor {
	case model.CompetitorAmazon:
		return s.limiters.AmazonScrape
	case model.CompetitorWalmart:
		return s.limiters.WalmartScrape
	default:
		return s.limiters.EbayScrape
	}
}

// ScrapePrice loads the listing URL and tries the competitor's price
// selectors in order. ok=false means no parseable price was on the page,
// which is a normal outcome. A bot challenge returns ErrCaptchaDetected.
// In compliant mode the scrape is skipped entirely.
func (s *PriceScraper) ScrapePrice(ctx context.Context, competitor model.Competitor, pageURL string) (price.Price, bool, error) {
	if s.opts.Compliant {
		return price.Price{}, false, nil
	}
	if err := s.scrapeLimiter(competitor).Wait(ctx); err != nil {
		return price.Price{}, false, eris.Wrap(err, "fetch: scrape rate limit")
	}

	page, err := s.browser.Page(ctx)
	if err != nil {
		return price.Price{}, false, err
	}
	defer s.browser.ClosePage(page, 2*time.Second, 5*time.Second)

	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return price.Price{}, false, eris.Wrapf(err, "fetch: navigate %s", pageURL)
	}
	_ = page.Context(navCtx).WaitLoad()

	content, err := page.HTML()
	if err != nil {
		return price.Price{}, false, eris.Wrap(err, "fetch: read page content")
	}
	if IsChallenge(content) {
		return price.Price{}, false, eris.Wrapf(ErrCaptchaDetected, "fetch: scrape %s", competitor)
	}

	text := firstSelectorText(page, priceSelectors[competitor], s.opts.SelectorTimeout)
	p, ok := price.Parse(text)
	return p, ok, nil
}

// firstSelectorText tries each selector in order and returns the first
// non-empty text content found.
func firstSelectorText(page *rod.Page, selectors []string, timeout time.Duration) string {
	for _, sel := range selectors {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		el, err := page.Context(ctx).Element(sel)
		if err == nil {
			if text, err := el.Text(); err == nil && text != "" {
				cancel()
				return text
			}
		}
		cancel()
	}
	return ""
}
