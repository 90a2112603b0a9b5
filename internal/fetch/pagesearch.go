package fetch

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pricetrack/internal/model"
	"github.com/sells-group/pricetrack/internal/price"
)

// PageSearchOptions configures rendered-page search behavior.
type PageSearchOptions struct {
	// Compliant disables the rendered-page channel entirely.
	Compliant       bool
	NavTimeout      time.Duration
	SelectorTimeout time.Duration
}

func (o *PageSearchOptions) defaults() {
	if o.NavTimeout <= 0 {
		o.NavTimeout = 30 * time.Second
	}
	if o.SelectorTimeout <= 0 {
		o.SelectorTimeout = 15 * time.Second
	}
}

// PageSearcher finds candidates by loading a competitor's search results
// page in the shared headless browser and extracting the top results via
// structural selectors.
type PageSearcher struct {
	competitor model.Competitor
	browser    *Browser
	limiter    *rate.Limiter
	opts       PageSearchOptions
	extract    func(page *rod.Page, selTimeout time.Duration) []model.Candidate
}

// NewPageSearcher builds the rendered-page searcher for a competitor.
func NewPageSearcher(competitor model.Competitor, browser *Browser, limiter *rate.Limiter, opts PageSearchOptions) *PageSearcher {
	opts.defaults()
	s := &PageSearcher{
		competitor: competitor,
		browser:    browser,
		limiter:    limiter,
		opts:       opts,
	}
	switch competitor {
	case model.CompetitorAmazon:
		s.extract = extractAmazonResults
	case model.CompetitorWalmart:
		s.extract = extractWalmartResults
	case model.CompetitorEbay:
		s.extract = extractEbayResults
	}
	return s
}

func (s *PageSearcher) Competitor() model.Competitor { return s.competitor }

func (s *PageSearcher) Name() string { return s.competitor.String() + "_page" }

// Search loads the search results page and extracts up to MaxCandidates
// listings. In compliant mode it returns nothing. A detected bot challenge
// aborts with ErrCaptchaDetected and is not retried here.
func (s *PageSearcher) Search(ctx context.Context, query string) ([]model.Candidate, error) {
	if s.opts.Compliant {
		return nil, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: search rate limit")
	}

	page, err := s.browser.Page(ctx)
	if err != nil {
		return nil, err
	}
	defer s.browser.ClosePage(page, time.Second, 3*time.Second)

	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavTimeout)
	defer cancel()

	searchURL := SearchURL(s.competitor, query)
	if err := page.Context(navCtx).Navigate(searchURL); err != nil {
		return nil, eris.Wrapf(err, "fetch: navigate %s", searchURL)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		zap.L().Debug("fetch: search page load timeout",
			zap.String("competitor", s.competitor.String()),
			zap.Error(err),
		)
	}

	content, err := page.HTML()
	if err != nil {
		return nil, eris.Wrap(err, "fetch: read page content")
	}
	if IsChallenge(content) {
		return nil, eris.Wrapf(ErrCaptchaDetected, "fetch: search %s", s.competitor)
	}

	candidates := s.extract(page, s.opts.SelectorTimeout)
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return candidates, nil
}

// waitFor blocks until the selector appears or the timeout passes. A
// timeout means "no candidates from this source", not a failure.
func waitFor(page *rod.Page, sel string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := page.Context(ctx).Element(sel)
	return err == nil
}

func extractAmazonResults(page *rod.Page, selTimeout time.Duration) []model.Candidate {
	if !waitFor(page, "div.s-result-item h2 a", selTimeout) {
		return nil
	}

	links, err := page.Elements("div.s-result-item h2 a")
	if err != nil {
		return nil
	}

	var out []model.Candidate
	for _, link := range links {
		if len(out) >= MaxCandidates {
			break
		}
		title, _ := link.Text()
		href := hrefOf(link)
		if title == "" || href == "" {
			continue
		}
		out = append(out, model.Candidate{
			Title:       title,
			URL:         href,
			SellerTrust: TrustAmazonPage,
		})
	}

	// Best-effort prices: the offer grid lists one price element per tile;
	// attach them positionally only when the counts line up.
	priceEls, err := page.Elements("div.s-result-item .a-price .a-offscreen")
	if err == nil && len(priceEls) == len(out) {
		for i, el := range priceEls {
			text, _ := el.Text()
			if p, ok := price.Parse(text); ok {
				out[i].Price = &p.Cents
				out[i].Currency = p.Currency
			}
		}
	}

	return out
}

func extractWalmartResults(page *rod.Page, selTimeout time.Duration) []model.Candidate {
	if !waitFor(page, `a[href*="/ip/"]`, selTimeout) {
		return nil
	}

	links, err := page.Elements(`a[href*="/ip/"]`)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []model.Candidate
	for _, link := range links {
		if len(out) >= MaxCandidates {
			break
		}
		title := attrOf(link, "aria-label")
		if title == "" {
			title, _ = link.Text()
		}
		href := hrefOf(link)
		if title == "" || href == "" || seen[href] {
			continue
		}
		seen[href] = true
		out = append(out, model.Candidate{
			Title:       title,
			URL:         href,
			SellerTrust: TrustWalmartPage,
		})
	}
	return out
}

func extractEbayResults(page *rod.Page, selTimeout time.Duration) []model.Candidate {
	if !waitFor(page, ".s-item", selTimeout) {
		return nil
	}

	items, err := page.Elements(".s-item")
	if err != nil {
		return nil
	}

	var out []model.Candidate
	for _, item := range items {
		if len(out) >= MaxCandidates {
			break
		}
		hasLink, link, err := item.Has(".s-item__link")
		if err != nil || !hasLink {
			continue
		}
		title, _ := link.Text()
		href := hrefOf(link)
		if title == "" || href == "" {
			continue
		}

		c := model.Candidate{
			Title:       title,
			URL:         href,
			SellerTrust: TrustEbayPage,
		}
		if hasPrice, priceEl, err := item.Has(".s-item__price"); err == nil && hasPrice {
			text, _ := priceEl.Text()
			if p, ok := price.Parse(text); ok {
				c.Price = &p.Cents
				c.Currency = p.Currency
			}
		}
		out = append(out, c)
	}
	return out
}

// hrefOf resolves an anchor's absolute URL.
func hrefOf(el *rod.Element) string {
	prop, err := el.Property("href")
	if err != nil {
		return ""
	}
	return prop.Str()
}

func attrOf(el *rod.Element, name string) string {
	attr, err := el.Attribute(name)
	if err != nil || attr == nil {
		return ""
	}
	return *attr
}
