package tracker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricetrack/internal/fetch"
	"github.com/sells-group/pricetrack/internal/match"
	"github.com/sells-group/pricetrack/internal/model"
	"github.com/sells-group/pricetrack/internal/price"
	"github.com/sells-group/pricetrack/internal/store"
)

type fakeSearcher struct {
	mu         sync.Mutex
	competitor model.Competitor
	candidates []model.Candidate
	err        error
	queries    []string
}

func (f *fakeSearcher) Competitor() model.Competitor { return f.competitor }

func (f *fakeSearcher) Search(_ context.Context, query string) ([]model.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type fakeScraper struct {
	mu    sync.Mutex
	calls int
	price price.Price
	ok    bool
	err   error
}

func (f *fakeScraper) ScrapePrice(context.Context, model.Competitor, string) (price.Price, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return price.Price{}, false, f.err
	}
	return f.price, f.ok, nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func i64(v int64) *int64 { return &v }

func strongCandidate(title, url string, cents int64) model.Candidate {
	return model.Candidate{
		Title:       title,
		URL:         url,
		Price:       i64(cents),
		Currency:    "USD",
		SellerTrust: fetch.TrustAmazonPage,
		Condition:   model.ConditionNew,
	}
}

func TestResearchProduct_ConfirmsHighScoringMatch(t *testing.T) {
	st := newTestStore(t)
	scraper := &fakeScraper{}
	amazon := &fakeSearcher{
		competitor: model.CompetitorAmazon,
		candidates: []model.Candidate{
			strongCandidate("Sony WH-1000XM5 Wireless Headphones", "https://www.amazon.com/dp/B09XS7JWHH", 34999),
		},
	}
	walmart := &fakeSearcher{competitor: model.CompetitorWalmart}
	ebay := &fakeSearcher{competitor: model.CompetitorEbay}

	svc := New(st, []Searcher{amazon, walmart, ebay}, scraper, time.Hour)

	result, err := svc.ResearchProduct(context.Background(), "prod-1", "Sony WH-1000XM5 Wireless Headphones", i64(34999))
	require.NoError(t, err)
	require.Len(t, result.Matches, 3)

	matches, err := st.GetMatchesByProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	require.Len(t, matches, 3)

	byCompetitor := map[model.Competitor]model.CompetitorMatch{}
	for _, m := range matches {
		byCompetitor[m.Competitor] = m
	}

	az := byCompetitor[model.CompetitorAmazon]
	require.NotNil(t, az.URL)
	assert.Equal(t, "https://www.amazon.com/dp/B09XS7JWHH", *az.URL)
	assert.GreaterOrEqual(t, az.Confidence, 70)

	// The candidate carried its own price, no page scrape needed.
	sample, err := st.LatestPriceByMatch(context.Background(), az.ID)
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, int64(34999), sample.Price)
	assert.Equal(t, model.PriceSourceScrape, sample.Source)
	assert.Equal(t, 0, scraper.callCount())
}

func TestResearchProduct_NoCandidatesLeavesUnmatched(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, []Searcher{
		&fakeSearcher{competitor: model.CompetitorAmazon},
		&fakeSearcher{competitor: model.CompetitorWalmart},
		&fakeSearcher{competitor: model.CompetitorEbay},
	}, &fakeScraper{}, time.Hour)

	result, err := svc.ResearchProduct(context.Background(), "prod-1", "Completely Unknown Widget X99", nil)
	require.NoError(t, err)

	// Placeholder search-page candidates never clear the threshold.
	for _, research := range result.Matches {
		assert.Nil(t, research.Best)
		assert.NotEmpty(t, research.Candidates)
	}

	matches, err := st.GetMatchesByProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.Nil(t, m.URL, "competitor %s", m.Competitor)
		// The placeholder's score is still recorded, below the threshold.
		assert.Greater(t, m.Confidence, 0)
		assert.Less(t, m.Confidence, match.ConfidenceThreshold)
		assert.False(t, m.LastSearched.IsZero())
	}
}

func TestResearchProduct_PersistsBestScoreWhenUnconfirmed(t *testing.T) {
	st := newTestStore(t)
	// Partially similar title, wildly different price: scores above 0 but
	// below the threshold, so no URL is confirmed.
	amazon := &fakeSearcher{
		competitor: model.CompetitorAmazon,
		candidates: []model.Candidate{{
			Title:       "Sony WH-CH520 Wireless Headphones",
			URL:         "https://www.amazon.com/dp/NEARMISS",
			Price:       i64(4999),
			Currency:    "USD",
			SellerTrust: fetch.TrustAmazonPage,
			Condition:   model.ConditionNew,
		}},
	}
	svc := New(st, []Searcher{amazon}, &fakeScraper{}, time.Hour)

	result, err := svc.ResearchProduct(context.Background(), "prod-1", "Sony WH-1000XM5 Wireless Headphones", i64(34999))
	require.NoError(t, err)

	var want int
	for _, research := range result.Matches {
		if research.Competitor != model.CompetitorAmazon {
			continue
		}
		require.Nil(t, research.Best)
		for _, c := range research.Candidates {
			if c.Score > want {
				want = c.Score
			}
		}
	}
	require.Greater(t, want, 0)
	require.Less(t, want, match.ConfidenceThreshold)

	matches, err := st.GetMatchesByProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	for _, m := range matches {
		if m.Competitor != model.CompetitorAmazon {
			continue
		}
		assert.Nil(t, m.URL)
		assert.Equal(t, want, m.Confidence, "best score survives an unconfirmed decision")
	}
}

func TestResearchProduct_EbayAPISampleSource(t *testing.T) {
	st := newTestStore(t)
	ebayCandidate := model.Candidate{
		Title:       "Apple AirPods Pro 2nd Generation",
		URL:         "https://www.ebay.com/itm/123",
		Price:       i64(19999),
		Currency:    "USD",
		SellerTrust: fetch.TrustEbayAPI,
		Condition:   model.ConditionNew,
		Reviews:     &model.Reviews{Rating: 4.8, Count: 1200},
	}
	svc := New(st, []Searcher{
		&fakeSearcher{competitor: model.CompetitorAmazon},
		&fakeSearcher{competitor: model.CompetitorWalmart},
		&fakeSearcher{competitor: model.CompetitorEbay, candidates: []model.Candidate{ebayCandidate}},
	}, &fakeScraper{}, time.Hour)

	_, err := svc.ResearchProduct(context.Background(), "prod-2", "Apple AirPods Pro 2nd Generation", i64(19999))
	require.NoError(t, err)

	matches, err := st.GetMatchesByProduct(context.Background(), "prod-2")
	require.NoError(t, err)
	for _, m := range matches {
		if m.Competitor != model.CompetitorEbay {
			continue
		}
		require.NotNil(t, m.URL)
		sample, err := st.LatestPriceByMatch(context.Background(), m.ID)
		require.NoError(t, err)
		require.NotNil(t, sample)
		assert.Equal(t, model.PriceSourceAPI, sample.Source)
	}
}

func TestResearchProduct_RespectsManualOverride(t *testing.T) {
	st := newTestStore(t)
	scraper := &fakeScraper{price: price.Price{Cents: 12999, Currency: "USD"}, ok: true}
	amazon := &fakeSearcher{
		competitor: model.CompetitorAmazon,
		candidates: []model.Candidate{
			strongCandidate("Kindle Paperwhite 16GB", "https://www.amazon.com/dp/AUTOMATED", 12999),
		},
	}
	svc := New(st, []Searcher{
		amazon,
		&fakeSearcher{competitor: model.CompetitorWalmart},
		&fakeSearcher{competitor: model.CompetitorEbay},
	}, scraper, time.Hour)

	_, err := svc.Override(context.Background(), "prod-3", "Kindle Paperwhite 16GB", model.CompetitorAmazon, "https://www.amazon.com/dp/MANUAL")
	require.NoError(t, err)

	_, err = svc.ResearchProduct(context.Background(), "prod-3", "Kindle Paperwhite 16GB", i64(12999))
	require.NoError(t, err)

	matches, err := st.GetMatchesByProduct(context.Background(), "prod-3")
	require.NoError(t, err)
	for _, m := range matches {
		if m.Competitor != model.CompetitorAmazon {
			continue
		}
		assert.True(t, m.ManualOverride)
		require.NotNil(t, m.URL)
		assert.Equal(t, "https://www.amazon.com/dp/MANUAL", *m.URL)
		assert.Equal(t, 100, m.Confidence)
	}
}

func TestResearchProduct_CaptchaSkipsCompetitor(t *testing.T) {
	st := newTestStore(t)
	walmartCandidate := strongCandidate("Sony WH-1000XM5", "https://www.walmart.com/ip/9", 34999)
	svc := New(st, []Searcher{
		&fakeSearcher{competitor: model.CompetitorAmazon, err: fetch.ErrCaptchaDetected},
		&fakeSearcher{competitor: model.CompetitorWalmart, candidates: []model.Candidate{walmartCandidate}},
		&fakeSearcher{competitor: model.CompetitorEbay},
	}, &fakeScraper{}, time.Hour)

	result, err := svc.ResearchProduct(context.Background(), "prod-4", "Sony WH-1000XM5", i64(34999))
	require.NoError(t, err)

	byCompetitor := map[model.Competitor]model.CompetitorResearch{}
	for _, r := range result.Matches {
		byCompetitor[r.Competitor] = r
	}
	assert.Nil(t, byCompetitor[model.CompetitorAmazon].Best)
	assert.Empty(t, byCompetitor[model.CompetitorAmazon].Candidates)
	require.NotNil(t, byCompetitor[model.CompetitorWalmart].Best)
}

func TestResearchProduct_TriesVariantsUntilResults(t *testing.T) {
	st := newTestStore(t)
	amazon := &fakeSearcher{competitor: model.CompetitorAmazon}
	svc := New(st, []Searcher{amazon}, &fakeScraper{}, time.Hour)

	_, err := svc.ResearchProduct(context.Background(), "prod-5", "Sony WH1000XM5 Wireless Headphones Black", nil)
	require.NoError(t, err)

	// Every variant was attempted against the empty searcher.
	amazon.mu.Lock()
	defer amazon.mu.Unlock()
	assert.Greater(t, len(amazon.queries), 1)
}

func TestResearchProduct_RoundsConfidence(t *testing.T) {
	st := newTestStore(t)
	// Identical title and price, trust 53: 40 + 30 + 10.6 = 80.6, which
	// must persist as 81.
	amazon := &fakeSearcher{
		competitor: model.CompetitorAmazon,
		candidates: []model.Candidate{{
			Title:       "Sony WH-1000XM5 Wireless Headphones",
			URL:         "https://www.amazon.com/dp/B09XS7JWHH",
			Price:       i64(34999),
			Currency:    "USD",
			SellerTrust: 53,
			Condition:   model.ConditionNew,
		}},
	}
	svc := New(st, []Searcher{amazon}, &fakeScraper{}, time.Hour)

	_, err := svc.ResearchProduct(context.Background(), "prod-1", "Sony WH-1000XM5 Wireless Headphones", i64(34999))
	require.NoError(t, err)

	matches, err := st.GetMatchesByProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	for _, m := range matches {
		if m.Competitor == model.CompetitorAmazon {
			assert.Equal(t, 81, m.Confidence)
		}
	}
}

func TestSearchCompetitor_ReturnsSearcherResults(t *testing.T) {
	st := newTestStore(t)
	amazon := &fakeSearcher{
		competitor: model.CompetitorAmazon,
		candidates: []model.Candidate{
			strongCandidate("Sony WH-1000XM5", "https://www.amazon.com/dp/1", 34999),
			strongCandidate("Sony WH-1000XM4", "https://www.amazon.com/dp/2", 27999),
		},
	}
	svc := New(st, []Searcher{amazon}, &fakeScraper{}, time.Hour)

	got, err := svc.SearchCompetitor(context.Background(), model.CompetitorAmazon, "Sony WH-1000XM5")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://www.amazon.com/dp/1", got[0].URL)
}

func TestSearchCompetitor_PlaceholderUsesFirstVariant(t *testing.T) {
	st := newTestStore(t)
	amazon := &fakeSearcher{competitor: model.CompetitorAmazon}
	svc := New(st, []Searcher{amazon}, &fakeScraper{}, time.Hour)

	// "for" is dropped by normalization; the placeholder is built from the
	// normalized first variant, not the raw title.
	got, err := svc.SearchCompetitor(context.Background(), model.CompetitorAmazon, "Apple AirPods Pro for Running")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "amazon search for apple airpods pro running", got[0].Title)
	assert.Equal(t, "https://www.amazon.com/s?k=apple+airpods+pro+running", got[0].URL)
	assert.Equal(t, fetch.TrustPlaceholder, got[0].SellerTrust)
}

func TestSearchCompetitor_CapsCandidates(t *testing.T) {
	st := newTestStore(t)
	var many []model.Candidate
	for i := 0; i < fetch.MaxCandidates+3; i++ {
		many = append(many, strongCandidate("Widget", "https://www.amazon.com/dp/X", 1000))
	}
	amazon := &fakeSearcher{competitor: model.CompetitorAmazon, candidates: many}
	svc := New(st, []Searcher{amazon}, &fakeScraper{}, time.Hour)

	got, err := svc.SearchCompetitor(context.Background(), model.CompetitorAmazon, "Widget")
	require.NoError(t, err)
	assert.Len(t, got, fetch.MaxCandidates)
}

func TestSearchCompetitor_PropagatesCaptcha(t *testing.T) {
	st := newTestStore(t)
	amazon := &fakeSearcher{competitor: model.CompetitorAmazon, err: fetch.ErrCaptchaDetected}
	svc := New(st, []Searcher{amazon}, &fakeScraper{}, time.Hour)

	got, err := svc.SearchCompetitor(context.Background(), model.CompetitorAmazon, "Widget")
	require.Error(t, err)
	assert.True(t, fetch.IsCaptcha(err))
	assert.Nil(t, got)
}

func TestSearchCompetitor_NoSearcherRegistered(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, nil, &fakeScraper{}, time.Hour)

	got, err := svc.SearchCompetitor(context.Background(), model.CompetitorAmazon, "Widget")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScrapeAndPersist_AppendsSample(t *testing.T) {
	st := newTestStore(t)
	scraper := &fakeScraper{price: price.Price{Cents: 8999, Currency: "USD"}, ok: true}
	svc := New(st, nil, scraper, time.Hour)

	url := "https://www.walmart.com/ip/1"
	m, err := st.UpsertMatch(context.Background(), store.UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Widget",
		Competitor:   model.CompetitorWalmart,
		URL:          &url,
		Confidence:   80,
	})
	require.NoError(t, err)

	sample, err := svc.ScrapeAndPersist(context.Background(), m)
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, int64(8999), sample.Price)
	assert.Equal(t, model.PriceSourceScrape, sample.Source)
}

func TestScrapeAndPersist_SkipsMatchWithoutURL(t *testing.T) {
	st := newTestStore(t)
	scraper := &fakeScraper{ok: true}
	svc := New(st, nil, scraper, time.Hour)

	m, err := st.UpsertMatch(context.Background(), store.UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Widget",
		Competitor:   model.CompetitorWalmart,
	})
	require.NoError(t, err)

	sample, err := svc.ScrapeAndPersist(context.Background(), m)
	require.NoError(t, err)
	assert.Nil(t, sample)
	assert.Equal(t, 0, scraper.callCount())
}

func TestScrapeAndPersist_CaptchaSetsCooldown(t *testing.T) {
	st := newTestStore(t)
	scraper := &fakeScraper{err: fetch.ErrCaptchaDetected}
	svc := New(st, nil, scraper, 6*time.Hour)

	url := "https://www.amazon.com/dp/X"
	m, err := st.UpsertMatch(context.Background(), store.UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Widget",
		Competitor:   model.CompetitorAmazon,
		URL:          &url,
		Confidence:   80,
	})
	require.NoError(t, err)

	sample, err := svc.ScrapeAndPersist(context.Background(), m)
	require.NoError(t, err)
	assert.Nil(t, sample)

	got, err := st.GetMatch(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CooldownUntil)
	assert.True(t, got.CoolingDown(time.Now()))

	// A cooled-down match is skipped entirely on the next attempt.
	sample, err = svc.ScrapeAndPersist(context.Background(), got)
	require.NoError(t, err)
	assert.Nil(t, sample)
	assert.Equal(t, 1, scraper.callCount())
}

func TestRescrapeAll_SkipsUnscrapable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scraper := &fakeScraper{price: price.Price{Cents: 1999, Currency: "USD"}, ok: true}
	svc := New(st, nil, scraper, time.Hour)

	url := "https://www.amazon.com/dp/A"
	_, err := st.UpsertMatch(ctx, store.UpsertParams{
		ProductID: "prod-1", ProductTitle: "A", Competitor: model.CompetitorAmazon, URL: &url, Confidence: 80,
	})
	require.NoError(t, err)
	_, err = st.UpsertMatch(ctx, store.UpsertParams{
		ProductID: "prod-1", ProductTitle: "A", Competitor: model.CompetitorWalmart,
	})
	require.NoError(t, err)
	coolURL := "https://www.ebay.com/itm/C"
	cooling, err := st.UpsertMatch(ctx, store.UpsertParams{
		ProductID: "prod-1", ProductTitle: "A", Competitor: model.CompetitorEbay, URL: &coolURL, Confidence: 80,
	})
	require.NoError(t, err)
	require.NoError(t, st.SetCooldown(ctx, cooling.ID, time.Now().Add(time.Hour)))

	scraped, failed, err := svc.RescrapeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scraped)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 1, scraper.callCount())
}

func TestReresearchRecent_WalksRecentProducts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	svc := New(st, []Searcher{
		&fakeSearcher{competitor: model.CompetitorAmazon},
		&fakeSearcher{competitor: model.CompetitorWalmart},
		&fakeSearcher{competitor: model.CompetitorEbay},
	}, &fakeScraper{}, time.Hour)

	_, err := svc.ResearchProduct(ctx, "prod-1", "Widget One", nil)
	require.NoError(t, err)
	_, err = svc.ResearchProduct(ctx, "prod-2", "Widget Two", nil)
	require.NoError(t, err)

	done, err := svc.ReresearchRecent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, done)
}

func TestOverride_PinsMatchAndScrapes(t *testing.T) {
	st := newTestStore(t)
	scraper := &fakeScraper{price: price.Price{Cents: 25999, Currency: "USD"}, ok: true}
	svc := New(st, nil, scraper, time.Hour)

	m, err := svc.Override(context.Background(), "prod-1", "Sony WH-1000XM5", model.CompetitorWalmart, "https://www.walmart.com/ip/555")
	require.NoError(t, err)
	assert.True(t, m.ManualOverride)
	assert.Equal(t, 100, m.Confidence)

	sample, err := st.LatestPriceByMatch(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, int64(25999), sample.Price)
	assert.Equal(t, 1, scraper.callCount())
}
