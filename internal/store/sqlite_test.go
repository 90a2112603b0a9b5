package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricetrack/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func strPtr(s string) *string { return &s }

// --- UpsertMatch ---

func TestSQLite_UpsertMatch_Insert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5 Headphones",
		Competitor:   model.CompetitorAmazon,
		URL:          strPtr("https://www.amazon.com/dp/B09XS7JWHH"),
		Title:        strPtr("Sony WH-1000XM5 Wireless Headphones"),
		Confidence:   85,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "prod-1", m.ProductID)
	assert.Equal(t, model.CompetitorAmazon, m.Competitor)
	require.NotNil(t, m.URL)
	assert.Equal(t, "https://www.amazon.com/dp/B09XS7JWHH", *m.URL)
	assert.Equal(t, 85, m.Confidence)
	assert.False(t, m.ManualOverride)
	assert.False(t, m.LastSearched.IsZero())
}

func TestSQLite_UpsertMatch_NoCandidateStoredAsNull(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Obscure Widget",
		Competitor:   model.CompetitorWalmart,
		Confidence:   0,
	})
	require.NoError(t, err)
	assert.Nil(t, m.URL)
	assert.Nil(t, m.Title)
	assert.Equal(t, 0, m.Confidence)
}

func TestSQLite_UpsertMatch_UpdatesExistingRow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorEbay,
		URL:          strPtr("https://www.ebay.com/itm/1"),
		Title:        strPtr("Sony WH1000XM5"),
		Confidence:   72,
	})
	require.NoError(t, err)

	second, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorEbay,
		URL:          strPtr("https://www.ebay.com/itm/2"),
		Title:        strPtr("Sony WH-1000XM5 Noise Canceling"),
		Confidence:   91,
	})
	require.NoError(t, err)

	// Same row, updated fields.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "https://www.ebay.com/itm/2", *second.URL)
	assert.Equal(t, 91, second.Confidence)
	assert.False(t, second.LastSearched.Before(first.LastSearched))

	all, err := st.GetAllMatches(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_UpsertMatch_DoesNotTouchManualOverride(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ov, err := st.OverrideMatch(ctx, "prod-1", "Sony WH-1000XM5", model.CompetitorAmazon, "https://www.amazon.com/dp/MANUAL")
	require.NoError(t, err)
	require.True(t, ov.ManualOverride)

	after, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorAmazon,
		URL:          strPtr("https://www.amazon.com/dp/AUTOMATED"),
		Title:        strPtr("Some Other Listing"),
		Confidence:   74,
	})
	require.NoError(t, err)

	// The override's url/title/confidence survive; only bookkeeping moved.
	assert.True(t, after.ManualOverride)
	require.NotNil(t, after.URL)
	assert.Equal(t, "https://www.amazon.com/dp/MANUAL", *after.URL)
	assert.Nil(t, after.Title)
	assert.Equal(t, 100, after.Confidence)
	assert.False(t, after.LastSearched.Before(ov.LastSearched))
}

// --- OverrideMatch ---

func TestSQLite_OverrideMatch_CreatesRow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m, err := st.OverrideMatch(ctx, "prod-9", "Kindle Paperwhite", model.CompetitorWalmart, "https://www.walmart.com/ip/12345")
	require.NoError(t, err)
	assert.True(t, m.ManualOverride)
	assert.Equal(t, 100, m.Confidence)
	assert.Nil(t, m.Title)
	require.NotNil(t, m.URL)
	assert.Equal(t, "https://www.walmart.com/ip/12345", *m.URL)
}

func TestSQLite_OverrideMatch_ReplacesAutomatedDecision(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	auto, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-9",
		ProductTitle: "Kindle Paperwhite",
		Competitor:   model.CompetitorWalmart,
		URL:          strPtr("https://www.walmart.com/ip/wrong"),
		Title:        strPtr("Kindle Case"),
		Confidence:   71,
	})
	require.NoError(t, err)

	ov, err := st.OverrideMatch(ctx, "prod-9", "Kindle Paperwhite", model.CompetitorWalmart, "https://www.walmart.com/ip/right")
	require.NoError(t, err)

	assert.Equal(t, auto.ID, ov.ID)
	assert.True(t, ov.ManualOverride)
	assert.Equal(t, 100, ov.Confidence)
	assert.Equal(t, "https://www.walmart.com/ip/right", *ov.URL)
	assert.Nil(t, ov.Title)
}

func TestSQLite_OverrideMatch_ClearsCooldown(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-9",
		ProductTitle: "Kindle Paperwhite",
		Competitor:   model.CompetitorAmazon,
		Confidence:   0,
	})
	require.NoError(t, err)
	require.NoError(t, st.SetCooldown(ctx, m.ID, time.Now().Add(6*time.Hour)))

	ov, err := st.OverrideMatch(ctx, "prod-9", "Kindle Paperwhite", model.CompetitorAmazon, "https://www.amazon.com/dp/X")
	require.NoError(t, err)
	assert.Nil(t, ov.CooldownUntil)
}

// --- Lookups ---

func TestSQLite_GetMatch_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetMatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_GetMatchesByProduct(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, c := range model.Competitors() {
		_, err := st.UpsertMatch(ctx, UpsertParams{
			ProductID:    "prod-1",
			ProductTitle: "Sony WH-1000XM5",
			Competitor:   c,
			Confidence:   50,
		})
		require.NoError(t, err)
	}
	_, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-2",
		ProductTitle: "Other Product",
		Competitor:   model.CompetitorAmazon,
		Confidence:   50,
	})
	require.NoError(t, err)

	matches, err := st.GetMatchesByProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Len(t, matches, 3)
	for _, m := range matches {
		assert.Equal(t, "prod-1", m.ProductID)
	}
}

func TestSQLite_RecentProducts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertMatch(ctx, UpsertParams{ProductID: "prod-old", ProductTitle: "Old", Competitor: model.CompetitorAmazon})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = st.UpsertMatch(ctx, UpsertParams{ProductID: "prod-new", ProductTitle: "New", Competitor: model.CompetitorAmazon})
	require.NoError(t, err)

	refs, err := st.RecentProducts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "prod-new", refs[0].ProductID)
	assert.Equal(t, "prod-old", refs[1].ProductID)

	refs, err = st.RecentProducts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

// --- Cooldown ---

func TestSQLite_SetCooldown(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorAmazon,
	})
	require.NoError(t, err)

	until := time.Now().UTC().Add(6 * time.Hour)
	require.NoError(t, st.SetCooldown(ctx, m.ID, until))

	got, err := st.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CooldownUntil)
	assert.True(t, got.CoolingDown(time.Now()))
	assert.False(t, got.CoolingDown(until.Add(time.Minute)))
}

func TestSQLite_SetCooldown_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SetCooldown(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Price history ---

func TestSQLite_PriceHistory_AppendAndLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorAmazon,
		URL:          strPtr("https://www.amazon.com/dp/B09XS7JWHH"),
		Confidence:   85,
	})
	require.NoError(t, err)

	_, err = st.InsertPriceSample(ctx, m.ID, 34999, "USD", model.PriceSourceScrape, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = st.InsertPriceSample(ctx, m.ID, 32999, "USD", model.PriceSourceScrape, strPtr("sale"))
	require.NoError(t, err)

	latest, err := st.LatestPriceByMatch(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(32999), latest.Price)
	require.NotNil(t, latest.Notes)
	assert.Equal(t, "sale", *latest.Notes)
}

func TestSQLite_PriceHistory_EmptyLatestIsNil(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorAmazon,
	})
	require.NoError(t, err)

	latest, err := st.LatestPriceByMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSQLite_PriceHistory_DefaultsCurrencyToUSD(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorEbay,
	})
	require.NoError(t, err)

	ps, err := st.InsertPriceSample(ctx, m.ID, 1999, "", model.PriceSourceAPI, nil)
	require.NoError(t, err)
	assert.Equal(t, "USD", ps.Currency)
}

func TestSQLite_PriceHistory_NewestFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorAmazon,
	})
	require.NoError(t, err)

	for _, cents := range []int64{34999, 33999, 32999} {
		_, err = st.InsertPriceSample(ctx, m.ID, cents, "USD", model.PriceSourceScrape, nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	history, err := st.PriceHistory(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(32999), history[0].Price)
	assert.Equal(t, int64(34999), history[2].Price)
}

func TestSQLite_LatestPriceByProduct(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	amazon, err := st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorAmazon,
		URL:          strPtr("https://www.amazon.com/dp/B09XS7JWHH"),
		Confidence:   85,
	})
	require.NoError(t, err)
	_, err = st.UpsertMatch(ctx, UpsertParams{
		ProductID:    "prod-1",
		ProductTitle: "Sony WH-1000XM5",
		Competitor:   model.CompetitorWalmart,
		Confidence:   0,
	})
	require.NoError(t, err)

	_, err = st.InsertPriceSample(ctx, amazon.ID, 34999, "USD", model.PriceSourceScrape, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = st.InsertPriceSample(ctx, amazon.ID, 31999, "USD", model.PriceSourceScrape, nil)
	require.NoError(t, err)

	prices, err := st.LatestPriceByProduct(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, prices, 2)

	byCompetitor := map[model.Competitor]model.ProductPrice{}
	for _, p := range prices {
		byCompetitor[p.Competitor] = p
	}

	az := byCompetitor[model.CompetitorAmazon]
	require.NotNil(t, az.Price)
	assert.Equal(t, int64(31999), *az.Price)

	wm := byCompetitor[model.CompetitorWalmart]
	assert.Nil(t, wm.Price)
	assert.Nil(t, wm.Currency)
}
