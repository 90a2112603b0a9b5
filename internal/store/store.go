// Package store persists competitor match decisions and price history.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricetrack/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// UpsertParams carries one automated research outcome into the store.
// URL and Title are nil when the run found no confident match; that state
// is persisted too.
type UpsertParams struct {
	ProductID    string
	ProductTitle string
	Competitor   model.Competitor
	URL          *string
	Title        *string
	Confidence   int
}

// ProductRef identifies a product/title pair seen by research.
type ProductRef struct {
	ProductID string `json:"product_id"`
	Title     string `json:"product_title"`
}

// Store is the persistence boundary consumed by the research orchestrator.
//
// UpsertMatch has research semantics: it always refreshes last_searched,
// but leaves url/title/confidence untouched while the row carries a manual
// override. OverrideMatch is the explicit human path and overwrites
// unconditionally, setting the override flag. Both return the row as
// persisted, which with an override in place may differ from the input.
type Store interface {
	UpsertMatch(ctx context.Context, p UpsertParams) (*model.CompetitorMatch, error)
	OverrideMatch(ctx context.Context, productID, productTitle string, competitor model.Competitor, url string) (*model.CompetitorMatch, error)
	GetMatch(ctx context.Context, matchID string) (*model.CompetitorMatch, error)
	GetMatchesByProduct(ctx context.Context, productID string) ([]model.CompetitorMatch, error)
	GetAllMatches(ctx context.Context) ([]model.CompetitorMatch, error)
	RecentProducts(ctx context.Context, limit int) ([]ProductRef, error)
	SetCooldown(ctx context.Context, matchID string, until time.Time) error

	InsertPriceSample(ctx context.Context, matchID string, priceCents int64, currency string, source model.PriceSource, notes *string) (*model.PriceSample, error)
	PriceHistory(ctx context.Context, matchID string) ([]model.PriceSample, error)
	LatestPriceByMatch(ctx context.Context, matchID string) (*model.PriceSample, error)
	LatestPriceByProduct(ctx context.Context, productID string) ([]model.ProductPrice, error)

	Migrate(ctx context.Context) error
	Close() error
}
