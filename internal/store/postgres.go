package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricetrack/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the store, narrow enough for
// pgxmock to stand in during tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS competitor_match (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id         TEXT NOT NULL,
	product_title      TEXT NOT NULL,
	competitor_name    TEXT NOT NULL,
	competitor_url     TEXT,
	competitor_title   TEXT,
	match_confidence   INTEGER NOT NULL DEFAULT 0,
	is_manual_override BOOLEAN NOT NULL DEFAULT false,
	last_searched      TIMESTAMPTZ NOT NULL,
	cooldown_until     TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (product_id, competitor_name)
);

CREATE TABLE IF NOT EXISTS price_history (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	competitor_match_id TEXT NOT NULL REFERENCES competitor_match(id),
	price               BIGINT NOT NULL,
	currency_code       TEXT NOT NULL DEFAULT 'USD',
	source              TEXT NOT NULL,
	notes               TEXT,
	recorded_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_competitor_match_product_id ON competitor_match(product_id);
CREATE INDEX IF NOT EXISTS idx_competitor_match_last_searched ON competitor_match(last_searched);
CREATE INDEX IF NOT EXISTS idx_price_history_match_id ON price_history(competitor_match_id);
CREATE INDEX IF NOT EXISTS idx_price_history_recorded_at ON price_history(recorded_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const postgresMatchColumns = `id, product_id, product_title, competitor_name, competitor_url,
	competitor_title, match_confidence, is_manual_override, last_searched,
	cooldown_until, created_at, updated_at`

func (s *PostgresStore) UpsertMatch(ctx context.Context, p UpsertParams) (*model.CompetitorMatch, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO competitor_match
			(id, product_id, product_title, competitor_name, competitor_url,
			 competitor_title, match_confidence, is_manual_override,
			 last_searched, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $8, $8)
		 ON CONFLICT (product_id, competitor_name) DO UPDATE SET
			product_title    = excluded.product_title,
			competitor_url   = CASE WHEN competitor_match.is_manual_override THEN competitor_match.competitor_url ELSE excluded.competitor_url END,
			competitor_title = CASE WHEN competitor_match.is_manual_override THEN competitor_match.competitor_title ELSE excluded.competitor_title END,
			match_confidence = CASE WHEN competitor_match.is_manual_override THEN competitor_match.match_confidence ELSE excluded.match_confidence END,
			last_searched    = excluded.last_searched,
			updated_at       = excluded.updated_at
		 RETURNING `+postgresMatchColumns,
		id, p.ProductID, p.ProductTitle, string(p.Competitor), p.URL, p.Title,
		p.Confidence, now,
	)
	m, err := scanPgMatch(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert match %s/%s", p.ProductID, p.Competitor)
	}
	return m, nil
}

func (s *PostgresStore) OverrideMatch(ctx context.Context, productID, productTitle string, competitor model.Competitor, url string) (*model.CompetitorMatch, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO competitor_match
			(id, product_id, product_title, competitor_name, competitor_url,
			 competitor_title, match_confidence, is_manual_override,
			 last_searched, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULL, 100, true, $6, $6, $6)
		 ON CONFLICT (product_id, competitor_name) DO UPDATE SET
			product_title      = excluded.product_title,
			competitor_url     = excluded.competitor_url,
			competitor_title   = NULL,
			match_confidence   = 100,
			is_manual_override = true,
			cooldown_until     = NULL,
			last_searched      = excluded.last_searched,
			updated_at         = excluded.updated_at
		 RETURNING `+postgresMatchColumns,
		id, productID, productTitle, string(competitor), url, now,
	)
	m, err := scanPgMatch(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: override match %s/%s", productID, competitor)
	}
	return m, nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, matchID string) (*model.CompetitorMatch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresMatchColumns+` FROM competitor_match WHERE id = $1`,
		matchID,
	)
	m, err := scanPgMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get match %s", matchID)
	}
	return m, nil
}

func (s *PostgresStore) GetMatchesByProduct(ctx context.Context, productID string) ([]model.CompetitorMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresMatchColumns+` FROM competitor_match
		 WHERE product_id = $1 ORDER BY competitor_name`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: matches by product")
	}
	return collectPgMatches(rows)
}

func (s *PostgresStore) GetAllMatches(ctx context.Context) ([]model.CompetitorMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresMatchColumns+` FROM competitor_match
		 ORDER BY product_id, competitor_name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: all matches")
	}
	return collectPgMatches(rows)
}

func (s *PostgresStore) RecentProducts(ctx context.Context, limit int) ([]ProductRef, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, product_title, MAX(last_searched) AS ls
		 FROM competitor_match
		 GROUP BY product_id, product_title
		 ORDER BY ls DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent products")
	}
	defer rows.Close()

	var refs []ProductRef
	for rows.Next() {
		var ref ProductRef
		var ls time.Time
		if err := rows.Scan(&ref.ProductID, &ref.Title, &ls); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product ref")
		}
		refs = append(refs, ref)
	}
	return refs, eris.Wrap(rows.Err(), "postgres: recent products iterate")
}

func (s *PostgresStore) SetCooldown(ctx context.Context, matchID string, until time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE competitor_match SET cooldown_until = $1, updated_at = $2 WHERE id = $3`,
		until.UTC(), time.Now().UTC(), matchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set cooldown %s", matchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "match %s", matchID)
	}
	return nil
}

func (s *PostgresStore) InsertPriceSample(ctx context.Context, matchID string, priceCents int64, currency string, source model.PriceSource, notes *string) (*model.PriceSample, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	if currency == "" {
		currency = "USD"
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (id, competitor_match_id, price, currency_code, source, notes, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, matchID, priceCents, currency, string(source), notes, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert price sample for match %s", matchID)
	}

	return &model.PriceSample{
		ID:         id,
		MatchID:    matchID,
		Price:      priceCents,
		Currency:   currency,
		Source:     source,
		Notes:      notes,
		RecordedAt: now,
	}, nil
}

func (s *PostgresStore) PriceHistory(ctx context.Context, matchID string) ([]model.PriceSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, competitor_match_id, price, currency_code, source, notes, recorded_at
		 FROM price_history WHERE competitor_match_id = $1
		 ORDER BY recorded_at DESC`,
		matchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: price history")
	}
	defer rows.Close()

	var samples []model.PriceSample
	for rows.Next() {
		var ps model.PriceSample
		var source string
		if err := rows.Scan(&ps.ID, &ps.MatchID, &ps.Price, &ps.Currency, &source, &ps.Notes, &ps.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price sample")
		}
		ps.Source = model.PriceSource(source)
		samples = append(samples, ps)
	}
	return samples, eris.Wrap(rows.Err(), "postgres: price history iterate")
}

func (s *PostgresStore) LatestPriceByMatch(ctx context.Context, matchID string) (*model.PriceSample, error) {
	var ps model.PriceSample
	var source string
	err := s.pool.QueryRow(ctx,
		`SELECT id, competitor_match_id, price, currency_code, source, notes, recorded_at
		 FROM price_history WHERE competitor_match_id = $1
		 ORDER BY recorded_at DESC LIMIT 1`,
		matchID,
	).Scan(&ps.ID, &ps.MatchID, &ps.Price, &ps.Currency, &source, &ps.Notes, &ps.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest price by match")
	}
	ps.Source = model.PriceSource(source)
	return &ps, nil
}

func (s *PostgresStore) LatestPriceByProduct(ctx context.Context, productID string) ([]model.ProductPrice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.competitor_name, m.match_confidence, m.competitor_url, p.price, p.currency_code
		 FROM competitor_match m
		 LEFT JOIN LATERAL (
			SELECT price, currency_code FROM price_history
			WHERE competitor_match_id = m.id
			ORDER BY recorded_at DESC LIMIT 1
		 ) p ON true
		 WHERE m.product_id = $1
		 ORDER BY m.competitor_name`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest price by product")
	}
	defer rows.Close()

	var prices []model.ProductPrice
	for rows.Next() {
		var pp model.ProductPrice
		var competitor string
		if err := rows.Scan(&competitor, &pp.Confidence, &pp.URL, &pp.Price, &pp.Currency); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product price")
		}
		pp.Competitor = model.Competitor(competitor)
		prices = append(prices, pp)
	}
	return prices, eris.Wrap(rows.Err(), "postgres: latest price by product iterate")
}

func scanPgMatch(row pgx.Row) (*model.CompetitorMatch, error) {
	var m model.CompetitorMatch
	var competitor string
	err := row.Scan(&m.ID, &m.ProductID, &m.ProductTitle, &competitor, &m.URL,
		&m.Title, &m.Confidence, &m.ManualOverride, &m.LastSearched,
		&m.CooldownUntil, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Competitor = model.Competitor(competitor)
	return &m, nil
}

func collectPgMatches(rows pgx.Rows) ([]model.CompetitorMatch, error) {
	defer rows.Close()

	var matches []model.CompetitorMatch
	for rows.Next() {
		m, err := scanPgMatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan match")
		}
		matches = append(matches, *m)
	}
	return matches, eris.Wrap(rows.Err(), "postgres: iterate matches")
}
