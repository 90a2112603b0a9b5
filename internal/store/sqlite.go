package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pricetrack/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS competitor_match (
	id                 TEXT PRIMARY KEY,
	product_id         TEXT NOT NULL,
	product_title      TEXT NOT NULL,
	competitor_name    TEXT NOT NULL,
	competitor_url     TEXT,
	competitor_title   TEXT,
	match_confidence   INTEGER NOT NULL DEFAULT 0,
	is_manual_override INTEGER NOT NULL DEFAULT 0,
	last_searched      DATETIME NOT NULL,
	cooldown_until     DATETIME,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (product_id, competitor_name)
);

CREATE TABLE IF NOT EXISTS price_history (
	id                  TEXT PRIMARY KEY,
	competitor_match_id TEXT NOT NULL REFERENCES competitor_match(id),
	price               INTEGER NOT NULL,
	currency_code       TEXT NOT NULL DEFAULT 'USD',
	source              TEXT NOT NULL,
	notes               TEXT,
	recorded_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_competitor_match_product_id ON competitor_match(product_id);
CREATE INDEX IF NOT EXISTS idx_competitor_match_last_searched ON competitor_match(last_searched);
CREATE INDEX IF NOT EXISTS idx_price_history_match_id ON price_history(competitor_match_id);
CREATE INDEX IF NOT EXISTS idx_price_history_recorded_at ON price_history(recorded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteMatchColumns = `id, product_id, product_title, competitor_name, competitor_url,
	competitor_title, match_confidence, is_manual_override, last_searched,
	cooldown_until, created_at, updated_at`

func (s *SQLiteStore) UpsertMatch(ctx context.Context, p UpsertParams) (*model.CompetitorMatch, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	// An existing manual override keeps its url/title/confidence; only the
	// bookkeeping columns move.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO competitor_match
			(id, product_id, product_title, competitor_name, competitor_url,
			 competitor_title, match_confidence, is_manual_override,
			 last_searched, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT (product_id, competitor_name) DO UPDATE SET
			product_title    = excluded.product_title,
			competitor_url   = CASE WHEN competitor_match.is_manual_override THEN competitor_match.competitor_url ELSE excluded.competitor_url END,
			competitor_title = CASE WHEN competitor_match.is_manual_override THEN competitor_match.competitor_title ELSE excluded.competitor_title END,
			match_confidence = CASE WHEN competitor_match.is_manual_override THEN competitor_match.match_confidence ELSE excluded.match_confidence END,
			last_searched    = excluded.last_searched,
			updated_at       = excluded.updated_at`,
		id, p.ProductID, p.ProductTitle, string(p.Competitor), p.URL, p.Title,
		p.Confidence, now, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert match %s/%s", p.ProductID, p.Competitor)
	}
	return s.getMatchByPair(ctx, p.ProductID, p.Competitor)
}

func (s *SQLiteStore) OverrideMatch(ctx context.Context, productID, productTitle string, competitor model.Competitor, url string) (*model.CompetitorMatch, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO competitor_match
			(id, product_id, product_title, competitor_name, competitor_url,
			 competitor_title, match_confidence, is_manual_override,
			 last_searched, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NULL, 100, 1, ?, ?, ?)
		 ON CONFLICT (product_id, competitor_name) DO UPDATE SET
			product_title      = excluded.product_title,
			competitor_url     = excluded.competitor_url,
			competitor_title   = NULL,
			match_confidence   = 100,
			is_manual_override = 1,
			cooldown_until     = NULL,
			last_searched      = excluded.last_searched,
			updated_at         = excluded.updated_at`,
		id, productID, productTitle, string(competitor), url, now, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: override match %s/%s", productID, competitor)
	}
	return s.getMatchByPair(ctx, productID, competitor)
}

func (s *SQLiteStore) GetMatch(ctx context.Context, matchID string) (*model.CompetitorMatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMatchColumns+` FROM competitor_match WHERE id = ?`,
		matchID,
	)
	return scanMatch(row)
}

func (s *SQLiteStore) getMatchByPair(ctx context.Context, productID string, competitor model.Competitor) (*model.CompetitorMatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMatchColumns+` FROM competitor_match
		 WHERE product_id = ? AND competitor_name = ?`,
		productID, string(competitor),
	)
	return scanMatch(row)
}

func (s *SQLiteStore) GetMatchesByProduct(ctx context.Context, productID string) ([]model.CompetitorMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMatchColumns+` FROM competitor_match
		 WHERE product_id = ? ORDER BY competitor_name`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: matches by product")
	}
	return collectMatches(rows)
}

func (s *SQLiteStore) GetAllMatches(ctx context.Context) ([]model.CompetitorMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMatchColumns+` FROM competitor_match
		 ORDER BY product_id, competitor_name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: all matches")
	}
	return collectMatches(rows)
}

func (s *SQLiteStore) RecentProducts(ctx context.Context, limit int) ([]ProductRef, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, product_title, MAX(last_searched) AS ls
		 FROM competitor_match
		 GROUP BY product_id, product_title
		 ORDER BY ls DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent products")
	}
	defer rows.Close()

	var refs []ProductRef
	for rows.Next() {
		var ref ProductRef
		var ls time.Time
		if err := rows.Scan(&ref.ProductID, &ref.Title, &ls); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product ref")
		}
		refs = append(refs, ref)
	}
	return refs, eris.Wrap(rows.Err(), "sqlite: recent products iterate")
}

func (s *SQLiteStore) SetCooldown(ctx context.Context, matchID string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE competitor_match SET cooldown_until = ?, updated_at = ? WHERE id = ?`,
		until.UTC(), time.Now().UTC(), matchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set cooldown %s", matchID)
	}
	return checkRowsAffected(res, "match", matchID)
}

func (s *SQLiteStore) InsertPriceSample(ctx context.Context, matchID string, priceCents int64, currency string, source model.PriceSource, notes *string) (*model.PriceSample, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	if currency == "" {
		currency = "USD"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (id, competitor_match_id, price, currency_code, source, notes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, matchID, priceCents, currency, string(source), notes, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert price sample for match %s", matchID)
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

func (s *SQLiteStore) PriceHistory(ctx context.Context, matchID string) ([]model.PriceSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, competitor_match_id, price, currency_code, source, notes, recorded_at
		 FROM price_history WHERE competitor_match_id = ?
		 ORDER BY recorded_at DESC`,
		matchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: price history")
	}
	defer rows.Close()

	var samples []model.PriceSample
	for rows.Next() {
		var ps model.PriceSample
		var notes sql.NullString
		if err := rows.Scan(&ps.ID, &ps.MatchID, &ps.Price, &ps.Currency, &ps.Source, &notes, &ps.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price sample")
		}
		if notes.Valid {
			ps.Notes = &notes.String
		}
		samples = append(samples, ps)
	}
	return samples, eris.Wrap(rows.Err(), "sqlite: price history iterate")
}

func (s *SQLiteStore) LatestPriceByMatch(ctx context.Context, matchID string) (*model.PriceSample, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, competitor_match_id, price, currency_code, source, notes, recorded_at
		 FROM price_history WHERE competitor_match_id = ?
		 ORDER BY recorded_at DESC LIMIT 1`,
		matchID,
	)

	var ps model.PriceSample
	var notes sql.NullString
	err := row.Scan(&ps.ID, &ps.MatchID, &ps.Price, &ps.Currency, &ps.Source, &notes, &ps.RecordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest price by match")
	}
	if notes.Valid {
		ps.Notes = &notes.String
	}
	return &ps, nil
}

func (s *SQLiteStore) LatestPriceByProduct(ctx context.Context, productID string) ([]model.ProductPrice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.competitor_name, m.match_confidence, m.competitor_url, p.price, p.currency_code
		 FROM competitor_match m
		 LEFT JOIN price_history p ON p.id = (
			SELECT id FROM price_history
			WHERE competitor_match_id = m.id
			ORDER BY recorded_at DESC LIMIT 1
		 )
		 WHERE m.product_id = ?
		 ORDER BY m.competitor_name`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest price by product")
	}
	defer rows.Close()

	var prices []model.ProductPrice
	for rows.Next() {
		var pp model.ProductPrice
		var competitor string
		var url, currency sql.NullString
		var cents sql.NullInt64
		if err := rows.Scan(&competitor, &pp.Confidence, &url, &cents, &currency); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product price")
		}
		pp.Competitor = model.Competitor(competitor)
		if url.Valid {
			pp.URL = &url.String
		}
		if cents.Valid {
			pp.Price = &cents.Int64
		}
		if currency.Valid {
			pp.Currency = &currency.String
		}
		prices = append(prices, pp)
	}
	return prices, eris.Wrap(rows.Err(), "sqlite: latest price by product iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMatch(row scannable) (*model.CompetitorMatch, error) {
	var m model.CompetitorMatch
	var competitor string
	var url, title sql.NullString
	var cooldown sql.NullTime
	var override int

	err := row.Scan(&m.ID, &m.ProductID, &m.ProductTitle, &competitor, &url,
		&title, &m.Confidence, &override, &m.LastSearched, &cooldown,
		&m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan match")
	}

	m.Competitor = model.Competitor(competitor)
	m.ManualOverride = override != 0
	if url.Valid {
		m.URL = &url.String
	}
	if title.Valid {
		m.Title = &title.String
	}
	if cooldown.Valid {
		t := cooldown.Time
		m.CooldownUntil = &t
	}
	return &m, nil
}

func collectMatches(rows *sql.Rows) ([]model.CompetitorMatch, error) {
	defer rows.Close()

	var matches []model.CompetitorMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, eris.Wrap(rows.Err(), "sqlite: iterate matches")
}
