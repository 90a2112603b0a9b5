package model

import "time"

// PriceSource tells how a price sample was obtained.
type PriceSource string

const (
	PriceSourceScrape PriceSource = "scrape"
	PriceSourceAPI    PriceSource = "api"
)

// CompetitorMatch is the persisted match decision for one
// (product, competitor) pair. URL and Title are nil until a research run
// finds a candidate scoring at or above the confidence threshold.
type CompetitorMatch struct {
	ID             string     `json:"id"`
	ProductID      string     `json:"product_id"`
	ProductTitle   string     `json:"product_title"`
	Competitor     Competitor `json:"competitor_name"`
	URL            *string    `json:"competitor_url"`
	Title          *string    `json:"competitor_title"`
	Confidence     int        `json:"match_confidence"`
	ManualOverride bool       `json:"is_manual_override"`
	LastSearched   time.Time  `json:"last_searched"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CoolingDown reports whether a captcha cool-down is still in effect.
func (m *CompetitorMatch) CoolingDown(now time.Time) bool {
	return m.CooldownUntil != nil && now.Before(*m.CooldownUntil)
}

// PriceSample is one immutable price observation for a match.
type PriceSample struct {
	ID         string      `json:"id"`
	MatchID    string      `json:"competitor_match_id"`
	Price      int64       `json:"price"`
	Currency   string      `json:"currency_code"`
	Source     PriceSource `json:"source"`
	Notes      *string     `json:"notes"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// ProductPrice is the latest observed price per competitor for a product.
type ProductPrice struct {
	Competitor Competitor `json:"competitor_name"`
	Confidence int        `json:"match_confidence"`
	URL        *string    `json:"competitor_url"`
	Price      *int64     `json:"price"`
	Currency   *string    `json:"currency_code"`
}

// ScoredCandidate pairs a candidate with its match score, kept in research
// results as the audit trail for the decision.
type ScoredCandidate struct {
	Candidate Candidate `json:"candidate"`
	Score     int       `json:"score"`
	Reason    string    `json:"reason,omitempty"`
}

// BestMatch is the accepted candidate for a competitor, present only when
// its score cleared the confidence threshold.
type BestMatch struct {
	Confidence int    `json:"confidence"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

// CompetitorResearch is the outcome of researching one competitor.
type CompetitorResearch struct {
	Competitor Competitor        `json:"competitor"`
	Best       *BestMatch        `json:"best"`
	Candidates []ScoredCandidate `json:"candidates"`
}

// ResearchResult aggregates per-competitor outcomes for one product.
type ResearchResult struct {
	Matches []CompetitorResearch `json:"matches"`
}
