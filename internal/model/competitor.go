package model

import "github.com/rotisserie/eris"

// Competitor identifies one of the tracked marketplaces.
type Competitor string

const (
	CompetitorAmazon  Competitor = "amazon"
	CompetitorEbay    Competitor = "ebay"
	CompetitorWalmart Competitor = "walmart"
)

// Competitors lists all tracked marketplaces in canonical order.
func Competitors() []Competitor {
	return []Competitor{CompetitorAmazon, CompetitorEbay, CompetitorWalmart}
}

// ParseCompetitor validates a competitor name from external input.
func ParseCompetitor(s string) (Competitor, error) {
	switch Competitor(s) {
	case CompetitorAmazon, CompetitorEbay, CompetitorWalmart:
		return Competitor(s), nil
	}
	return "", eris.Errorf("model: unknown competitor %q", s)
}

func (c Competitor) String() string {
	return string(c)
}
