package match

import (
	"strings"

	"github.com/sells-group/pricetrack/internal/model"
)

// ConfidenceThreshold is the minimum score at which a candidate is treated
// as a confirmed match.
const ConfidenceThreshold = 70

// Reason codes surfaced in the research audit trail.
const (
	ReasonNoCandidate        = "no_candidate"
	ReasonPriceOutlier       = "price_outlier"
	ReasonTitleSimilarityLow = "title_similarity_low"
)

// Score rates a candidate 0-100 against the source product. It is pure:
// identical inputs always produce the identical score.
//
// The blend: title similarity 40%, price proximity 30%, seller trust 20%,
// social proof 10%, minus a flat penalty for non-new condition. A price
// ratio beyond 10x in either direction vetoes the candidate outright.
func Score(sourceTitle string, sourcePriceCents *int64, c *model.Candidate) (float64, string) {
	if c == nil {
		return 0, ReasonNoCandidate
	}

	titleScore := TitleSimilarity(sourceTitle, c.Title)

	var priceScore float64
	if sourcePriceCents != nil && *sourcePriceCents > 0 && c.Price != nil && *c.Price > 0 {
		ratio := float64(*c.Price) / float64(*sourcePriceCents)
		if ratio > 10 || ratio < 0.1 {
			return 0, ReasonPriceOutlier
		}
		diff := ratio - 1
		if diff < 0 {
			diff = -diff
		}
		priceScore = 100 - diff*200
		if priceScore < 0 {
			priceScore = 0
		}
	}

	trust := float64(c.SellerTrust)

	var social float64
	if c.Reviews != nil {
		social = float64(c.Reviews.Count) / 1000 * 100
		if social > 100 {
			social = 100
		}
	}

	var conditionPenalty float64
	if c.Condition != "" && c.Condition != model.ConditionNew {
		conditionPenalty = 20
	}

	total := titleScore*0.4 + priceScore*0.3 + trust*0.2 + social*0.1 - conditionPenalty
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	if total < ConfidenceThreshold {
		return total, ReasonTitleSimilarityLow
	}
	return total, ""
}

// TitleSimilarity blends a bigram set similarity (weight 0.7) with a
// length-normalized edit distance (weight 0.3), computed on normalized
// titles, scaled to 0-100.
func TitleSimilarity(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)

	dice := bigramSimilarity(na, nb)

	lev := levenshtein(na, nb)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	levNorm := 1.0
	if maxLen > 0 {
		frac := float64(lev) / float64(maxLen)
		if frac > 1 {
			frac = 1
		}
		levNorm = 1 - frac
	}

	return (dice*0.7 + levNorm*0.3) * 100
}

// bigramSimilarity is the Dice coefficient over character bigrams of the
// space-stripped inputs.
func bigramSimilarity(a, b string) float64 {
	a = strings.ReplaceAll(a, " ", "")
	b = strings.ReplaceAll(b, " ", "")
	if a == b {
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigrams := make(map[string]int)
	for i := 0; i+2 <= len(a); i++ {
		bigrams[a[i:i+2]]++
	}

	var overlap int
	for i := 0; i+2 <= len(b); i++ {
		if bigrams[b[i:i+2]] > 0 {
			bigrams[b[i:i+2]]--
			overlap++
		}
	}

	return 2 * float64(overlap) / float64(len(a)+len(b)-2)
}

// levenshtein computes the edit distance between two strings with the
// two-row dynamic programming table.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
