// Package match turns raw product titles into canonical, comparable form
// and scores candidate listings against a source product.
package match

import (
	"regexp"
	"strings"

	"github.com/sells-group/pricetrack/internal/model"
)

// stopWords are dropped from normalized titles; they add noise to both
// search queries and similarity comparisons.
var stopWords = map[string]bool{
	"for":      true,
	"with":     true,
	"new":      true,
	"original": true,
	"the":      true,
	"and":      true,
}

var (
	nonTitleChars = regexp.MustCompile(`[^a-z0-9\s-]`)

	brandRe    = regexp.MustCompile(`^(\w+)`)
	modelRe    = regexp.MustCompile(`(?i)([a-z]{2,}[0-9]{2,}[a-z0-9-]*)`)
	colorRe    = regexp.MustCompile(`(?i)\b(black|white|silver|space gray|blue|red|green|pink)\b`)
	capacityRe = regexp.MustCompile(`(?i)(\d+\s?(?:gb|tb|oz|ml|l))\b`)
	sizeRe     = regexp.MustCompile(`(?i)(\d{2,}\s?(?:inch|in|"|cm))\b`)
	editionRe  = regexp.MustCompile(`(?i)\b(pro|max|mini|plus|gen|generation|\d+(?:st|nd|rd|th))\b`)
)

// Normalize lowercases a title, strips everything but letters, digits,
// spaces and hyphens, drops stop words, and rejoins tokens with single
// spaces. It is pure and idempotent.
func Normalize(title string) string {
	lower := strings.ToLower(title)
	stripped := nonTitleChars.ReplaceAllString(lower, " ")

	var tokens []string
	for _, tok := range strings.Fields(stripped) {
		if stopWords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return strings.Join(tokens, " ")
}

// ExtractAttributes pulls a structured attribute set out of a raw title
// with fixed regex heuristics. Absent attributes are empty strings, not
// errors.
func ExtractAttributes(title string) model.ExtractedAttributes {
	var attrs model.ExtractedAttributes

	if m := brandRe.FindString(title); m != "" {
		attrs.Brand = m
	}
	if m := modelRe.FindString(title); m != "" {
		attrs.Model = m
	}
	if m := colorRe.FindString(title); m != "" {
		attrs.Color = m
	}
	if m := capacityRe.FindStringSubmatch(title); m != nil {
		attrs.Capacity = m[1]
	}
	if m := sizeRe.FindStringSubmatch(title); m != nil {
		attrs.Size = m[1]
	}
	if m := editionRe.FindString(title); m != "" {
		attrs.Edition = m
	}
	return attrs
}

// Extractor is the attribute extraction strategy. The default is the regex
// heuristic above; it is an interface so a smarter extractor can be swapped
// in without touching the scorer or orchestrator.
type Extractor interface {
	Extract(title string) model.ExtractedAttributes
}

// RegexExtractor implements Extractor with ExtractAttributes.
type RegexExtractor struct{}

func (RegexExtractor) Extract(title string) model.ExtractedAttributes {
	return ExtractAttributes(title)
}
