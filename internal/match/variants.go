package match

import "strings"

// BuildVariants derives the ordered, deduplicated set of search queries for
// a product title. Order matters: callers try variants in order and stop at
// the first one that yields candidates, to bound search load.
func BuildVariants(title string) []string {
	norm := Normalize(title)
	attrs := ExtractAttributes(title)

	var variants []string
	seen := make(map[string]bool)
	add := func(v string) {
		v = strings.TrimSpace(strings.Join(strings.Fields(v), " "))
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		variants = append(variants, v)
	}

	add(norm)
	if attrs.Brand != "" && attrs.Model != "" {
		add(attrs.Brand + " " + attrs.Model)
	}
	if attrs.Model != "" {
		add(attrs.Model + " " + attrs.Edition + " " + attrs.Color)
	}
	if attrs.Brand != "" && attrs.Model != "" && (attrs.Color != "" || attrs.Capacity != "") {
		add(attrs.Brand + " " + attrs.Model + " " + attrs.Color + " " + attrs.Capacity)
	}

	return variants
}
