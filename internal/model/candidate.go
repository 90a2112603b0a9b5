package model

// Condition describes the offered condition of a listing.
type Condition string

const (
	ConditionNew         Condition = "new"
	ConditionUsed        Condition = "used"
	ConditionRefurbished Condition = "refurbished"
	ConditionUnknown     Condition = "unknown"
)

// Reviews holds social-proof signals scraped from a listing.
type Reviews struct {
	Count  int     `json:"count"`
	Rating float64 `json:"rating,omitempty"`
}

// ExtractedAttributes is the structured attribute set pulled out of a raw
// product title by heuristic extraction. Every field is optional; an empty
// string means the attribute was not found. Used only to build search
// variants, never persisted.
type ExtractedAttributes struct {
	Brand    string `json:"brand,omitempty"`
	Model    string `json:"model,omitempty"`
	Color    string `json:"color,omitempty"`
	Size     string `json:"size,omitempty"`
	Capacity string `json:"capacity,omitempty"`
	Edition  string `json:"edition,omitempty"`
}

// Candidate is a transient, unscored listing discovered on a competitor
// site for a search query. Price is in minor currency units (cents).
type Candidate struct {
	Title       string               `json:"title"`
	URL         string               `json:"url"`
	Price       *int64               `json:"price,omitempty"`
	Currency    string               `json:"currency,omitempty"`
	SellerTrust int                  `json:"seller_trust,omitempty"`
	Reviews     *Reviews             `json:"reviews,omitempty"`
	Condition   Condition            `json:"condition,omitempty"`
	Attributes  *ExtractedAttributes `json:"attributes,omitempty"`
}
