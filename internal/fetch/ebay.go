package fetch

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pricetrack/internal/model"
	"github.com/sells-group/pricetrack/internal/resilience"
)

const defaultEbayBaseURL = "https://svcs.ebay.com/services/search/FindingService/v1"

// EbaySearcher queries the eBay Finding API, the one structured search
// channel available. Without an App ID the channel reports no results and
// the chain falls through to the rendered page.
type EbaySearcher struct {
	appID   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewEbaySearcher builds the Finding API searcher.
func NewEbaySearcher(appID, baseURL string, limiter *rate.Limiter) *EbaySearcher {
	if baseURL == "" {
		baseURL = defaultEbayBaseURL
	}
	return &EbaySearcher{
		appID:   appID,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: limiter,
	}
}

func (s *EbaySearcher) Competitor() model.Competitor { return model.CompetitorEbay }

func (s *EbaySearcher) Name() string { return "ebay_api" }

// findingResponse mirrors the Finding API's array-wrapped JSON shape.
type findingResponse struct {
	FindItemsByKeywordsResponse []struct {
		SearchResult []struct {
			Item []findingItem `json:"item"`
		} `json:"searchResult"`
	} `json:"findItemsByKeywordsResponse"`
}

type findingItem struct {
	Title         []string `json:"title"`
	ViewItemURL   []string `json:"viewItemURL"`
	SellingStatus []struct {
		CurrentPrice []struct {
			Value      string `json:"__value__"`
			CurrencyID string `json:"@currencyId"`
		} `json:"currentPrice"`
	} `json:"sellingStatus"`
	Condition []struct {
		ConditionDisplayName []string `json:"conditionDisplayName"`
	} `json:"condition"`
}

// Search queries findItemsByKeywords, retrying transient failures.
func (s *EbaySearcher) Search(ctx context.Context, query string) ([]model.Candidate, error) {
	if s.appID == "" {
		return nil, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: ebay api rate limit")
	}

	params := url.Values{}
	params.Set("OPERATION-NAME", "findItemsByKeywords")
	params.Set("SERVICE-VERSION", "1.0.0")
	params.Set("SECURITY-APPNAME", s.appID)
	params.Set("RESPONSE-DATA-FORMAT", "JSON")
	params.Set("REST-PAYLOAD", "")
	params.Set("keywords", query)
	params.Set("paginationInput.entriesPerPage", strconv.Itoa(MaxCandidates))

	reqURL := s.baseURL + "?" + params.Encode()

	body, err := resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: ebay api request")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: ebay api call")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: ebay api read body")
		}
		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("fetch: ebay api status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	var parsed findingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "fetch: ebay api decode")
	}

	var items []findingItem
	if len(parsed.FindItemsByKeywordsResponse) > 0 &&
		len(parsed.FindItemsByKeywordsResponse[0].SearchResult) > 0 {
		items = parsed.FindItemsByKeywordsResponse[0].SearchResult[0].Item
	}

	var out []model.Candidate
	for _, item := range items {
		if len(out) >= MaxCandidates {
			break
		}
		c, ok := item.toCandidate()
		if !ok {
			continue
		}
		out = append(out, c)
	}

	zap.L().Debug("fetch: ebay api search",
		zap.String("query", query),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

func (item findingItem) toCandidate() (model.Candidate, bool) {
	if len(item.Title) == 0 || len(item.ViewItemURL) == 0 {
		return model.Candidate{}, false
	}

	c := model.Candidate{
		Title:       item.Title[0],
		URL:         item.ViewItemURL[0],
		SellerTrust: TrustEbayAPI,
	}

	if len(item.SellingStatus) > 0 && len(item.SellingStatus[0].CurrentPrice) > 0 {
		cp := item.SellingStatus[0].CurrentPrice[0]
		if amount, err := strconv.ParseFloat(cp.Value, 64); err == nil {
			cents := int64(math.Round(amount * 100))
			c.Price = &cents
			c.Currency = cp.CurrencyID
			if c.Currency == "" {
				c.Currency = "USD"
			}
		}
	}

	if len(item.Condition) > 0 && len(item.Condition[0].ConditionDisplayName) > 0 {
		c.Condition = parseCondition(item.Condition[0].ConditionDisplayName[0])
	}

	return c, true
}

func parseCondition(s string) model.Condition {
	switch lower := strings.ToLower(s); {
	case strings.Contains(lower, "new"):
		return model.ConditionNew
	case strings.Contains(lower, "refurbished"):
		return model.ConditionRefurbished
	case strings.Contains(lower, "used") || strings.Contains(lower, "pre-owned"):
		return model.ConditionUsed
	default:
		return model.ConditionUnknown
	}
}
