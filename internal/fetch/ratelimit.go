package fetch

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ParseRate converts an expression like "1/s", "30/m" or "2/h" into a
// rate.Limit. Unparsable expressions fall back to one call per second.
func ParseRate(expr string) rate.Limit {
	const fallback = rate.Limit(1)

	num, unit, ok := strings.Cut(expr, "/")
	if !ok {
		return fallback
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || n <= 0 {
		return fallback
	}

	var per time.Duration
	switch {
	case strings.HasPrefix(unit, "s"):
		per = time.Second
	case strings.HasPrefix(unit, "m"):
		per = time.Minute
	case strings.HasPrefix(unit, "h"):
		per = time.Hour
	default:
		return fallback
	}

	return rate.Limit(n / per.Seconds())
}

// Limiters holds the per-operation-class rate limiters. Every outbound
// search or scrape waits on its class limiter; the enqueue limiter allows
// two in-flight calls.
type Limiters struct {
	Search        *rate.Limiter
	AmazonScrape  *rate.Limiter
	WalmartScrape *rate.Limiter
	EbayScrape    *rate.Limiter
	Enqueue       *rate.Limiter
}

// NewLimiters builds the limiter set from a configured rate expression.
func NewLimiters(expr string) *Limiters {
	limit := ParseRate(expr)
	zap.L().Debug("fetch: rate limit configured",
		zap.String("expr", expr),
		zap.Float64("per_second", float64(limit)),
	)
	return &Limiters{
		Search:        rate.NewLimiter(limit, 1),
		AmazonScrape:  rate.NewLimiter(limit, 1),
		WalmartScrape: rate.NewLimiter(limit, 1),
		EbayScrape:    rate.NewLimiter(limit, 1),
		Enqueue:       rate.NewLimiter(limit, 2),
	}
}
