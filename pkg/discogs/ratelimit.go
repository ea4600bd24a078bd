package discogs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// RateLimitWarnPercent is the used quota percentage from which LogRateLimit warns.
const RateLimitWarnPercent = 90

// Header names are looked up in order, the generic ones first.
var (
	remainingHeaders = []string{"X-Ratelimit-Remaining", "X-Discogs-Ratelimit-Remaining"}
	limitHeaders     = []string{"X-Ratelimit-Limit", "X-Discogs-Ratelimit"}
	usedHeaders      = []string{"X-Ratelimit-Used", "X-Discogs-Ratelimit-Used"}
)

// RateLimit is the quota state reported by a single response. Nil fields are unknown.
type RateLimit struct {
	Remaining *int `json:"remaining"`
	Limit     *int `json:"limit"`
	Used      *int `json:"used"`
}

// ParseRateLimit extracts the quota state from response headers.
// Absent or non numeric values are left unknown.
func ParseRateLimit(h http.Header) RateLimit {
	return RateLimit{
		Remaining: headerInt(h, remainingHeaders),
		Limit:     headerInt(h, limitHeaders),
		Used:      headerInt(h, usedHeaders),
	}
}

// UsedPercent returns the used share of the quota in the 0-100 range.
// The second value is false when remaining or limit are unknown, or the limit is not positive.
func (r RateLimit) UsedPercent() (float64, bool) {
	if r.Remaining == nil || r.Limit == nil || *r.Limit <= 0 {
		return 0, false
	}
	return float64(*r.Limit-*r.Remaining) * 100 / float64(*r.Limit), true
}

// LogRateLimit logs how much of the Discogs quota has been used according to the response headers h.
// It warns once the usage reaches RateLimitWarnPercent, otherwise it logs at debug level.
func LogRateLimit(ctx context.Context, log *slog.Logger, h http.Header) {
	rl := ParseRateLimit(h)

	if ratioUsed, ok := rl.UsedPercent(); ok {
		if ratioUsed >= RateLimitWarnPercent {
			log.WarnContext(ctx, fmt.Sprintf("You used %d%% of your allowed images' fetching on Discogs, soon it will stop working for 24 hours!", int(ratioUsed)),
				"remaining", *rl.Remaining, "limit", *rl.Limit)
		} else {
			log.DebugContext(ctx, fmt.Sprintf("You used %d%% of your allowed images' fetching on Discogs.", int(ratioUsed)),
				"remaining", *rl.Remaining, "limit", *rl.Limit)
		}
		return
	}

	log.DebugContext(ctx, fmt.Sprintf("You can still query %s times Discogs for images (your max is %s times).",
		formatUnknown(rl.Remaining), formatUnknown(rl.Limit)))
}

func headerInt(h http.Header, names []string) *int {
	for _, name := range names {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		return &i
	}
	return nil
}

func formatUnknown(v *int) string {
	if v == nil {
		return "(unknown)"
	}
	return strconv.Itoa(*v)
}
