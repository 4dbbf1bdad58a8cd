// Package recommend suggests listing prices, either from the remote
// recommender service or from a local expiry-based discount table.
package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"

	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/metrics"
)

const (
	SourceRemote   = "recommender"
	SourceFallback = "fallback"
)

type Request struct {
	Category           string  `json:"category"`
	OriginalPriceCents int64   `json:"original_price_cents"`
	DaysUntilExpiry    int     `json:"days_until_expiry"`
	Quantity           float64 `json:"quantity"`
}

type Suggestion struct {
	RecommendedCents int64  `json:"recommendedPriceCents"`
	MinCents         int64  `json:"minPriceCents"`
	MaxCents         int64  `json:"maxPriceCents"`
	DiscountPercent  int    `json:"discountPercent"`
	Source           string `json:"source"`
}

type Config struct {
	URL     string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[Suggestion]
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[Suggestion](gobreaker.Settings{
			Name:        "recommender",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.RecommenderState.Set(float64(to))
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Suggest never fails: remote errors and an open circuit fall back to the
// local table.
func (c *Client) Suggest(ctx context.Context, req Request) Suggestion {
	if !c.Configured() {
		return Fallback(req)
	}
	s, err := c.breaker.Execute(func() (Suggestion, error) {
		return c.remote(ctx, req)
	})
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Ctx(ctx).Warn().Err(err).Msg("recommender call failed")
		}
		metrics.RecommenderFallbacks.Inc()
		return Fallback(req)
	}
	return s
}

func (c *Client) remote(ctx context.Context, req Request) (Suggestion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recommend/price", bytes.NewReader(body))
	if err != nil {
		return Suggestion{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Suggestion{}, fmt.Errorf("call recommender: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Suggestion{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Suggestion{}, fmt.Errorf("recommender returned %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return Suggestion{}, errors.New("recommender returned invalid JSON")
	}

	recommended := gjson.GetBytes(raw, "recommended_price")
	if !recommended.Exists() {
		return Suggestion{}, errors.New("recommender response missing recommended_price")
	}
	s := Suggestion{
		RecommendedCents: toCents(recommended.Float()),
		Source:           SourceRemote,
	}
	if v := gjson.GetBytes(raw, "min_price"); v.Exists() {
		s.MinCents = toCents(v.Float())
	} else {
		s.MinCents = roundCents(float64(s.RecommendedCents) * 0.5)
	}
	if v := gjson.GetBytes(raw, "max_price"); v.Exists() {
		s.MaxCents = toCents(v.Float())
	} else {
		s.MaxCents = roundCents(float64(s.RecommendedCents) * 1.2)
	}
	s.DiscountPercent = discountOf(req.OriginalPriceCents, s.RecommendedCents)
	return s, nil
}

// Fallback discounts the original price by how close the item is to expiry.
func Fallback(req Request) Suggestion {
	discount := DiscountFor(req.DaysUntilExpiry)
	recommended := roundCents(float64(req.OriginalPriceCents) * float64(100-discount) / 100)
	return Suggestion{
		RecommendedCents: recommended,
		MinCents:         roundCents(float64(recommended) * 0.5),
		MaxCents:         roundCents(float64(recommended) * 1.2),
		DiscountPercent:  discount,
		Source:           SourceFallback,
	}
}

func DiscountFor(daysUntilExpiry int) int {
	switch {
	case daysUntilExpiry <= 1:
		return 70
	case daysUntilExpiry <= 3:
		return 50
	case daysUntilExpiry <= 7:
		return 30
	default:
		return 20
	}
}

// toCents converts a price in dollars from the recommender.
func toCents(dollars float64) int64 {
	return roundCents(dollars * 100)
}

func roundCents(v float64) int64 {
	if v < 0 {
		return 0
	}
	return int64(math.Round(v))
}

func discountOf(original, recommended int64) int {
	if original <= 0 || recommended >= original {
		return 0
	}
	return int(math.Round(float64(original-recommended) * 100 / float64(original)))
}
