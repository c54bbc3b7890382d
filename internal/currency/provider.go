package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/splitpot/splitpot/internal/metrics"
	"github.com/splitpot/splitpot/internal/models"
)

// RateProvider fetches the current exchange rates for a base currency. The
// returned map is keyed by upper-case target currency code.
type RateProvider interface {
	FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

// DefaultProviderURL is the free exchange-rate API the engine ships with.
const DefaultProviderURL = "https://open.er-api.com/v6"

// HTTPProvider fetches rates over HTTP from an er-api compatible endpoint:
// GET <baseURL>/latest/<CODE> returning {"result": "success", "rates": {...}}.
// Requests are throttled with a token bucket so scheduler batches cannot
// stampede the upstream API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider builds a provider against baseURL, allowing at most rps
// requests per second. Zero or negative rps falls back to one per second.
func NewHTTPProvider(baseURL string, rps float64) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultProviderURL
	}
	if rps <= 0 {
		rps = 1
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (p *HTTPProvider) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	rates, err := p.fetchRates(ctx, base)
	if err != nil {
		metrics.RateFetches.WithLabelValues(metrics.FetchError).Inc()
		return nil, err
	}
	metrics.RateFetches.WithLabelValues(metrics.FetchSuccess).Inc()
	return rates, nil
}

func (p *HTTPProvider) fetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/latest/%s", p.baseURL, url.PathEscape(strings.ToUpper(base)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate provider returned status %d", resp.StatusCode)
	}

	var payload struct {
		Result string                     `json:"result"`
		Rates  map[string]decimal.Decimal `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode rate response: %w", err)
	}
	if payload.Result != "success" || len(payload.Rates) == 0 {
		return nil, fmt.Errorf("rate provider returned no rates for %s", base)
	}

	rates := make(map[string]decimal.Decimal, len(payload.Rates))
	for code, r := range payload.Rates {
		rates[strings.ToUpper(code)] = r
	}
	return rates, nil
}

// StaticProvider serves a fixed rate table. It backs tests and air-gapped
// deployments where no upstream API is reachable.
type StaticProvider struct {
	rates map[string]map[string]decimal.Decimal
}

// NewStaticProvider builds a provider over base -> target -> rate.
func NewStaticProvider(rates map[string]map[string]decimal.Decimal) *StaticProvider {
	table := make(map[string]map[string]decimal.Decimal, len(rates))
	for base, targets := range rates {
		row := make(map[string]decimal.Decimal, len(targets))
		for code, r := range targets {
			row[strings.ToUpper(code)] = r
		}
		table[strings.ToUpper(base)] = row
	}
	return &StaticProvider{rates: table}
}

func (p *StaticProvider) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	row, ok := p.rates[strings.ToUpper(base)]
	if !ok {
		return nil, fmt.Errorf("no static rates for %s: %w", base, models.ErrRateUnavailable)
	}
	out := make(map[string]decimal.Decimal, len(row))
	for code, r := range row {
		out[code] = r
	}
	return out, nil
}
