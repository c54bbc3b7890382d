package currency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/models"
)

// RateCache is the dated rate table behind the normalizer, keyed by currency
// pair and UTC calendar day. The bool result reports whether a rate was
// found; errors are storage failures.
type RateCache interface {
	GetRate(ctx context.Context, from, to, day string) (decimal.Decimal, bool, error)
	LatestRateBefore(ctx context.Context, from, to, day string) (decimal.Decimal, bool, error)
	PutRates(ctx context.Context, from, day string, rates map[string]decimal.Decimal) error
}

// RateDay formats the UTC calendar day rates are cached under.
func RateDay(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// Normalizer converts amounts between currencies using cached dated rates,
// fetching from the provider on cache miss and falling back to the most
// recent earlier rate when the provider is unreachable.
type Normalizer struct {
	cache    RateCache
	provider RateProvider
	logger   *slog.Logger
}

func NewNormalizer(cache RateCache, provider RateProvider, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		cache:    cache,
		provider: provider,
		logger:   logger,
	}
}

// Normalize converts amount from one currency to another as of the given
// time. It returns the converted amount rounded to the target currency's
// minor units and the rate that was applied. A conversion with no resolvable
// rate fails with ErrRateUnavailable.
func (n *Normalizer) Normalize(ctx context.Context, amount decimal.Decimal, from, to string, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)

	if from == to {
		one := decimal.NewFromInt(1)
		return models.RoundToMinor(amount, to), one, nil
	}

	rate, err := n.resolveRate(ctx, from, to, asOf)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return models.RoundToMinor(amount.Mul(rate), to), rate, nil
}

// resolveRate finds the rate for a pair on asOf's calendar day: cached day
// rate, then a provider fetch (cached under that day), then the most recent
// earlier cached rate.
func (n *Normalizer) resolveRate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	day := RateDay(asOf)

	cached, ok, err := n.cache.GetRate(ctx, from, to, day)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read rate cache: %w", err)
	}
	if ok {
		return cached, nil
	}

	rates, fetchErr := n.provider.FetchRates(ctx, from)
	if fetchErr == nil {
		if err := n.cache.PutRates(ctx, from, day, rates); err != nil {
			n.logger.Warn("failed to cache exchange rates", "from", from, "day", day, "error", err)
		}
		if rate, ok := rates[to]; ok && rate.Sign() > 0 {
			return rate, nil
		}
		fetchErr = fmt.Errorf("provider has no %s rate", to)
	}

	stale, ok, err := n.cache.LatestRateBefore(ctx, from, to, day)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read rate cache: %w", err)
	}
	if ok {
		n.logger.Warn("using stale exchange rate",
			"from", from,
			"to", to,
			"day", day,
			"error", fetchErr,
		)
		return stale, nil
	}

	return decimal.Zero, fmt.Errorf("no rate for %s->%s on %s: %w", from, to, day, models.ErrRateUnavailable)
}
