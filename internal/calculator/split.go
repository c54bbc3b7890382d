package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/models"
)

// Share is one participant's slice of an expense amount.
type Share struct {
	ParticipantID string
	Amount        decimal.Decimal
}

// SplitEqual divides total evenly among the given participants. Every share
// is a whole number of minor units for the currency, shares sum to total
// exactly, and leftover minor units go one each to the last participants in
// ascending ID order. 10.00 across three people yields 3.33, 3.33, 3.34.
func SplitEqual(total decimal.Decimal, currency string, participantIDs []string) ([]Share, error) {
	if len(participantIDs) == 0 {
		return nil, models.NewValidationError("participants", "must have at least one participant")
	}
	if total.Sign() <= 0 {
		return nil, models.NewValidationError("amount", "must be positive")
	}

	ids := sortedUniqueIDs(participantIDs)
	if len(ids) != len(participantIDs) {
		return nil, models.NewValidationError("participants", "must not repeat")
	}

	places := int32(models.CurrencyMinorUnits(currency))
	scaled := total.Shift(places)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, models.NewValidationError("amount", "must be a whole number of minor units")
	}

	// Integer division over minor units keeps the distribution exact.
	n := int64(len(ids))
	units := scaled.IntPart()
	per := units / n
	extra := units % n

	shares := make([]Share, 0, len(ids))
	for i, id := range ids {
		u := per
		if int64(len(ids)-i) <= extra {
			u++
		}
		shares = append(shares, Share{ParticipantID: id, Amount: decimal.New(u, -places)})
	}
	return shares, nil
}

// SplitExact applies caller-chosen amounts. Amounts must be non-negative and
// sum to total within tolerance; any sub-minor-unit residual is folded into
// the largest share so the shares sum to total exactly.
func SplitExact(total decimal.Decimal, currency string, amounts map[string]decimal.Decimal) ([]Share, error) {
	if len(amounts) == 0 {
		return nil, models.NewValidationError("participants", "must have at least one participant")
	}
	if total.Sign() <= 0 {
		return nil, models.NewValidationError("amount", "must be positive")
	}

	shares := make([]Share, 0, len(amounts))
	sum := decimal.Zero
	for id, amount := range amounts {
		if amount.Sign() < 0 {
			return nil, models.NewValidationError("share", "must not be negative")
		}
		rounded := models.RoundToMinor(amount, currency)
		shares = append(shares, Share{ParticipantID: id, Amount: rounded})
		sum = sum.Add(rounded)
	}
	sortShares(shares)

	if err := trueUp(shares, total.Sub(sum)); err != nil {
		return nil, err
	}
	return shares, nil
}

// SplitPercentage converts percentage weights into amounts. Percentages must
// be non-negative and sum to 100 within tolerance. Each share is rounded to
// minor units and the residual lands on the largest share.
func SplitPercentage(total decimal.Decimal, currency string, percents map[string]decimal.Decimal) ([]Share, error) {
	if len(percents) == 0 {
		return nil, models.NewValidationError("participants", "must have at least one participant")
	}
	if total.Sign() <= 0 {
		return nil, models.NewValidationError("amount", "must be positive")
	}

	hundred := decimal.NewFromInt(100)
	pctSum := decimal.Zero
	for _, pct := range percents {
		if pct.Sign() < 0 {
			return nil, models.NewValidationError("percentage", "must not be negative")
		}
		pctSum = pctSum.Add(pct)
	}
	if pctSum.Sub(hundred).Abs().GreaterThan(models.Epsilon) {
		return nil, models.NewValidationError("percentage", "must sum to 100")
	}

	shares := make([]Share, 0, len(percents))
	sum := decimal.Zero
	for id, pct := range percents {
		amount := models.RoundToMinor(total.Mul(pct).Div(hundred), currency)
		shares = append(shares, Share{ParticipantID: id, Amount: amount})
		sum = sum.Add(amount)
	}
	sortShares(shares)

	if err := trueUp(shares, total.Sub(sum)); err != nil {
		return nil, err
	}
	return shares, nil
}

// trueUp folds residual into the largest share. Residual beyond tolerance
// means the caller's amounts do not add up.
func trueUp(shares []Share, residual decimal.Decimal) error {
	if residual.IsZero() {
		return nil
	}
	if residual.Abs().GreaterThan(models.Epsilon) {
		return models.NewValidationError("shares", "must sum to the expense amount")
	}
	largest := 0
	for i := 1; i < len(shares); i++ {
		if shares[i].Amount.GreaterThanOrEqual(shares[largest].Amount) {
			largest = i
		}
	}
	shares[largest].Amount = shares[largest].Amount.Add(residual)
	return nil
}

// sortShares orders shares by ascending participant ID.
func sortShares(shares []Share) {
	sort.Slice(shares, func(i, j int) bool {
		return shares[i].ParticipantID < shares[j].ParticipantID
	})
}

func sortedUniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
