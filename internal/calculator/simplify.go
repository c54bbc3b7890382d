package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/models"
)

// TransferEdge is one payment instruction: From pays To the given amount.
type TransferEdge struct {
	FromID string
	ToID   string
	Amount decimal.Decimal
}

// Simplify reduces net balances to a minimal list of transfers.
//
// Greedy matching: the largest debtor pays the largest creditor as much as
// either side allows, then whichever side is exhausted moves on. This yields
// at most n-1 transfers for n participants and leaves every residual balance
// within tolerance. Ties on amount are broken by ascending participant ID so
// equal inputs always produce the same plan.
func Simplify(balances map[string]decimal.Decimal) []TransferEdge {
	type party struct {
		id     string
		amount decimal.Decimal
	}

	var debtors, creditors []party
	for id, bal := range balances {
		switch {
		case bal.GreaterThan(models.Epsilon):
			creditors = append(creditors, party{id: id, amount: bal})
		case bal.Neg().GreaterThan(models.Epsilon):
			debtors = append(debtors, party{id: id, amount: bal.Neg()})
		}
	}

	byAmountDesc := func(parties []party) func(i, j int) bool {
		return func(i, j int) bool {
			if !parties[i].amount.Equal(parties[j].amount) {
				return parties[i].amount.GreaterThan(parties[j].amount)
			}
			return parties[i].id < parties[j].id
		}
	}
	sort.Slice(debtors, byAmountDesc(debtors))
	sort.Slice(creditors, byAmountDesc(creditors))

	var edges []TransferEdge
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := debtors[i].amount
		if creditors[j].amount.LessThan(amount) {
			amount = creditors[j].amount
		}

		edges = append(edges, TransferEdge{
			FromID: debtors[i].id,
			ToID:   creditors[j].id,
			Amount: amount,
		})

		debtors[i].amount = debtors[i].amount.Sub(amount)
		creditors[j].amount = creditors[j].amount.Sub(amount)

		if !debtors[i].amount.GreaterThan(models.Epsilon) {
			i++
		}
		if !creditors[j].amount.GreaterThan(models.Epsilon) {
			j++
		}
	}
	return edges
}
