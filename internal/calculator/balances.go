package calculator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/models"
)

// ExpenseForBalance carries the minimal expense information needed for
// balance computation. Amount and shares are in the group's base currency.
type ExpenseForBalance struct {
	ID     int64
	PaidBy string
	Amount decimal.Decimal
	Shares []Share
}

// ComputeBalances folds expenses into each participant's net position.
// Positive means the participant is owed money, negative means they owe.
//
// Expenses are processed in ascending ID order and shares in ascending
// participant ID order, so the result is deterministic for a given input
// set. Balances must sum to zero; sub-tolerance residue from legacy data is
// absorbed by the payer of the largest expense, anything larger fails with
// ErrInvariantViolation.
func ComputeBalances(expenses []ExpenseForBalance) (map[string]decimal.Decimal, error) {
	sorted := make([]ExpenseForBalance, len(expenses))
	copy(sorted, expenses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	balances := make(map[string]decimal.Decimal)
	for _, exp := range sorted {
		if exp.PaidBy == "" {
			return nil, fmt.Errorf("expense %d has no payer: %w", exp.ID, models.ErrInvariantViolation)
		}
		balances[exp.PaidBy] = balances[exp.PaidBy].Add(exp.Amount)

		shares := make([]Share, len(exp.Shares))
		copy(shares, exp.Shares)
		sortShares(shares)
		for _, sh := range shares {
			balances[sh.ParticipantID] = balances[sh.ParticipantID].Sub(sh.Amount)
		}
	}

	residual := decimal.Zero
	for _, bal := range balances {
		residual = residual.Add(bal)
	}
	if residual.IsZero() {
		return balances, nil
	}
	if residual.Abs().GreaterThan(models.Epsilon) {
		return nil, fmt.Errorf("balances sum to %s, want 0: %w", residual.String(), models.ErrInvariantViolation)
	}

	// Rounding residue from data recorded before shares were required to sum
	// exactly. Charge it to the payer of the largest expense.
	absorber := residualAbsorber(sorted)
	if absorber == "" {
		return nil, fmt.Errorf("balances sum to %s with no expenses: %w", residual.String(), models.ErrInvariantViolation)
	}
	balances[absorber] = balances[absorber].Sub(residual)
	return balances, nil
}

// residualAbsorber picks the payer of the largest expense, breaking ties by
// lowest expense ID. Expenses must already be sorted by ascending ID.
func residualAbsorber(sorted []ExpenseForBalance) string {
	payer := ""
	largest := decimal.Zero
	for _, exp := range sorted {
		if exp.Amount.GreaterThan(largest) {
			largest = exp.Amount
			payer = exp.PaidBy
		}
	}
	return payer
}
