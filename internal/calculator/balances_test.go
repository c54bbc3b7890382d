package calculator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/models"
)

func TestComputeBalances(t *testing.T) {
	tests := []struct {
		name         string
		expenses     []ExpenseForBalance
		wantErr      error
		validateFunc func(t *testing.T, balances map[string]decimal.Decimal)
	}{
		{
			name: "payer is owed what the others consumed",
			expenses: []ExpenseForBalance{
				{
					ID:     1,
					PaidBy: "a",
					Amount: d("30.00"),
					Shares: []Share{
						{ParticipantID: "a", Amount: d("10.00")},
						{ParticipantID: "b", Amount: d("10.00")},
						{ParticipantID: "c", Amount: d("10.00")},
					},
				},
			},
			validateFunc: func(t *testing.T, balances map[string]decimal.Decimal) {
				want := map[string]string{"a": "20", "b": "-10", "c": "-10"}
				for id, w := range want {
					if !balances[id].Equal(d(w)) {
						t.Errorf("balance[%s] = %s, want %s", id, balances[id], w)
					}
				}
			},
		},
		{
			name: "offsetting expenses cancel out",
			expenses: []ExpenseForBalance{
				{
					ID:     1,
					PaidBy: "a",
					Amount: d("20.00"),
					Shares: []Share{
						{ParticipantID: "a", Amount: d("10.00")},
						{ParticipantID: "b", Amount: d("10.00")},
					},
				},
				{
					ID:     2,
					PaidBy: "b",
					Amount: d("20.00"),
					Shares: []Share{
						{ParticipantID: "a", Amount: d("10.00")},
						{ParticipantID: "b", Amount: d("10.00")},
					},
				},
			},
			validateFunc: func(t *testing.T, balances map[string]decimal.Decimal) {
				for id, bal := range balances {
					if !bal.IsZero() {
						t.Errorf("balance[%s] = %s, want 0", id, bal)
					}
				}
			},
		},
		{
			name:     "no expenses yields no balances",
			expenses: nil,
			validateFunc: func(t *testing.T, balances map[string]decimal.Decimal) {
				if len(balances) != 0 {
					t.Errorf("got %d balances, want 0", len(balances))
				}
			},
		},
		{
			name: "sub-tolerance residue is charged to the largest payer",
			expenses: []ExpenseForBalance{
				{
					ID:     1,
					PaidBy: "a",
					Amount: d("10.00"),
					Shares: []Share{
						// Legacy rows where shares rounded short of the total.
						{ParticipantID: "a", Amount: d("3.33")},
						{ParticipantID: "b", Amount: d("3.33")},
						{ParticipantID: "c", Amount: d("3.33")},
					},
				},
				{
					ID:     2,
					PaidBy: "b",
					Amount: d("5.00"),
					Shares: []Share{
						{ParticipantID: "a", Amount: d("2.50")},
						{ParticipantID: "b", Amount: d("2.50")},
					},
				},
			},
			validateFunc: func(t *testing.T, balances map[string]decimal.Decimal) {
				sum := decimal.Zero
				for _, bal := range balances {
					sum = sum.Add(bal)
				}
				if !sum.IsZero() {
					t.Errorf("balances sum to %s, want 0", sum)
				}
				// Expense 1 is the largest, so its payer absorbs the cent.
				if !balances["a"].Equal(d("4.16")) {
					t.Errorf("balance[a] = %s, want 4.16", balances["a"])
				}
			},
		},
		{
			name: "residue beyond tolerance is an invariant violation",
			expenses: []ExpenseForBalance{
				{
					ID:     1,
					PaidBy: "a",
					Amount: d("10.00"),
					Shares: []Share{
						{ParticipantID: "a", Amount: d("4.00")},
						{ParticipantID: "b", Amount: d("4.00")},
					},
				},
			},
			wantErr: models.ErrInvariantViolation,
		},
		{
			name: "missing payer is an invariant violation",
			expenses: []ExpenseForBalance{
				{
					ID:     1,
					Amount: d("10.00"),
					Shares: []Share{{ParticipantID: "a", Amount: d("10.00")}},
				},
			},
			wantErr: models.ErrInvariantViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances, err := ComputeBalances(tt.expenses)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ComputeBalances() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("ComputeBalances() unexpected error = %v", err)
				return
			}
			if tt.validateFunc != nil {
				tt.validateFunc(t, balances)
			}
		})
	}
}
