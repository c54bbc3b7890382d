package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is one instruction in a settlement plan: FromID pays ToID the
// given amount in the group's base currency. Once the owning period closes
// the monetary fields never change; only payment confirmation is mutable.
type Transfer struct {
	ID          int64
	PeriodID    string
	GroupID     string
	FromID      string
	ToID        string
	Amount      decimal.Decimal
	Currency    string
	PaidAt      *time.Time
	ConfirmedBy string
	CreatedAt   time.Time
}

// IsPaid reports whether the transfer has been confirmed as paid.
func (t *Transfer) IsPaid() bool {
	return t.PaidAt != nil
}

// SettlementResult is the outcome of a settlement run: the closed period,
// the transfer plan that clears it, and the net position each participant
// held at close time.
type SettlementResult struct {
	Period    *SettlementPeriod
	Transfers []*Transfer
	Balances  map[string]decimal.Decimal
	Final     bool
}
