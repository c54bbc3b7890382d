package models

import (
	"fmt"
	"time"
)

// PeriodState is the lifecycle state of a settlement period.
//
// A period is born open, transitions to settling while a settlement run
// holds it, and ends closed. The settling state is persisted so that writers
// in other processes observe it and so a crashed run can be detected and
// released on startup.
type PeriodState string

const (
	PeriodOpen     PeriodState = "open"
	PeriodSettling PeriodState = "settling"
	PeriodClosed   PeriodState = "closed"
)

// SettlementPeriod is a window of expenses that settles together. At most
// one period per group is not closed at any time.
type SettlementPeriod struct {
	ID        string
	GroupID   string
	Label     string
	State     PeriodState
	StartedAt time.Time
	ClosedAt  *time.Time
	ClosedBy  string
	CreatedAt time.Time
}

// IsOpen reports whether the period still accepts expenses.
func (p *SettlementPeriod) IsOpen() bool {
	return p.State == PeriodOpen
}

// PeriodLabel builds the display label for a period closed at ts. Final
// settlements carry a FINAL suffix to distinguish them from interim ones in
// the same month.
func PeriodLabel(ts time.Time, final bool) string {
	label := ts.UTC().Format("2006-01")
	if final {
		label = fmt.Sprintf("%s-FINAL", label)
	}
	return label
}
