package models

import "time"

// GroupStatus is the lifecycle state of a group.
type GroupStatus string

const (
	// GroupActive accepts expenses and settlements.
	GroupActive GroupStatus = "active"

	// GroupClosed is a settled-and-closed or expired group. History stays
	// readable; no further writes are accepted.
	GroupClosed GroupStatus = "closed"
)

// RecurrencePolicy controls whether settlements repeat automatically.
type RecurrencePolicy string

const (
	// RecurrenceNone means the group only settles manually or on expiry.
	RecurrenceNone RecurrencePolicy = "none"

	// RecurrenceMonthly settles automatically at the end of each month.
	RecurrenceMonthly RecurrencePolicy = "monthly"
)

// Group is a shared-expense group. All expense math happens in BaseCurrency;
// expenses entered in other currencies are normalized on creation.
type Group struct {
	ID           string
	Name         string
	Description  string
	BaseCurrency string
	Status       GroupStatus

	// Recurrence holds the automatic settlement policy. NextSettlementAt is
	// only set for recurring groups and marks the end of the current cycle.
	Recurrence       RecurrencePolicy
	NextSettlementAt *time.Time

	// LastAutoSettledOn records the UTC calendar day (YYYY-MM-DD) of the
	// last automatic settlement, making the scheduled trigger idempotent
	// per day.
	LastAutoSettledOn string

	// ExpiresAt, when set, is the point after which the scheduler settles
	// the group one final time and closes it.
	ExpiresAt *time.Time

	SettledAt *time.Time
	CreatedAt time.Time
}

// IsExpired reports whether the group's expiry has been reached at the
// given time. The boundary instant counts as expired, matching the
// store's expiry query.
func (g *Group) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// IsActive reports whether the group still accepts expenses and settlements.
func (g *Group) IsActive() bool {
	return g.Status == GroupActive
}
