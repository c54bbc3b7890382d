package models

import "time"

// lastDayOfMonth returns the final day of the given month at 23:59 UTC, the
// moment recurring settlements are nominally due.
func lastDayOfMonth(year int, month time.Month) time.Time {
	// Day zero of the next month normalizes to this month's last day.
	return time.Date(year, month+1, 0, 23, 59, 0, 0, time.UTC)
}

// InitialSettlementDate returns the first auto-settlement date for a group
// created at now: the end of the current month, or of the next month when
// the current month's end has already passed.
func InitialSettlementDate(now time.Time) time.Time {
	now = now.UTC()
	due := lastDayOfMonth(now.Year(), now.Month())
	if !due.After(now) {
		due = lastDayOfMonth(now.Year(), now.Month()+1)
	}
	return due
}

// AdvanceSettlementDate returns the fire date following prev: the end of the
// next month. Advancing from the previous fire date rather than from the
// current time keeps the monthly cadence even when a settlement runs early.
func AdvanceSettlementDate(prev time.Time) time.Time {
	prev = prev.UTC()
	return lastDayOfMonth(prev.Year(), prev.Month()+1)
}

// NextPeriodStart returns the nominal start of the period that follows a
// settlement closed at closedAt: the next UTC midnight.
func NextPeriodStart(closedAt time.Time) time.Time {
	closedAt = closedAt.UTC()
	return time.Date(closedAt.Year(), closedAt.Month(), closedAt.Day()+1, 0, 0, 0, 0, time.UTC)
}
