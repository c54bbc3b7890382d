// Package models defines the core domain entities of the settlement engine.
//
// # Entities
//
//   - Group: a shared-expense group with a base currency, an optional expiry
//     date, and an optional monthly recurrence policy
//   - Participant: a member of a group; exits are soft (ExitedAt) so history
//     survives
//   - Expense: money paid by one participant on behalf of several, recorded
//     in its original currency and normalized into the group's base currency
//   - ExpenseShare: one participant's owed portion of an expense, in base
//     currency
//   - SettlementPeriod: the bounded span expenses accrue in before a
//     settlement closes it
//   - Transfer: a payment produced by debt simplification when a period
//     settles
//   - AuditEntry: append-only trail of group activity
//
// # Design Principles
//
//  1. Entities reference each other by ID string, never by pointer, so there
//     are no ownership cycles; the storage layer is the arena.
//  2. All monetary values are decimal.Decimal. Comparisons against zero go
//     through Epsilon (one minor unit) rather than exact equality.
//  3. Settled history is immutable: closed periods, their expenses, and the
//     monetary fields of their transfers are never modified.
package models
