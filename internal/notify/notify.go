// Package notify carries domain events out of the engine. Delivery to
// humans (email, push) is the consumer's concern; the engine only reports
// that something happened.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies a domain event type.
type Kind string

const (
	// KindBalanceChanged fires after an expense write changes a group's
	// balances.
	KindBalanceChanged Kind = "balance_changed"

	// KindSettlementClosed fires after a settlement commit, never before.
	KindSettlementClosed Kind = "settlement_closed"

	// KindParticipantExited fires when a participant leaves a group.
	KindParticipantExited Kind = "participant_exited"

	// KindSettlementDue fires once per upcoming fire date as a reminder.
	KindSettlementDue Kind = "settlement_due"
)

// Event is a domain event. Only the fields relevant to its Kind are set.
type Event struct {
	Kind          Kind
	GroupID       string
	PeriodID      string
	ParticipantID string
	ExpenseID     int64
	TransferCount int
	Final         bool
	DueAt         time.Time
}

// BalanceChanged builds the event for an expense create, update or delete.
func BalanceChanged(groupID, periodID string, expenseID int64) Event {
	return Event{Kind: KindBalanceChanged, GroupID: groupID, PeriodID: periodID, ExpenseID: expenseID}
}

// SettlementClosed builds the event for a committed settlement. Final marks
// a settlement that also closed the group.
func SettlementClosed(groupID, periodID string, transferCount int, final bool) Event {
	return Event{Kind: KindSettlementClosed, GroupID: groupID, PeriodID: periodID, TransferCount: transferCount, Final: final}
}

// ParticipantExited builds the event for a completed exit.
func ParticipantExited(groupID, participantID string) Event {
	return Event{Kind: KindParticipantExited, GroupID: groupID, ParticipantID: participantID}
}

// SettlementDue builds the reminder event for an upcoming fire date.
func SettlementDue(groupID string, dueAt time.Time) Event {
	return Event{Kind: KindSettlementDue, GroupID: groupID, DueAt: dueAt}
}

// Notifier receives domain events. Implementations must be safe for
// concurrent use; publishing must never block a settlement.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// LogNotifier writes events to a structured logger. It is the daemon
// default.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Publish logs the event with its identifying fields.
func (n *LogNotifier) Publish(ctx context.Context, event Event) error {
	attrs := []any{"kind", string(event.Kind), "group_id", event.GroupID}
	if event.PeriodID != "" {
		attrs = append(attrs, "period_id", event.PeriodID)
	}
	if event.ParticipantID != "" {
		attrs = append(attrs, "participant_id", event.ParticipantID)
	}
	if event.ExpenseID != 0 {
		attrs = append(attrs, "expense_id", event.ExpenseID)
	}
	if event.Kind == KindSettlementClosed {
		attrs = append(attrs, "transfers", event.TransferCount, "final", event.Final)
	}
	if !event.DueAt.IsZero() {
		attrs = append(attrs, "due_at", event.DueAt)
	}
	n.logger.InfoContext(ctx, "event published", attrs...)
	return nil
}

// MemoryNotifier records events in memory for tests and embedded callers.
type MemoryNotifier struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryNotifier creates an empty in-memory notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// Publish appends the event.
func (n *MemoryNotifier) Publish(_ context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of everything published so far, in order.
func (n *MemoryNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}

// ByKind returns published events of one kind, in order.
func (n *MemoryNotifier) ByKind(kind Kind) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, e := range n.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
