package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/currency"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/notify"
	"github.com/splitpot/splitpot/internal/service"
	"github.com/splitpot/splitpot/internal/storage/sqlite"
)

var testStart = time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store       *sqlite.SQLiteStore
	events      *notify.MemoryNotifier
	clk         *clock.Mock
	groups      *service.GroupService
	expenses    *service.ExpenseService
	settlements *service.SettlementService
	sched       *Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir, err := os.MkdirTemp("", "splitpot-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	store, err := sqlite.New(dir + "/scheduler.db")
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.RemoveAll(dir)
	})

	clk := clock.NewMock()
	clk.Set(testStart)
	locks := service.NewGroupLocks()
	events := notify.NewMemoryNotifier()
	normalizer := currency.NewNormalizer(store, currency.NewStaticProvider(nil), slog.New(slog.NewTextHandler(io.Discard, nil)))
	settlements := service.NewSettlementService(store, locks, events, clk)

	return &testEnv{
		store:       store,
		events:      events,
		clk:         clk,
		groups:      service.NewGroupService(store, locks, events, clk, "EUR"),
		expenses:    service.NewExpenseService(store, normalizer, events, clk),
		settlements: settlements,
		sched:       New(store, settlements, events, clk, time.Minute, 72*time.Hour),
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedMonthlyGroup creates a recurring group with two participants and one
// base-currency expense, due at the end of August.
func seedMonthlyGroup(t *testing.T, env *testEnv) *models.Group {
	t.Helper()
	ctx := context.Background()

	group, admin, err := env.groups.CreateGroup(ctx, service.CreateGroupInput{
		Name:        "Flat 12",
		Recurrence:  models.RecurrenceMonthly,
		CreatorName: "Ada",
	})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	ben, err := env.groups.AddParticipant(ctx, group.ID, service.AddParticipantInput{DisplayName: "Ben"})
	if err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	_, _, err = env.expenses.RecordExpense(ctx, service.ExpenseInput{
		GroupID:      group.ID,
		PaidBy:       admin.ID,
		Title:        "Shared expense",
		Amount:       d("30.00"),
		SplitMethod:  models.SplitEqual,
		Participants: []string{admin.ID, ben.ID},
	})
	if err != nil {
		t.Fatalf("RecordExpense failed: %v", err)
	}
	return group
}

func TestRunOnce_SettlesDueGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group := seedMonthlyGroup(t, env)

	// Not yet due: nothing happens.
	env.sched.RunOnce(ctx)
	if events := env.events.ByKind(notify.KindSettlementClosed); len(events) != 0 {
		t.Fatalf("settlement before due date: %+v", events)
	}

	// Past the August fire date the pass settles the group.
	env.clk.Set(time.Date(2026, 9, 1, 0, 30, 0, 0, time.UTC))
	env.sched.RunOnce(ctx)

	events := env.events.ByKind(notify.KindSettlementClosed)
	if len(events) != 1 || events[0].TransferCount != 1 {
		t.Fatalf("settlement events = %+v, want one with one transfer", events)
	}

	reloaded, err := env.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	// The next fire date advances off the previous one, keeping the
	// monthly cadence.
	wantNext := time.Date(2026, 9, 30, 23, 59, 0, 0, time.UTC)
	if reloaded.NextSettlementAt == nil || !reloaded.NextSettlementAt.Equal(wantNext) {
		t.Errorf("NextSettlementAt = %v, want %v", reloaded.NextSettlementAt, wantNext)
	}
	if reloaded.LastAutoSettledOn != "2026-09-01" {
		t.Errorf("LastAutoSettledOn = %s, want 2026-09-01", reloaded.LastAutoSettledOn)
	}

	// A second pass the same day changes nothing.
	env.sched.RunOnce(ctx)
	if events := env.events.ByKind(notify.KindSettlementClosed); len(events) != 1 {
		t.Errorf("settlement events after refire = %d, want 1", len(events))
	}
}

func TestRunOnce_ExpiresGroups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group := seedMonthlyGroup(t, env)

	expires := testStart.Add(time.Hour)
	reloaded, err := env.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	reloaded.ExpiresAt = &expires
	if err := env.store.UpdateGroup(ctx, reloaded); err != nil {
		t.Fatalf("UpdateGroup failed: %v", err)
	}

	env.clk.Set(testStart.Add(2 * time.Hour))
	env.sched.RunOnce(ctx)

	expired, err := env.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if expired.Status != models.GroupClosed || expired.Recurrence != models.RecurrenceNone {
		t.Errorf("unexpected group after expiry pass: %+v", expired)
	}
	events := env.events.ByKind(notify.KindSettlementClosed)
	if len(events) != 1 || !events[0].Final {
		t.Errorf("settlement events = %+v, want one final", events)
	}
}

func TestRunOnce_RemindsOncePerFireDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group := seedMonthlyGroup(t, env)

	// Two days before the fire date the reminder goes out, exactly once.
	env.clk.Set(time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))
	env.sched.RunOnce(ctx)
	env.sched.RunOnce(ctx)

	reminders := env.events.ByKind(notify.KindSettlementDue)
	if len(reminders) != 1 {
		t.Fatalf("got %d reminders, want 1", len(reminders))
	}
	if reminders[0].GroupID != group.ID {
		t.Errorf("reminder group = %s, want %s", reminders[0].GroupID, group.ID)
	}
	wantDue := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)
	if !reminders[0].DueAt.Equal(wantDue) {
		t.Errorf("reminder due = %v, want %v", reminders[0].DueAt, wantDue)
	}
}

func TestRunOnce_RetriesConflictedSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group := seedMonthlyGroup(t, env)

	// Hold the period claim so every settlement attempt conflicts.
	period, err := env.store.GetOpenPeriod(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetOpenPeriod failed: %v", err)
	}
	if err := env.store.ClaimPeriodSettling(ctx, period.ID); err != nil {
		t.Fatalf("ClaimPeriodSettling failed: %v", err)
	}

	env.clk.Set(time.Date(2026, 9, 1, 0, 30, 0, 0, time.UTC))
	env.sched.RunOnce(ctx)

	// The pass survives the failure and the group stays due for the next
	// tick.
	if events := env.events.ByKind(notify.KindSettlementClosed); len(events) != 0 {
		t.Fatalf("settlement events under held claim: %+v", events)
	}
	if err := env.store.ReleasePeriodSettling(ctx, period.ID); err != nil {
		t.Fatalf("ReleasePeriodSettling failed: %v", err)
	}

	env.sched.RunOnce(ctx)
	if events := env.events.ByKind(notify.KindSettlementClosed); len(events) != 1 {
		t.Errorf("settlement events after release = %d, want 1", len(events))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.sched.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
