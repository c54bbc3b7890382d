package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/notify"
	"github.com/splitpot/splitpot/internal/storage"
)

func TestSettleAndContinue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, admin := createTestGroup(t, env, "Flat 12", models.RecurrenceMonthly)
	ben := addMember(t, env, group.ID, "Ben")
	recordEqualExpense(t, env, group.ID, admin.ID, "30.00", admin.ID, ben.ID)

	result, err := env.settlements.SettleAndContinue(ctx, group.ID, admin.ID)
	if err != nil {
		t.Fatalf("SettleAndContinue failed: %v", err)
	}

	if result.Final {
		t.Error("interim settlement marked final")
	}
	if result.Period.Label != "2026-08" {
		t.Errorf("period label = %s, want 2026-08", result.Period.Label)
	}
	if result.Period.ClosedAt == nil || result.Period.ClosedBy != admin.ID {
		t.Errorf("period close marks missing: %+v", result.Period)
	}
	if len(result.Transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(result.Transfers))
	}
	tr := result.Transfers[0]
	if tr.FromID != ben.ID || tr.ToID != admin.ID || !tr.Amount.Equal(d("15.00")) {
		t.Errorf("transfer = %s -> %s %s, want %s -> %s 15.00", tr.FromID, tr.ToID, tr.Amount, ben.ID, admin.ID)
	}

	// A fresh period is open and the next fire date moved one month out.
	next, err := env.store.GetOpenPeriod(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetOpenPeriod after settlement failed: %v", err)
	}
	if next.ID == result.Period.ID {
		t.Error("settled period still open")
	}
	reloaded, err := env.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	wantNext := time.Date(2026, 9, 30, 23, 59, 0, 0, time.UTC)
	if reloaded.NextSettlementAt == nil || !reloaded.NextSettlementAt.Equal(wantNext) {
		t.Errorf("NextSettlementAt = %v, want %v", reloaded.NextSettlementAt, wantNext)
	}

	events := env.events.ByKind(notify.KindSettlementClosed)
	if len(events) != 1 || events[0].TransferCount != 1 || events[0].Final {
		t.Errorf("settlement events = %+v, want one interim with one transfer", events)
	}

	entries, err := env.store.ListAudit(ctx, group.ID, 1)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != models.AuditPeriodSettled {
		t.Errorf("latest audit = %+v, want period_settled", entries)
	}
}

func TestSettleAndContinue_EmptyPeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, admin := createTestGroup(t, env, "Flat 12", models.RecurrenceNone)

	_, err := env.settlements.SettleAndContinue(ctx, group.ID, admin.ID)
	if !errors.Is(err, models.ErrNothingToSettle) {
		t.Fatalf("error = %v, want ErrNothingToSettle", err)
	}

	// The period is restored to OPEN so later writes still land in it.
	period, err := env.store.GetOpenPeriod(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetOpenPeriod failed: %v", err)
	}
	if !period.IsOpen() {
		t.Errorf("period state = %s, want open", period.State)
	}
}

func TestSettleAndClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, admin := createTestGroup(t, env, "Flat 12", models.RecurrenceMonthly)
	ben := addMember(t, env, group.ID, "Ben")
	recordEqualExpense(t, env, group.ID, admin.ID, "30.00", admin.ID, ben.ID)

	result, err := env.settlements.SettleAndClose(ctx, group.ID, admin.ID)
	if err != nil {
		t.Fatalf("SettleAndClose failed: %v", err)
	}

	if !result.Final {
		t.Error("final settlement not marked final")
	}
	if result.Period.Label != "2026-08-FINAL" {
		t.Errorf("period label = %s, want 2026-08-FINAL", result.Period.Label)
	}

	closed, err := env.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if closed.Status != models.GroupClosed || closed.SettledAt == nil || closed.NextSettlementAt != nil {
		t.Errorf("unexpected group after close: %+v", closed)
	}

	// No successor period after a final settlement.
	if _, err := env.store.GetOpenPeriod(ctx, group.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("open period lookup = %v, want ErrNotFound", err)
	}

	// Further settlements are rejected.
	if _, err := env.settlements.SettleAndContinue(ctx, group.ID, admin.ID); !errors.Is(err, models.ErrGroupClosed) {
		t.Errorf("settle after close = %v, want ErrGroupClosed", err)
	}

	entries, err := env.store.ListAudit(ctx, group.ID, 1)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != models.AuditGroupClosed {
		t.Errorf("latest audit = %+v, want group_closed", entries)
	}
}

func TestSettleAndClose_EmptyPeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, admin := createTestGroup(t, env, "Flat 12", models.RecurrenceNone)

	// Closing settles even with nothing to transfer.
	result, err := env.settlements.SettleAndClose(ctx, group.ID, admin.ID)
	if err != nil {
		t.Fatalf("SettleAndClose failed: %v", err)
	}
	if !result.Final || len(result.Transfers) != 0 {
		t.Errorf("result = %+v, want final with no transfers", result)
	}

	closed, err := env.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if closed.Status != models.GroupClosed {
		t.Errorf("group status = %s, want closed", closed.Status)
	}
}

func TestTryAutoSettle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, admin := createTestGroup(t, env, "Flat 12", models.RecurrenceMonthly)
	ben := addMember(t, env, group.ID, "Ben")
	recordEqualExpense(t, env, group.ID, admin.ID, "30.00", admin.ID, ben.ID)

	result, err := env.settlements.TryAutoSettle(ctx, group.ID)
	if err != nil {
		t.Fatalf("TryAutoSettle failed: %v", err)
	}
	if result == nil || len(result.Transfers) != 1 {
		t.Fatalf("result = %+v, want one transfer", result)
	}

	reloaded, err := env.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if reloaded.LastAutoSettledOn != "2026-08-10" {
		t.Errorf("LastAutoSettledOn = %s, want 2026-08-10", reloaded.LastAutoSettledOn)
	}

	// A second pass the same day is a no-op even with new expenses.
	recordEqualExpense(t, env, group.ID, admin.ID, "10.00", admin.ID, ben.ID)
	again, err := env.settlements.TryAutoSettle(ctx, group.ID)
	if err != nil {
		t.Fatalf("second TryAutoSettle failed: %v", err)
	}
	if again != nil {
		t.Errorf("same-day result = %+v, want nil", again)
	}

	// The next day it settles again.
	env.clk.Add(24 * time.Hour)
	next, err := env.settlements.TryAutoSettle(ctx, group.ID)
	if err != nil {
		t.Fatalf("next-day TryAutoSettle failed: %v", err)
	}
	if next == nil || len(next.Transfers) != 1 {
		t.Errorf("next-day result = %+v, want one transfer", next)
	}
}

func TestTryAutoSettle_EmptyPeriodAdvancesDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, _ := createTestGroup(t, env, "Flat 12", models.RecurrenceMonthly)

	before, err := env.store.GetOpenPeriod(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetOpenPeriod failed: %v", err)
	}

	result, err := env.settlements.TryAutoSettle(ctx, group.ID)
	if err != nil {
		t.Fatalf("TryAutoSettle failed: %v", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil for empty period", result)
	}

	// The period survives, only the fire date moves.
	after, err := env.store.GetOpenPeriod(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetOpenPeriod failed: %v", err)
	}
	if after.ID != before.ID {
		t.Error("empty auto settlement replaced the open period")
	}
	reloaded, err := env.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	wantNext := time.Date(2026, 9, 30, 23, 59, 0, 0, time.UTC)
	if reloaded.NextSettlementAt == nil || !reloaded.NextSettlementAt.Equal(wantNext) {
		t.Errorf("NextSettlementAt = %v, want %v", reloaded.NextSettlementAt, wantNext)
	}
	if reloaded.LastAutoSettledOn != "2026-08-10" {
		t.Errorf("LastAutoSettledOn = %s, want 2026-08-10", reloaded.LastAutoSettledOn)
	}
}

func TestExpireGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, admin := createTestGroup(t, env, "Flat 12", models.RecurrenceMonthly)
	ben := addMember(t, env, group.ID, "Ben")
	recordEqualExpense(t, env, group.ID, admin.ID, "30.00", admin.ID, ben.ID)

	result, err := env.settlements.ExpireGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("ExpireGroup failed: %v", err)
	}
	if !result.Final || len(result.Transfers) != 1 {
		t.Errorf("result = %+v, want final with one transfer", result)
	}

	expired, err := env.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if expired.Status != models.GroupClosed || expired.Recurrence != models.RecurrenceNone || expired.NextSettlementAt != nil {
		t.Errorf("unexpected group after expiry: %+v", expired)
	}

	// Expiring an already-closed group is a no-op.
	again, err := env.settlements.ExpireGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("second ExpireGroup failed: %v", err)
	}
	if again != nil {
		t.Errorf("second expiry result = %+v, want nil", again)
	}
}

func TestSettle_ClaimConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, admin := createTestGroup(t, env, "Flat 12", models.RecurrenceNone)
	ben := addMember(t, env, group.ID, "Ben")
	recordEqualExpense(t, env, group.ID, admin.ID, "30.00", admin.ID, ben.ID)

	period, err := env.store.GetOpenPeriod(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetOpenPeriod failed: %v", err)
	}
	if err := env.store.ClaimPeriodSettling(ctx, period.ID); err != nil {
		t.Fatalf("ClaimPeriodSettling failed: %v", err)
	}

	_, err = env.settlements.SettleAndContinue(ctx, group.ID, admin.ID)
	if !errors.Is(err, models.ErrAlreadySettling) {
		t.Errorf("error = %v, want ErrAlreadySettling", err)
	}
	if !errors.Is(err, models.ErrConcurrencyConflict) {
		t.Errorf("error = %v, want a concurrency conflict", err)
	}
}

func TestMarkTransferPaidAndUnpaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, admin := createTestGroup(t, env, "Flat 12", models.RecurrenceNone)
	ben := addMember(t, env, group.ID, "Ben")
	recordEqualExpense(t, env, group.ID, admin.ID, "30.00", admin.ID, ben.ID)

	result, err := env.settlements.SettleAndContinue(ctx, group.ID, admin.ID)
	if err != nil {
		t.Fatalf("SettleAndContinue failed: %v", err)
	}
	transferID := result.Transfers[0].ID

	paid, err := env.settlements.MarkTransferPaid(ctx, transferID, ben.ID)
	if err != nil {
		t.Fatalf("MarkTransferPaid failed: %v", err)
	}
	if paid.PaidAt == nil || paid.ConfirmedBy != ben.ID {
		t.Errorf("transfer after confirm: %+v", paid)
	}

	// Confirming again with a different actor changes nothing.
	repaid, err := env.settlements.MarkTransferPaid(ctx, transferID, admin.ID)
	if err != nil {
		t.Fatalf("second MarkTransferPaid failed: %v", err)
	}
	if repaid.ConfirmedBy != ben.ID {
		t.Errorf("ConfirmedBy = %s, want original %s", repaid.ConfirmedBy, ben.ID)
	}

	unpaid, err := env.settlements.MarkTransferUnpaid(ctx, transferID, admin.ID)
	if err != nil {
		t.Fatalf("MarkTransferUnpaid failed: %v", err)
	}
	if unpaid.PaidAt != nil || unpaid.ConfirmedBy != "" {
		t.Errorf("transfer after clear: %+v", unpaid)
	}

	// Clearing an unpaid transfer is a no-op.
	if _, err := env.settlements.MarkTransferUnpaid(ctx, transferID, admin.ID); err != nil {
		t.Fatalf("second MarkTransferUnpaid failed: %v", err)
	}

	transfers, err := env.settlements.Transfers(ctx, result.Period.ID)
	if err != nil {
		t.Fatalf("Transfers failed: %v", err)
	}
	if len(transfers) != 1 || transfers[0].PaidAt != nil {
		t.Errorf("stored transfers = %+v, want one unpaid", transfers)
	}
}

func TestRecoverStuckSettlements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, _ := createTestGroup(t, env, "Flat 12", models.RecurrenceNone)

	period, err := env.store.GetOpenPeriod(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetOpenPeriod failed: %v", err)
	}
	if err := env.store.ClaimPeriodSettling(ctx, period.ID); err != nil {
		t.Fatalf("ClaimPeriodSettling failed: %v", err)
	}

	released, err := env.settlements.RecoverStuckSettlements(ctx)
	if err != nil {
		t.Fatalf("RecoverStuckSettlements failed: %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}

	restored, err := env.store.GetOpenPeriod(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetOpenPeriod after recovery failed: %v", err)
	}
	if restored.ID != period.ID {
		t.Error("recovery did not restore the claimed period")
	}
}
