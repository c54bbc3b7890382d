package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/splitpot/splitpot/internal/calculator"
	"github.com/splitpot/splitpot/internal/metrics"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/notify"
	"github.com/splitpot/splitpot/internal/storage"
)

// SettlementService drives the period lifecycle OPEN -> SETTLING -> CLOSED.
// All four triggers (manual settle, manual close, scheduled, expiry) share
// one compute/persist core; the period claim and the atomic commit make a
// settlement exactly-once per period even with concurrent triggers.
type SettlementService struct {
	store    storage.Store
	locks    *GroupLocks
	notifier notify.Notifier
	clk      clock.Clock
}

// NewSettlementService creates a SettlementService with the given
// collaborators.
func NewSettlementService(store storage.Store, locks *GroupLocks, notifier notify.Notifier, clk clock.Clock) *SettlementService {
	return &SettlementService{store: store, locks: locks, notifier: notifier, clk: clk}
}

// settleOptions selects the behavior of one settlement run.
type settleOptions struct {
	trigger    string
	actorID    string
	closeGroup bool
	auto       bool
	expire     bool
}

// SettleAndContinue closes the current period into a transfer plan and
// immediately opens a fresh period. An empty period yields
// ErrNothingToSettle.
func (s *SettlementService) SettleAndContinue(ctx context.Context, groupID, actorID string) (*models.SettlementResult, error) {
	return s.settle(ctx, groupID, settleOptions{trigger: metrics.TriggerContinue, actorID: actorID})
}

// SettleAndClose runs the group's final settlement and closes the group.
// It settles even when the period is empty.
func (s *SettlementService) SettleAndClose(ctx context.Context, groupID, actorID string) (*models.SettlementResult, error) {
	return s.settle(ctx, groupID, settleOptions{trigger: metrics.TriggerClose, actorID: actorID, closeGroup: true})
}

// TryAutoSettle performs the scheduled monthly settlement. It is idempotent
// per group per UTC day; a nil result with nil error means nothing needed
// doing (already ran today, or the period was empty and only the fire date
// advanced).
func (s *SettlementService) TryAutoSettle(ctx context.Context, groupID string) (*models.SettlementResult, error) {
	return s.settle(ctx, groupID, settleOptions{trigger: metrics.TriggerAuto, auto: true})
}

// ExpireGroup settles whatever is open and closes the group for good,
// cancelling any recurrence. Calling it on an already-closed group is a
// no-op.
func (s *SettlementService) ExpireGroup(ctx context.Context, groupID string) (*models.SettlementResult, error) {
	return s.settle(ctx, groupID, settleOptions{trigger: metrics.TriggerExpiry, closeGroup: true, expire: true})
}

// RecoverStuckSettlements reverts any period left SETTLING by a crashed
// run back to OPEN. The daemon calls this once on startup.
func (s *SettlementService) RecoverStuckSettlements(ctx context.Context) (int, error) {
	released, err := s.store.ReleaseStuckSettlements(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck settlements: %w", err)
	}
	if released > 0 {
		slog.Warn("released stuck settlements", "count", released)
	}
	return released, nil
}

func (s *SettlementService) settle(ctx context.Context, groupID string, opts settleOptions) (*models.SettlementResult, error) {
	started := time.Now()
	result, err := s.run(ctx, groupID, opts)
	metrics.SettlementDuration.Observe(time.Since(started).Seconds())
	metrics.Settlements.WithLabelValues(opts.trigger, outcomeLabel(result, err)).Inc()
	return result, err
}

func outcomeLabel(result *models.SettlementResult, err error) string {
	switch {
	case errors.Is(err, models.ErrConcurrencyConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, models.ErrNothingToSettle):
		return metrics.OutcomeEmpty
	case err != nil:
		return metrics.OutcomeError
	case result == nil:
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeSettled
	}
}

func (s *SettlementService) run(ctx context.Context, groupID string, opts settleOptions) (*models.SettlementResult, error) {
	lockCtx, cancel := context.WithTimeout(ctx, defaultLockWait)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, groupID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clk.Now().UTC()
	today := now.Format("2006-01-02")

	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsActive() {
		if opts.expire {
			return nil, nil
		}
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrGroupClosed)
	}
	if opts.auto && group.LastAutoSettledOn == today {
		slog.Info("auto settlement already ran today", "group_id", groupID, "day", today)
		return nil, nil
	}

	period, err := s.store.GetOpenPeriod(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get open period: %w", err)
	}
	if err := s.store.ClaimPeriodSettling(ctx, period.ID); err != nil {
		return nil, err
	}

	snap, err := s.store.PeriodSnapshot(ctx, period.ID)
	if err != nil {
		s.releaseClaim(ctx, period.ID)
		return nil, fmt.Errorf("failed to snapshot period: %w", err)
	}

	if len(snap.Expenses) == 0 && !opts.closeGroup {
		s.releaseClaim(ctx, period.ID)
		if !opts.auto {
			return nil, fmt.Errorf("period %s: %w", period.ID, models.ErrNothingToSettle)
		}
		// Scheduled pass over an empty period: only the fire date advances,
		// the period stays open.
		group.LastAutoSettledOn = today
		if group.NextSettlementAt != nil {
			next := models.AdvanceSettlementDate(*group.NextSettlementAt)
			group.NextSettlementAt = &next
		}
		if err := s.store.UpdateGroup(ctx, group); err != nil {
			return nil, fmt.Errorf("failed to advance settlement date: %w", err)
		}
		slog.Info("empty period, auto settlement skipped",
			"group_id", groupID, "period_id", period.ID, "next_settlement_at", group.NextSettlementAt)
		return nil, nil
	}

	result, err := s.commitSettlement(ctx, group, period, snap, opts, now, today)
	if err != nil {
		s.releaseClaim(ctx, period.ID)
		return nil, err
	}

	// Only after the commit is durable.
	publishEvent(ctx, s.notifier, notify.SettlementClosed(groupID, period.ID, len(result.Transfers), result.Final))

	slog.Info("settlement committed",
		"group_id", groupID,
		"period_id", period.ID,
		"label", period.Label,
		"transfers", len(result.Transfers),
		"final", result.Final,
		"trigger", opts.trigger,
	)
	return result, nil
}

// commitSettlement computes balances and transfers from the snapshot and
// applies the atomic settlement write. On error the caller restores the
// period to OPEN; nothing partial is ever visible.
func (s *SettlementService) commitSettlement(ctx context.Context, group *models.Group, period *models.SettlementPeriod, snap *storage.PeriodSnapshot, opts settleOptions, now time.Time, today string) (*models.SettlementResult, error) {
	balances, err := snapshotBalances(snap)
	if err != nil {
		return nil, err
	}
	edges := calculator.Simplify(balances)

	final := opts.closeGroup
	period.State = models.PeriodClosed
	period.Label = models.PeriodLabel(now, final)
	period.ClosedAt = &now
	period.ClosedBy = opts.actorID

	transfers := make([]*models.Transfer, len(edges))
	for i, edge := range edges {
		transfers[i] = &models.Transfer{
			PeriodID:  period.ID,
			GroupID:   group.ID,
			FromID:    edge.FromID,
			ToID:      edge.ToID,
			Amount:    edge.Amount,
			Currency:  group.BaseCurrency,
			CreatedAt: now,
		}
	}

	if opts.auto {
		group.LastAutoSettledOn = today
	}
	var newPeriod *models.SettlementPeriod
	if final {
		group.Status = models.GroupClosed
		group.SettledAt = &now
		group.NextSettlementAt = nil
		if opts.expire {
			group.Recurrence = models.RecurrenceNone
		}
	} else {
		if group.Recurrence == models.RecurrenceMonthly && group.NextSettlementAt != nil {
			next := models.AdvanceSettlementDate(*group.NextSettlementAt)
			group.NextSettlementAt = &next
		}
		newPeriod = &models.SettlementPeriod{
			GroupID:   group.ID,
			StartedAt: models.NextPeriodStart(now),
			CreatedAt: now,
		}
	}

	action := models.AuditPeriodSettled
	if final {
		action = models.AuditGroupClosed
	}
	commit := &storage.SettlementCommit{
		Period:    period,
		Group:     group,
		Transfers: transfers,
		NewPeriod: newPeriod,
		Audit: &models.AuditEntry{
			GroupID:   group.ID,
			ActorID:   opts.actorID,
			Action:    action,
			Detail:    fmt.Sprintf("trigger=%s transfers=%d", opts.trigger, len(transfers)),
			CreatedAt: now,
		},
	}
	if err := s.store.CommitSettlement(ctx, commit); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	return &models.SettlementResult{
		Period:    period,
		Transfers: transfers,
		Balances:  balances,
		Final:     final,
	}, nil
}

// releaseClaim flips the period back to OPEN after a failed run so the
// prior state is restored for safe retry.
func (s *SettlementService) releaseClaim(ctx context.Context, periodID string) {
	if err := s.store.ReleasePeriodSettling(ctx, periodID); err != nil {
		slog.Error("failed to release period after settlement failure",
			"period_id", periodID, "error", err)
	}
}

// Transfers returns a period's transfer plan in creation order.
func (s *SettlementService) Transfers(ctx context.Context, periodID string) ([]*models.Transfer, error) {
	return s.store.ListTransfers(ctx, periodID)
}

// MarkTransferPaid records payment confirmation on a transfer. Marking an
// already-paid transfer again is a no-op. Monetary fields never change.
func (s *SettlementService) MarkTransferPaid(ctx context.Context, transferID int64, confirmedBy string) (*models.Transfer, error) {
	transfer, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.IsPaid() {
		return transfer, nil
	}

	now := s.clk.Now().UTC()
	if err := s.store.SetTransferPaid(ctx, transferID, &now, confirmedBy); err != nil {
		return nil, fmt.Errorf("failed to mark transfer paid: %w", err)
	}
	transfer.PaidAt = &now
	transfer.ConfirmedBy = confirmedBy

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: transfer.GroupID,
		ActorID: confirmedBy,
		Action:  models.AuditTransferPaid,
		Detail:  fmt.Sprintf("%s -> %s %s %s", transfer.FromID, transfer.ToID, transfer.Amount, transfer.Currency),
	})
	slog.Info("transfer marked paid", "transfer_id", transferID, "group_id", transfer.GroupID)
	return transfer, nil
}

// MarkTransferUnpaid clears a transfer's payment confirmation.
func (s *SettlementService) MarkTransferUnpaid(ctx context.Context, transferID int64, actorID string) (*models.Transfer, error) {
	transfer, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !transfer.IsPaid() {
		return transfer, nil
	}

	if err := s.store.SetTransferPaid(ctx, transferID, nil, ""); err != nil {
		return nil, fmt.Errorf("failed to mark transfer unpaid: %w", err)
	}
	transfer.PaidAt = nil
	transfer.ConfirmedBy = ""

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: transfer.GroupID,
		ActorID: actorID,
		Action:  models.AuditTransferUnpaid,
		Detail:  fmt.Sprintf("%s -> %s %s %s", transfer.FromID, transfer.ToID, transfer.Amount, transfer.Currency),
	})
	slog.Info("transfer marked unpaid", "transfer_id", transferID, "group_id", transfer.GroupID)
	return transfer, nil
}
