// Package scheduler drives time-based settlement work from a single
// recurring timer: expiring groups past their end date, running due
// monthly settlements, and emitting due-soon reminders.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/splitpot/splitpot/internal/metrics"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/notify"
	"github.com/splitpot/splitpot/internal/service"
	"github.com/splitpot/splitpot/internal/storage"
)

const (
	defaultTickInterval = time.Minute
	defaultReminderLead = 72 * time.Hour

	// settleRetries bounds in-pass retries of a conflicted settlement.
	settleRetries = 3
)

// Scheduler owns the timer loop. One instance serves all groups; per-group
// work is delegated to the settlement service, whose claim and per-day
// guard keep overlapping passes harmless.
type Scheduler struct {
	store        storage.Store
	settlements  *service.SettlementService
	notifier     notify.Notifier
	clk          clock.Clock
	tickInterval time.Duration
	reminderLead time.Duration

	// reminded maps group ID to the fire date already announced, so each
	// upcoming settlement produces exactly one reminder.
	reminded map[string]time.Time
}

// New creates a Scheduler. Non-positive intervals fall back to one-minute
// ticks and a three-day reminder lead.
func New(store storage.Store, settlements *service.SettlementService, notifier notify.Notifier, clk clock.Clock, tickInterval, reminderLead time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	if reminderLead <= 0 {
		reminderLead = defaultReminderLead
	}
	return &Scheduler{
		store:        store,
		settlements:  settlements,
		notifier:     notifier,
		clk:          clk,
		tickInterval: tickInterval,
		reminderLead: reminderLead,
		reminded:     make(map[string]time.Time),
	}
}

// Run executes passes until the context is cancelled, one immediately and
// then one per tick.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "tick_interval", s.tickInterval, "reminder_lead", s.reminderLead)
	ticker := s.clk.Ticker(s.tickInterval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass: expiries first, then due settlements,
// then reminders. Failures are logged per group and never abort the pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.clk.Now().UTC()

	s.expireGroups(ctx, now)
	s.settleDueGroups(ctx, now)
	s.remindUpcoming(ctx, now)

	metrics.SchedulerPasses.Inc()
}

func (s *Scheduler) expireGroups(ctx context.Context, now time.Time) {
	groups, err := s.store.ListExpiredGroups(ctx, now)
	if err != nil {
		slog.Error("failed to list expired groups", "error", err)
		return
	}
	for _, group := range groups {
		if _, err := s.settlements.ExpireGroup(ctx, group.ID); err != nil {
			slog.Error("failed to expire group", "group_id", group.ID, "error", err)
			continue
		}
		slog.Info("group expired", "group_id", group.ID, "expired_at", group.ExpiresAt)
	}
}

func (s *Scheduler) settleDueGroups(ctx context.Context, now time.Time) {
	groups, err := s.store.ListDueGroups(ctx, now)
	if err != nil {
		slog.Error("failed to list due groups", "error", err)
		return
	}
	for _, group := range groups {
		if err := s.settleWithRetry(ctx, group.ID); err != nil {
			slog.Error("scheduled settlement failed", "group_id", group.ID, "error", err)
		}
	}
}

// settleWithRetry retries transient concurrency conflicts with exponential
// backoff inside the pass; any other failure aborts immediately and waits
// for the next tick.
func (s *Scheduler) settleWithRetry(ctx context.Context, groupID string) error {
	op := func() error {
		_, err := s.settlements.TryAutoSettle(ctx, groupID)
		if err == nil || errors.Is(err, models.ErrConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, settleRetries), ctx))
}

func (s *Scheduler) remindUpcoming(ctx context.Context, now time.Time) {
	groups, err := s.store.ListGroupsDueBetween(ctx, now, now.Add(s.reminderLead))
	if err != nil {
		slog.Error("failed to list upcoming settlements", "error", err)
		return
	}
	for _, group := range groups {
		if group.NextSettlementAt == nil {
			continue
		}
		due := group.NextSettlementAt.UTC()
		if prev, ok := s.reminded[group.ID]; ok && prev.Equal(due) {
			continue
		}
		if err := s.notifier.Publish(ctx, notify.SettlementDue(group.ID, due)); err != nil {
			slog.Warn("failed to publish settlement reminder", "group_id", group.ID, "error", err)
			continue
		}
		s.reminded[group.ID] = due
		slog.Info("settlement reminder sent", "group_id", group.ID, "due_at", due)
	}

	// Forget fire dates that have passed so the map stays bounded.
	for id, due := range s.reminded {
		if due.Before(now) {
			delete(s.reminded, id)
		}
	}
}
