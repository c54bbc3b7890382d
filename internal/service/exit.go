package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/notify"
	"github.com/splitpot/splitpot/internal/storage"
)

// CanExit reports whether the participant may leave the group right now.
// A nil return means all exit conditions hold; otherwise the error is an
// ExitIneligibleError (or ErrGroupClosed for an inactive group).
func (s *GroupService) CanExit(ctx context.Context, groupID, participantID string) error {
	group, participants, p, balance, err := s.exitState(ctx, groupID, participantID)
	if err != nil {
		return err
	}
	return checkExit(group, participants, p, balance, s.clk.Now().UTC())
}

// ExitParticipant marks a participant as exited. Eligibility is re-checked
// under the group token so a concurrent expense or settlement cannot slip
// between check and write. Historical rows are never touched.
func (s *GroupService) ExitParticipant(ctx context.Context, groupID, participantID string) error {
	lockCtx, cancel := context.WithTimeout(ctx, defaultLockWait)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, groupID)
	if err != nil {
		return err
	}
	defer release()

	group, participants, p, balance, err := s.exitState(ctx, groupID, participantID)
	if err != nil {
		return err
	}
	now := s.clk.Now().UTC()
	if err := checkExit(group, participants, p, balance, now); err != nil {
		return err
	}

	p.ExitedAt = &now
	if err := s.store.UpdateParticipant(ctx, p); err != nil {
		slog.Error("failed to mark participant exited",
			"group_id", groupID, "participant_id", participantID, "error", err)
		return fmt.Errorf("failed to mark participant exited: %w", err)
	}

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: groupID,
		ActorID: participantID,
		Action:  models.AuditParticipantExited,
		Detail:  p.DisplayName,
	})
	publishEvent(ctx, s.notifier, notify.ParticipantExited(groupID, participantID))

	slog.Info("participant exited", "group_id", groupID, "participant_id", participantID)
	return nil
}

// exitState loads everything the exit guard inspects.
func (s *GroupService) exitState(ctx context.Context, groupID, participantID string) (*models.Group, []*models.Participant, *models.Participant, decimal.Decimal, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, nil, nil, decimal.Zero, err
	}
	participants, err := s.store.ListParticipants(ctx, groupID)
	if err != nil {
		return nil, nil, nil, decimal.Zero, fmt.Errorf("failed to list participants: %w", err)
	}
	var p *models.Participant
	for _, candidate := range participants {
		if candidate.ID == participantID {
			p = candidate
			break
		}
	}
	if p == nil {
		return nil, nil, nil, decimal.Zero, fmt.Errorf("participant %s not in group %s: %w", participantID, groupID, storage.ErrNotFound)
	}

	balances, err := s.currentBalances(ctx, groupID)
	if err != nil {
		return nil, nil, nil, decimal.Zero, err
	}
	return group, participants, p, balances[participantID], nil
}

// currentBalances computes the open period's net positions. A group without
// an open period has nothing outstanding.
func (s *GroupService) currentBalances(ctx context.Context, groupID string) (map[string]decimal.Decimal, error) {
	period, err := s.store.GetOpenPeriod(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]decimal.Decimal{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open period: %w", err)
	}
	snap, err := s.store.PeriodSnapshot(ctx, period.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot period: %w", err)
	}
	return snapshotBalances(snap)
}

// checkExit applies the exit conditions in order: not already exited, group
// still active, balance settled, not the last participant, not the sole
// remaining admin.
func checkExit(group *models.Group, participants []*models.Participant, p *models.Participant, balance decimal.Decimal, now time.Time) error {
	if !p.IsActive() {
		return &models.ExitIneligibleError{ParticipantID: p.ID, Reason: models.ExitReasonAlreadyExited}
	}
	if !group.IsActive() || group.IsExpired(now) {
		return fmt.Errorf("group %s: %w", group.ID, models.ErrGroupClosed)
	}
	if !models.IsZeroAmount(balance) {
		return &models.ExitIneligibleError{ParticipantID: p.ID, Reason: models.ExitReasonNonZeroBalance}
	}

	active := 0
	for _, other := range participants {
		if other.IsActive() {
			active++
		}
	}
	if active <= 1 {
		return &models.ExitIneligibleError{ParticipantID: p.ID, Reason: models.ExitReasonLastMember}
	}
	if p.IsAdmin() && countActiveAdmins(participants, p.ID) == 0 {
		return &models.ExitIneligibleError{ParticipantID: p.ID, Reason: models.ExitReasonLastAdmin}
	}
	return nil
}
