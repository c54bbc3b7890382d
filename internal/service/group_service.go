package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/notify"
	"github.com/splitpot/splitpot/internal/storage"
)

// GroupService manages group and participant lifecycle: creation, joining,
// role changes, reopening, and the exit eligibility guard.
type GroupService struct {
	store           storage.Store
	locks           *GroupLocks
	notifier        notify.Notifier
	clk             clock.Clock
	defaultCurrency string
}

// NewGroupService creates a GroupService. defaultCurrency is used for groups
// created without an explicit base currency.
func NewGroupService(store storage.Store, locks *GroupLocks, notifier notify.Notifier, clk clock.Clock, defaultCurrency string) *GroupService {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &GroupService{
		store:           store,
		locks:           locks,
		notifier:        notifier,
		clk:             clk,
		defaultCurrency: strings.ToUpper(defaultCurrency),
	}
}

// CreateGroupInput carries everything needed to open a new group.
type CreateGroupInput struct {
	Name         string
	Description  string
	BaseCurrency string
	Recurrence   models.RecurrencePolicy
	ExpiresAt    *time.Time
	CreatorName  string
	CreatorEmail string
}

// CreateGroup creates a group together with its first open period and its
// creating participant (admin, first palette color) in one transaction.
// Recurring groups get their first settlement date scheduled.
func (s *GroupService) CreateGroup(ctx context.Context, in CreateGroupInput) (*models.Group, *models.Participant, error) {
	now := s.clk.Now().UTC()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, models.NewValidationError("name", "required")
	}
	creatorName := strings.TrimSpace(in.CreatorName)
	if creatorName == "" {
		return nil, nil, models.NewValidationError("creator_name", "required")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.BaseCurrency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if !models.IsSupportedCurrency(currency) {
		return nil, nil, models.NewValidationError("base_currency", fmt.Sprintf("unsupported currency %q", in.BaseCurrency))
	}
	recurrence := in.Recurrence
	if recurrence == "" {
		recurrence = models.RecurrenceNone
	}
	if recurrence != models.RecurrenceNone && recurrence != models.RecurrenceMonthly {
		return nil, nil, models.NewValidationError("recurrence", fmt.Sprintf("unknown policy %q", in.Recurrence))
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, nil, models.NewValidationError("expires_at", "must be in the future")
	}

	group := &models.Group{
		Name:         name,
		Description:  strings.TrimSpace(in.Description),
		BaseCurrency: currency,
		Status:       models.GroupActive,
		Recurrence:   recurrence,
		ExpiresAt:    in.ExpiresAt,
		CreatedAt:    now,
	}
	if recurrence == models.RecurrenceMonthly {
		next := models.InitialSettlementDate(now)
		group.NextSettlementAt = &next
	}

	period := &models.SettlementPeriod{StartedAt: now, CreatedAt: now}
	creator := &models.Participant{
		DisplayName: creatorName,
		Email:       strings.TrimSpace(in.CreatorEmail),
		Color:       models.ParticipantColor(0),
		Role:        models.RoleAdmin,
		JoinedAt:    now,
	}

	if err := s.store.CreateGroup(ctx, group, period, creator); err != nil {
		slog.Error("failed to create group", "name", name, "error", err)
		return nil, nil, fmt.Errorf("failed to create group: %w", err)
	}

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: group.ID,
		ActorID: creator.ID,
		Action:  models.AuditGroupCreated,
		Detail:  fmt.Sprintf("currency=%s recurrence=%s", currency, recurrence),
	})

	slog.Info("group created",
		"group_id", group.ID,
		"base_currency", currency,
		"recurrence", string(recurrence),
	)
	return group, creator, nil
}

// GetGroup retrieves a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	return s.store.GetGroup(ctx, groupID)
}

// Participants returns a group's participants in join order, exited ones
// included.
func (s *GroupService) Participants(ctx context.Context, groupID string) ([]*models.Participant, error) {
	return s.store.ListParticipants(ctx, groupID)
}

// AddParticipantInput carries a new participant's details.
type AddParticipantInput struct {
	DisplayName string
	Email       string
}

// AddParticipant joins a participant to an active group with the next
// palette color.
func (s *GroupService) AddParticipant(ctx context.Context, groupID string, in AddParticipantInput) (*models.Participant, error) {
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return nil, models.NewValidationError("display_name", "required")
	}

	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsActive() {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrGroupClosed)
	}

	existing, err := s.store.ListParticipants(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	p := &models.Participant{
		GroupID:     groupID,
		DisplayName: name,
		Email:       strings.TrimSpace(in.Email),
		Color:       models.ParticipantColor(len(existing)),
		Role:        models.RoleMember,
		JoinedAt:    s.clk.Now().UTC(),
	}
	if err := s.store.AddParticipant(ctx, p); err != nil {
		slog.Error("failed to add participant", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: groupID,
		ActorID: p.ID,
		Action:  models.AuditParticipantJoined,
		Detail:  name,
	})

	slog.Info("participant joined", "group_id", groupID, "participant_id", p.ID)
	return p, nil
}

// PromoteToAdmin grants a participant the admin role.
func (s *GroupService) PromoteToAdmin(ctx context.Context, groupID, participantID, actorID string) error {
	p, err := s.activeParticipant(ctx, groupID, participantID)
	if err != nil {
		return err
	}
	if p.IsAdmin() {
		return nil
	}

	p.Role = models.RoleAdmin
	if err := s.store.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: groupID,
		ActorID: actorID,
		Action:  models.AuditRoleChanged,
		Detail:  fmt.Sprintf("%s promoted to admin", participantID),
	})
	slog.Info("participant promoted", "group_id", groupID, "participant_id", participantID)
	return nil
}

// DemoteToMember removes a participant's admin role. The last active admin
// cannot be demoted.
func (s *GroupService) DemoteToMember(ctx context.Context, groupID, participantID, actorID string) error {
	p, err := s.activeParticipant(ctx, groupID, participantID)
	if err != nil {
		return err
	}
	if !p.IsAdmin() {
		return nil
	}

	participants, err := s.store.ListParticipants(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}
	if countActiveAdmins(participants, participantID) == 0 {
		return models.NewValidationError("role", "at least one active admin required")
	}

	p.Role = models.RoleMember
	if err := s.store.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: groupID,
		ActorID: actorID,
		Action:  models.AuditRoleChanged,
		Detail:  fmt.Sprintf("%s demoted to member", participantID),
	})
	slog.Info("participant demoted", "group_id", groupID, "participant_id", participantID)
	return nil
}

// ReopenGroup reactivates a closed, non-expired group and opens a fresh
// period so that expenses can be recorded again.
func (s *GroupService) ReopenGroup(ctx context.Context, groupID, actorID string) (*models.Group, error) {
	now := s.clk.Now().UTC()

	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.IsActive() {
		return nil, models.NewValidationError("group", "already active")
	}
	if group.IsExpired(now) {
		return nil, models.NewValidationError("group", "expired")
	}

	if group.Recurrence == models.RecurrenceMonthly {
		next := models.InitialSettlementDate(now)
		group.NextSettlementAt = &next
	} else {
		group.NextSettlementAt = nil
	}

	period := &models.SettlementPeriod{GroupID: groupID, StartedAt: now, CreatedAt: now}
	if err := s.store.ReopenGroup(ctx, group, period); err != nil {
		slog.Error("failed to reopen group", "group_id", groupID, "error", err)
		return nil, err
	}

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: groupID,
		ActorID: actorID,
		Action:  models.AuditGroupReopened,
	})
	slog.Info("group reopened", "group_id", groupID, "period_id", period.ID)
	return group, nil
}

// activeParticipant loads a participant and checks that they belong to the
// given active group and have not exited.
func (s *GroupService) activeParticipant(ctx context.Context, groupID, participantID string) (*models.Participant, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsActive() {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrGroupClosed)
	}

	p, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p.GroupID != groupID {
		return nil, fmt.Errorf("participant %s not in group %s: %w", participantID, groupID, storage.ErrNotFound)
	}
	if !p.IsActive() {
		return nil, models.NewValidationError("participant", "already exited")
	}
	return p, nil
}

// countActiveAdmins counts active admins other than excludeID.
func countActiveAdmins(participants []*models.Participant, excludeID string) int {
	n := 0
	for _, p := range participants {
		if p.ID != excludeID && p.IsActive() && p.IsAdmin() {
			n++
		}
	}
	return n
}

// recordAudit appends an audit entry. Audit failures are logged, never
// propagated: the underlying operation has already landed.
func recordAudit(ctx context.Context, store storage.Store, entry *models.AuditEntry) {
	if err := store.AppendAudit(ctx, entry); err != nil {
		slog.Warn("failed to append audit entry",
			"group_id", entry.GroupID,
			"action", entry.Action,
			"error", err,
		)
	}
}

// publishEvent delivers a domain event, logging instead of failing when the
// notifier rejects it.
func publishEvent(ctx context.Context, n notify.Notifier, event notify.Event) {
	if n == nil {
		return
	}
	if err := n.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish event",
			"kind", string(event.Kind),
			"group_id", event.GroupID,
			"error", err,
		)
	}
}
