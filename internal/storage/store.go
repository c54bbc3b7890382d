// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/models"
)

var (
	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPeriodClosed rejects writes against a period that has already
	// settled.
	ErrPeriodClosed = errors.New("period is closed")

	// ErrStaleState means a guarded update found the row in a different
	// state than expected, usually because a concurrent actor got there
	// first.
	ErrStaleState = errors.New("state changed concurrently")
)

// PeriodSnapshot is a consistent read of everything a settlement run needs:
// the group, the period, its expenses with shares, and the group's
// participants. All rows come from a single read transaction.
type PeriodSnapshot struct {
	Group        *models.Group
	Period       *models.SettlementPeriod
	Participants []*models.Participant
	Expenses     []*models.Expense
	Shares       map[int64][]models.ExpenseShare
}

// SettlementCommit is the atomic write that ends a settlement run. Either
// everything lands or nothing does: the period flips SETTLING -> CLOSED, the
// transfer plan is inserted, group scheduling fields are updated, an
// optional successor period opens, and the audit entry is appended.
type SettlementCommit struct {
	Period    *models.SettlementPeriod
	Group     *models.Group
	Transfers []*models.Transfer
	NewPeriod *models.SettlementPeriod
	Audit     *models.AuditEntry
}

// Store defines the persistence interface of the settlement engine.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL,
// etc.) without changing the service layer.
type Store interface {
	// CreateGroup persists a new group together with its first open period
	// and its creating participant in one transaction.
	CreateGroup(ctx context.Context, group *models.Group, firstPeriod *models.SettlementPeriod, creator *models.Participant) error

	// GetGroup retrieves a group by ID.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// UpdateGroup updates a group's mutable fields.
	UpdateGroup(ctx context.Context, group *models.Group) error

	// ReopenGroup reactivates a closed group and opens a fresh period in
	// one transaction. A group that is not closed yields ErrStaleState.
	ReopenGroup(ctx context.Context, group *models.Group, period *models.SettlementPeriod) error

	// ListDueGroups returns active recurring groups whose next settlement
	// date is at or before now.
	ListDueGroups(ctx context.Context, now time.Time) ([]*models.Group, error)

	// ListExpiredGroups returns active groups whose expiry is at or before
	// now.
	ListExpiredGroups(ctx context.Context, now time.Time) ([]*models.Group, error)

	// ListGroupsDueBetween returns active recurring groups whose next
	// settlement date falls in (from, to]. Used for reminder sweeps.
	ListGroupsDueBetween(ctx context.Context, from, to time.Time) ([]*models.Group, error)

	// AddParticipant persists a new participant.
	AddParticipant(ctx context.Context, p *models.Participant) error

	// GetParticipant retrieves a participant by ID.
	GetParticipant(ctx context.Context, participantID string) (*models.Participant, error)

	// ListParticipants returns a group's participants, exited ones
	// included, in join order.
	ListParticipants(ctx context.Context, groupID string) ([]*models.Participant, error)

	// UpdateParticipant updates a participant's mutable fields (role,
	// color, exit timestamp).
	UpdateParticipant(ctx context.Context, p *models.Participant) error

	// GetPeriod retrieves a period by ID.
	GetPeriod(ctx context.Context, periodID string) (*models.SettlementPeriod, error)

	// GetOpenPeriod returns the group's one non-closed period.
	GetOpenPeriod(ctx context.Context, groupID string) (*models.SettlementPeriod, error)

	// ListPeriods returns all of a group's periods, newest first.
	ListPeriods(ctx context.Context, groupID string) ([]*models.SettlementPeriod, error)

	// ClaimPeriodSettling flips a period OPEN -> SETTLING in one guarded
	// statement. A period already claimed yields models.ErrAlreadySettling,
	// a closed one ErrPeriodClosed.
	ClaimPeriodSettling(ctx context.Context, periodID string) error

	// ReleasePeriodSettling flips a period SETTLING -> OPEN after a failed
	// settlement run, restoring the prior state.
	ReleasePeriodSettling(ctx context.Context, periodID string) error

	// ReleaseStuckSettlements reverts every period left SETTLING by a
	// crashed run back to OPEN. Returns how many were released.
	ReleaseStuckSettlements(ctx context.Context) (int, error)

	// CreateExpense persists an expense and its shares in one transaction.
	// The owning period must be open.
	CreateExpense(ctx context.Context, e *models.Expense, shares []models.ExpenseShare) error

	// GetExpense retrieves an expense and its shares.
	GetExpense(ctx context.Context, expenseID int64) (*models.Expense, []models.ExpenseShare, error)

	// UpdateExpense rewrites an expense and replaces its shares in one
	// transaction. The owning period must be open.
	UpdateExpense(ctx context.Context, e *models.Expense, shares []models.ExpenseShare) error

	// DeleteExpense removes an expense and its shares. The owning period
	// must be open.
	DeleteExpense(ctx context.Context, expenseID int64) error

	// PeriodSnapshot reads the full settlement input for a period in a
	// single transaction.
	PeriodSnapshot(ctx context.Context, periodID string) (*PeriodSnapshot, error)

	// CommitSettlement applies the atomic settlement write. The period must
	// still be SETTLING; otherwise ErrStaleState.
	CommitSettlement(ctx context.Context, commit *SettlementCommit) error

	// GetTransfer retrieves a transfer by ID.
	GetTransfer(ctx context.Context, transferID int64) (*models.Transfer, error)

	// ListTransfers returns a period's transfers in creation order.
	ListTransfers(ctx context.Context, periodID string) ([]*models.Transfer, error)

	// SetTransferPaid updates a transfer's payment confirmation. Monetary
	// fields never change.
	SetTransferPaid(ctx context.Context, transferID int64, paidAt *time.Time, confirmedBy string) error

	// GetRate returns the cached rate for a currency pair on a UTC day.
	GetRate(ctx context.Context, from, to, day string) (decimal.Decimal, bool, error)

	// LatestRateBefore returns the most recent cached rate strictly before
	// the given day.
	LatestRateBefore(ctx context.Context, from, to, day string) (decimal.Decimal, bool, error)

	// PutRates caches a fetched rate table for a base currency under a day.
	PutRates(ctx context.Context, from, day string, rates map[string]decimal.Decimal) error

	// AppendAudit appends an audit entry.
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error

	// ListAudit returns a group's newest audit entries, up to limit.
	ListAudit(ctx context.Context, groupID string, limit int) ([]*models.AuditEntry, error)

	// Close releases any resources held by the store.
	Close() error
}
