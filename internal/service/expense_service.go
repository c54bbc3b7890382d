package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/calculator"
	"github.com/splitpot/splitpot/internal/currency"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/notify"
	"github.com/splitpot/splitpot/internal/storage"
)

// ExpenseService records and maintains expenses. Every write lands fully
// normalized into the group's base currency with its shares computed, so
// settlement never needs to touch the rate provider.
type ExpenseService struct {
	store      storage.Store
	normalizer *currency.Normalizer
	notifier   notify.Notifier
	clk        clock.Clock
}

// NewExpenseService creates an ExpenseService with the given collaborators.
func NewExpenseService(store storage.Store, normalizer *currency.Normalizer, notifier notify.Notifier, clk clock.Clock) *ExpenseService {
	return &ExpenseService{store: store, normalizer: normalizer, notifier: notifier, clk: clk}
}

// ExpenseInput carries a new or updated expense. Participants selects who
// shares an equal split (empty means all active participants);
// ExactAmounts and Percentages parameterize the other split methods and are
// given in the expense's entered currency.
type ExpenseInput struct {
	GroupID      string
	PaidBy       string
	Title        string
	Description  string
	Category     string
	Amount       decimal.Decimal
	Currency     string
	SpentAt      time.Time
	SplitMethod  models.SplitMethod
	Participants []string
	ExactAmounts map[string]decimal.Decimal
	Percentages  map[string]decimal.Decimal
}

// RecordExpense validates, normalizes and persists an expense with its
// shares. The write is rejected while the owning period is being settled.
func (s *ExpenseService) RecordExpense(ctx context.Context, in ExpenseInput) (*models.Expense, []models.ExpenseShare, error) {
	group, participants, err := s.expenseContext(ctx, in.GroupID)
	if err != nil {
		return nil, nil, err
	}
	expense, shares, err := s.buildExpense(ctx, group, participants, in)
	if err != nil {
		return nil, nil, err
	}

	period, err := s.store.GetOpenPeriod(ctx, in.GroupID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get open period: %w", err)
	}
	expense.PeriodID = period.ID

	if err := s.store.CreateExpense(ctx, expense, shares); err != nil {
		slog.Error("failed to record expense", "group_id", in.GroupID, "error", err)
		return nil, nil, err
	}

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: in.GroupID,
		ActorID: in.PaidBy,
		Action:  models.AuditExpenseAdded,
		Detail:  fmt.Sprintf("%s %s %s", expense.Title, expense.Amount, expense.Currency),
	})
	publishEvent(ctx, s.notifier, notify.BalanceChanged(in.GroupID, period.ID, expense.ID))

	slog.Info("expense recorded",
		"group_id", in.GroupID,
		"expense_id", expense.ID,
		"base_amount", expense.BaseAmount.String(),
		"split_method", string(expense.SplitMethod),
	)
	return expense, shares, nil
}

// UpdateExpense rewrites an expense and replaces its shares. Allowed only
// while the owning period is open.
func (s *ExpenseService) UpdateExpense(ctx context.Context, expenseID int64, in ExpenseInput) (*models.Expense, []models.ExpenseShare, error) {
	existing, _, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, nil, err
	}
	if in.GroupID == "" {
		in.GroupID = existing.GroupID
	}
	if in.GroupID != existing.GroupID {
		return nil, nil, fmt.Errorf("expense %d not in group %s: %w", expenseID, in.GroupID, storage.ErrNotFound)
	}

	group, participants, err := s.expenseContext(ctx, in.GroupID)
	if err != nil {
		return nil, nil, err
	}
	expense, shares, err := s.buildExpense(ctx, group, participants, in)
	if err != nil {
		return nil, nil, err
	}
	expense.ID = existing.ID
	expense.PeriodID = existing.PeriodID
	expense.CreatedAt = existing.CreatedAt
	expense.UpdatedAt = s.clk.Now().UTC()

	if err := s.store.UpdateExpense(ctx, expense, shares); err != nil {
		slog.Error("failed to update expense", "expense_id", expenseID, "error", err)
		return nil, nil, err
	}

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: in.GroupID,
		ActorID: in.PaidBy,
		Action:  models.AuditExpenseUpdated,
		Detail:  fmt.Sprintf("%s %s %s", expense.Title, expense.Amount, expense.Currency),
	})
	publishEvent(ctx, s.notifier, notify.BalanceChanged(in.GroupID, expense.PeriodID, expense.ID))

	slog.Info("expense updated", "group_id", in.GroupID, "expense_id", expense.ID)
	return expense, shares, nil
}

// DeleteExpense removes an expense. Allowed only while the owning period is
// open.
func (s *ExpenseService) DeleteExpense(ctx context.Context, expenseID int64, actorID string) error {
	expense, _, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteExpense(ctx, expenseID); err != nil {
		slog.Error("failed to delete expense", "expense_id", expenseID, "error", err)
		return err
	}

	recordAudit(ctx, s.store, &models.AuditEntry{
		GroupID: expense.GroupID,
		ActorID: actorID,
		Action:  models.AuditExpenseDeleted,
		Detail:  expense.Title,
	})
	publishEvent(ctx, s.notifier, notify.BalanceChanged(expense.GroupID, expense.PeriodID, expense.ID))

	slog.Info("expense deleted", "group_id", expense.GroupID, "expense_id", expenseID)
	return nil
}

// GetBalances returns the open period's net position per participant.
// Active participants with no expense activity appear with a zero balance.
func (s *ExpenseService) GetBalances(ctx context.Context, groupID string) (map[string]decimal.Decimal, error) {
	period, err := s.store.GetOpenPeriod(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get open period: %w", err)
	}
	snap, err := s.store.PeriodSnapshot(ctx, period.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot period: %w", err)
	}
	balances, err := snapshotBalances(snap)
	if err != nil {
		return nil, err
	}
	for _, p := range snap.Participants {
		if !p.IsActive() {
			continue
		}
		if _, ok := balances[p.ID]; !ok {
			balances[p.ID] = decimal.Zero
		}
	}
	return balances, nil
}

// expenseContext loads the active group and its participants.
func (s *ExpenseService) expenseContext(ctx context.Context, groupID string) (*models.Group, []*models.Participant, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	if !group.IsActive() {
		return nil, nil, fmt.Errorf("group %s: %w", groupID, models.ErrGroupClosed)
	}
	participants, err := s.store.ListParticipants(ctx, groupID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return group, participants, nil
}

// buildExpense validates the input, normalizes the amount into the group's
// base currency, and computes the shares.
func (s *ExpenseService) buildExpense(ctx context.Context, group *models.Group, participants []*models.Participant, in ExpenseInput) (*models.Expense, []models.ExpenseShare, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, nil, models.NewValidationError("title", "required")
	}
	if !in.Amount.IsPositive() {
		return nil, nil, models.NewValidationError("amount", "must be positive")
	}
	curr := strings.ToUpper(strings.TrimSpace(in.Currency))
	if curr == "" {
		curr = group.BaseCurrency
	}
	if !models.IsSupportedCurrency(curr) {
		return nil, nil, models.NewValidationError("currency", fmt.Sprintf("unsupported currency %q", in.Currency))
	}
	if !models.ValidSplitMethod(in.SplitMethod) {
		return nil, nil, models.NewValidationError("split_method", fmt.Sprintf("unknown method %q", in.SplitMethod))
	}

	active := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.IsActive() {
			active[p.ID] = true
		}
	}
	if !active[in.PaidBy] {
		return nil, nil, models.NewValidationError("paid_by", "payer is not an active participant")
	}

	spentAt := in.SpentAt
	if spentAt.IsZero() {
		spentAt = s.clk.Now()
	}
	spentAt = spentAt.UTC()

	baseAmount, rate, err := s.normalizer.Normalize(ctx, in.Amount, curr, group.BaseCurrency, spentAt)
	if err != nil {
		return nil, nil, err
	}

	shares, err := s.computeShares(group.BaseCurrency, baseAmount, rate, active, in)
	if err != nil {
		return nil, nil, err
	}
	if err := verifyShareSum(baseAmount, shares); err != nil {
		return nil, nil, err
	}

	expense := &models.Expense{
		GroupID:      group.ID,
		PaidBy:       in.PaidBy,
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		Category:     models.NormalizeCategory(strings.TrimSpace(in.Category)),
		Amount:       in.Amount,
		Currency:     curr,
		BaseAmount:   baseAmount,
		ExchangeRate: rate,
		SplitMethod:  in.SplitMethod,
		SpentAt:      spentAt,
	}
	return expense, toExpenseShares(shares), nil
}

// computeShares dispatches on the split method. Exact amounts arrive in the
// entered currency and are converted with the expense's own rate before
// validation against the normalized total.
func (s *ExpenseService) computeShares(baseCurrency string, baseAmount, rate decimal.Decimal, active map[string]bool, in ExpenseInput) ([]calculator.Share, error) {
	switch in.SplitMethod {
	case models.SplitEqual:
		ids := in.Participants
		if len(ids) == 0 {
			ids = make([]string, 0, len(active))
			for id := range active {
				ids = append(ids, id)
			}
		}
		for _, id := range ids {
			if !active[id] {
				return nil, models.NewValidationError("participants", fmt.Sprintf("%s is not an active participant", id))
			}
		}
		return calculator.SplitEqual(baseAmount, baseCurrency, ids)

	case models.SplitExact:
		converted, err := convertSplitParams(in.ExactAmounts, rate, baseCurrency, active, "exact_amounts")
		if err != nil {
			return nil, err
		}
		return calculator.SplitExact(baseAmount, baseCurrency, converted)

	case models.SplitPercentage:
		if len(in.Percentages) == 0 {
			return nil, models.NewValidationError("percentages", "required for percentage split")
		}
		for id := range in.Percentages {
			if !active[id] {
				return nil, models.NewValidationError("percentages", fmt.Sprintf("%s is not an active participant", id))
			}
		}
		return calculator.SplitPercentage(baseAmount, baseCurrency, in.Percentages)

	default:
		return nil, models.NewValidationError("split_method", fmt.Sprintf("unknown method %q", in.SplitMethod))
	}
}

// convertSplitParams converts caller-entered amounts into the base currency
// with the expense's rate, rounding each to minor units.
func convertSplitParams(amounts map[string]decimal.Decimal, rate decimal.Decimal, baseCurrency string, active map[string]bool, field string) (map[string]decimal.Decimal, error) {
	if len(amounts) == 0 {
		return nil, models.NewValidationError(field, "required for exact split")
	}
	converted := make(map[string]decimal.Decimal, len(amounts))
	for id, amount := range amounts {
		if !active[id] {
			return nil, models.NewValidationError(field, fmt.Sprintf("%s is not an active participant", id))
		}
		converted[id] = models.RoundToMinor(amount.Mul(rate), baseCurrency)
	}
	return converted, nil
}

// verifyShareSum re-checks the strategy invariant before anything is
// persisted.
func verifyShareSum(baseAmount decimal.Decimal, shares []calculator.Share) error {
	sum := decimal.Zero
	for _, share := range shares {
		sum = sum.Add(share.Amount)
	}
	if !sum.Equal(baseAmount) {
		return fmt.Errorf("shares sum to %s, expense is %s: %w", sum, baseAmount, models.ErrInvariantViolation)
	}
	return nil
}

// toExpenseShares converts calculator shares to storage rows.
func toExpenseShares(shares []calculator.Share) []models.ExpenseShare {
	out := make([]models.ExpenseShare, len(shares))
	for i, share := range shares {
		out[i] = models.ExpenseShare{ParticipantID: share.ParticipantID, Amount: share.Amount}
	}
	return out
}

// snapshotBalances runs the balance calculator over a period snapshot.
func snapshotBalances(snap *storage.PeriodSnapshot) (map[string]decimal.Decimal, error) {
	input := make([]calculator.ExpenseForBalance, len(snap.Expenses))
	for i, e := range snap.Expenses {
		shares := make([]calculator.Share, len(snap.Shares[e.ID]))
		for j, share := range snap.Shares[e.ID] {
			shares[j] = calculator.Share{ParticipantID: share.ParticipantID, Amount: share.Amount}
		}
		input[i] = calculator.ExpenseForBalance{
			ID:     e.ID,
			PaidBy: e.PaidBy,
			Amount: e.BaseAmount,
			Shares: shares,
		}
	}
	return calculator.ComputeBalances(input)
}
