package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/splitpot/splitpot/internal/currency"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/notify"
	"github.com/splitpot/splitpot/internal/storage/sqlite"
)

// testStart is the mock clock's initial instant for all service tests.
var testStart = time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store       *sqlite.SQLiteStore
	locks       *GroupLocks
	events      *notify.MemoryNotifier
	clk         *clock.Mock
	groups      *GroupService
	expenses    *ExpenseService
	settlements *SettlementService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "splitpot-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clk := clock.NewMock()
	clk.Set(testStart)
	locks := NewGroupLocks()
	events := notify.NewMemoryNotifier()

	provider := currency.NewStaticProvider(map[string]map[string]decimal.Decimal{
		"USD": {"EUR": d("0.90"), "JPY": d("147.0")},
		"EUR": {"USD": d("1.11"), "JPY": d("163.0")},
	})
	normalizer := currency.NewNormalizer(store, provider, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &testEnv{
		store:       store,
		locks:       locks,
		events:      events,
		clk:         clk,
		groups:      NewGroupService(store, locks, events, clk, "USD"),
		expenses:    NewExpenseService(store, normalizer, events, clk),
		settlements: NewSettlementService(store, locks, events, clk),
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// createTestGroup creates an EUR group with the given recurrence and returns
// it with its creating admin.
func createTestGroup(t *testing.T, env *testEnv, name string, recurrence models.RecurrencePolicy) (*models.Group, *models.Participant) {
	t.Helper()
	group, creator, err := env.groups.CreateGroup(context.Background(), CreateGroupInput{
		Name:         name,
		BaseCurrency: "EUR",
		Recurrence:   recurrence,
		CreatorName:  "Ada",
	})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	return group, creator
}

func addMember(t *testing.T, env *testEnv, groupID, name string) *models.Participant {
	t.Helper()
	p, err := env.groups.AddParticipant(context.Background(), groupID, AddParticipantInput{DisplayName: name})
	if err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	return p
}

// recordEqualExpense records an equal-split expense in the group's base
// currency.
func recordEqualExpense(t *testing.T, env *testEnv, groupID, payerID, amount string, participantIDs ...string) *models.Expense {
	t.Helper()
	expense, _, err := env.expenses.RecordExpense(context.Background(), ExpenseInput{
		GroupID:      groupID,
		PaidBy:       payerID,
		Title:        "Shared expense",
		Amount:       d(amount),
		SplitMethod:  models.SplitEqual,
		Participants: participantIDs,
	})
	if err != nil {
		t.Fatalf("RecordExpense failed: %v", err)
	}
	return expense
}
