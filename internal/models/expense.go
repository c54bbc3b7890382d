package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitMethod names how an expense amount is divided among participants.
type SplitMethod string

const (
	// SplitEqual divides the amount evenly, pushing leftover minor units
	// onto the later shares.
	SplitEqual SplitMethod = "equal"
	// SplitExact takes caller-provided amounts that must sum to the total.
	SplitExact SplitMethod = "exact"
	// SplitPercentage takes caller-provided percentages that must sum to 100.
	SplitPercentage SplitMethod = "percentage"
)

// ValidSplitMethod reports whether m is a recognized split method.
func ValidSplitMethod(m SplitMethod) bool {
	switch m {
	case SplitEqual, SplitExact, SplitPercentage:
		return true
	}
	return false
}

// Expense categories. Free-form categories are not accepted; unknown input
// falls back to CategoryOther.
const (
	CategoryGeneral       = "general"
	CategoryFood          = "food"
	CategoryTransport     = "transport"
	CategoryAccommodation = "accommodation"
	CategoryEntertainment = "entertainment"
	CategoryShopping      = "shopping"
	CategoryUtilities     = "utilities"
	CategoryOther         = "other"
)

var expenseCategories = map[string]struct{}{
	CategoryGeneral:       {},
	CategoryFood:          {},
	CategoryTransport:     {},
	CategoryAccommodation: {},
	CategoryEntertainment: {},
	CategoryShopping:      {},
	CategoryUtilities:     {},
	CategoryOther:         {},
}

// NormalizeCategory maps unknown category names to CategoryOther and an
// empty name to CategoryGeneral.
func NormalizeCategory(category string) string {
	if category == "" {
		return CategoryGeneral
	}
	if _, ok := expenseCategories[category]; ok {
		return category
	}
	return CategoryOther
}

// Expense is a single cost paid by one participant on behalf of several.
// Amount and Currency record what was actually paid; BaseAmount is the
// amount converted into the group's base currency as of the expense date,
// fixed at record time.
type Expense struct {
	ID           int64
	GroupID      string
	PeriodID     string
	PaidBy       string
	Title        string
	Description  string
	Category     string
	Amount       decimal.Decimal
	Currency     string
	BaseAmount   decimal.Decimal
	ExchangeRate decimal.Decimal
	SplitMethod  SplitMethod
	SpentAt      time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExpenseShare is one participant's slice of an expense, denominated in the
// group's base currency. Shares for an expense always sum to its BaseAmount.
type ExpenseShare struct {
	ExpenseID     int64
	ParticipantID string
	Amount        decimal.Decimal
}
