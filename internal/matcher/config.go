// Package matcher pairs decoded statement movements with unreconciled
// ledger entries.
//
// Matching is a single greedy pass over the movements in statement order.
// For each movement the candidate pool is searched for entries that:
//   - have the ledger kind derived from the movement direction
//   - differ from the movement's absolute amount by at most AmountEpsilon
//   - are dated within DateToleranceDays calendar days, inclusive
//
// One eligible candidate is chosen according to TieBreak and removed from
// the pool, so no entry is ever paired twice.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.TieBreak = matcher.TieBreakPoolOrder
//
//	m := matcher.NewAutoMatcher(config)
//	outcome := m.Match(importID, movements, pool)
package matcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"statement-reconciler/internal/models"
)

// DefaultAmountEpsilon absorbs rounding noise between the statement and the
// ledger. It is not a business tolerance.
var DefaultAmountEpsilon = decimal.RequireFromString("0.005")

// DefaultDateToleranceDays is the calendar-day window searched on each side of a movement
const DefaultDateToleranceDays = 5

// TieBreak selects one candidate when several are eligible for a movement
type TieBreak string

const (
	// TieBreakClosestDate prefers the smallest day delta, then the smallest
	// amount difference, then the earliest pool position.
	TieBreakClosestDate TieBreak = "closest-date"

	// TieBreakPoolOrder takes the first eligible entry in pool order.
	TieBreakPoolOrder TieBreak = "pool-order"
)

// ParseTieBreak parses a tie-break name
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(s))) {
	case TieBreakClosestDate, "":
		return TieBreakClosestDate, nil
	case TieBreakPoolOrder:
		return TieBreakPoolOrder, nil
	default:
		return "", fmt.Errorf("invalid tie break '%s': must be %s or %s", s, TieBreakClosestDate, TieBreakPoolOrder)
	}
}

// MatchType describes how closely a paired entry fits its movement
type MatchType int

const (
	// MatchExact is the same amount on the same calendar day
	MatchExact MatchType = iota

	// MatchClose is a pairing inside the tolerances but not exact
	MatchClose

	// MatchNone means the movement was left unreconciled
	MatchNone
)

// String returns the string representation of MatchType
func (mt MatchType) String() string {
	switch mt {
	case MatchExact:
		return "Exact"
	case MatchClose:
		return "Close"
	case MatchNone:
		return "None"
	default:
		return "Unknown"
	}
}

// MatchingConfig holds the tolerances of the auto-matcher
type MatchingConfig struct {
	// DateToleranceDays is the inclusive calendar-day window on each side of the movement date
	DateToleranceDays int `json:"date_tolerance_days" mapstructure:"date_tolerance_days"`

	// AmountEpsilon is the largest absolute amount difference still treated as equal
	AmountEpsilon decimal.Decimal `json:"amount_epsilon" mapstructure:"amount_epsilon"`

	// TieBreak chooses among several eligible candidates
	TieBreak TieBreak `json:"tie_break" mapstructure:"tie_break"`
}

// DefaultMatchingConfig returns the standard tolerances: 5 days, 0.005, closest date first
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays: DefaultDateToleranceDays,
		AmountEpsilon:     DefaultAmountEpsilon,
		TieBreak:          TieBreakClosestDate,
	}
}

// StrictMatchingConfig returns a configuration that only pairs same-day,
// same-amount entries
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays: 0,
		AmountEpsilon:     decimal.Zero,
		TieBreak:          TieBreakClosestDate,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateToleranceDays < 0 {
		return fmt.Errorf("date tolerance days cannot be negative: %d", mc.DateToleranceDays)
	}

	if mc.AmountEpsilon.IsNegative() {
		return fmt.Errorf("amount epsilon cannot be negative: %s", mc.AmountEpsilon.String())
	}

	if mc.AmountEpsilon.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("amount epsilon must be below one currency unit: %s", mc.AmountEpsilon.String())
	}

	if _, err := ParseTieBreak(string(mc.TieBreak)); err != nil {
		return err
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	return &c
}

// IsWithinDateTolerance reports whether two dates are at most
// DateToleranceDays calendar days apart. Times of day are ignored.
func (mc *MatchingConfig) IsWithinDateTolerance(date1, date2 time.Time) bool {
	return models.DaysBetween(date1, date2) <= mc.DateToleranceDays
}

// IsWithinAmountTolerance reports whether two amounts differ by at most AmountEpsilon
func (mc *MatchingConfig) IsWithinAmountTolerance(a, b decimal.Decimal) bool {
	return models.CompareAmountsWithTolerance(a, b, mc.AmountEpsilon)
}

// Classify returns the match type of a pairing
func (mc *MatchingConfig) Classify(dayDelta int, amountDiff decimal.Decimal) MatchType {
	if dayDelta == 0 && amountDiff.IsZero() {
		return MatchExact
	}
	return MatchClose
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateTolerance: %d days, AmountEpsilon: %s, TieBreak: %s}",
		mc.DateToleranceDays, mc.AmountEpsilon.String(), mc.TieBreak)
}
