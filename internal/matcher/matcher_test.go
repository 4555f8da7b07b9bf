package matcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"statement-reconciler/internal/models"
)

func day(d int) time.Time {
	return time.Date(2024, 2, d, 0, 0, 0, 0, time.UTC)
}

func movement(d int, amount string) *models.StatementMovement {
	return models.NewStatementMovement(day(d), fmt.Sprintf("MOV %s", amount), decimal.RequireFromString(amount))
}

func entry(id string, kind models.EntryKind, amount string, d int) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:              id,
		Description:     "entry " + id,
		Amount:          decimal.RequireFromString(amount),
		Kind:            kind,
		TransactionDate: day(d),
	}
}

func createTestMatchingData() ([]*models.StatementMovement, []*models.LedgerEntry) {
	movements := []*models.StatementMovement{
		movement(5, "-150.75"),  // E1, same day
		movement(10, "2500.00"), // I1, three days later
		movement(12, "-39.90"),  // nothing within window
		movement(20, "100.00"),  // E2 has the amount but wrong kind
	}

	entries := []*models.LedgerEntry{
		entry("E1", models.KindExpense, "150.75", 5),
		entry("I1", models.KindIncome, "2500.00", 13),
		entry("E3", models.KindExpense, "39.90", 25),
		entry("E2", models.KindExpense, "100.00", 20),
	}

	return movements, entries
}

func TestNewAutoMatcher(t *testing.T) {
	m := NewAutoMatcher(nil)
	if m.Config == nil {
		t.Fatal("Expected default config to be set")
	}
	if m.Config.DateToleranceDays != 5 {
		t.Errorf("Expected 5 day tolerance, got %d", m.Config.DateToleranceDays)
	}
	if !m.Config.AmountEpsilon.Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("Expected epsilon 0.005, got %s", m.Config.AmountEpsilon)
	}

	strict := StrictMatchingConfig()
	m = NewAutoMatcher(strict)
	if m.Config != strict {
		t.Error("Expected custom config to be used")
	}
}

func TestAutoMatcher_Match(t *testing.T) {
	movements, entries := createTestMatchingData()
	m := NewAutoMatcher(nil)

	outcome := m.Match("imp-1", movements, NewCandidatePool(entries))

	if len(outcome.Lines) != len(movements) {
		t.Fatalf("Expected %d lines, got %d", len(movements), len(outcome.Lines))
	}
	if outcome.ReconciledCount != 2 {
		t.Errorf("Expected 2 reconciled lines, got %d", outcome.ReconciledCount)
	}

	expected := []string{"E1", "I1", "", ""}
	for i, line := range outcome.Lines {
		if line.ID != models.FormatLineID(i+1) {
			t.Errorf("Line %d: expected ID %s, got %s", i, models.FormatLineID(i+1), line.ID)
		}
		if line.ImportID != "imp-1" {
			t.Errorf("Line %d: expected import ID imp-1, got %s", i, line.ImportID)
		}
		if line.LinkedID() != expected[i] {
			t.Errorf("Line %d: expected link %q, got %q", i, expected[i], line.LinkedID())
		}
		if line.Reconciled != (expected[i] != "") {
			t.Errorf("Line %d: reconciled flag does not agree with link", i)
		}
	}

	if outcome.Pool.Len() != 2 || outcome.Pool.Contains("E1") || outcome.Pool.Contains("I1") {
		t.Errorf("Expected paired entries removed from pool, left %v", outcome.Pool.Entries())
	}

	summary := outcome.Summary()
	if summary.ExactMatches != 1 || summary.CloseMatches != 1 {
		t.Errorf("Expected 1 exact and 1 close match, got %+v", summary)
	}
	if !summary.TotalAmountUnmatched.Equal(decimal.RequireFromString("139.90")) {
		t.Errorf("Expected unmatched total 139.90, got %s", summary.TotalAmountUnmatched)
	}
}

func TestAutoMatcher_DateWindowBoundary(t *testing.T) {
	tests := []struct {
		name       string
		entryDay   int
		shouldPair bool
	}{
		{"five days before", 5, true},
		{"five days after", 15, true},
		{"six days before", 4, false},
		{"six days after", 16, false},
		{"same day", 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewCandidatePool([]*models.LedgerEntry{entry("E", models.KindExpense, "80.00", tt.entryDay)})
			outcome := NewAutoMatcher(nil).Match("imp", []*models.StatementMovement{movement(10, "-80.00")}, pool)

			if (outcome.ReconciledCount == 1) != tt.shouldPair {
				t.Errorf("Entry on day %d: expected paired=%t", tt.entryDay, tt.shouldPair)
			}
		})
	}
}

func TestAutoMatcher_AmountEpsilon(t *testing.T) {
	tests := []struct {
		amount     string
		shouldPair bool
	}{
		{"80.00", true},
		{"80.005", true},
		{"79.995", true},
		{"80.006", false},
		{"79.99", false},
		{"80.01", false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			pool := NewCandidatePool([]*models.LedgerEntry{entry("E", models.KindExpense, tt.amount, 10)})
			outcome := NewAutoMatcher(nil).Match("imp", []*models.StatementMovement{movement(10, "-80.00")}, pool)

			if (outcome.ReconciledCount == 1) != tt.shouldPair {
				t.Errorf("Entry amount %s: expected paired=%t", tt.amount, tt.shouldPair)
			}
		})
	}
}

func TestAutoMatcher_NeverPairsAcrossKinds(t *testing.T) {
	pool := NewCandidatePool([]*models.LedgerEntry{
		entry("I", models.KindIncome, "80.00", 10),
	})
	outcome := NewAutoMatcher(nil).Match("imp", []*models.StatementMovement{movement(10, "-80.00")}, pool)

	if outcome.ReconciledCount != 0 {
		t.Error("Expected a debit never to pair with an income entry")
	}
	if !pool.Contains("I") {
		t.Error("Expected the income entry to stay in the pool")
	}
}

func TestAutoMatcher_NoDoublePairing(t *testing.T) {
	var movements []*models.StatementMovement
	for i := 0; i < 6; i++ {
		movements = append(movements, movement(10+i%3, "-50.00"))
	}

	for _, entryCount := range []int{0, 1, 3, 6, 9} {
		t.Run(fmt.Sprintf("%d entries", entryCount), func(t *testing.T) {
			var entries []*models.LedgerEntry
			for i := 0; i < entryCount; i++ {
				entries = append(entries, entry(fmt.Sprintf("E%d", i), models.KindExpense, "50.00", 8+i%5))
			}

			outcome := NewAutoMatcher(nil).Match("imp", movements, NewCandidatePool(entries))

			seen := make(map[string]bool)
			for _, line := range outcome.Lines {
				id := line.LinkedID()
				if id == "" {
					continue
				}
				if seen[id] {
					t.Fatalf("Entry %s paired twice", id)
				}
				seen[id] = true
			}

			limit := len(movements)
			if entryCount < limit {
				limit = entryCount
			}
			if len(seen) > limit {
				t.Errorf("Expected at most %d pairings, got %d", limit, len(seen))
			}
			if len(seen) != outcome.ReconciledCount {
				t.Errorf("Reconciled count %d does not match %d links", outcome.ReconciledCount, len(seen))
			}
		})
	}
}

func TestAutoMatcher_TieBreak(t *testing.T) {
	entries := func() []*models.LedgerEntry {
		return []*models.LedgerEntry{
			entry("FAR", models.KindExpense, "20.00", 7),
			entry("NEAR", models.KindExpense, "20.00", 9),
			entry("NEAR2", models.KindExpense, "20.00", 11),
		}
	}
	movements := []*models.StatementMovement{movement(10, "-20.00")}

	t.Run("closest date", func(t *testing.T) {
		outcome := NewAutoMatcher(DefaultMatchingConfig()).Match("imp", movements, NewCandidatePool(entries()))
		if got := outcome.Lines[0].LinkedID(); got != "NEAR" {
			t.Errorf("Expected NEAR (1 day, earlier in pool), got %s", got)
		}
		if len(outcome.Ambiguities) != 1 {
			t.Fatalf("Expected one ambiguity, got %d", len(outcome.Ambiguities))
		}
		amb := outcome.Ambiguities[0]
		if !amb.Tied {
			t.Error("Expected NEAR and NEAR2 to be reported as tied")
		}
		if len(amb.Alternatives) != 2 || amb.Alternatives[0] != "NEAR2" {
			t.Errorf("Unexpected alternatives: %v", amb.Alternatives)
		}
	})

	t.Run("pool order", func(t *testing.T) {
		config := DefaultMatchingConfig()
		config.TieBreak = TieBreakPoolOrder
		outcome := NewAutoMatcher(config).Match("imp", movements, NewCandidatePool(entries()))
		if got := outcome.Lines[0].LinkedID(); got != "FAR" {
			t.Errorf("Expected first eligible entry FAR, got %s", got)
		}
	})

	t.Run("amount difference breaks date ties", func(t *testing.T) {
		pool := NewCandidatePool([]*models.LedgerEntry{
			entry("OFF", models.KindExpense, "20.004", 10),
			entry("EXACT", models.KindExpense, "20.00", 10),
		})
		outcome := NewAutoMatcher(nil).Match("imp", movements, pool)
		if got := outcome.Lines[0].LinkedID(); got != "EXACT" {
			t.Errorf("Expected EXACT, got %s", got)
		}
		if outcome.Ambiguities[0].Tied {
			t.Error("Expected candidates separated by amount not to be tied")
		}
	})
}

func TestAutoMatcher_GreedyOrderDependence(t *testing.T) {
	// the first movement takes the only candidate even though the second
	// movement is a closer fit
	pool := NewCandidatePool([]*models.LedgerEntry{entry("E", models.KindExpense, "30.00", 14)})
	movements := []*models.StatementMovement{movement(10, "-30.00"), movement(14, "-30.00")}

	outcome := NewAutoMatcher(nil).Match("imp", movements, pool)

	if outcome.Lines[0].LinkedID() != "E" || outcome.Lines[1].Reconciled {
		t.Error("Expected the earlier movement to win the candidate")
	}
	if len(outcome.Duplicates) != 0 {
		t.Errorf("Movements on different days are not duplicates, got %v", outcome.Duplicates)
	}
}

func TestCandidatePool(t *testing.T) {
	reconciled := entry("R", models.KindIncome, "1.00", 1)
	reconciled.Reconciled = true

	pool := NewCandidatePool([]*models.LedgerEntry{
		entry("A", models.KindIncome, "1.00", 1),
		reconciled,
		nil,
		entry("B", models.KindExpense, "1.00", 1),
		entry("A", models.KindIncome, "9.00", 1),
	})

	if pool.Len() != 2 {
		t.Fatalf("Expected 2 entries, got %d", pool.Len())
	}
	if pool.Contains("R") {
		t.Error("Expected reconciled entries to be left out")
	}
	if !pool.Remove("A") || pool.Remove("A") {
		t.Error("Expected Remove to succeed once")
	}
	if pool.Contains("A") || pool.Len() != 1 {
		t.Error("Expected A to be gone")
	}
	if got := pool.Entries(); len(got) != 1 || got[0].ID != "B" {
		t.Errorf("Unexpected remaining entries: %v", got)
	}
}

func TestMatchingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*MatchingConfig)
		wantErr bool
	}{
		{"default", func(c *MatchingConfig) {}, false},
		{"negative days", func(c *MatchingConfig) { c.DateToleranceDays = -1 }, true},
		{"negative epsilon", func(c *MatchingConfig) { c.AmountEpsilon = decimal.RequireFromString("-0.01") }, true},
		{"epsilon too large", func(c *MatchingConfig) { c.AmountEpsilon = decimal.NewFromInt(1) }, true},
		{"unknown tie break", func(c *MatchingConfig) { c.TieBreak = "random" }, true},
		{"empty tie break", func(c *MatchingConfig) { c.TieBreak = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.modify(config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchingConfig_Clone(t *testing.T) {
	original := DefaultMatchingConfig()
	clone := original.Clone()
	clone.DateToleranceDays = 1

	if original.DateToleranceDays != 5 {
		t.Error("Expected clone to be independent")
	}
	if (*MatchingConfig)(nil).Clone() != nil {
		t.Error("Expected nil clone of nil config")
	}
}

func TestParseTieBreak(t *testing.T) {
	tests := []struct {
		input    string
		expected TieBreak
		wantErr  bool
	}{
		{"closest-date", TieBreakClosestDate, false},
		{"POOL-ORDER", TieBreakPoolOrder, false},
		{"", TieBreakClosestDate, false},
		{"best-fit", "", true},
	}

	for _, tt := range tests {
		got, err := ParseTieBreak(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTieBreak(%q) error = %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("ParseTieBreak(%q) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}
