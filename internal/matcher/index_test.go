package matcher

import (
	"testing"

	"statement-reconciler/internal/models"
)

func TestNewCandidatePool(t *testing.T) {
	reconciled := entry("R1", models.KindExpense, "10.00", 1)
	reconciled.Reconciled = true

	pool := NewCandidatePool([]*models.LedgerEntry{
		entry("E1", models.KindExpense, "10.00", 1),
		reconciled,
		nil,
		entry("", models.KindExpense, "10.00", 1),
		entry("E1", models.KindExpense, "99.00", 9),
		entry("I1", models.KindIncome, "10.00", 1),
	})

	if pool.Len() != 2 {
		t.Fatalf("expected 2 available entries, got %d", pool.Len())
	}
	if pool.Contains("R1") {
		t.Error("reconciled entries should not be in the pool")
	}

	entries := pool.Entries()
	if entries[0].ID != "E1" || entries[1].ID != "I1" {
		t.Errorf("expected insertion order E1, I1, got %s, %s", entries[0].ID, entries[1].ID)
	}
	if entries[0].Amount.StringFixed(2) != "10.00" {
		t.Errorf("first occurrence of a duplicate ID should win, got %s", entries[0].Amount)
	}
}

func TestCandidatePool_Remove(t *testing.T) {
	pool := NewCandidatePool([]*models.LedgerEntry{
		entry("E1", models.KindExpense, "10.00", 1),
		entry("E2", models.KindExpense, "20.00", 2),
		entry("E3", models.KindExpense, "30.00", 3),
	})

	if !pool.Remove("E2") {
		t.Fatal("expected E2 to be removed")
	}
	if pool.Remove("E2") {
		t.Error("removing twice should report false")
	}
	if pool.Remove("missing") {
		t.Error("removing an unknown ID should report false")
	}

	entries := pool.Entries()
	if len(entries) != 2 || entries[0].ID != "E1" || entries[1].ID != "E3" {
		t.Errorf("unexpected pool after remove: %v", entries)
	}
}

func TestCandidatePool_Eligible(t *testing.T) {
	pool := NewCandidatePool([]*models.LedgerEntry{
		entry("E1", models.KindExpense, "50.00", 10),
		entry("E2", models.KindExpense, "50.004", 14),
		entry("E3", models.KindExpense, "50.00", 16), // six days away
		entry("E4", models.KindExpense, "50.10", 10),
		entry("I1", models.KindIncome, "50.00", 10),
	})
	config := DefaultMatchingConfig()

	tests := []struct {
		name     string
		kind     models.EntryKind
		expected []string
	}{
		{"expense within tolerances", models.KindExpense, []string{"E1", "E2"}},
		{"income", models.KindIncome, []string{"I1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := pool.Eligible(tt.kind, movement(10, "-50.00"), config)

			if len(candidates) != len(tt.expected) {
				t.Fatalf("expected %d candidates, got %d", len(tt.expected), len(candidates))
			}
			for i, id := range tt.expected {
				if candidates[i].Entry.ID != id {
					t.Errorf("candidate %d: expected %s, got %s", i, id, candidates[i].Entry.ID)
				}
			}
		})
	}

	pool.Remove("E1")
	candidates := pool.Eligible(models.KindExpense, movement(10, "-50.00"), config)
	if len(candidates) != 1 || candidates[0].DayDelta != 4 || candidates[0].Position != 1 {
		t.Errorf("expected only E2 at position 1, four days away, got %+v", candidates)
	}
}

func TestRankCandidates(t *testing.T) {
	pool := NewCandidatePool([]*models.LedgerEntry{
		entry("FAR", models.KindExpense, "50.00", 13),
		entry("NEAR", models.KindExpense, "50.00", 11),
		entry("NEAR_OFF", models.KindExpense, "50.004", 11),
	})

	closest := pool.Eligible(models.KindExpense, movement(10, "-50.00"), DefaultMatchingConfig())
	rankCandidates(closest, TieBreakClosestDate)
	if closest[0].Entry.ID != "NEAR" || closest[1].Entry.ID != "NEAR_OFF" || closest[2].Entry.ID != "FAR" {
		t.Errorf("closest-date order wrong: %s, %s, %s", closest[0].Entry.ID, closest[1].Entry.ID, closest[2].Entry.ID)
	}

	ordered := pool.Eligible(models.KindExpense, movement(10, "-50.00"), DefaultMatchingConfig())
	rankCandidates(ordered, TieBreakPoolOrder)
	if ordered[0].Entry.ID != "FAR" {
		t.Errorf("pool order should keep FAR first, got %s", ordered[0].Entry.ID)
	}
}
