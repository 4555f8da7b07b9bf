package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"statement-reconciler/internal/models"
)

// Candidate is one ledger entry eligible for a movement
type Candidate struct {
	Entry      *models.LedgerEntry
	Position   int
	DayDelta   int
	AmountDiff decimal.Decimal
}

// CandidatePool is an ordered snapshot of unreconciled ledger entries.
// Entries are removed as they are paired; the relative order of the rest
// never changes.
type CandidatePool struct {
	entries []*models.LedgerEntry
	// kindIndex maps a ledger kind to pool positions, ascending
	kindIndex map[models.EntryKind][]int
	removed   map[string]bool
	position  map[string]int
}

// NewCandidatePool builds a pool from entries in the given order. Entries
// already reconciled or without an ID are not eligible and are left out.
func NewCandidatePool(entries []*models.LedgerEntry) *CandidatePool {
	pool := &CandidatePool{
		kindIndex: make(map[models.EntryKind][]int),
		removed:   make(map[string]bool),
		position:  make(map[string]int),
	}

	for _, entry := range entries {
		if entry == nil || entry.Reconciled || entry.ID == "" {
			continue
		}
		if _, dup := pool.position[entry.ID]; dup {
			continue
		}
		pos := len(pool.entries)
		pool.entries = append(pool.entries, entry)
		pool.position[entry.ID] = pos
		pool.kindIndex[entry.Kind] = append(pool.kindIndex[entry.Kind], pos)
	}

	return pool
}

// Len returns the number of entries still available
func (p *CandidatePool) Len() int {
	return len(p.entries) - len(p.removed)
}

// Contains reports whether id is still available in the pool
func (p *CandidatePool) Contains(id string) bool {
	_, ok := p.position[id]
	return ok && !p.removed[id]
}

// Remove takes id out of the pool. It returns false if id was not available.
func (p *CandidatePool) Remove(id string) bool {
	if !p.Contains(id) {
		return false
	}
	p.removed[id] = true
	return true
}

// Entries returns the available entries in pool order
func (p *CandidatePool) Entries() []*models.LedgerEntry {
	result := make([]*models.LedgerEntry, 0, p.Len())
	for _, entry := range p.entries {
		if !p.removed[entry.ID] {
			result = append(result, entry)
		}
	}
	return result
}

// Eligible returns every available entry of the given kind within the
// tolerances of config, in pool order.
func (p *CandidatePool) Eligible(kind models.EntryKind, movement *models.StatementMovement, config *MatchingConfig) []Candidate {
	amount := movement.AbsoluteAmount()

	var candidates []Candidate
	for _, pos := range p.kindIndex[kind] {
		entry := p.entries[pos]
		if p.removed[entry.ID] {
			continue
		}
		if !config.IsWithinAmountTolerance(entry.Amount, amount) {
			continue
		}
		if !config.IsWithinDateTolerance(entry.TransactionDate, movement.Date) {
			continue
		}
		candidates = append(candidates, Candidate{
			Entry:      entry,
			Position:   pos,
			DayDelta:   models.DaysBetween(entry.TransactionDate, movement.Date),
			AmountDiff: entry.Amount.Sub(amount).Abs(),
		})
	}

	return candidates
}

// rankCandidates orders candidates so the preferred one comes first
func rankCandidates(candidates []Candidate, tieBreak TieBreak) {
	if tieBreak == TieBreakPoolOrder {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Position < candidates[j].Position
		})
		return
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.DayDelta != b.DayDelta {
			return a.DayDelta < b.DayDelta
		}
		if cmp := a.AmountDiff.Cmp(b.AmountDiff); cmp != 0 {
			return cmp < 0
		}
		return a.Position < b.Position
	})
}
