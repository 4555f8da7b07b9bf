package matcher

import (
	"time"

	"github.com/shopspring/decimal"

	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/logger"
)

// AutoMatcher runs the greedy auto-reconciliation pass
type AutoMatcher struct {
	Config    *MatchingConfig
	EdgeCases *EdgeCaseHandler
	logger    logger.Logger
}

// MatchResult records one pairing made by the matcher
type MatchResult struct {
	LineID           string
	EntryID          string
	MatchType        MatchType
	AmountDifference decimal.Decimal
	DayDifference    int
}

// MatchOutcome is the result of matching one statement against a pool
type MatchOutcome struct {
	// Lines holds one line per movement, in movement order
	Lines []*models.StatementLine

	// Pool is the candidate pool with paired entries removed
	Pool *CandidatePool

	Matches         []*MatchResult
	ReconciledCount int

	// Ambiguities lists movements that had more than one eligible candidate
	Ambiguities []*Ambiguity

	// Duplicates groups identical movements that competed for the same candidates
	Duplicates []DuplicateGroup
}

// Summary provides aggregate statistics about a match pass
type Summary struct {
	TotalMovements       int
	ReconciledMovements  int
	UnmatchedMovements   int
	ExactMatches         int
	CloseMatches         int
	AmbiguousMovements   int
	TotalAmountMatched   decimal.Decimal
	TotalAmountUnmatched decimal.Decimal
}

// LinkedEntryIDs returns the IDs of the entries paired by the matcher, in line order
func (o *MatchOutcome) LinkedEntryIDs() []string {
	ids := make([]string, 0, len(o.Matches))
	for _, m := range o.Matches {
		ids = append(ids, m.EntryID)
	}
	return ids
}

// Summary computes aggregate statistics for the outcome
func (o *MatchOutcome) Summary() Summary {
	s := Summary{
		TotalMovements:       len(o.Lines),
		ReconciledMovements:  o.ReconciledCount,
		UnmatchedMovements:   len(o.Lines) - o.ReconciledCount,
		AmbiguousMovements:   len(o.Ambiguities),
		TotalAmountMatched:   decimal.Zero,
		TotalAmountUnmatched: decimal.Zero,
	}

	for _, m := range o.Matches {
		switch m.MatchType {
		case MatchExact:
			s.ExactMatches++
		case MatchClose:
			s.CloseMatches++
		}
	}

	for _, line := range o.Lines {
		if line.Reconciled {
			s.TotalAmountMatched = s.TotalAmountMatched.Add(line.Amount)
		} else {
			s.TotalAmountUnmatched = s.TotalAmountUnmatched.Add(line.Amount)
		}
	}

	return s
}

// NewAutoMatcher creates a matcher with the specified configuration
func NewAutoMatcher(config *MatchingConfig) *AutoMatcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &AutoMatcher{
		Config:    config,
		EdgeCases: NewEdgeCaseHandler(config),
		logger:    logger.GetGlobalLogger().WithComponent("matcher"),
	}
}

// Match pairs movements with pool entries in movement order. Each movement
// produces exactly one line; lines are numbered from L0001. The pool is
// consumed: paired entries are removed from it and it is returned as
// outcome.Pool.
func (am *AutoMatcher) Match(importID string, movements []*models.StatementMovement, pool *CandidatePool) *MatchOutcome {
	if pool == nil {
		pool = NewCandidatePool(nil)
	}

	started := time.Now()
	outcome := &MatchOutcome{
		Lines: make([]*models.StatementLine, 0, len(movements)),
		Pool:  pool,
	}

	for i, movement := range movements {
		line := models.NewStatementLine(models.FormatLineID(i+1), importID, movement)
		outcome.Lines = append(outcome.Lines, line)

		candidates := pool.Eligible(movement.Direction.Kind(), movement, am.Config)
		if len(candidates) == 0 {
			continue
		}

		rankCandidates(candidates, am.Config.TieBreak)
		chosen := candidates[0]

		if ambiguity := am.EdgeCases.DetectAmbiguity(line, candidates); ambiguity != nil {
			outcome.Ambiguities = append(outcome.Ambiguities, ambiguity)
		}

		pool.Remove(chosen.Entry.ID)
		line.Link(chosen.Entry.ID)
		outcome.ReconciledCount++
		outcome.Matches = append(outcome.Matches, &MatchResult{
			LineID:           line.ID,
			EntryID:          chosen.Entry.ID,
			MatchType:        am.Config.Classify(chosen.DayDelta, chosen.AmountDiff),
			AmountDifference: chosen.AmountDiff,
			DayDifference:    chosen.DayDelta,
		})
	}

	outcome.Duplicates = am.EdgeCases.DetectDuplicates(outcome.Lines)

	am.logger.WithFields(logger.Fields{
		"import_id":   importID,
		"movements":   len(movements),
		"reconciled":  outcome.ReconciledCount,
		"ambiguous":   len(outcome.Ambiguities),
		"pool_left":   pool.Len(),
		"tie_break":   string(am.Config.TieBreak),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("Auto-match pass completed")

	return outcome
}
