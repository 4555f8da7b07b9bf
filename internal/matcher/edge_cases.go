package matcher

import (
	"fmt"
	"strings"

	"statement-reconciler/internal/models"
)

// EdgeCaseHandler reports the situations where the greedy pass made a
// choice the operator may want to review
type EdgeCaseHandler struct {
	Config *MatchingConfig
}

// NewEdgeCaseHandler creates a new edge case handler
func NewEdgeCaseHandler(config *MatchingConfig) *EdgeCaseHandler {
	return &EdgeCaseHandler{
		Config: config,
	}
}

// Ambiguity records a movement that had several eligible candidates
type Ambiguity struct {
	LineID       string   `json:"line_id"`
	Description  string   `json:"description"`
	ChosenID     string   `json:"chosen_entry_id"`
	Alternatives []string `json:"alternative_entry_ids"`
	// Tied is true when the chosen candidate could not be separated from the
	// first alternative by date or amount, so pool order decided
	Tied bool `json:"tied"`
}

// String returns a one-line description of the ambiguity
func (a *Ambiguity) String() string {
	note := ""
	if a.Tied {
		note = " (tie resolved by ledger order)"
	}
	return fmt.Sprintf("line %s %q: chose %s over %s%s",
		a.LineID, a.Description, a.ChosenID, strings.Join(a.Alternatives, ", "), note)
}

// DuplicateGroup is a set of lines with the same date, amount and direction
type DuplicateGroup struct {
	GroupID string
	LineIDs []string
	Reason  string
}

// DetectAmbiguity returns an Ambiguity when more than one candidate was
// eligible. candidates must already be ranked.
func (ech *EdgeCaseHandler) DetectAmbiguity(line *models.StatementLine, candidates []Candidate) *Ambiguity {
	if len(candidates) < 2 {
		return nil
	}

	alternatives := make([]string, 0, len(candidates)-1)
	for _, c := range candidates[1:] {
		alternatives = append(alternatives, c.Entry.ID)
	}

	first, second := candidates[0], candidates[1]
	return &Ambiguity{
		LineID:       line.ID,
		Description:  line.Description,
		ChosenID:     first.Entry.ID,
		Alternatives: alternatives,
		Tied:         first.DayDelta == second.DayDelta && first.AmountDiff.Equal(second.AmountDiff),
	}
}

// DetectDuplicates groups lines that are indistinguishable by date, amount
// and direction. Such lines compete for the same ledger entries, so which
// one got paired depends on statement order.
func (ech *EdgeCaseHandler) DetectDuplicates(lines []*models.StatementLine) []DuplicateGroup {
	var groups []DuplicateGroup
	processed := make(map[string]bool)

	for i, l1 := range lines {
		if processed[l1.ID] {
			continue
		}

		ids := []string{l1.ID}
		for j := i + 1; j < len(lines); j++ {
			l2 := lines[j]
			if processed[l2.ID] {
				continue
			}
			if ech.isPotentialDuplicate(l1, l2) {
				ids = append(ids, l2.ID)
				processed[l2.ID] = true
			}
		}

		if len(ids) > 1 {
			groups = append(groups, DuplicateGroup{
				GroupID: fmt.Sprintf("DUP_%s", l1.ID),
				LineIDs: ids,
				Reason: fmt.Sprintf("%d %s movements of %s on %s",
					len(ids), l1.Direction, l1.Amount.StringFixed(2), l1.Date.Format(models.DateLayout)),
			})
		}

		processed[l1.ID] = true
	}

	return groups
}

func (ech *EdgeCaseHandler) isPotentialDuplicate(l1, l2 *models.StatementLine) bool {
	if l1.Direction != l2.Direction {
		return false
	}
	if !l1.Amount.Equal(l2.Amount) {
		return false
	}
	return models.DaysBetween(l1.Date, l2.Date) == 0
}
