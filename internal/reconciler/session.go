package reconciler

import (
	"time"

	"statement-reconciler/internal/ledger"
	"statement-reconciler/internal/matcher"
	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/errors"
)

// Session is the working state of one import between upload and
// confirmation. It is held in memory by the Manager; only confirmed imports
// reach the ledger store.
type Session struct {
	imp    *models.StatementImport
	lines  []*models.StatementLine
	byID   map[string]*models.StatementLine
	period models.Period

	meta        *models.BankMeta
	skipped     []*errors.RecordError
	ambiguities []*matcher.Ambiguity
	duplicates  []matcher.DuplicateGroup
	matches     []*matcher.MatchResult
	notes       []string
	orphans     []string
	stranded    []string
	archiveURI  string

	pool      *matcher.CandidatePool
	persisted bool
}

// SessionView is a detached snapshot of a session
type SessionView struct {
	Import      *models.StatementImport  `json:"import"`
	Lines       []*models.StatementLine  `json:"lines"`
	Period      string                   `json:"period,omitempty"`
	Meta        *models.BankMeta         `json:"bank_meta,omitempty"`
	Matches     []*matcher.MatchResult   `json:"matches,omitempty"`
	Ambiguities []*matcher.Ambiguity     `json:"ambiguities,omitempty"`
	Duplicates  []matcher.DuplicateGroup `json:"duplicates,omitempty"`
	Skipped     []*errors.RecordError    `json:"skipped,omitempty"`
	Notes       []string                 `json:"notes,omitempty"`
	// OrphanedEntries lists entries created for a line that could not be reconciled
	OrphanedEntries []string `json:"orphaned_entries,omitempty"`
	// StrandedEntries lists auto-matched entries left reconciled by a failed
	// import; Delete releases them
	StrandedEntries []string `json:"stranded_entries,omitempty"`
	ArchiveURI      string   `json:"archive_uri,omitempty"`
	Persisted       bool     `json:"persisted"`
}

func newSession(imp *models.StatementImport, period models.Period) *Session {
	return &Session{
		imp:    imp,
		byID:   make(map[string]*models.StatementLine),
		period: period,
	}
}

// restoreSession rebuilds a session from a persisted import record
func restoreSession(record *ledger.ImportRecord) *Session {
	imp := record.Import.Clone()
	s := newSession(imp, models.Period{})
	if !imp.PeriodStart.IsZero() {
		s.period = models.NewPeriod(int(imp.PeriodStart.Month()), imp.PeriodStart.Year())
	}
	s.setLines(record.Lines)
	s.archiveURI = record.ArchiveURI
	s.persisted = true
	return s
}

func (s *Session) setLines(lines []*models.StatementLine) {
	s.lines = lines
	s.byID = make(map[string]*models.StatementLine, len(lines))
	for _, l := range lines {
		s.byID[l.ID] = l
	}
}

// ID returns the import ID
func (s *Session) ID() string {
	return s.imp.ID
}

// Status returns the import status
func (s *Session) Status() models.ImportStatus {
	return s.imp.Status
}

func (s *Session) line(lineID string) (*models.StatementLine, bool) {
	l, ok := s.byID[lineID]
	return l, ok
}

// linkedIDs returns the entry IDs referenced by the session's lines
func (s *Session) linkedIDs() map[string]string {
	ids := make(map[string]string)
	for _, l := range s.lines {
		if id := l.LinkedID(); id != "" {
			ids[id] = l.ID
		}
	}
	return ids
}

func (s *Session) unreconciledLines() []*models.StatementLine {
	var lines []*models.StatementLine
	for _, l := range s.lines {
		if !l.Reconciled {
			lines = append(lines, l)
		}
	}
	return lines
}

// recount derives the reconciled counter and review status from the lines
func (s *Session) recount() {
	count := 0
	for _, l := range s.lines {
		if l.Reconciled {
			count++
		}
	}
	s.imp.ReconciledCount = count
	s.imp.TotalMovements = len(s.lines)
	if s.imp.Status.IsReviewable() || s.imp.Status == models.StatusProcessing {
		s.imp.Status = models.ReviewStatus(count, len(s.lines))
	}
}

// coverLines sets the import period to the earliest and latest line dates
func (s *Session) coverLines() {
	var start, end time.Time
	for _, l := range s.lines {
		if start.IsZero() || l.Date.Before(start) {
			start = l.Date
		}
		if end.IsZero() || l.Date.After(end) {
			end = l.Date
		}
	}
	s.imp.PeriodStart = start
	s.imp.PeriodEnd = end
}

func (s *Session) fail(err error) {
	s.imp.Status = models.StatusError
	s.imp.ErrorMessage = err.Error()
}

func (s *Session) note(msg string) {
	s.notes = append(s.notes, msg)
}

// View returns a deep copy of the session state
func (s *Session) View() *SessionView {
	view := &SessionView{
		Import:          s.imp.Clone(),
		Lines:           make([]*models.StatementLine, len(s.lines)),
		Ambiguities:     append([]*matcher.Ambiguity(nil), s.ambiguities...),
		Duplicates:      append([]matcher.DuplicateGroup(nil), s.duplicates...),
		Matches:         append([]*matcher.MatchResult(nil), s.matches...),
		Skipped:         append([]*errors.RecordError(nil), s.skipped...),
		Notes:           append([]string(nil), s.notes...),
		OrphanedEntries: append([]string(nil), s.orphans...),
		StrandedEntries: append([]string(nil), s.stranded...),
		ArchiveURI:      s.archiveURI,
		Persisted:       s.persisted,
	}
	for i, l := range s.lines {
		view.Lines[i] = l.Clone()
	}
	if s.period.Month != 0 {
		view.Period = s.period.String()
	}
	if s.meta != nil {
		meta := *s.meta
		view.Meta = &meta
	}
	return view
}

// UnreconciledLines returns the lines of the view that are still open
func (v *SessionView) UnreconciledLines() []*models.StatementLine {
	var lines []*models.StatementLine
	for _, l := range v.Lines {
		if !l.Reconciled {
			lines = append(lines, l)
		}
	}
	return lines
}

// Line returns the line with the given ID
func (v *SessionView) Line(lineID string) (*models.StatementLine, bool) {
	for _, l := range v.Lines {
		if l.ID == lineID {
			return l, true
		}
	}
	return nil, false
}
