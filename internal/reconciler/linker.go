package reconciler

import (
	"context"
	stderrors "errors"
	"sort"

	"statement-reconciler/internal/ledger"
	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

// Candidates lists the ledger entries an unreconciled line may be linked to:
// unreconciled entries of the line's kind, fetched fresh from the store,
// closest amount first and then closest date. Entries linked by other lines
// of the import are excluded.
func (m *Manager) Candidates(ctx context.Context, importID, lineID string) ([]*models.LedgerEntry, error) {
	s, err := m.reviewable(ctx, importID)
	if err != nil {
		return nil, err
	}
	line, ok := s.line(lineID)
	if !ok {
		return nil, errors.LinkError(errors.CodeLineNotFound, lineID, "", nil)
	}
	if line.Reconciled {
		return nil, errors.LinkError(errors.CodeLineAlreadyLinked, lineID, line.LinkedID(), nil)
	}

	if err := m.refreshPool(ctx, s); err != nil {
		return nil, err
	}

	var candidates []*models.LedgerEntry
	for _, e := range s.pool.Entries() {
		if e.Kind == line.Kind() {
			candidates = append(candidates, e)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di := candidates[i].Amount.Sub(line.Amount).Abs()
		dj := candidates[j].Amount.Sub(line.Amount).Abs()
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		return models.DaysBetween(candidates[i].TransactionDate, line.Date) <
			models.DaysBetween(candidates[j].TransactionDate, line.Date)
	})

	return candidates, nil
}

// LinkExisting reconciles line lineID against an existing ledger entry. The
// entry is claimed with a conditional update, so an entry reconciled
// elsewhere since the candidates were listed is rejected and the session's
// candidate pool is refreshed.
func (m *Manager) LinkExisting(ctx context.Context, importID, lineID, entryID string) (*SessionView, error) {
	s, line, err := m.openLine(ctx, importID, lineID)
	if err != nil {
		return nil, err
	}

	if other, taken := s.linkedIDs()[entryID]; taken {
		return nil, errors.LinkError(errors.CodeAlreadyReconciled, lineID, entryID, nil).
			WithContext("linked_line", other)
	}

	log := m.logger.WithFields(logger.Fields{
		"import_id": importID,
		"line_id":   lineID,
		"entry_id":  entryID,
	})

	entry, err := m.store.Get(ctx, entryID)
	if err != nil {
		return nil, m.linkFailure(ctx, s, line.ID, entryID, err)
	}
	if entry.Kind != line.Kind() {
		return nil, errors.LinkError(errors.CodeKindMismatch, lineID, entryID, nil).
			WithContext("line_direction", line.Direction.String()).
			WithContext("entry_kind", entry.Kind.String())
	}
	// entries without an account are shared by every account
	if s.imp.AccountID != "" && entry.AccountID != nil && !entry.BelongsTo(s.imp.AccountID) {
		return nil, errors.LinkError(errors.CodeForeignEntry, lineID, entryID, nil).
			WithContext("import_account", s.imp.AccountID).
			WithContext("entry_account", *entry.AccountID)
	}

	if err := m.store.Reconcile(ctx, entryID); err != nil {
		log.WithError(err).Warn("Link rejected by ledger")
		return nil, m.linkFailure(ctx, s, line.ID, entryID, err)
	}

	line.Link(entryID)
	if s.pool != nil {
		s.pool.Remove(entryID)
	}
	s.recount()

	log.WithField("status", s.imp.Status).Info("Line linked to existing entry")
	return s.View(), nil
}

// CreateAndLink creates a ledger entry mirroring the line and reconciles it.
// When the entry is created but cannot be reconciled, the returned error has
// code orphaned_entry and names the new entry; the line stays unreconciled.
func (m *Manager) CreateAndLink(ctx context.Context, importID, lineID string) (*models.LedgerEntry, error) {
	s, line, err := m.openLine(ctx, importID, lineID)
	if err != nil {
		return nil, err
	}

	created, err := m.store.Create(ctx, line.ToLedgerEntry(s.imp.AccountID))
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreFailure, "create ledger entry", err).
			WithContext("line_id", lineID)
	}

	log := m.logger.WithFields(logger.Fields{
		"import_id": importID,
		"line_id":   lineID,
		"entry_id":  created.ID,
	})

	if err := m.store.Reconcile(ctx, created.ID); err != nil {
		s.orphans = append(s.orphans, created.ID)
		log.WithError(err).Error("Created entry could not be reconciled")
		return created, errors.OrphanedEntryError(lineID, created.ID, err)
	}

	created.Reconciled = true
	line.Link(created.ID)
	s.recount()

	log.WithField("status", s.imp.Status).Info("Line linked to new entry")
	return created, nil
}

// Unlink reverses the reconciliation of a line. The linked entry becomes a
// candidate again.
func (m *Manager) Unlink(ctx context.Context, importID, lineID string) (*SessionView, error) {
	s, err := m.reviewable(ctx, importID)
	if err != nil {
		return nil, err
	}
	line, ok := s.line(lineID)
	if !ok {
		return nil, errors.LinkError(errors.CodeLineNotFound, lineID, "", nil)
	}
	if !line.Reconciled {
		return nil, errors.LinkError(errors.CodeLineNotLinked, lineID, "", nil)
	}

	entryID := line.LinkedID()
	result, err := m.store.UnreconcileBulk(ctx, []string{entryID})
	if err != nil {
		return nil, errors.LinkError(errors.CodeUnreconcileFailed, lineID, entryID, err)
	}
	if cause, failed := result.Failed[entryID]; failed {
		return nil, errors.LinkError(errors.CodeUnreconcileFailed, lineID, entryID, cause)
	}

	line.Unlink()
	s.recount()
	if err := m.refreshPool(ctx, s); err != nil {
		m.logger.WithError(err).Warn("Could not refresh candidates after unlink")
	}

	m.logger.WithFields(logger.Fields{
		"import_id": importID,
		"line_id":   lineID,
		"entry_id":  entryID,
		"status":    s.imp.Status,
	}).Info("Line unlinked")
	return s.View(), nil
}

// openLine returns a reviewable session and one of its unreconciled lines
func (m *Manager) openLine(ctx context.Context, importID, lineID string) (*Session, *models.StatementLine, error) {
	s, err := m.reviewable(ctx, importID)
	if err != nil {
		return nil, nil, err
	}
	line, ok := s.line(lineID)
	if !ok {
		return nil, nil, errors.LinkError(errors.CodeLineNotFound, lineID, "", nil)
	}
	if line.Reconciled {
		return nil, nil, errors.LinkError(errors.CodeLineAlreadyLinked, lineID, line.LinkedID(), nil)
	}
	return s, line, nil
}

// linkFailure maps a store error to a link error and refreshes the pool so
// the next candidate listing reflects the ledger.
func (m *Manager) linkFailure(ctx context.Context, s *Session, lineID, entryID string, err error) error {
	var linkErr *errors.ReconcilerError
	switch {
	case stderrors.Is(err, ledger.ErrNotFound):
		linkErr = errors.LinkError(errors.CodeEntryNotFound, lineID, entryID, err)
	case stderrors.Is(err, ledger.ErrAlreadyReconciled):
		linkErr = errors.LinkError(errors.CodeAlreadyReconciled, lineID, entryID, err)
	default:
		return errors.PersistenceError(errors.CodeStoreFailure, "reconcile entry", err).
			WithContext("line_id", lineID).
			WithContext("entry_id", entryID)
	}

	if refreshErr := m.refreshPool(ctx, s); refreshErr != nil {
		m.logger.WithError(refreshErr).Warn("Could not refresh candidates after rejected link")
	}
	return linkErr
}
