package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"

	"statement-reconciler/internal/ledger"
	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

// ConfirmResult reports a confirmation pass
type ConfirmResult struct {
	Import *models.StatementImport `json:"import"`
	// Created lists the entries synthesized for lines that were still open
	Created []*models.LedgerEntry `json:"created"`
	// Failed lists the lines whose entry could not be created
	Failed []string          `json:"failed,omitempty"`
	Stats  logger.BatchStats `json:"stats"`
}

// DeleteResult reports the reversal of an import
type DeleteResult struct {
	ImportID      string   `json:"import_id"`
	Unreconciled  []string `json:"unreconciled"`
	Failed        []string `json:"failed,omitempty"`
	RecordDeleted bool     `json:"record_deleted"`
}

// Confirm closes an import. Every line still open gets a new ledger entry
// mirroring it, created already reconciled. The pass is best-effort: a line
// whose entry cannot be written is reported and the remaining lines are
// still processed. The import is then persisted with status confirmed and a
// reconciled count equal to its total, even when some lines failed; the
// returned error lists those failures.
func (m *Manager) Confirm(ctx context.Context, importID string) (*ConfirmResult, error) {
	s, err := m.session(ctx, importID)
	if err != nil {
		return nil, err
	}
	if !s.imp.Status.IsReviewable() {
		return nil, errors.LifecycleError(errors.CodeInvalidState, importID, s.imp.Status.String())
	}
	if s.imp.AccountID == "" {
		return nil, errors.LifecycleError(errors.CodeAccountRequired, importID, s.imp.Status.String())
	}

	open := s.unreconciledLines()
	tracker := logger.NewBatchTracker("confirm_import", len(open), m.logger)
	summary := errors.NewErrorSummary(nil)
	result := &ConfirmResult{}

	for _, line := range open {
		entry := line.ToLedgerEntry(s.imp.AccountID)
		entry.Reconciled = true

		created, err := m.store.Create(ctx, entry)
		if err != nil {
			tracker.Failed(line.ID, err)
			result.Failed = append(result.Failed, line.ID)
			summary.Add(errors.PersistenceError(errors.CodeStoreFailure, fmt.Sprintf("create entry for line %s", line.ID), err).
				WithContext("line_id", line.ID))
			continue
		}

		line.Link(created.ID)
		result.Created = append(result.Created, created)
		tracker.Succeeded()
	}
	result.Stats = tracker.Complete()

	s.coverLines()
	previous := s.imp.Clone()
	s.imp.Status = models.StatusConfirmed
	s.imp.TotalMovements = len(s.lines)
	s.imp.ReconciledCount = len(s.lines)
	s.imp.ErrorMessage = ""

	record := &ledger.ImportRecord{Import: s.imp, Lines: s.lines, ArchiveURI: s.archiveURI}
	if _, err := m.store.CreateImportRecord(ctx, record); err != nil {
		// lines linked above keep their new entries; a retry only handles the rest
		s.imp = previous
		s.recount()
		summary.Add(errors.PersistenceError(errors.CodeStoreFailure, "persist import", err).
			WithContext("import_id", importID))
		result.Import = s.imp.Clone()
		return result, summary.AsError("confirm import")
	}
	s.persisted = true
	s.pool = nil
	result.Import = s.imp.Clone()

	m.logger.WithFields(logger.Fields{
		"import_id": importID,
		"created":   len(result.Created),
		"failed":    len(result.Failed),
		"total":     s.imp.TotalMovements,
	}).Info("Import confirmed")

	return result, summary.AsError("confirm import")
}

// Delete reverses an import: every entry its lines point to is
// unreconciled, the persisted record (if any) is removed and the session is
// dropped. Entries created for the import stay in the ledger, unreconciled.
// A failed import is discarded once its stranded entries are released.
// Unreconciling is idempotent, so a failed delete can simply be retried; the
// session is kept until every step succeeds.
func (m *Manager) Delete(ctx context.Context, importID string) (*DeleteResult, error) {
	s, err := m.session(ctx, importID)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{ImportID: importID}

	failed := s.imp.Status == models.StatusError
	if !failed && !s.imp.Status.IsDeletable() {
		return nil, errors.LifecycleError(errors.CodeInvalidState, importID, s.imp.Status.String())
	}
	if failed && len(s.stranded) == 0 {
		m.forget(importID)
		m.logger.WithField("import_id", importID).Info("Failed import discarded")
		return result, nil
	}

	summary := errors.NewErrorSummary(nil)

	ids := append([]string(nil), s.stranded...)
	for _, l := range s.lines {
		if id := l.LinkedID(); id != "" {
			ids = append(ids, id)
		}
	}

	if len(ids) > 0 {
		bulk, err := m.store.UnreconcileBulk(ctx, ids)
		if err != nil {
			return nil, errors.PersistenceError(errors.CodeStoreFailure, "unreconcile import entries", err).
				WithContext("import_id", importID)
		}
		result.Unreconciled = bulk.Applied
		for id, cause := range bulk.Failed {
			// an entry that no longer exists has nothing left to reverse
			if stderrors.Is(cause, ledger.ErrNotFound) {
				continue
			}
			result.Failed = append(result.Failed, id)
			summary.Add(errors.PersistenceError(errors.CodeStoreFailure, fmt.Sprintf("unreconcile entry %s", id), cause).
				WithContext("entry_id", id))
		}
	}

	if s.persisted {
		err := m.store.DeleteImportRecord(ctx, importID)
		switch {
		case err == nil:
			result.RecordDeleted = true
		case stderrors.Is(err, ledger.ErrNotFound):
		default:
			summary.Add(errors.PersistenceError(errors.CodeStoreFailure, "delete import record", err).
				WithContext("import_id", importID))
		}
	}

	s.stranded = slices.DeleteFunc(s.stranded, func(id string) bool {
		return !slices.Contains(result.Failed, id)
	})
	if summary.Total > 0 {
		m.logger.WithField("import_id", importID).WithError(summary).Warn("Import deletion incomplete")
		return result, summary.AsError("delete import")
	}

	m.forget(importID)
	m.logger.WithFields(logger.Fields{
		"import_id":    importID,
		"unreconciled": len(result.Unreconciled),
		"status":       s.imp.Status,
	}).Info("Import deleted")
	return result, nil
}
