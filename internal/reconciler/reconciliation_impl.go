package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"statement-reconciler/internal/ledger"
	"statement-reconciler/internal/matcher"
	"statement-reconciler/internal/models"
	"statement-reconciler/internal/parsers"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

// StartImport runs the upload pipeline: decode, identity check, period
// filter, candidate snapshot, auto-match. The session is registered before
// decoding starts, so an import that fails is still visible with status
// error and the failure message. A failed import leaves no entry reconciled;
// if undoing its auto-matches fails, the entries are kept as stranded on the
// session and Delete releases them.
//
// Auto-matched entries are reconciled in the ledger with conditional
// updates. An entry another import claimed in the meantime leaves its line
// unreconciled and adds a note to the session.
func (m *Manager) StartImport(ctx context.Context, req *ImportRequest) (*SessionView, error) {
	if req == nil {
		return nil, errors.InternalError("start import", fmt.Errorf("nil request"))
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	imp := &models.StatementImport{
		ID:        m.newID(),
		AccountID: req.AccountID,
		FileName:  req.FileName,
		FileType:  req.FileType,
		Status:    models.StatusProcessing,
		CreatedAt: m.now(),
	}
	s := newSession(imp, req.Period())
	m.register(s)

	opLogger := logger.NewOperationLogger("start_import", m.logger).
		WithField("import_id", imp.ID).
		WithField("file_type", string(req.FileType)).
		WithField("period", s.period.String())

	progress := newImportProgress(imp.ID)
	progress.TotalBytes = len(req.Content)

	if err := m.runPipeline(ctx, s, req, progress, opLogger); err != nil {
		s.fail(err)
		opLogger.Error(err, "Import failed")
		m.reportProgress(progress, StageFailed, err.Error())
		return s.View(), err
	}

	m.archiveStatement(ctx, s, req.Content)

	m.reportProgress(progress, StageDone, "")
	opLogger.Success("Import ready for review", logger.Fields{
		"status":     s.imp.Status,
		"movements":  s.imp.TotalMovements,
		"reconciled": s.imp.ReconciledCount,
	})
	return s.View(), nil
}

func (m *Manager) runPipeline(ctx context.Context, s *Session, req *ImportRequest, progress *ImportProgress, opLogger *logger.OperationLogger) error {
	var account *models.Account
	if req.AccountID != "" {
		a, err := m.store.GetAccount(ctx, req.AccountID)
		if err != nil {
			if stderrors.Is(err, ledger.ErrNotFound) {
				return errors.PersistenceError(errors.CodeRecordNotFound, "account lookup", err).
					WithContext("account_id", req.AccountID)
			}
			return errors.PersistenceError(errors.CodeStoreFailure, "account lookup", err)
		}
		account = a
	}

	m.reportProgress(progress, StageDecoding, string(req.FileType))
	statement, err := m.decoders.Decode(ctx, req.Content, req.FileType)
	if err != nil {
		return err
	}
	s.meta = statement.Meta
	s.skipped = statement.Skipped
	progress.Decoded = len(statement.Movements)
	opLogger.Step("decoded", logger.Fields{
		"movements": len(statement.Movements),
		"skipped":   len(statement.Skipped),
	})

	m.reportProgress(progress, StageValidating, "")
	if err := ValidateAccountIdentity(statement.Meta, account); err != nil {
		return err
	}

	m.reportProgress(progress, StageFiltering, s.period.String())
	movements := FilterPeriod(statement.Movements, s.period)
	if len(movements) == 0 {
		return errors.EmptyPeriodError(s.period.Month, s.period.Year, len(statement.Movements))
	}
	progress.Retained = len(movements)
	opLogger.Step("filtered", logger.Fields{
		"retained": len(movements),
		"dropped":  len(statement.Movements) - len(movements),
	})

	m.reportProgress(progress, StageMatching, "")
	entries, err := m.store.ListUnreconciled(ctx, req.AccountID)
	if err != nil {
		return errors.PersistenceError(errors.CodeStoreFailure, "list unreconciled entries", err)
	}

	pool := matcher.NewCandidatePool(entries)
	if !m.config.AutoMatch {
		s.setLines(unmatchedLines(s.imp.ID, movements))
		s.pool = pool
		s.coverLines()
		s.recount()
		return nil
	}

	outcome := m.matcher.Match(s.imp.ID, movements, pool)
	s.setLines(outcome.Lines)
	s.pool = outcome.Pool
	s.matches = outcome.Matches
	s.ambiguities = outcome.Ambiguities
	s.duplicates = outcome.Duplicates
	progress.Matched = outcome.ReconciledCount

	m.reportProgress(progress, StageApplying, "")
	if err := m.applyMatches(ctx, s, outcome); err != nil {
		return err
	}

	s.coverLines()
	s.recount()
	return nil
}

// applyMatches reconciles the auto-matched entries in the ledger. Entries
// that fail the conditional update are unlinked from their lines.
func (m *Manager) applyMatches(ctx context.Context, s *Session, outcome *matcher.MatchOutcome) error {
	ids := outcome.LinkedEntryIDs()
	if len(ids) == 0 {
		return nil
	}

	result, err := m.store.ReconcileBulk(ctx, ids)
	if err != nil {
		for _, l := range s.lines {
			l.Unlink()
		}
		s.matches = nil
		// the bulk call may have stopped part way
		if result != nil && len(result.Applied) > 0 {
			m.rollbackMatches(ctx, s, result.Applied)
		}
		return errors.PersistenceError(errors.CodeStoreFailure, "reconcile matched entries", err)
	}
	if !result.HasFailures() {
		return nil
	}

	linked := s.linkedIDs()
	for entryID, cause := range result.Failed {
		lineID, ok := linked[entryID]
		if !ok {
			continue
		}
		line, _ := s.line(lineID)
		line.Unlink()
		s.note(fmt.Sprintf("line %s: matched entry %s could not be reconciled (%v)", lineID, entryID, cause))
		m.logger.WithFields(logger.Fields{
			"import_id": s.imp.ID,
			"line_id":   lineID,
			"entry_id":  entryID,
		}).WithError(cause).Warn("Matched entry was claimed before it could be reconciled")
	}
	s.matches = dropFailedMatches(s.matches, result.Failed)

	return m.refreshPool(ctx, s)
}

// rollbackMatches unreconciles the entries a failed bulk call had already
// applied. Entries that cannot be reversed stay on the session as stranded so
// that Delete releases them.
func (m *Manager) rollbackMatches(ctx context.Context, s *Session, applied []string) {
	rb, err := m.store.UnreconcileBulk(context.WithoutCancel(ctx), applied)

	reversed := make(map[string]bool, len(applied))
	if rb != nil {
		for _, id := range rb.Applied {
			reversed[id] = true
		}
		for id, cause := range rb.Failed {
			if stderrors.Is(cause, ledger.ErrNotFound) {
				reversed[id] = true
			}
		}
	}
	for _, id := range applied {
		if !reversed[id] {
			s.stranded = append(s.stranded, id)
		}
	}
	if len(s.stranded) == 0 {
		return
	}

	s.note(fmt.Sprintf("%d matched entries are still reconciled; delete the import to release them", len(s.stranded)))
	m.logger.WithFields(logger.Fields{
		"import_id": s.imp.ID,
		"stranded":  len(s.stranded),
	}).WithError(err).Error("Could not roll back matched entries")
}

func dropFailedMatches(matches []*matcher.MatchResult, failed map[string]error) []*matcher.MatchResult {
	kept := matches[:0]
	for _, match := range matches {
		if _, ok := failed[match.EntryID]; !ok {
			kept = append(kept, match)
		}
	}
	return kept
}

func unmatchedLines(importID string, movements []*models.StatementMovement) []*models.StatementLine {
	lines := make([]*models.StatementLine, len(movements))
	for i, mv := range movements {
		lines[i] = models.NewStatementLine(models.FormatLineID(i+1), importID, mv)
	}
	return lines
}

// archiveStatement uploads the raw file. Failures are logged and otherwise ignored.
func (m *Manager) archiveStatement(ctx context.Context, s *Session, content []byte) {
	if m.config.ArchiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ArchiveTimeout)
		defer cancel()
	}

	started := time.Now()
	uri, err := m.archiver.Archive(ctx, s.imp, content)
	if err != nil {
		m.logger.WithField("import_id", s.imp.ID).WithError(err).Warn("Could not archive statement file")
		return
	}
	if uri == "" {
		return
	}

	s.archiveURI = uri
	m.logger.WithFields(logger.Fields{
		"import_id":   s.imp.ID,
		"uri":         uri,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("Statement archived")
}

// Inspect decodes a statement without starting an import
func (m *Manager) Inspect(ctx context.Context, raw []byte, fileType models.FileType) (*parsers.Statement, error) {
	return m.decoders.Decode(ctx, raw, fileType)
}

// RawStatement returns the archived statement file of an import
func (m *Manager) RawStatement(ctx context.Context, importID string) ([]byte, *models.StatementImport, error) {
	s, err := m.session(ctx, importID)
	if err != nil {
		return nil, nil, err
	}
	if s.archiveURI == "" {
		return nil, nil, errors.PersistenceError(errors.CodeRecordNotFound, "fetch archived statement", nil).
			WithContext("import_id", importID).
			WithSuggestion("statements are only archived when archive.bucket is configured")
	}

	content, err := m.archiver.Fetch(ctx, s.archiveURI)
	if err != nil {
		return nil, nil, errors.PersistenceError(errors.CodeStoreFailure, "fetch archived statement", err).
			WithContext("uri", s.archiveURI)
	}
	return content, s.imp.Clone(), nil
}
