package reconciler

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statement-reconciler/internal/ledger"
	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/errors"
)

// flakyStore fails selected operations of an otherwise working memory store
type flakyStore struct {
	*ledger.MemoryStore
	failReconcile bool
	failCreateFor string
	claimBefore   string
}

func (s *flakyStore) Reconcile(ctx context.Context, id string) error {
	if s.failReconcile {
		return stderrors.New("database is locked")
	}
	return s.MemoryStore.Reconcile(ctx, id)
}

func (s *flakyStore) Create(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	if s.failCreateFor != "" && entry.Description == s.failCreateFor {
		return nil, stderrors.New("disk full")
	}
	return s.MemoryStore.Create(ctx, entry)
}

// ReconcileBulk lets another import claim an entry first
func (s *flakyStore) ReconcileBulk(ctx context.Context, ids []string) (*ledger.BulkResult, error) {
	if s.claimBefore != "" {
		_ = s.MemoryStore.Reconcile(ctx, s.claimBefore)
	}
	return s.MemoryStore.ReconcileBulk(ctx, ids)
}

func startFebruary(t *testing.T, store ledger.Store) (*Manager, *SessionView) {
	t.Helper()
	manager := newTestManager(t, store, staticRegistry(statementMeta, februaryStatement()...))
	view, err := manager.StartImport(context.Background(), februaryRequest())
	require.NoError(t, err)
	return manager, view
}

func TestManager_LinkExistingRejections(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedAccount(t, store, "12345-6")
	entries := seedFebruaryLedger(t, store)
	otherAccount := "acc-2"
	foreign, err := store.Create(ctx, &models.LedgerEntry{
		Description:     "Internet (outra conta)",
		Amount:          decimal.RequireFromString("60.00"),
		Kind:            models.KindExpense,
		TransactionDate: feb(22),
		AccountID:       &otherAccount,
	})
	require.NoError(t, err)
	manager, view := startFebruary(t, store)
	importID := view.Import.ID

	candidates, err := manager.Candidates(ctx, importID, "L0007")
	require.NoError(t, err)
	for _, c := range candidates {
		assert.NotEqual(t, foreign.ID, c.ID)
	}

	tests := []struct {
		name    string
		lineID  string
		entryID string
		code    errors.ErrorCode
	}{
		{"entry of another account", "L0007", foreign.ID, errors.CodeForeignEntry},
		{"unknown line", "L0099", entries["internet"].ID, errors.CodeLineNotFound},
		{"line already linked", "L0001", entries["internet"].ID, errors.CodeLineAlreadyLinked},
		{"unknown entry", "L0007", "missing", errors.CodeEntryNotFound},
		{"entry of the wrong kind", "L0007", entries["wrongkind"].ID, errors.CodeKindMismatch},
		{"entry linked by another line", "L0008", entries["rent"].ID, errors.CodeAlreadyReconciled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.LinkExisting(ctx, importID, tt.lineID, tt.entryID)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
		})
	}

	view, err = manager.Session(importID)
	require.NoError(t, err)
	assert.Equal(t, 6, view.Import.ReconciledCount, "rejected links change nothing")

	stored, err := store.Get(ctx, foreign.ID)
	require.NoError(t, err)
	assert.False(t, stored.Reconciled)

	_, err = manager.LinkExisting(ctx, "imp-unknown", "L0007", entries["internet"].ID)
	assert.True(t, errors.IsCode(err, errors.CodeImportNotFound))
}

func TestManager_LinkExistingLosesRace(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedAccount(t, store, "12345-6")
	entries := seedFebruaryLedger(t, store)
	manager, view := startFebruary(t, store)

	candidates, err := manager.Candidates(ctx, view.Import.ID, "L0007")
	require.NoError(t, err)
	require.Equal(t, entries["internet"].ID, candidates[0].ID)

	// another import reconciles the entry in the meantime
	require.NoError(t, store.Reconcile(ctx, entries["internet"].ID))

	_, err = manager.LinkExisting(ctx, view.Import.ID, "L0007", entries["internet"].ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyReconciled))

	line, _ := mustSession(t, manager, view.Import.ID).Line("L0007")
	assert.False(t, line.Reconciled)

	candidates, err = manager.Candidates(ctx, view.Import.ID, "L0007")
	require.NoError(t, err)
	for _, c := range candidates {
		assert.NotEqual(t, entries["internet"].ID, c.ID)
	}
}

func TestManager_CreateAndLinkOrphan(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: ledger.NewMemoryStore()}
	seedAccount(t, store, "12345-6")
	manager, view := startFebruary(t, store)

	store.failReconcile = true
	created, err := manager.CreateAndLink(ctx, view.Import.ID, "L0008")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeOrphanedEntry))
	require.NotNil(t, created)

	re, _ := errors.AsReconcilerError(err)
	assert.Equal(t, created.ID, re.ContextString("entry_id"))
	assert.Equal(t, "L0008", re.ContextString("line_id"))

	stored, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Reconciled, "the orphan exists unreconciled")

	session := mustSession(t, manager, view.Import.ID)
	line, _ := session.Line("L0008")
	assert.False(t, line.Reconciled)
	assert.Equal(t, []string{created.ID}, session.OrphanedEntries)

	// the orphan can be linked by hand once the store recovers
	store.failReconcile = false
	_, err = manager.LinkExisting(ctx, view.Import.ID, "L0008", created.ID)
	require.NoError(t, err)
}

func TestManager_AutoMatchClaimedConcurrently(t *testing.T) {
	store := &flakyStore{MemoryStore: ledger.NewMemoryStore()}
	seedAccount(t, store, "12345-6")
	entries := seedFebruaryLedger(t, store)
	store.claimBefore = entries["rent"].ID

	_, view := startFebruary(t, store)

	assert.Equal(t, 5, view.Import.ReconciledCount)
	line, _ := view.Line("L0002")
	assert.False(t, line.Reconciled)
	require.Len(t, view.Notes, 1)
	assert.True(t, strings.Contains(view.Notes[0], "L0002"))
	assert.Len(t, view.Matches, 5)
}

func TestManager_Unlink(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedAccount(t, store, "12345-6")
	entries := seedFebruaryLedger(t, store)
	manager, view := startFebruary(t, store)

	_, err := manager.Unlink(ctx, view.Import.ID, "L0008")
	assert.True(t, errors.IsCode(err, errors.CodeLineNotLinked))

	view, err = manager.Unlink(ctx, view.Import.ID, "L0002")
	require.NoError(t, err)
	assert.Equal(t, 5, view.Import.ReconciledCount)

	rent, err := store.Get(ctx, entries["rent"].ID)
	require.NoError(t, err)
	assert.False(t, rent.Reconciled)

	candidates, err := manager.Candidates(ctx, view.Import.ID, "L0002")
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, entries["rent"].ID, candidates[0].ID, "the released entry is a candidate again")

	view, err = manager.LinkExisting(ctx, view.Import.ID, "L0002", entries["rent"].ID)
	require.NoError(t, err)
	assert.Equal(t, 6, view.Import.ReconciledCount)
}

func TestManager_ConfirmPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: ledger.NewMemoryStore(), failCreateFor: "PADARIA"}
	seedAccount(t, store, "12345-6")
	seedFebruaryLedger(t, store)
	manager, view := startFebruary(t, store)

	result, err := manager.Confirm(ctx, view.Import.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePartialFailure))

	summary, ok := errors.AsSummary(err)
	require.True(t, ok)
	assert.Equal(t, 1, summary.Total)

	assert.Equal(t, []string{"L0008"}, result.Failed)
	assert.Len(t, result.Created, 3)
	assert.Equal(t, models.StatusConfirmed, result.Import.Status)
	assert.Equal(t, 10, result.Import.ReconciledCount, "confirmed imports count every line")
	assert.Equal(t, 1, result.Stats.Failed)

	record, err := store.GetImportRecord(ctx, view.Import.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, record.Import.Status)
}

func mustSession(t *testing.T, m *Manager, importID string) *SessionView {
	t.Helper()
	view, err := m.Session(importID)
	require.NoError(t, err)
	return view
}

// interruptedStore stops ReconcileBulk after the first two IDs by cancelling
// the caller's context. UnreconcileBulk refuses cancelled contexts like the
// sqlite store does.
type interruptedStore struct {
	*ledger.MemoryStore
	cancel          context.CancelFunc
	claimBefore     string
	failUnreconcile bool
}

func (s *interruptedStore) ReconcileBulk(ctx context.Context, ids []string) (*ledger.BulkResult, error) {
	if s.claimBefore != "" {
		_ = s.MemoryStore.Reconcile(ctx, s.claimBefore)
	}
	result, _ := s.MemoryStore.ReconcileBulk(ctx, ids[:2])
	s.cancel()
	return result, ctx.Err()
}

func (s *interruptedStore) UnreconcileBulk(ctx context.Context, ids []string) (*ledger.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.failUnreconcile {
		return nil, stderrors.New("database is locked")
	}
	return s.MemoryStore.UnreconcileBulk(ctx, ids)
}

func TestManager_AutoMatchInterruptedRollsBackApplied(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &interruptedStore{MemoryStore: ledger.NewMemoryStore(), cancel: cancel}
	seedAccount(t, store, "12345-6")
	entries := seedFebruaryLedger(t, store)
	store.claimBefore = entries["rent"].ID
	manager := newTestManager(t, store, staticRegistry(statementMeta, februaryStatement()...))

	view, err := manager.StartImport(ctx, februaryRequest())
	require.Error(t, err)
	assert.Equal(t, models.StatusError, view.Import.Status)
	assert.Empty(t, view.StrandedEntries)
	for _, l := range view.Lines {
		assert.False(t, l.Reconciled, "line %s", l.ID)
	}

	salary, err := store.Get(context.Background(), entries["salary"].ID)
	require.NoError(t, err)
	assert.False(t, salary.Reconciled, "applied entries are rolled back")

	rent, err := store.Get(context.Background(), entries["rent"].ID)
	require.NoError(t, err)
	assert.True(t, rent.Reconciled, "an entry claimed by another import is left alone")
}

func TestManager_DeleteReleasesStrandedEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &interruptedStore{MemoryStore: ledger.NewMemoryStore(), cancel: cancel, failUnreconcile: true}
	seedAccount(t, store, "12345-6")
	entries := seedFebruaryLedger(t, store)
	manager := newTestManager(t, store, staticRegistry(statementMeta, februaryStatement()...))

	view, err := manager.StartImport(ctx, februaryRequest())
	require.Error(t, err)
	assert.Equal(t, models.StatusError, view.Import.Status)
	assert.ElementsMatch(t, []string{entries["salary"].ID, entries["rent"].ID}, view.StrandedEntries)
	require.NotEmpty(t, view.Notes)

	bg := context.Background()
	_, err = manager.Delete(bg, view.Import.ID)
	require.Error(t, err, "the stranded entries could not be released yet")
	_, err = manager.Session(view.Import.ID)
	require.NoError(t, err, "the session is kept for a retry")

	store.failUnreconcile = false
	result, err := manager.Delete(bg, view.Import.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{entries["salary"].ID, entries["rent"].ID}, result.Unreconciled)

	for _, name := range []string{"salary", "rent"} {
		e, err := store.Get(bg, entries[name].ID)
		require.NoError(t, err)
		assert.False(t, e.Reconciled, name)
	}
	_, err = manager.Session(view.Import.ID)
	assert.Error(t, err)
}
