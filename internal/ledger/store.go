// Package ledger defines the ledger store the reconciler works against and
// provides an in-memory and a SQLite implementation.
//
// The store owns LedgerEntry records. Reconcile is a conditional update: it
// only succeeds when the entry is currently unreconciled, so two review
// sessions can never both claim the same entry. Bulk operations apply each
// ID independently and report per-ID failures; there is no rollback.
package ledger

import (
	"context"
	"errors"

	"statement-reconciler/internal/models"
)

var (
	// ErrNotFound is returned when an entry, import or account does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReconciled is returned by Reconcile when the entry is already reconciled
	ErrAlreadyReconciled = errors.New("entry already reconciled")

	// ErrAlreadyExists is returned when creating a record whose ID is taken
	ErrAlreadyExists = errors.New("already exists")
)

// ImportRecord is a persisted import together with its lines
type ImportRecord struct {
	Import *models.StatementImport
	Lines  []*models.StatementLine
	// ArchiveURI locates the raw statement file; empty when it was not archived
	ArchiveURI string
}

// Clone returns a deep copy of the record
func (r *ImportRecord) Clone() *ImportRecord {
	c := &ImportRecord{Import: r.Import.Clone(), ArchiveURI: r.ArchiveURI}
	c.Lines = make([]*models.StatementLine, len(r.Lines))
	for i, line := range r.Lines {
		c.Lines[i] = line.Clone()
	}
	return c
}

// BulkResult reports the per-ID outcome of a bulk operation
type BulkResult struct {
	Applied []string
	Failed  map[string]error
}

func newBulkResult() *BulkResult {
	return &BulkResult{Failed: make(map[string]error)}
}

// HasFailures returns true if any ID failed
func (r *BulkResult) HasFailures() bool {
	return len(r.Failed) > 0
}

// Store is the ledger store consumed by the reconciler
type Store interface {
	// ListUnreconciled returns unreconciled entries in ledger order. A
	// non-empty accountID restricts the result to entries of that account
	// and entries with no account.
	ListUnreconciled(ctx context.Context, accountID string) ([]*models.LedgerEntry, error)

	// ListEntries returns every entry in ledger order, scoped like ListUnreconciled
	ListEntries(ctx context.Context, accountID string) ([]*models.LedgerEntry, error)

	Get(ctx context.Context, id string) (*models.LedgerEntry, error)

	// Create stores a new entry. An empty ID is assigned by the store.
	Create(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error)

	// Reconcile flags the entry reconciled. It fails with ErrNotFound or
	// ErrAlreadyReconciled and leaves the entry unchanged in that case.
	Reconcile(ctx context.Context, id string) error

	// ReconcileBulk applies Reconcile to every ID
	ReconcileBulk(ctx context.Context, ids []string) (*BulkResult, error)

	// UnreconcileBulk clears the reconciled flag. Entries already
	// unreconciled count as applied; missing entries fail with ErrNotFound.
	UnreconcileBulk(ctx context.Context, ids []string) (*BulkResult, error)

	CreateImportRecord(ctx context.Context, record *ImportRecord) (*ImportRecord, error)
	GetImportRecord(ctx context.Context, id string) (*ImportRecord, error)
	ListImportRecords(ctx context.Context, accountID string) ([]*models.StatementImport, error)

	// DeleteImportRecord removes the record and its lines. It fails with ErrNotFound.
	DeleteImportRecord(ctx context.Context, id string) error

	CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)

	Close() error
}

// inScope reports whether entry is visible for accountID
func inScope(entry *models.LedgerEntry, accountID string) bool {
	return accountID == "" || entry.AccountID == nil || *entry.AccountID == accountID
}
