package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"statement-reconciler/internal/models"
)

// SQLiteStore implements Store on a SQLite database. Amounts are stored as
// decimal text and dates as YYYY-MM-DD so nothing is lost to floating point.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates the schema. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a second connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		branch_number TEXT NOT NULL DEFAULT '',
		account_number TEXT NOT NULL DEFAULT '',
		tax_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('income', 'expense')),
		transaction_date TEXT NOT NULL,
		reconciled INTEGER NOT NULL DEFAULT 0,
		account_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_reconciled
		ON ledger_entries(account_id, reconciled);

	CREATE TABLE IF NOT EXISTS statement_imports (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_type TEXT NOT NULL,
		status TEXT NOT NULL,
		total_movements INTEGER NOT NULL,
		reconciled_count INTEGER NOT NULL,
		period_start TEXT,
		period_end TEXT,
		error_message TEXT,
		archive_uri TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_statement_imports_account
		ON statement_imports(account_id);

	CREATE TABLE IF NOT EXISTS statement_lines (
		import_id TEXT NOT NULL REFERENCES statement_imports(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		date TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		direction TEXT NOT NULL,
		linked_entry_id TEXT,
		PRIMARY KEY (import_id, id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// timestampLayout is fixed width so created_at sorts as text
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const entryColumns = `id, description, amount, kind, transaction_date, reconciled, account_id`

// ListUnreconciled implements Store
func (s *SQLiteStore) ListUnreconciled(ctx context.Context, accountID string) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if accountID == "" {
		return s.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE reconciled = 0 ORDER BY seq`)
	}
	return s.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE reconciled = 0 AND (account_id IS NULL OR account_id = ?) ORDER BY seq`, accountID)
}

// ListEntries implements Store
func (s *SQLiteStore) ListEntries(ctx context.Context, accountID string) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if accountID == "" {
		return s.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY seq`)
	}
	return s.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id IS NULL OR account_id = ? ORDER BY seq`, accountID)
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return entries[0], nil
}

// Create implements Store
func (s *SQLiteStore) Create(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := entry.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.TransactionDate = models.DateOnly(stored.TransactionDate)

	var accountID sql.NullString
	if stored.AccountID != nil {
		accountID = sql.NullString{String: *stored.AccountID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, description, amount, kind, transaction_date, reconciled, account_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.ID,
		stored.Description,
		stored.Amount.String(),
		string(stored.Kind),
		stored.TransactionDate.Format(models.DateLayout),
		boolToInt(stored.Reconciled),
		accountID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("entry %s: %w", stored.ID, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return stored, nil
}

func (s *SQLiteStore) reconcileLocked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ledger_entries SET reconciled = 1 WHERE id = ? AND reconciled = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to reconcile entry %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reconcile entry %s: %w", id, err)
	}
	if affected == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up entry %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("entry %s: %w", id, ErrAlreadyReconciled)
}

// Reconcile implements Store
func (s *SQLiteStore) Reconcile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(ctx, id)
}

// ReconcileBulk implements Store
func (s *SQLiteStore) ReconcileBulk(ctx context.Context, ids []string) (*BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := newBulkResult()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.reconcileLocked(ctx, id); err != nil {
			result.Failed[id] = err
			continue
		}
		result.Applied = append(result.Applied, id)
	}
	return result, nil
}

// UnreconcileBulk implements Store
func (s *SQLiteStore) UnreconcileBulk(ctx context.Context, ids []string) (*BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := newBulkResult()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		res, err := s.db.ExecContext(ctx, `UPDATE ledger_entries SET reconciled = 0 WHERE id = ?`, id)
		if err != nil {
			result.Failed[id] = fmt.Errorf("failed to unreconcile entry %s: %w", id, err)
			continue
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			result.Failed[id] = fmt.Errorf("entry %s: %w", id, ErrNotFound)
			continue
		}
		result.Applied = append(result.Applied, id)
	}
	return result, nil
}

// CreateImportRecord implements Store. The import and its lines are written
// in one transaction.
func (s *SQLiteStore) CreateImportRecord(ctx context.Context, record *ImportRecord) (*ImportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record.Clone()
	imp := stored.Import
	if imp.ID == "" {
		imp.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO statement_imports
		(id, account_id, file_name, file_type, status, total_movements, reconciled_count,
		 period_start, period_end, error_message, archive_uri, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		imp.ID,
		imp.AccountID,
		imp.FileName,
		string(imp.FileType),
		string(imp.Status),
		imp.TotalMovements,
		imp.ReconciledCount,
		nullDate(imp.PeriodStart),
		nullDate(imp.PeriodEnd),
		nullString(imp.ErrorMessage),
		nullString(stored.ArchiveURI),
		imp.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("import %s: %w", imp.ID, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert import: %w", err)
	}

	for i, line := range stored.Lines {
		line.ImportID = imp.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO statement_lines
			(import_id, id, position, date, description, amount, direction, linked_entry_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			imp.ID,
			line.ID,
			i,
			line.Date.Format(models.DateLayout),
			line.Description,
			line.Amount.String(),
			string(line.Direction),
			nullString(line.LinkedID()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert line %s: %w", line.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}

	return stored, nil
}

const importColumns = `id, account_id, file_name, file_type, status, total_movements, reconciled_count,
	period_start, period_end, error_message, created_at`

// GetImportRecord implements Store
func (s *SQLiteStore) GetImportRecord(ctx context.Context, id string) (*ImportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var archiveURI sql.NullString
	imp, err := scanImport(s.db.QueryRowContext(ctx,
		`SELECT `+importColumns+`, archive_uri FROM statement_imports WHERE id = ?`, id), &archiveURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("import %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read import %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, description, amount, direction, linked_entry_id
		FROM statement_lines WHERE import_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	record := &ImportRecord{Import: imp, ArchiveURI: archiveURI.String}
	for rows.Next() {
		var (
			lineID, date, description, amount, direction string
			linked                                       sql.NullString
		)
		if err := rows.Scan(&lineID, &date, &description, &amount, &direction, &linked); err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}

		line := &models.StatementLine{
			ID:          lineID,
			ImportID:    id,
			Description: description,
			Direction:   models.Direction(direction),
		}
		if line.Date, err = time.Parse(models.DateLayout, date); err != nil {
			return nil, fmt.Errorf("line %s has invalid date %q: %w", lineID, date, err)
		}
		if line.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("line %s has invalid amount %q: %w", lineID, amount, err)
		}
		if linked.Valid {
			line.Link(linked.String)
		}
		record.Lines = append(record.Lines, line)
	}

	return record, rows.Err()
}

// ListImportRecords implements Store
func (s *SQLiteStore) ListImportRecords(ctx context.Context, accountID string) ([]*models.StatementImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + importColumns + ` FROM statement_imports`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query imports: %w", err)
	}
	defer rows.Close()

	var result []*models.StatementImport
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import: %w", err)
		}
		result = append(result, imp)
	}
	return result, rows.Err()
}

// DeleteImportRecord implements Store. Lines go with the import through the
// foreign key cascade.
func (s *SQLiteStore) DeleteImportRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM statement_imports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete import %s: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("import %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateAccount implements Store
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, branch_number, account_number, tax_id) VALUES (?, ?, ?, ?, ?)`,
		account.ID, account.Name, account.BranchNumber, account.AccountNumber, account.TaxID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("account %s: %w", account.ID, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	stored := *account
	return &stored, nil
}

// GetAccount implements Store
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account := &models.Account{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, branch_number, account_number, tax_id FROM accounts WHERE id = ?`, id).
		Scan(&account.ID, &account.Name, &account.BranchNumber, &account.AccountNumber, &account.TaxID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account %s: %w", id, err)
	}
	return account, nil
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]*models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var (
			id, description, amount, kind, date string
			reconciled                          int
			accountID                           sql.NullString
		)
		if err := rows.Scan(&id, &description, &amount, &kind, &date, &reconciled, &accountID); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		entry := &models.LedgerEntry{
			ID:          id,
			Description: description,
			Kind:        models.EntryKind(kind),
			Reconciled:  reconciled != 0,
		}
		if entry.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("entry %s has invalid amount %q: %w", id, amount, err)
		}
		if entry.TransactionDate, err = time.Parse(models.DateLayout, date); err != nil {
			return nil, fmt.Errorf("entry %s has invalid date %q: %w", id, date, err)
		}
		if accountID.Valid {
			acc := accountID.String
			entry.AccountID = &acc
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanImport reads importColumns; extra receives any columns selected after them
func scanImport(row rowScanner, extra ...any) (*models.StatementImport, error) {
	var (
		imp                                  models.StatementImport
		fileType, status, createdAt          string
		periodStart, periodEnd, errorMessage sql.NullString
	)
	dest := []any{&imp.ID, &imp.AccountID, &imp.FileName, &fileType, &status,
		&imp.TotalMovements, &imp.ReconciledCount, &periodStart, &periodEnd, &errorMessage, &createdAt}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	imp.FileType = models.FileType(fileType)
	imp.Status = models.ImportStatus(status)
	imp.ErrorMessage = errorMessage.String
	if imp.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return nil, fmt.Errorf("import %s has invalid created_at %q: %w", imp.ID, createdAt, err)
	}
	if periodStart.Valid {
		if imp.PeriodStart, err = time.Parse(models.DateLayout, periodStart.String); err != nil {
			return nil, err
		}
	}
	if periodEnd.Valid {
		if imp.PeriodEnd, err = time.Parse(models.DateLayout, periodEnd.String); err != nil {
			return nil, err
		}
	}
	return &imp, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(models.DateLayout), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
