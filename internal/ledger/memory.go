package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"statement-reconciler/internal/models"
)

// MemoryStore implements Store with in-memory maps. Entries keep their
// insertion order.
type MemoryStore struct {
	mu sync.RWMutex

	entries  map[string]*models.LedgerEntry
	order    []string
	imports  map[string]*ImportRecord
	accounts map[string]*models.Account
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*models.LedgerEntry),
		imports:  make(map[string]*ImportRecord),
		accounts: make(map[string]*models.Account),
	}
}

func (s *MemoryStore) list(accountID string, onlyUnreconciled bool) []*models.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.LedgerEntry
	for _, id := range s.order {
		entry := s.entries[id]
		if onlyUnreconciled && entry.Reconciled {
			continue
		}
		if inScope(entry, accountID) {
			result = append(result, entry.Clone())
		}
	}
	return result
}

// ListUnreconciled implements Store
func (s *MemoryStore) ListUnreconciled(ctx context.Context, accountID string) ([]*models.LedgerEntry, error) {
	return s.list(accountID, true), nil
}

// ListEntries implements Store
func (s *MemoryStore) ListEntries(ctx context.Context, accountID string) ([]*models.LedgerEntry, error) {
	return s.list(accountID, false), nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return entry.Clone(), nil
}

// Create implements Store
func (s *MemoryStore) Create(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := entry.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := s.entries[stored.ID]; exists {
		return nil, fmt.Errorf("entry %s: %w", stored.ID, ErrAlreadyExists)
	}
	stored.TransactionDate = models.DateOnly(stored.TransactionDate)

	s.entries[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return stored.Clone(), nil
}

func (s *MemoryStore) reconcileLocked(id string) error {
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if entry.Reconciled {
		return fmt.Errorf("entry %s: %w", id, ErrAlreadyReconciled)
	}
	entry.Reconciled = true
	return nil
}

// Reconcile implements Store
func (s *MemoryStore) Reconcile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(id)
}

// ReconcileBulk implements Store
func (s *MemoryStore) ReconcileBulk(ctx context.Context, ids []string) (*BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := newBulkResult()
	for _, id := range ids {
		if err := s.reconcileLocked(id); err != nil {
			result.Failed[id] = err
			continue
		}
		result.Applied = append(result.Applied, id)
	}
	return result, nil
}

// UnreconcileBulk implements Store
func (s *MemoryStore) UnreconcileBulk(ctx context.Context, ids []string) (*BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := newBulkResult()
	for _, id := range ids {
		entry, ok := s.entries[id]
		if !ok {
			result.Failed[id] = fmt.Errorf("entry %s: %w", id, ErrNotFound)
			continue
		}
		entry.Reconciled = false
		result.Applied = append(result.Applied, id)
	}
	return result, nil
}

// CreateImportRecord implements Store
func (s *MemoryStore) CreateImportRecord(ctx context.Context, record *ImportRecord) (*ImportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record.Clone()
	if stored.Import.ID == "" {
		stored.Import.ID = uuid.NewString()
	}
	if _, exists := s.imports[stored.Import.ID]; exists {
		return nil, fmt.Errorf("import %s: %w", stored.Import.ID, ErrAlreadyExists)
	}
	for _, line := range stored.Lines {
		line.ImportID = stored.Import.ID
	}

	s.imports[stored.Import.ID] = stored
	return stored.Clone(), nil
}

// GetImportRecord implements Store
func (s *MemoryStore) GetImportRecord(ctx context.Context, id string) (*ImportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.imports[id]
	if !ok {
		return nil, fmt.Errorf("import %s: %w", id, ErrNotFound)
	}
	return record.Clone(), nil
}

// ListImportRecords implements Store
func (s *MemoryStore) ListImportRecords(ctx context.Context, accountID string) ([]*models.StatementImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.StatementImport
	for _, record := range s.imports {
		if accountID == "" || record.Import.AccountID == accountID {
			result = append(result, record.Import.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteImportRecord implements Store
func (s *MemoryStore) DeleteImportRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.imports[id]; !ok {
		return fmt.Errorf("import %s: %w", id, ErrNotFound)
	}
	delete(s.imports, id)
	return nil
}

// CreateAccount implements Store
func (s *MemoryStore) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return nil, fmt.Errorf("account %s: %w", account.ID, ErrAlreadyExists)
	}
	stored := *account
	s.accounts[account.ID] = &stored
	result := stored
	return &result, nil
}

// GetAccount implements Store
func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	result := *account
	return &result, nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
