// Package reconciler drives the lifecycle of statement imports.
//
// A Manager decodes an uploaded statement, checks it belongs to the target
// account, keeps the movements of the requested month and auto-matches them
// against the unreconciled ledger. The resulting Session is then reviewed
// line by line (link, create, unlink) until it is confirmed or deleted.
//
// Example usage:
//
//	manager, err := reconciler.NewManager(store, parsers.NewDefaultRegistry(nil), nil)
//	if err != nil {
//		return err
//	}
//
//	view, err := manager.StartImport(ctx, &reconciler.ImportRequest{
//		FileName:  "feb.ofx",
//		FileType:  models.FileTypeOFX,
//		Content:   raw,
//		AccountID: "acc-1",
//		Month:     2,
//		Year:      2024,
//	})
//
//	result, err := manager.Confirm(ctx, view.Import.ID)
package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"statement-reconciler/internal/archive"
	"statement-reconciler/internal/ledger"
	"statement-reconciler/internal/matcher"
	"statement-reconciler/internal/models"
	"statement-reconciler/internal/parsers"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

// Config holds configuration options for the import manager
type Config struct {
	// Matching configures the auto-match pass
	Matching *matcher.MatchingConfig

	// AutoMatch disables the auto-match pass when false; every line then
	// starts unreconciled
	AutoMatch bool

	// ArchiveTimeout bounds the best-effort upload of the raw file
	ArchiveTimeout time.Duration
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() *Config {
	return &Config{
		Matching:       matcher.DefaultMatchingConfig(),
		AutoMatch:      true,
		ArchiveTimeout: 30 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching", nil, nil)
	}
	if err := c.Matching.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", c.Matching.String(), err)
	}
	if c.ArchiveTimeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "archive_timeout", c.ArchiveTimeout, nil)
	}
	return nil
}

// ImportRequest describes one statement upload
type ImportRequest struct {
	FileName  string
	FileType  models.FileType
	Content   []byte
	AccountID string
	Month     int
	Year      int
}

// Period returns the requested month
func (r *ImportRequest) Period() models.Period {
	return models.NewPeriod(r.Month, r.Year)
}

// Validate checks the request before anything is decoded
func (r *ImportRequest) Validate() error {
	if !r.FileType.IsValid() {
		return errors.DecodeError(errors.CodeUnsupportedFormat, string(r.FileType), "", nil)
	}
	if len(r.Content) == 0 {
		return errors.DecodeError(errors.CodeMalformedStatement, string(r.FileType), "file is empty", nil)
	}
	period := r.Period()
	if err := period.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "period", fmt.Sprintf("%d/%d", r.Month, r.Year), err)
	}
	return nil
}

// Manager owns the registry of import sessions. Sessions are reviewed one
// operation at a time; the registry itself is safe for concurrent use.
type Manager struct {
	store    ledger.Store
	decoders *parsers.Registry
	matcher  *matcher.AutoMatcher
	archiver archive.Archiver
	config   *Config
	logger   logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	progressCallbacks []ProgressCallback

	now   func() time.Time
	newID func() string
}

// Option customizes a Manager
type Option func(*Manager)

// WithArchiver uploads every decoded statement through a
func WithArchiver(a archive.Archiver) Option {
	return func(m *Manager) {
		if a != nil {
			m.archiver = a
		}
	}
}

// WithClock overrides the time source used for CreatedAt
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides the import ID generator
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// NewManager creates an import manager. A nil config uses DefaultConfig.
func NewManager(store ledger.Store, decoders *parsers.Registry, config *Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "ledger_store", nil, nil).
			WithSuggestion("Provide a ledger store")
	}
	if decoders == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "decoders", nil, nil).
			WithSuggestion("Provide a decoder registry, e.g. parsers.NewDefaultRegistry")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger().WithComponent("import_manager")

	m := &Manager{
		store:    store,
		decoders: decoders,
		matcher:  matcher.NewAutoMatcher(config.Matching),
		archiver: archive.Nop{},
		config:   config,
		logger:   log,
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}

	log.WithFields(logger.Fields{
		"matching":   config.Matching.String(),
		"auto_match": config.AutoMatch,
	}).Debug("Import manager created")

	return m, nil
}

// GetMatchingConfig returns the matching configuration in use
func (m *Manager) GetMatchingConfig() *matcher.MatchingConfig {
	return m.config.Matching
}

// SupportedFileTypes returns the file types the manager can decode
func (m *Manager) SupportedFileTypes() []models.FileType {
	return m.decoders.Supported()
}

// Session returns a snapshot of an in-memory session
func (m *Manager) Session(importID string) (*SessionView, error) {
	s, ok := m.lookup(importID)
	if !ok {
		return nil, errors.LifecycleError(errors.CodeImportNotFound, importID, "")
	}
	return s.View(), nil
}

// Load returns the session for importID, loading a confirmed import from the
// ledger store when it is not held in memory.
func (m *Manager) Load(ctx context.Context, importID string) (*SessionView, error) {
	s, err := m.session(ctx, importID)
	if err != nil {
		return nil, err
	}
	return s.View(), nil
}

// ListImports returns the imports of an account: the persisted ones from the
// ledger store followed by in-memory sessions not yet confirmed. An empty
// accountID lists every import.
func (m *Manager) ListImports(ctx context.Context, accountID string) ([]*models.StatementImport, error) {
	persisted, err := m.store.ListImportRecords(ctx, accountID)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreFailure, "list imports", err)
	}

	seen := make(map[string]bool, len(persisted))
	for _, imp := range persisted {
		seen[imp.ID] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if seen[s.imp.ID] || (accountID != "" && s.imp.AccountID != accountID) {
			continue
		}
		persisted = append(persisted, s.imp.Clone())
	}
	return persisted, nil
}

func (m *Manager) lookup(importID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[importID]
	return s, ok
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.imp.ID] = s
}

func (m *Manager) forget(importID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, importID)
}

// session finds importID in memory or in the ledger store
func (m *Manager) session(ctx context.Context, importID string) (*Session, error) {
	if s, ok := m.lookup(importID); ok {
		return s, nil
	}

	record, err := m.store.GetImportRecord(ctx, importID)
	if err != nil {
		if stderrors.Is(err, ledger.ErrNotFound) {
			return nil, errors.LifecycleError(errors.CodeImportNotFound, importID, "")
		}
		return nil, errors.PersistenceError(errors.CodeStoreFailure, "load import", err)
	}

	s := restoreSession(record)
	m.register(s)
	m.logger.WithField("import_id", importID).Debug("Loaded persisted import")
	return s, nil
}

// reviewable returns the session for importID when its lines may change
func (m *Manager) reviewable(ctx context.Context, importID string) (*Session, error) {
	s, err := m.session(ctx, importID)
	if err != nil {
		return nil, err
	}
	if !s.imp.Status.IsReviewable() {
		return nil, errors.LifecycleError(errors.CodeInvalidState, importID, s.imp.Status.String())
	}
	return s, nil
}

// refreshPool replaces the session's candidate pool with a fresh snapshot of
// the unreconciled ledger. Entries linked by the session's own lines are
// left out.
func (m *Manager) refreshPool(ctx context.Context, s *Session) error {
	entries, err := m.store.ListUnreconciled(ctx, s.imp.AccountID)
	if err != nil {
		return errors.PersistenceError(errors.CodeStoreFailure, "list unreconciled entries", err)
	}
	pool := matcher.NewCandidatePool(entries)
	for id := range s.linkedIDs() {
		pool.Remove(id)
	}
	s.pool = pool
	return nil
}
