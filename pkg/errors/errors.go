package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryDecode        ErrorCategory = "decode"
	CategoryMismatch      ErrorCategory = "mismatch"
	CategoryEmptyPeriod   ErrorCategory = "empty_period"
	CategoryLink          ErrorCategory = "link"
	CategoryLifecycle     ErrorCategory = "lifecycle"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileUnreadable ErrorCode = "file_unreadable"

	// Decode errors
	CodeUnsupportedFormat  ErrorCode = "unsupported_format"
	CodeMalformedStatement ErrorCode = "malformed_statement"
	CodeEncodingError      ErrorCode = "encoding_error"
	CodeNoTransactions     ErrorCode = "no_transactions"
	CodeExtractorFailed    ErrorCode = "extractor_failed"

	// Identity and period errors
	CodeAccountMismatch ErrorCode = "account_mismatch"
	CodeEmptyPeriod     ErrorCode = "empty_period"

	// Link errors
	CodeEntryNotFound     ErrorCode = "entry_not_found"
	CodeAlreadyReconciled ErrorCode = "already_reconciled"
	CodeKindMismatch      ErrorCode = "kind_mismatch"
	CodeForeignEntry      ErrorCode = "foreign_entry"
	CodeLineNotFound      ErrorCode = "line_not_found"
	CodeLineAlreadyLinked ErrorCode = "line_already_linked"
	CodeLineNotLinked     ErrorCode = "line_not_linked"
	CodeOrphanedEntry     ErrorCode = "orphaned_entry"
	CodeUnreconcileFailed ErrorCode = "unreconcile_failed"

	// Lifecycle errors
	CodeImportNotFound  ErrorCode = "import_not_found"
	CodeInvalidState    ErrorCode = "invalid_state"
	CodeAccountRequired ErrorCode = "account_required"

	// Persistence errors
	CodeStoreFailure   ErrorCode = "store_failure"
	CodeRecordNotFound ErrorCode = "record_not_found"
	CodePartialFailure ErrorCode = "partial_failure"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryDecode, CategoryMismatch, CategoryEmptyPeriod:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryLink, CategoryLifecycle, CategoryPersistence, CategoryInternal:
		return 5
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// ContextString returns a context value formatted as a string, or "" when absent
func (e *ReconcilerError) ContextString(key string) string {
	v, ok := e.Context[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newOrWrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// Specific error constructors

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	default:
		message = fmt.Sprintf("cannot read file: %s", path)
		suggestion = "check the file and try again"
	}

	return newOrWrap(err, CategoryFile, code, message).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// DecodeError reports that a statement could not be turned into movements
func DecodeError(code ErrorCode, fileType string, detail string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeUnsupportedFormat:
		message = fmt.Sprintf("unsupported statement format '%s'", fileType)
		suggestion = "upload an OFX or PDF statement"
	case CodeMalformedStatement:
		message = fmt.Sprintf("malformed %s statement: %s", fileType, detail)
		suggestion = "export the statement again from the bank and retry"
	case CodeEncodingError:
		message = fmt.Sprintf("cannot decode %s statement text: %s", fileType, detail)
		suggestion = "check the CHARSET declared in the statement header"
	case CodeNoTransactions:
		message = "no transactions recognized"
		suggestion = "check that the file is a bank statement with at least one movement"
	case CodeExtractorFailed:
		message = fmt.Sprintf("statement extraction failed: %s", detail)
		suggestion = "retry later or upload the OFX export instead"
	default:
		message = fmt.Sprintf("cannot decode %s statement: %s", fileType, detail)
		suggestion = "check the file format"
	}

	return newOrWrap(err, CategoryDecode, code, message).
		WithSuggestion(suggestion).
		WithContext("file_type", fileType)
}

// MismatchError reports the first identity field on which the statement and
// the target account disagree. Expected and found are the normalized values.
func MismatchError(field, expected, found string) *ReconcilerError {
	return New(CategoryMismatch, CodeAccountMismatch,
		fmt.Sprintf("statement %s '%s' does not match account %s '%s'", field, found, field, expected)).
		WithSuggestion("select the account this statement belongs to").
		WithContext("field", field).
		WithContext("expected", expected).
		WithContext("found", found)
}

// EmptyPeriodError reports that no movement falls inside the requested month
func EmptyPeriodError(month, year, decoded int) *ReconcilerError {
	return New(CategoryEmptyPeriod, CodeEmptyPeriod,
		fmt.Sprintf("no movements in period %02d/%04d", month, year)).
		WithSuggestion("check the month and year selected for this statement").
		WithContext("month", month).
		WithContext("year", year).
		WithContext("decoded_movements", decoded)
}

// LinkError reports a rejected manual link, create or unlink
func LinkError(code ErrorCode, lineID, entryID string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeEntryNotFound:
		message = fmt.Sprintf("ledger entry %s not found", entryID)
		suggestion = "list candidates again and pick an existing entry"
	case CodeAlreadyReconciled:
		message = fmt.Sprintf("ledger entry %s is already reconciled", entryID)
		suggestion = "list candidates again; another import may have claimed it"
	case CodeKindMismatch:
		message = fmt.Sprintf("ledger entry %s has the wrong kind for line %s", entryID, lineID)
		suggestion = "credits link to income entries and debits to expense entries"
	case CodeForeignEntry:
		message = fmt.Sprintf("ledger entry %s belongs to another account", entryID)
		suggestion = "pick an entry of the import's account from the candidate list"
	case CodeLineNotFound:
		message = fmt.Sprintf("statement line %s not found", lineID)
		suggestion = "list the import lines to find a valid line id"
	case CodeLineAlreadyLinked:
		message = fmt.Sprintf("statement line %s is already reconciled", lineID)
		suggestion = "unlink the line first"
	case CodeLineNotLinked:
		message = fmt.Sprintf("statement line %s is not reconciled", lineID)
		suggestion = "only reconciled lines can be unlinked"
	case CodeUnreconcileFailed:
		message = fmt.Sprintf("could not unreconcile ledger entry %s", entryID)
		suggestion = "retry the unlink"
	default:
		message = fmt.Sprintf("cannot link line %s", lineID)
		suggestion = "review the line and try again"
	}

	return newOrWrap(err, CategoryLink, code, message).
		WithSuggestion(suggestion).
		WithContext("line_id", lineID).
		WithContext("entry_id", entryID)
}

// OrphanedEntryError reports an entry that was created for a line but could
// not be reconciled afterwards. The entry exists unreconciled in the ledger.
func OrphanedEntryError(lineID, entryID string, err error) *ReconcilerError {
	return newOrWrap(err, CategoryLink, CodeOrphanedEntry,
		fmt.Sprintf("created ledger entry %s for line %s but could not reconcile it", entryID, lineID)).
		WithSuggestion(fmt.Sprintf("link line %s to entry %s manually or remove the entry", lineID, entryID)).
		WithContext("line_id", lineID).
		WithContext("entry_id", entryID)
}

// LifecycleError reports an operation not allowed in the import's current state
func LifecycleError(code ErrorCode, importID string, status string) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeImportNotFound:
		message = fmt.Sprintf("import %s not found", importID)
		suggestion = "check the import id"
	case CodeAccountRequired:
		message = fmt.Sprintf("import %s has no associated account", importID)
		suggestion = "start the import with an account id"
	default:
		message = fmt.Sprintf("import %s cannot be changed in status '%s'", importID, status)
		suggestion = "only pending or concluded imports can be reviewed or confirmed"
	}

	return New(CategoryLifecycle, code, message).
		WithSuggestion(suggestion).
		WithContext("import_id", importID).
		WithContext("status", status)
}

// PersistenceError reports a ledger store failure
func PersistenceError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeRecordNotFound:
		message = fmt.Sprintf("record not found during %s", operation)
		suggestion = "check the identifier"
	case CodePartialFailure:
		message = fmt.Sprintf("%s completed with failures", operation)
		suggestion = "inspect the failed items and retry them individually"
	default:
		message = fmt.Sprintf("ledger store failure during %s", operation)
		suggestion = "check the database path and permissions"
	}

	return newOrWrap(err, CategoryPersistence, code, message).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return newOrWrap(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *ReconcilerError {
	return newOrWrap(err, CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"errors"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errors []*ReconcilerError) *ErrorSummary {
	if len(errors) == 0 {
		return &ErrorSummary{
			Total:      0,
			ByCategory: make(map[ErrorCategory]int),
			ByCode:     make(map[ErrorCode]int),
			Errors:     []*ReconcilerError{},
		}
	}

	summary := &ErrorSummary{
		Total:      len(errors),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errors,
	}

	for _, err := range errors {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errors) > maxSamples {
		summary.SampleErrors = errors[:maxSamples]
	} else {
		summary.SampleErrors = errors
	}

	return summary
}

// Add appends an error to the summary
func (es *ErrorSummary) Add(err *ReconcilerError) {
	if err == nil {
		return
	}
	es.Total++
	es.ByCategory[err.Category]++
	es.ByCode[err.Code]++
	es.Errors = append(es.Errors, err)
	if len(es.SampleErrors) < 5 {
		es.SampleErrors = append(es.SampleErrors, err)
	}
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	count, exists := es.ByCode[code]
	return exists && count > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// AsError returns the summary as an error, or nil when it is empty. The
// summary is wrapped in a persistence error for the given operation so that
// callers get a single categorized error with the per-item details attached.
func (es *ErrorSummary) AsError(operation string) error {
	if es == nil || es.Total == 0 {
		return nil
	}
	return PersistenceError(CodePartialFailure, operation, es).
		WithContext("failed", es.Total)
}

// Utility functions

// IsReconcilerError checks if an error is a ReconcilerError
func IsReconcilerError(err error) bool {
	_, ok := err.(*ReconcilerError)
	return ok
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries a ReconcilerError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Category == category
}

// IsCode reports whether err carries a ReconcilerError with the given code
func IsCode(err error, code ErrorCode) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Code == code
}

// AsSummary extracts an ErrorSummary from an error chain
func AsSummary(err error) (*ErrorSummary, bool) {
	var summary *ErrorSummary
	if errors.As(err, &summary) {
		return summary, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
