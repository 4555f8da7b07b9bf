package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RecordContext locates a single record inside a statement or seed file
type RecordContext struct {
	Source   string `json:"source"`
	Index    int    `json:"index"`
	Field    string `json:"field"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// RecordError is a problem with one record that can be skipped without
// rejecting the whole file.
type RecordError struct {
	*ReconcilerError
	Record *RecordContext `json:"record"`
}

// Error implements the error interface with the record location appended
func (e *RecordError) Error() string {
	if e.Record == nil {
		return e.ReconcilerError.Error()
	}
	location := fmt.Sprintf("at %s #%d", filepath.Base(e.Record.Source), e.Record.Index)
	if e.Record.Field != "" {
		location += fmt.Sprintf(" field '%s'", e.Record.Field)
	}
	return e.ReconcilerError.Error() + " " + location
}

// GetDetailedError returns a multi-line description of the record problem
func (e *RecordError) GetDetailedError() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("ERROR: %s", e.Message))

	if e.Record != nil {
		lines = append(lines, fmt.Sprintf("  → Source: %s", e.Record.Source))
		lines = append(lines, fmt.Sprintf("  → Record: %d", e.Record.Index))
		if e.Record.Field != "" {
			lines = append(lines, fmt.Sprintf("  → Field: %s", e.Record.Field))
		}
		if e.Record.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Record.Value))
		}
		if e.Record.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Record.Expected))
		}
	}

	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}

	return strings.Join(lines, "\n")
}

// NewRecordError creates a record error in the decode category
func NewRecordError(record *RecordContext, message string, cause error) *RecordError {
	base := newOrWrap(cause, CategoryDecode, CodeMalformedStatement, message)
	if record != nil {
		base.WithContext("source", record.Source).
			WithContext("index", record.Index).
			WithContext("field", record.Field).
			WithContext("value", record.Value)
	}
	return &RecordError{ReconcilerError: base, Record: record}
}

// InvalidRecordDate reports a record whose date could not be parsed
func InvalidRecordDate(source string, index int, field, value string) *RecordError {
	err := NewRecordError(&RecordContext{
		Source:   source,
		Index:    index,
		Field:    field,
		Value:    value,
		Expected: "YYYY-MM-DD, DD/MM/YYYY or DD/MM/YY",
	}, fmt.Sprintf("invalid date '%s'", value), nil)
	err.WithSuggestion("use one of the supported date layouts")
	return err
}

// InvalidRecordAmount reports a record whose amount could not be parsed
func InvalidRecordAmount(source string, index int, field, value string) *RecordError {
	err := NewRecordError(&RecordContext{
		Source:   source,
		Index:    index,
		Field:    field,
		Value:    value,
		Expected: "decimal number such as 1234.56 or 1.234,56",
	}, fmt.Sprintf("invalid amount '%s'", value), nil)
	err.WithSuggestion("remove letters and keep a single decimal separator")
	return err
}

// InvalidRecordField reports any other unusable record field
func InvalidRecordField(source string, index int, field, value, expected string) *RecordError {
	return NewRecordError(&RecordContext{
		Source:   source,
		Index:    index,
		Field:    field,
		Value:    value,
		Expected: expected,
	}, fmt.Sprintf("invalid %s '%s'", field, value), nil)
}

// RecordErrorCollector gathers skipped records up to a limit
type RecordErrorCollector struct {
	errors    []*RecordError
	maxErrors int
}

// NewRecordErrorCollector creates a collector. maxErrors <= 0 means unlimited.
func NewRecordErrorCollector(maxErrors int) *RecordErrorCollector {
	return &RecordErrorCollector{
		errors:    make([]*RecordError, 0),
		maxErrors: maxErrors,
	}
}

// Add records err and reports whether processing may continue
func (c *RecordErrorCollector) Add(err *RecordError) bool {
	if err == nil {
		return true
	}
	c.errors = append(c.errors, err)
	return c.maxErrors <= 0 || len(c.errors) < c.maxErrors
}

// HasErrors returns true if any errors have been collected
func (c *RecordErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// Count returns the number of collected errors
func (c *RecordErrorCollector) Count() int {
	return len(c.errors)
}

// GetErrors returns all collected errors
func (c *RecordErrorCollector) GetErrors() []*RecordError {
	return c.errors
}

// GetSummary returns an error summary for all collected errors
func (c *RecordErrorCollector) GetSummary() *ErrorSummary {
	result := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.ReconcilerError
	}
	return NewErrorSummary(result)
}

// FormatRecordErrorsForUser formats skipped records for terminal output
func FormatRecordErrorsForUser(errors []*RecordError) string {
	if len(errors) == 0 {
		return "No skipped records"
	}

	if len(errors) == 1 {
		return errors[0].GetDetailedError()
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Skipped %d records:", len(errors)))

	maxDetailed := 3
	for i, err := range errors {
		if i == maxDetailed {
			lines = append(lines, "", fmt.Sprintf("... and %d more", len(errors)-maxDetailed))
			break
		}
		lines = append(lines, "", err.GetDetailedError())
	}

	return strings.Join(lines, "\n")
}
