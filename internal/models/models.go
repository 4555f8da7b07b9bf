package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date layout used in reports and persisted records
const DateLayout = "2006-01-02"

// Direction is the side of a statement movement as seen by the bank
type Direction string

const (
	// DirectionCredit is money coming into the account
	DirectionCredit Direction = "credit"
	// DirectionDebit is money leaving the account
	DirectionDebit Direction = "debit"
)

// String returns the string representation of Direction
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// Kind maps a statement direction onto the ledger entry kind it reconciles against.
func (d Direction) Kind() EntryKind {
	if d == DirectionDebit {
		return KindExpense
	}
	return KindIncome
}

// DirectionFromAmount derives the direction from a signed amount. Zero counts as credit.
func DirectionFromAmount(amount decimal.Decimal) Direction {
	if amount.IsNegative() {
		return DirectionDebit
	}
	return DirectionCredit
}

// EntryKind is the ledger-side classification of an entry
type EntryKind string

const (
	// KindIncome is a receivable/received entry
	KindIncome EntryKind = "income"
	// KindExpense is a payable/paid entry
	KindExpense EntryKind = "expense"
)

// String returns the string representation of EntryKind
func (k EntryKind) String() string {
	return string(k)
}

// IsValid checks if the entry kind is valid
func (k EntryKind) IsValid() bool {
	return k == KindIncome || k == KindExpense
}

// FileType is the declared format of an uploaded statement
type FileType string

const (
	FileTypeOFX FileType = "ofx"
	FileTypePDF FileType = "pdf"
)

// IsValid checks if the file type is supported
func (f FileType) IsValid() bool {
	return f == FileTypeOFX || f == FileTypePDF
}

// ParseFileType parses a file type from a flag value or a file extension
func ParseFileType(s string) (FileType, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	switch FileType(s) {
	case FileTypeOFX, FileTypePDF:
		return FileType(s), nil
	default:
		return "", fmt.Errorf("unsupported file type '%s': must be ofx or pdf", s)
	}
}

// StatementMovement is one dated monetary movement decoded from a statement.
// It has no identity beyond its position in the decoded list.
type StatementMovement struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   Direction       `json:"direction"`
}

// NewStatementMovement creates a movement from a signed amount
func NewStatementMovement(date time.Time, description string, amount decimal.Decimal) *StatementMovement {
	return &StatementMovement{
		Date:        DateOnly(date),
		Description: description,
		Amount:      amount,
		Direction:   DirectionFromAmount(amount),
	}
}

// AbsoluteAmount returns the unsigned amount of the movement
func (m *StatementMovement) AbsoluteAmount() decimal.Decimal {
	return m.Amount.Abs()
}

// String returns a string representation of the movement
func (m *StatementMovement) String() string {
	return fmt.Sprintf("Movement{Date: %s, Amount: %s, Direction: %s, Description: %q}",
		m.Date.Format(DateLayout), m.Amount.String(), m.Direction, m.Description)
}

// BankMeta carries the account identifiers embedded in a statement. Any field may be empty.
type BankMeta struct {
	BankID        string `json:"bank_id,omitempty"`
	BranchNumber  string `json:"branch_number,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	TaxID         string `json:"tax_id,omitempty"`
}

// IsEmpty reports whether the statement exposed no identifiers at all
func (b *BankMeta) IsEmpty() bool {
	return b == nil || (strings.TrimSpace(b.BankID) == "" &&
		strings.TrimSpace(b.BranchNumber) == "" &&
		strings.TrimSpace(b.AccountNumber) == "" &&
		strings.TrimSpace(b.TaxID) == "")
}

// Account is the bank account an import is reconciled against
type Account struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	BranchNumber  string `json:"branch_number,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	TaxID         string `json:"tax_id,omitempty"`
}

// Validate performs basic validation on the Account
func (a *Account) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("account ID cannot be empty")
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("account name cannot be empty")
	}
	return nil
}

// LedgerEntry is a transaction record owned by the ledger store
type LedgerEntry struct {
	ID              string          `json:"id"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Kind            EntryKind       `json:"kind"`
	TransactionDate time.Time       `json:"transaction_date"`
	Reconciled      bool            `json:"reconciled"`
	AccountID       *string         `json:"account_id,omitempty"`
}

// Validate performs basic validation on the LedgerEntry
func (e *LedgerEntry) Validate() error {
	if e.Amount.IsNegative() {
		return fmt.Errorf("ledger entry amount cannot be negative: %s", e.Amount.String())
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid ledger entry kind: %s", e.Kind)
	}
	if e.TransactionDate.IsZero() {
		return fmt.Errorf("ledger entry date cannot be zero")
	}
	return nil
}

// BelongsTo reports whether the entry is scoped to the given account
func (e *LedgerEntry) BelongsTo(accountID string) bool {
	return e.AccountID != nil && *e.AccountID == accountID
}

// Clone returns a copy that does not share the account pointer
func (e *LedgerEntry) Clone() *LedgerEntry {
	c := *e
	if e.AccountID != nil {
		id := *e.AccountID
		c.AccountID = &id
	}
	return &c
}

// String returns a string representation of the LedgerEntry
func (e *LedgerEntry) String() string {
	return fmt.Sprintf("LedgerEntry{ID: %s, Kind: %s, Amount: %s, Date: %s, Reconciled: %t}",
		e.ID, e.Kind, e.Amount.String(), e.TransactionDate.Format(DateLayout), e.Reconciled)
}

// MarshalJSON renders the transaction date as a calendar date
func (e *LedgerEntry) MarshalJSON() ([]byte, error) {
	type Alias LedgerEntry
	return json.Marshal(&struct {
		TransactionDate string `json:"transaction_date"`
		*Alias
	}{
		TransactionDate: e.TransactionDate.Format(DateLayout),
		Alias:           (*Alias)(e),
	})
}

// StatementLine is the review-time projection of one retained movement.
// Reconciled is true exactly when LinkedEntryID is set.
type StatementLine struct {
	ID            string          `json:"id"`
	ImportID      string          `json:"import_id"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     Direction       `json:"direction"`
	Reconciled    bool            `json:"reconciled"`
	LinkedEntryID *string         `json:"linked_entry_id,omitempty"`
}

// NewStatementLine derives an unreconciled line from a movement
func NewStatementLine(id, importID string, m *StatementMovement) *StatementLine {
	return &StatementLine{
		ID:          id,
		ImportID:    importID,
		Date:        DateOnly(m.Date),
		Description: m.Description,
		Amount:      m.Amount.Abs(),
		Direction:   m.Direction,
	}
}

// FormatLineID returns an import-local line ID like "L0007"
func FormatLineID(position int) string {
	return fmt.Sprintf("L%04d", position)
}

// Link marks the line reconciled against entryID
func (l *StatementLine) Link(entryID string) {
	id := entryID
	l.LinkedEntryID = &id
	l.Reconciled = true
}

// Unlink clears the reconciliation of the line
func (l *StatementLine) Unlink() {
	l.LinkedEntryID = nil
	l.Reconciled = false
}

// LinkedID returns the linked entry ID or ""
func (l *StatementLine) LinkedID() string {
	if l.LinkedEntryID == nil {
		return ""
	}
	return *l.LinkedEntryID
}

// Kind returns the ledger kind the line reconciles against
func (l *StatementLine) Kind() EntryKind {
	return l.Direction.Kind()
}

// ToLedgerEntry synthesizes a ledger entry that mirrors the line
func (l *StatementLine) ToLedgerEntry(accountID string) *LedgerEntry {
	entry := &LedgerEntry{
		Description:     l.Description,
		Amount:          l.Amount.Abs(),
		Kind:            l.Kind(),
		TransactionDate: l.Date,
	}
	if accountID != "" {
		id := accountID
		entry.AccountID = &id
	}
	return entry
}

// Clone returns a deep copy of the line
func (l *StatementLine) Clone() *StatementLine {
	c := *l
	if l.LinkedEntryID != nil {
		id := *l.LinkedEntryID
		c.LinkedEntryID = &id
	}
	return &c
}

// MarshalJSON renders the line date as a calendar date
func (l *StatementLine) MarshalJSON() ([]byte, error) {
	type Alias StatementLine
	return json.Marshal(&struct {
		Date string `json:"date"`
		*Alias
	}{
		Date:  l.Date.Format(DateLayout),
		Alias: (*Alias)(l),
	})
}

// ImportStatus is the lifecycle state of a statement import
type ImportStatus string

const (
	StatusProcessing ImportStatus = "processing"
	StatusPending    ImportStatus = "pending"
	StatusConcluded  ImportStatus = "concluded"
	StatusConfirmed  ImportStatus = "confirmed"
	StatusError      ImportStatus = "error"
)

// String returns the string representation of ImportStatus
func (s ImportStatus) String() string {
	return string(s)
}

// IsReviewable reports whether lines can still be linked or unlinked
func (s ImportStatus) IsReviewable() bool {
	return s == StatusPending || s == StatusConcluded
}

// IsDeletable reports whether the import may be reversed
func (s ImportStatus) IsDeletable() bool {
	return s == StatusPending || s == StatusConcluded || s == StatusConfirmed
}

// ReviewStatus returns pending or concluded for the given counters
func ReviewStatus(reconciled, total int) ImportStatus {
	if reconciled >= total {
		return StatusConcluded
	}
	return StatusPending
}

// StatementImport is the record of one statement upload
type StatementImport struct {
	ID              string       `json:"id"`
	AccountID       string       `json:"account_id"`
	FileName        string       `json:"file_name"`
	FileType        FileType     `json:"file_type"`
	Status          ImportStatus `json:"status"`
	TotalMovements  int          `json:"total_movements"`
	ReconciledCount int          `json:"reconciled_count"`
	PeriodStart     time.Time    `json:"period_start"`
	PeriodEnd       time.Time    `json:"period_end"`
	CreatedAt       time.Time    `json:"created_at"`
	ErrorMessage    string       `json:"error_message,omitempty"`
}

// Clone returns a copy of the import record
func (i *StatementImport) Clone() *StatementImport {
	c := *i
	return &c
}

// String returns a string representation of the StatementImport
func (i *StatementImport) String() string {
	return fmt.Sprintf("StatementImport{ID: %s, Status: %s, Reconciled: %d/%d, File: %s}",
		i.ID, i.Status, i.ReconciledCount, i.TotalMovements, i.FileName)
}

// MarshalJSON renders the period as calendar dates
func (i *StatementImport) MarshalJSON() ([]byte, error) {
	type Alias StatementImport
	aux := &struct {
		PeriodStart string `json:"period_start,omitempty"`
		PeriodEnd   string `json:"period_end,omitempty"`
		CreatedAt   string `json:"created_at"`
		*Alias
	}{
		CreatedAt: i.CreatedAt.Format(time.RFC3339),
		Alias:     (*Alias)(i),
	}
	if !i.PeriodStart.IsZero() {
		aux.PeriodStart = i.PeriodStart.Format(DateLayout)
	}
	if !i.PeriodEnd.IsZero() {
		aux.PeriodEnd = i.PeriodEnd.Format(DateLayout)
	}
	return json.Marshal(aux)
}

// Utility functions for type conversion and validation

// DateOnly truncates t to its calendar date at midnight UTC, keeping the
// wall-clock date as written in the source.
func DateOnly(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b
func DaysBetween(a, b time.Time) int {
	diff := DateOnly(a).Sub(DateOnly(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// ParseDecimalFromString parses an amount written either as 1234.56, 1,234.56
// or the Brazilian 1.234,56, with optional currency symbol.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.NewReplacer("R$", "", "$", "", " ", "", "\u00a0", "").Replace(s)

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma > lastDot:
		// comma is the decimal separator
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastDot > lastComma:
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseEntryKind parses and validates an entry kind from string
func ParseEntryKind(s string) (EntryKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "receita", "credit", "c":
		return KindIncome, nil
	case "expense", "despesa", "debit", "d":
		return KindExpense, nil
	default:
		return "", fmt.Errorf("invalid entry kind '%s': must be income or expense", s)
	}
}

// ParseDateWithFormats attempts to parse a calendar date using the layouts
// statements and extraction services commonly emit.
func ParseDateWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		DateLayout,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"02/01/2006",
		"02/01/06",
		"02-01-2006",
		"2006/01/02",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return DateOnly(t), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	return diff.LessThanOrEqual(tolerance)
}
