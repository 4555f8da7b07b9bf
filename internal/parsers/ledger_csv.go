package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

// LedgerCSVConfig describes the columns of a ledger seed file
type LedgerCSVConfig struct {
	DateColumn        string            `json:"date_column" mapstructure:"date_column"`
	DescriptionColumn string            `json:"description_column" mapstructure:"description_column"`
	AmountColumn      string            `json:"amount_column" mapstructure:"amount_column"`
	KindColumn        string            `json:"kind_column" mapstructure:"kind_column"`
	Delimiter         rune              `json:"delimiter" mapstructure:"delimiter"`
	ColumnAliases     map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
	// MaxErrors stops parsing after this many bad rows; 0 means no limit
	MaxErrors int `json:"max_errors" mapstructure:"max_errors"`
}

// DefaultLedgerCSVConfig returns the column layout of an exported ledger
func DefaultLedgerCSVConfig() *LedgerCSVConfig {
	return &LedgerCSVConfig{
		DateColumn:        "date",
		DescriptionColumn: "description",
		AmountColumn:      "amount",
		KindColumn:        "kind",
		Delimiter:         ',',
	}
}

// Validate checks if the configuration is usable
func (c *LedgerCSVConfig) Validate() error {
	if strings.TrimSpace(c.DateColumn) == "" {
		return fmt.Errorf("date column cannot be empty")
	}
	if strings.TrimSpace(c.AmountColumn) == "" {
		return fmt.Errorf("amount column cannot be empty")
	}
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative")
	}
	return nil
}

// GetColumnName returns the header name for a standard column, checking aliases first
func (c *LedgerCSVConfig) GetColumnName(standardName string) string {
	if alias, exists := c.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "date":
		return c.DateColumn
	case "description":
		return c.DescriptionColumn
	case "amount":
		return c.AmountColumn
	case "kind":
		return c.KindColumn
	default:
		return standardName
	}
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	Errors        []*errors.RecordError
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return len(ps.Errors) > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, len(ps.Errors))
}

// LedgerCSVParser reads ledger entries from CSV for seeding the store
type LedgerCSVParser struct {
	config *LedgerCSVConfig
	logger logger.Logger
}

// NewLedgerCSVParser creates a parser with the given configuration
func NewLedgerCSVParser(config *LedgerCSVConfig) (*LedgerCSVParser, error) {
	if config == nil {
		config = DefaultLedgerCSVConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger_csv", config, err).
			WithSuggestion("check the ledger CSV column settings")
	}

	return &LedgerCSVParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("ledger_csv_parser"),
	}, nil
}

// Parse reads entries from r. source names the input in error messages.
// Rows that cannot be read are skipped and reported in the stats. Files not
// in UTF-8 are read as Windows-1252.
func (p *LedgerCSVParser) Parse(ctx context.Context, r io.Reader, source string) ([]*models.LedgerEntry, *ParseStats, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFileUnreadable, source, err)
	}

	text, err := decodeText(raw, "")
	if err != nil {
		return nil, nil, errors.DecodeError(errors.CodeEncodingError, "csv", err.Error(), err)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = p.config.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, errors.DecodeError(errors.CodeNoTransactions, "csv", "", nil).
				WithSuggestion("the ledger file must have a header row and at least one entry")
		}
		return nil, nil, errors.DecodeError(errors.CodeMalformedStatement, "csv", "cannot read header row", err)
	}

	headerMap := make(map[string]int, len(headers))
	for i, h := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(h))] = i
	}

	column := func(name string) int {
		if idx, ok := headerMap[strings.ToLower(p.config.GetColumnName(name))]; ok {
			return idx
		}
		return -1
	}

	dateIdx, amountIdx := column("date"), column("amount")
	descIdx, kindIdx := column("description"), column("kind")

	var missing []string
	if dateIdx < 0 {
		missing = append(missing, p.config.GetColumnName("date"))
	}
	if amountIdx < 0 {
		missing = append(missing, p.config.GetColumnName("amount"))
	}
	if len(missing) > 0 {
		return nil, nil, errors.DecodeError(errors.CodeMalformedStatement, "csv",
			fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")), nil).
			WithContext("headers", headers)
	}

	stats := &ParseStats{TotalLines: 1}
	collector := errors.NewRecordErrorCollector(p.config.MaxErrors)
	var entries []*models.LedgerEntry

	get := func(record []string, idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	for {
		if err := ctx.Err(); err != nil {
			return entries, stats, errors.InternalError("ledger_csv_parsing", err)
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		stats.TotalLines++
		line := stats.TotalLines

		if err != nil {
			if !collector.Add(errors.NewRecordError(&errors.RecordContext{Source: source, Index: line}, "unreadable CSV row", err)) {
				break
			}
			continue
		}
		if isEmptyRecord(record) {
			continue
		}
		stats.RecordsParsed++

		entry, recErr := p.entryFromRecord(source, line,
			get(record, dateIdx), get(record, descIdx), get(record, amountIdx), get(record, kindIdx))
		if recErr != nil {
			if !collector.Add(recErr) {
				break
			}
			continue
		}

		entries = append(entries, entry)
		stats.RecordsValid++
	}

	stats.Errors = collector.GetErrors()

	p.logger.WithFields(logger.Fields{
		"source":         source,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    len(stats.Errors),
	}).Info("Ledger CSV parsing completed")

	return entries, stats, nil
}

// entryFromRecord builds an unreconciled entry. A missing kind column is
// derived from the amount sign, negative meaning expense.
func (p *LedgerCSVParser) entryFromRecord(source string, line int, date, description, amount, kind string) (*models.LedgerEntry, *errors.RecordError) {
	txDate, err := models.ParseDateWithFormats(date)
	if err != nil {
		return nil, errors.InvalidRecordDate(source, line, p.config.GetColumnName("date"), date)
	}

	value, err := models.ParseDecimalFromString(amount)
	if err != nil {
		return nil, errors.InvalidRecordAmount(source, line, p.config.GetColumnName("amount"), amount)
	}

	var entryKind models.EntryKind
	if kind != "" {
		entryKind, err = models.ParseEntryKind(kind)
		if err != nil {
			return nil, errors.InvalidRecordField(source, line, p.config.GetColumnName("kind"), kind, "income or expense")
		}
	} else {
		entryKind = models.DirectionFromAmount(value).Kind()
	}

	entry := &models.LedgerEntry{
		Description:     description,
		Amount:          value.Abs().Round(2),
		Kind:            entryKind,
		TransactionDate: txDate,
	}
	if err := entry.Validate(); err != nil {
		return nil, errors.NewRecordError(&errors.RecordContext{Source: source, Index: line}, err.Error(), nil)
	}
	return entry, nil
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
