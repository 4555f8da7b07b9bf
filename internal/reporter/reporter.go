// Package reporter renders statement imports for the operator.
//
// Supported output formats:
//   - Console: human-readable sections and aligned tables for the terminal
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per statement line for spreadsheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(view, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"statement-reconciler/internal/matcher"
	"statement-reconciler/internal/models"
	"statement-reconciler/internal/parsers"
	"statement-reconciler/internal/reconciler"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeReconciledLines bool `json:"include_reconciled_lines" mapstructure:"include_reconciled_lines"`
	IncludeAmbiguities     bool `json:"include_ambiguities" mapstructure:"include_ambiguities"`
	IncludeSkippedRecords  bool `json:"include_skipped_records" mapstructure:"include_skipped_records"`

	// Console formatting options
	TableMaxWidth int `json:"table_max_width" mapstructure:"table_max_width"`
	// MaxLines caps the console line table; 0 shows every line
	MaxLines int `json:"max_lines" mapstructure:"max_lines"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`

	SortByAmount bool `json:"sort_by_amount" mapstructure:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeReconciledLines: true,
		IncludeAmbiguities:     true,
		IncludeSkippedRecords:  true,
		TableMaxWidth:          120,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxLines < 0 {
		return fmt.Errorf("max lines cannot be negative, got %d", c.MaxLines)
	}

	return nil
}

// ReportGenerator renders sessions, import lists and candidate lists
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport writes the report of one import session
func (rg *ReportGenerator) GenerateReport(view *reconciler.SessionView, writer io.Writer) error {
	if view == nil || view.Import == nil {
		return fmt.Errorf("session view cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(view, writer)
	case FormatJSON:
		return writeJSON(rg.filterViewForOutput(view), writer)
	case FormatCSV:
		return rg.generateCSVReport(view, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(view *reconciler.SessionView, writer io.Writer) error {
	imp := view.Import

	fmt.Fprintf(writer, "STATEMENT IMPORT %s\n", imp.ID)
	fmt.Fprintf(writer, "File:     %s (%s)\n", imp.FileName, imp.FileType)
	if imp.AccountID != "" {
		fmt.Fprintf(writer, "Account:  %s\n", imp.AccountID)
	}
	if view.Period != "" {
		fmt.Fprintf(writer, "Period:   %s\n", view.Period)
	}
	fmt.Fprintf(writer, "Status:   %s\n", strings.ToUpper(imp.Status.String()))
	if imp.ErrorMessage != "" {
		fmt.Fprintf(writer, "Error:    %s\n", imp.ErrorMessage)
	}
	if view.ArchiveURI != "" {
		fmt.Fprintf(writer, "Archived: %s\n", view.ArchiveURI)
	}
	fmt.Fprintf(writer, "\n")

	if len(view.Lines) == 0 {
		return nil
	}

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(view, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== LINES ===\n")
	if err := rg.printLines(view, writer); err != nil {
		return err
	}
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeAmbiguities && len(view.Ambiguities) > 0 {
		fmt.Fprintf(writer, "=== AMBIGUOUS MATCHES ===\n")
		for _, a := range view.Ambiguities {
			fmt.Fprintf(writer, "  - %s\n", a.String())
		}
		for _, d := range view.Duplicates {
			fmt.Fprintf(writer, "  - %s: %s (%s)\n", d.GroupID, strings.Join(d.LineIDs, ", "), d.Reason)
		}
		fmt.Fprintf(writer, "\n")
	}

	if len(view.Notes) > 0 || len(view.OrphanedEntries) > 0 {
		fmt.Fprintf(writer, "=== NOTES ===\n")
		for _, n := range view.Notes {
			fmt.Fprintf(writer, "  - %s\n", n)
		}
		for _, id := range view.OrphanedEntries {
			fmt.Fprintf(writer, "  - entry %s was created but is not reconciled\n", id)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeSkippedRecords && len(view.Skipped) > 0 {
		fmt.Fprintf(writer, "=== SKIPPED RECORDS (%d) ===\n", len(view.Skipped))
		for _, r := range view.Skipped {
			fmt.Fprintf(writer, "  - %s\n", r.Error())
		}
		fmt.Fprintf(writer, "\n")
	}

	return nil
}

func (rg *ReportGenerator) printSummary(view *reconciler.SessionView, writer io.Writer) {
	imp := view.Import
	open := imp.TotalMovements - imp.ReconciledCount

	fmt.Fprintf(writer, "Movements:    %d\n", imp.TotalMovements)
	fmt.Fprintf(writer, "Reconciled:   %d (%.1f%%)\n", imp.ReconciledCount, calculatePercentage(imp.ReconciledCount, imp.TotalMovements))
	fmt.Fprintf(writer, "Open:         %d (%.1f%%)\n", open, calculatePercentage(open, imp.TotalMovements))

	credits, debits := decimal.Zero, decimal.Zero
	for _, l := range view.Lines {
		if l.Direction == models.DirectionCredit {
			credits = credits.Add(l.Amount)
		} else {
			debits = debits.Add(l.Amount)
		}
	}
	fmt.Fprintf(writer, "Credits:      %s\n", credits.StringFixed(2))
	fmt.Fprintf(writer, "Debits:       %s\n", debits.StringFixed(2))
	fmt.Fprintf(writer, "Net:          %s\n", credits.Sub(debits).StringFixed(2))

	if len(view.Matches) > 0 {
		exact, within := 0, 0
		for _, m := range view.Matches {
			if m.MatchType == matcher.MatchExact {
				exact++
			} else {
				within++
			}
		}
		fmt.Fprintf(writer, "Auto-matched: %d (%d exact, %d within tolerance)\n", len(view.Matches), exact, within)
	}
}

func (rg *ReportGenerator) printLines(view *reconciler.SessionView, writer io.Writer) error {
	lines := rg.selectLines(view)
	if len(lines) == 0 {
		fmt.Fprintf(writer, "All lines reconciled\n")
		return nil
	}

	descWidth := rg.config.TableMaxWidth - 70
	if descWidth < 12 {
		descWidth = 12
	}

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tDATE\tDESCRIPTION\tAMOUNT\tSTATUS\tENTRY")
	for i, l := range lines {
		if rg.config.MaxLines > 0 && i >= rg.config.MaxLines {
			fmt.Fprintf(tw, "...\t\t%d more\t\t\t\n", len(lines)-rg.config.MaxLines)
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID,
			l.Date.Format(models.DateLayout),
			truncate(l.Description, descWidth),
			signedAmount(l),
			lineStatus(l),
			l.LinkedID(),
		)
	}
	return tw.Flush()
}

func (rg *ReportGenerator) selectLines(view *reconciler.SessionView) []*models.StatementLine {
	var lines []*models.StatementLine
	for _, l := range view.Lines {
		if l.Reconciled && !rg.config.IncludeReconciledLines {
			continue
		}
		lines = append(lines, l)
	}
	if rg.config.SortByAmount {
		sort.SliceStable(lines, func(i, j int) bool {
			return lines[i].Amount.GreaterThan(lines[j].Amount)
		})
	}
	return lines
}

func (rg *ReportGenerator) generateCSVReport(view *reconciler.SessionView, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{
			"Import_ID",
			"Line_ID",
			"Date",
			"Description",
			"Direction",
			"Amount",
			"Status",
			"Linked_Entry",
			"Match_Type",
			"Amount_Difference",
			"Day_Difference",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	matches := make(map[string]*matcher.MatchResult, len(view.Matches))
	for _, m := range view.Matches {
		matches[m.LineID] = m
	}

	for _, l := range rg.selectLines(view) {
		record := []string{
			view.Import.ID,
			l.ID,
			l.Date.Format(models.DateLayout),
			l.Description,
			l.Direction.String(),
			l.Amount.StringFixed(2),
			lineStatus(l),
			l.LinkedID(),
			"",
			"",
			"",
		}
		if m, ok := matches[l.ID]; ok && m.EntryID == l.LinkedID() {
			record[8] = m.MatchType.String()
			record[9] = m.AmountDifference.String()
			record[10] = strconv.Itoa(m.DayDifference)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write line %s: %w", l.ID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// GenerateImportList writes a list of imports
func (rg *ReportGenerator) GenerateImportList(imports []*models.StatementImport, writer io.Writer) error {
	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(map[string]interface{}{"imports": imports}, writer)
	case FormatCSV:
		csvWriter := csv.NewWriter(writer)
		csvWriter.Comma = rg.config.CSVDelimiter
		if rg.config.CSVHeaders {
			_ = csvWriter.Write([]string{"Import_ID", "Account", "File", "Status", "Reconciled", "Total", "Period_Start", "Period_End", "Created_At"})
		}
		for _, imp := range imports {
			_ = csvWriter.Write([]string{
				imp.ID,
				imp.AccountID,
				imp.FileName,
				imp.Status.String(),
				strconv.Itoa(imp.ReconciledCount),
				strconv.Itoa(imp.TotalMovements),
				formatDate(imp.PeriodStart),
				formatDate(imp.PeriodEnd),
				imp.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		csvWriter.Flush()
		return csvWriter.Error()
	}

	if len(imports) == 0 {
		fmt.Fprintf(writer, "No imports found\n")
		return nil
	}

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IMPORT\tACCOUNT\tFILE\tSTATUS\tRECONCILED\tPERIOD\tCREATED")
	for _, imp := range imports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s..%s\t%s\n",
			imp.ID,
			imp.AccountID,
			imp.FileName,
			imp.Status,
			imp.ReconciledCount,
			imp.TotalMovements,
			formatDate(imp.PeriodStart),
			formatDate(imp.PeriodEnd),
			imp.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return tw.Flush()
}

// GenerateCandidates writes the ledger entries a line may be linked to
func (rg *ReportGenerator) GenerateCandidates(line *models.StatementLine, entries []*models.LedgerEntry, writer io.Writer) error {
	if rg.config.Format == FormatJSON {
		return writeJSON(map[string]interface{}{"line": line, "candidates": entries}, writer)
	}

	fmt.Fprintf(writer, "Candidates for %s %s %s %s\n",
		line.ID, line.Date.Format(models.DateLayout), signedAmount(line), line.Description)
	if len(entries) == 0 {
		fmt.Fprintf(writer, "  none; create a new entry instead\n")
		return nil
	}

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tENTRY\tDATE\tDESCRIPTION\tAMOUNT\tDIFF\tDAYS")
	for i, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
			i+1,
			e.ID,
			e.TransactionDate.Format(models.DateLayout),
			truncate(e.Description, 40),
			e.Amount.StringFixed(2),
			e.Amount.Sub(line.Amount).Abs().StringFixed(2),
			models.DaysBetween(e.TransactionDate, line.Date),
		)
	}
	return tw.Flush()
}

// GenerateEntryList writes ledger entries
func (rg *ReportGenerator) GenerateEntryList(entries []*models.LedgerEntry, writer io.Writer) error {
	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(map[string]interface{}{"entries": entries}, writer)
	case FormatCSV:
		csvWriter := csv.NewWriter(writer)
		csvWriter.Comma = rg.config.CSVDelimiter
		if rg.config.CSVHeaders {
			_ = csvWriter.Write([]string{"Entry_ID", "Date", "Description", "Kind", "Amount", "Reconciled", "Account"})
		}
		for _, e := range entries {
			account := ""
			if e.AccountID != nil {
				account = *e.AccountID
			}
			_ = csvWriter.Write([]string{
				e.ID,
				e.TransactionDate.Format(models.DateLayout),
				e.Description,
				e.Kind.String(),
				e.Amount.StringFixed(2),
				strconv.FormatBool(e.Reconciled),
				account,
			})
		}
		csvWriter.Flush()
		return csvWriter.Error()
	}

	if len(entries) == 0 {
		fmt.Fprintf(writer, "No ledger entries found\n")
		return nil
	}

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tDATE\tDESCRIPTION\tKIND\tAMOUNT\tRECONCILED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
			e.ID,
			e.TransactionDate.Format(models.DateLayout),
			truncate(e.Description, 40),
			e.Kind,
			e.Amount.StringFixed(2),
			e.Reconciled,
		)
	}
	return tw.Flush()
}

// GenerateStatement writes the content of a decoded statement
func (rg *ReportGenerator) GenerateStatement(stmt *parsers.Statement, writer io.Writer) error {
	if stmt == nil {
		return fmt.Errorf("statement cannot be nil")
	}

	if rg.config.Format == FormatJSON {
		output := map[string]interface{}{"movements": stmt.Movements}
		if stmt.Meta != nil {
			output["bank_meta"] = stmt.Meta
		}
		if len(stmt.Skipped) > 0 {
			skipped := make([]string, len(stmt.Skipped))
			for i, r := range stmt.Skipped {
				skipped[i] = r.Error()
			}
			output["skipped"] = skipped
		}
		return writeJSON(output, writer)
	}

	if stmt.Meta != nil && !stmt.Meta.IsEmpty() {
		fmt.Fprintf(writer, "Bank: %s  Branch: %s  Account: %s  Tax ID: %s\n\n",
			stmt.Meta.BankID, stmt.Meta.BranchNumber, stmt.Meta.AccountNumber, stmt.Meta.TaxID)
	}

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDATE\tDESCRIPTION\tAMOUNT")
	for i, m := range stmt.Movements {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, m.Date.Format(models.DateLayout), truncate(m.Description, 50), m.Amount.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(writer, "\n%d movements\n", len(stmt.Movements))

	if rg.config.IncludeSkippedRecords && len(stmt.Skipped) > 0 {
		fmt.Fprintf(writer, "\n=== SKIPPED RECORDS (%d) ===\n", len(stmt.Skipped))
		for _, r := range stmt.Skipped {
			fmt.Fprintf(writer, "  - %s\n", r.Error())
		}
	}
	return nil
}

// Helper methods

func (rg *ReportGenerator) filterViewForOutput(view *reconciler.SessionView) map[string]interface{} {
	output := map[string]interface{}{
		"import":    view.Import,
		"lines":     rg.selectLines(view),
		"persisted": view.Persisted,
	}

	if view.Period != "" {
		output["period"] = view.Period
	}
	if view.Meta != nil {
		output["bank_meta"] = view.Meta
	}
	if len(view.Matches) > 0 {
		output["matches"] = view.Matches
	}
	if rg.config.IncludeAmbiguities {
		if len(view.Ambiguities) > 0 {
			output["ambiguities"] = view.Ambiguities
		}
		if len(view.Duplicates) > 0 {
			output["duplicates"] = view.Duplicates
		}
	}
	if len(view.Notes) > 0 {
		output["notes"] = view.Notes
	}
	if len(view.OrphanedEntries) > 0 {
		output["orphaned_entries"] = view.OrphanedEntries
	}
	if rg.config.IncludeSkippedRecords && len(view.Skipped) > 0 {
		skipped := make([]string, len(view.Skipped))
		for i, r := range view.Skipped {
			skipped[i] = r.Error()
		}
		output["skipped"] = skipped
	}
	if view.ArchiveURI != "" {
		output["archive_uri"] = view.ArchiveURI
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func writeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func signedAmount(l *models.StatementLine) string {
	if l.Direction == models.DirectionDebit {
		return "-" + l.Amount.StringFixed(2)
	}
	return l.Amount.StringFixed(2)
}

func lineStatus(l *models.StatementLine) string {
	if l.Reconciled {
		return "reconciled"
	}
	return "open"
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
