package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"statement-reconciler/internal/matcher"
	"statement-reconciler/internal/models"
	"statement-reconciler/internal/parsers"
	"statement-reconciler/internal/reconciler"
	"statement-reconciler/pkg/logger"
)

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:        "default config",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      DefaultReportConfig(),
			expectError: false,
		},
		{
			name: "invalid format",
			config: &ReportConfig{
				Format:        "invalid",
				TableMaxWidth: 120,
			},
			expectError: true,
		},
		{
			name: "table width too small",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 30,
			},
			expectError: true,
		},
		{
			name: "negative max lines",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 120,
				MaxLines:      -1,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if generator == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("expected IsValid() = %v for format %s", tt.valid, tt.format)
			}
		})
	}
}

func createSampleView() *reconciler.SessionView {
	date := func(d int) time.Time { return time.Date(2024, time.February, d, 0, 0, 0, 0, time.UTC) }
	line := func(pos, day int, description, amount string) *models.StatementLine {
		m := models.NewStatementMovement(date(day), description, decimal.RequireFromString(amount))
		return models.NewStatementLine(models.FormatLineID(pos), "imp-1", m)
	}

	l1 := line(1, 1, "SALARIO", "1000.00")
	l1.Link("entry-salary")
	l2 := line(2, 3, "ALUGUEL", "-150.00")
	l2.Link("entry-rent")
	l3 := line(3, 25, "PADARIA, CENTRO", "-12.50")

	return &reconciler.SessionView{
		Import: &models.StatementImport{
			ID:              "imp-1",
			AccountID:       "acc-1",
			FileName:        "extrato-fev.ofx",
			FileType:        models.FileTypeOFX,
			Status:          models.StatusPending,
			TotalMovements:  3,
			ReconciledCount: 2,
			PeriodStart:     date(1),
			PeriodEnd:       date(25),
			CreatedAt:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		Lines:  []*models.StatementLine{l1, l2, l3},
		Period: "02/2024",
		Matches: []*matcher.MatchResult{
			{LineID: "L0001", EntryID: "entry-salary", MatchType: matcher.MatchClose, AmountDifference: decimal.Zero, DayDifference: 1},
			{LineID: "L0002", EntryID: "entry-rent", MatchType: matcher.MatchExact, AmountDifference: decimal.Zero},
		},
		Ambiguities: []*matcher.Ambiguity{
			{LineID: "L0002", Description: "ALUGUEL", ChosenID: "entry-rent", Alternatives: []string{"entry-rent-2"}},
		},
		Notes: []string{"line L0004: matched entry x could not be reconciled"},
	}
}

func TestGenerateReport(t *testing.T) {
	view := createSampleView()

	tests := []struct {
		name        string
		config      *ReportConfig
		view        *reconciler.SessionView
		expectError bool
		checkOutput func(t *testing.T, output string)
	}{
		{
			name:   "console format",
			config: DefaultReportConfig(),
			view:   view,
			checkOutput: func(t *testing.T, output string) {
				for _, section := range []string{"STATEMENT IMPORT imp-1", "Status:   PENDING", "=== SUMMARY ===", "=== LINES ===", "=== AMBIGUOUS MATCHES ===", "=== NOTES ==="} {
					if !strings.Contains(output, section) {
						t.Errorf("console output should contain %q", section)
					}
				}
				if !strings.Contains(output, "-150.00") {
					t.Errorf("debits should be shown with a sign")
				}
				if !strings.Contains(output, "Net:          837.50") {
					t.Errorf("unexpected net amount in:\n%s", output)
				}
				if !strings.Contains(output, "Auto-matched: 2 (1 exact, 1 within tolerance)") {
					t.Errorf("missing match breakdown in:\n%s", output)
				}
			},
		},
		{
			name: "JSON format",
			config: &ReportConfig{
				Format:                 FormatJSON,
				IncludeReconciledLines: true,
				TableMaxWidth:          120,
			},
			view: view,
			checkOutput: func(t *testing.T, output string) {
				var jsonData map[string]interface{}
				if err := json.Unmarshal([]byte(output), &jsonData); err != nil {
					t.Fatalf("output should be valid JSON: %v", err)
				}
				for _, key := range []string{"import", "lines", "matches", "notes"} {
					if _, exists := jsonData[key]; !exists {
						t.Errorf("JSON output should contain %s", key)
					}
				}
				if _, exists := jsonData["ambiguities"]; exists {
					t.Errorf("ambiguities should be left out when disabled")
				}
				imp := jsonData["import"].(map[string]interface{})
				if imp["period_start"] != "2024-02-01" {
					t.Errorf("expected calendar date, got %v", imp["period_start"])
				}
			},
		},
		{
			name: "CSV format with open lines only",
			config: &ReportConfig{
				Format:        FormatCSV,
				CSVHeaders:    true,
				CSVDelimiter:  ';',
				TableMaxWidth: 120,
			},
			view: view,
			checkOutput: func(t *testing.T, output string) {
				r := csv.NewReader(strings.NewReader(output))
				r.Comma = ';'
				records, err := r.ReadAll()
				if err != nil {
					t.Fatalf("output should be valid CSV: %v", err)
				}
				if len(records) != 2 {
					t.Fatalf("expected header and one open line, got %d records", len(records))
				}
				if records[0][1] != "Line_ID" {
					t.Errorf("unexpected header %v", records[0])
				}
				if records[1][1] != "L0003" || records[1][3] != "PADARIA, CENTRO" || records[1][6] != "open" {
					t.Errorf("unexpected row %v", records[1])
				}
			},
		},
		{
			name:        "nil view",
			config:      DefaultReportConfig(),
			view:        nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if err != nil {
				t.Fatalf("failed to create report generator: %v", err)
			}

			var buffer bytes.Buffer
			err = generator.GenerateReport(tt.view, &buffer)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkOutput != nil {
				tt.checkOutput(t, buffer.String())
			}
		})
	}
}

func TestCSVMatchColumns(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	generator, _ := NewReportGenerator(config)

	var buffer bytes.Buffer
	if err := generator.GenerateReport(createSampleView(), &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := csv.NewReader(&buffer).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[1][8] != "Close" || records[1][10] != "1" {
		t.Errorf("expected match details on L0001, got %v", records[1])
	}
	if records[3][8] != "" {
		t.Errorf("open line should have no match details, got %v", records[3])
	}
}

func TestConsoleMaxLines(t *testing.T) {
	config := DefaultReportConfig()
	config.MaxLines = 1
	generator, _ := NewReportGenerator(config)

	var buffer bytes.Buffer
	if err := generator.GenerateReport(createSampleView(), &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buffer.String(), "2 more") {
		t.Errorf("expected truncated line table, got:\n%s", buffer.String())
	}
}

func TestErrorSessionReport(t *testing.T) {
	view := &reconciler.SessionView{
		Import: &models.StatementImport{
			ID:           "imp-2",
			FileName:     "wrong.ofx",
			FileType:     models.FileTypeOFX,
			Status:       models.StatusError,
			ErrorMessage: "statement account '123456' does not match account account '654321'",
		},
	}

	generator, _ := NewReportGenerator(nil)
	var buffer bytes.Buffer
	if err := generator.GenerateReport(view, &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buffer.String()
	if !strings.Contains(output, "Status:   ERROR") || !strings.Contains(output, "Error:    statement account") {
		t.Errorf("error sessions should show the failure, got:\n%s", output)
	}
	if strings.Contains(output, "=== LINES ===") {
		t.Errorf("error sessions have no lines to show")
	}
}

func TestGenerateImportList(t *testing.T) {
	imports := []*models.StatementImport{createSampleView().Import}

	tests := []struct {
		format   OutputFormat
		contains string
	}{
		{FormatConsole, "2/3"},
		{FormatJSON, `"imports"`},
		{FormatCSV, "imp-1,acc-1,extrato-fev.ofx,pending,2,3,2024-02-01,2024-02-25"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			config := DefaultReportConfig()
			config.Format = tt.format
			generator, _ := NewReportGenerator(config)

			var buffer bytes.Buffer
			if err := generator.GenerateImportList(imports, &buffer); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(buffer.String(), tt.contains) {
				t.Errorf("expected %q in:\n%s", tt.contains, buffer.String())
			}
		})
	}

	generator, _ := NewReportGenerator(nil)
	var buffer bytes.Buffer
	_ = generator.GenerateImportList(nil, &buffer)
	if !strings.Contains(buffer.String(), "No imports found") {
		t.Errorf("expected empty list message")
	}
}

func TestGenerateCandidates(t *testing.T) {
	view := createSampleView()
	line := view.Lines[2]
	entries := []*models.LedgerEntry{
		{ID: "entry-bakery", Description: "Padaria", Amount: decimal.RequireFromString("12.00"), Kind: models.KindExpense, TransactionDate: time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)},
	}

	generator, _ := NewReportGenerator(nil)
	var buffer bytes.Buffer
	if err := generator.GenerateCandidates(line, entries, &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buffer.String()
	if !strings.Contains(output, "entry-bakery") || !strings.Contains(output, "0.50") {
		t.Errorf("expected candidate with amount difference, got:\n%s", output)
	}

	buffer.Reset()
	_ = generator.GenerateCandidates(line, nil, &buffer)
	if !strings.Contains(buffer.String(), "create a new entry") {
		t.Errorf("expected hint when there are no candidates")
	}
}

func TestCalculatePercentage(t *testing.T) {
	tests := []struct {
		part     int
		total    int
		expected float64
	}{
		{50, 100, 50.0},
		{0, 100, 0.0},
		{100, 100, 100.0},
		{5, 0, 0.0},
	}

	for _, tt := range tests {
		if got := calculatePercentage(tt.part, tt.total); got != tt.expected {
			t.Errorf("calculatePercentage(%d, %d) = %f, expected %f", tt.part, tt.total, got, tt.expected)
		}
	}
}

func TestUpdateConfiguration(t *testing.T) {
	generator, _ := NewReportGenerator(nil)

	if err := generator.UpdateConfiguration(&ReportConfig{Format: "xml", TableMaxWidth: 120}); err == nil {
		t.Errorf("expected invalid configuration to be rejected")
	}
	if generator.GetConfiguration().Format != FormatConsole {
		t.Errorf("rejected configuration should not be applied")
	}
}

func TestSafeReportGenerator(t *testing.T) {
	safe, err := NewSafeReportGenerator(&ReportConfig{Format: FormatJSON, TableMaxWidth: 120}, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := safe.GenerateReportSafely(nil, &bytes.Buffer{}); err == nil {
		t.Errorf("expected error for missing view")
	}

	path := filepath.Join(t.TempDir(), "report.json")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create report file: %v", err)
	}
	defer file.Close()

	if err := safe.GenerateReportSafely(createSampleView(), file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "xml"}, nil); err == nil {
		t.Errorf("expected configuration error")
	}

	if got := generateBackupPath("/tmp/out/report.csv"); got != "/tmp/out/report_backup.csv" {
		t.Errorf("unexpected backup path %s", got)
	}
}

func TestGenerateEntryList(t *testing.T) {
	account := "acc-1"
	entries := []*models.LedgerEntry{
		{ID: "e1", Description: "Rent", Amount: decimal.RequireFromString("150"), Kind: models.KindExpense, TransactionDate: time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), Reconciled: true, AccountID: &account},
		{ID: "e2", Description: "Salary", Amount: decimal.RequireFromString("1000"), Kind: models.KindIncome, TransactionDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}

	tests := []struct {
		format   OutputFormat
		contains string
	}{
		{FormatConsole, "150.00"},
		{FormatJSON, `"entries"`},
		{FormatCSV, "e1,2024-02-03,Rent,expense,150.00,true,acc-1"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			config := DefaultReportConfig()
			config.Format = tt.format
			generator, _ := NewReportGenerator(config)

			var buffer bytes.Buffer
			if err := generator.GenerateEntryList(entries, &buffer); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(buffer.String(), tt.contains) {
				t.Errorf("expected %q in:\n%s", tt.contains, buffer.String())
			}
		})
	}
}

func TestGenerateStatement(t *testing.T) {
	stmt := &parsers.Statement{
		Meta: &models.BankMeta{BankID: "341", AccountNumber: "12345-6"},
		Movements: []*models.StatementMovement{
			models.NewStatementMovement(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "SALARIO", decimal.RequireFromString("1000")),
			models.NewStatementMovement(time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), "ALUGUEL", decimal.RequireFromString("-150")),
		},
	}

	generator, _ := NewReportGenerator(nil)
	var buffer bytes.Buffer
	if err := generator.GenerateStatement(stmt, &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buffer.String()
	for _, want := range []string{"Bank: 341", "Account: 12345-6", "-150.00", "2 movements"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in:\n%s", want, output)
		}
	}

	if err := generator.GenerateStatement(nil, &buffer); err == nil {
		t.Errorf("expected error for nil statement")
	}
}
