package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"statement-reconciler/internal/models"
)

// StatementGenerator writes an OFX statement for one month together with a
// ledger CSV whose entries match part of its movements
type StatementGenerator struct {
	Count         int
	Month         int
	Year          int
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	MatchRatio    float64 // share of movements that get a ledger entry
	DateTolerance int
	Pattern       string // random, ambiguous or drift
	BranchID      string
	AccountID     string

	rng *rand.Rand
}

// movementTemplate is one generated statement movement
type movementTemplate struct {
	FitID       string
	Date        time.Time
	Amount      decimal.Decimal
	Description string
}

// entryTemplate is one generated ledger row
type entryTemplate struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Kind        models.EntryKind
}

func main() {
	var (
		outputDir  = flag.String("output-dir", "generated", "Output directory for the statement and ledger files")
		count      = flag.Int("count", 50, "Number of statement movements")
		month      = flag.Int("month", 2, "Statement month (1-12)")
		year       = flag.Int("year", 2024, "Statement year")
		minAmount  = flag.Float64("min-amount", 1.00, "Minimum movement amount")
		maxAmount  = flag.Float64("max-amount", 5000.00, "Maximum movement amount")
		matchRatio = flag.Float64("match-ratio", 0.8, "Share of movements with a ledger entry (0.0-1.0)")
		tolerance  = flag.Int("date-tolerance", 5, "Date tolerance the reconciler will run with")
		pattern    = flag.String("pattern", "random", "Generation pattern: random, ambiguous, drift")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
	)
	flag.Parse()

	period := models.NewPeriod(*month, *year)
	if err := period.Validate(); err != nil {
		log.Fatalf("Invalid period: %v", err)
	}
	if *matchRatio < 0 || *matchRatio > 1 {
		log.Fatalf("match-ratio must be between 0.0 and 1.0")
	}

	generator := &StatementGenerator{
		Count:         *count,
		Month:         *month,
		Year:          *year,
		MinAmount:     decimal.NewFromFloat(*minAmount),
		MaxAmount:     decimal.NewFromFloat(*maxAmount),
		MatchRatio:    *matchRatio,
		DateTolerance: *tolerance,
		Pattern:       *pattern,
		BranchID:      "0123",
		AccountID:     "12345-6",
		rng:           rand.New(rand.NewSource(*seed)),
	}

	movements := generator.GenerateMovements()

	var entries []entryTemplate
	switch *pattern {
	case "random":
		entries = generator.GenerateMatchingEntries(movements)
	case "ambiguous":
		entries = generator.GenerateAmbiguousEntries(movements)
	case "drift":
		entries = generator.GenerateDriftedEntries(movements)
	default:
		log.Fatalf("Unknown pattern: %s", *pattern)
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	statementFile := filepath.Join(*outputDir, fmt.Sprintf("statement-%04d-%02d.ofx", *year, *month))
	if err := generator.WriteOFX(statementFile, movements); err != nil {
		log.Fatalf("Failed to write statement: %v", err)
	}

	ledgerFile := filepath.Join(*outputDir, fmt.Sprintf("ledger-%04d-%02d.csv", *year, *month))
	if err := generator.WriteLedgerCSV(ledgerFile, entries); err != nil {
		log.Fatalf("Failed to write ledger: %v", err)
	}

	fmt.Printf("Generated %d movements in %s\n", len(movements), statementFile)
	fmt.Printf("Generated %d ledger entries in %s\n", len(entries), ledgerFile)
	fmt.Printf("Pattern: %s, match ratio: %.1f%%\n", *pattern, *matchRatio*100)
	fmt.Printf("Account: branch %s, number %s\n", generator.BranchID, generator.AccountID)
	fmt.Printf("Seed used: %d\n", *seed)
}

// GenerateMovements creates random movements dated inside the month
func (sg *StatementGenerator) GenerateMovements() []movementTemplate {
	movements := make([]movementTemplate, sg.Count)
	for i := range movements {
		movements[i] = sg.randomMovement(i + 1)
	}
	return movements
}

func (sg *StatementGenerator) randomMovement(seq int) movementTemplate {
	period := models.NewPeriod(sg.Month, sg.Year)
	amountRange := sg.MaxAmount.Sub(sg.MinAmount)

	amount := decimal.NewFromFloat(sg.rng.Float64()).Mul(amountRange).Add(sg.MinAmount).Round(2)
	if sg.rng.Float64() < 0.7 { // most movements are debits
		amount = amount.Neg()
	}

	return movementTemplate{
		FitID:       fmt.Sprintf("%04d%02d%05d", sg.Year, sg.Month, seq),
		Date:        period.FirstDay().AddDate(0, 0, sg.rng.Intn(period.LastDay().Day())),
		Amount:      amount,
		Description: sg.generateDescription(amount),
	}
}

// GenerateMatchingEntries gives MatchRatio of the movements a ledger entry
// within the date tolerance, plus unrelated entries the matcher must skip
func (sg *StatementGenerator) GenerateMatchingEntries(movements []movementTemplate) []entryTemplate {
	var entries []entryTemplate

	for _, m := range movements {
		if sg.rng.Float64() >= sg.MatchRatio {
			continue
		}
		offset := 0
		if sg.DateTolerance > 0 && sg.rng.Float64() < 0.3 {
			offset = sg.rng.Intn(2*sg.DateTolerance+1) - sg.DateTolerance
		}
		entries = append(entries, entryFor(m, m.Date.AddDate(0, 0, offset)))
	}

	// noise: entries of the right month that no movement pays
	for i := 0; i < len(movements)/10; i++ {
		noise := sg.randomMovement(0)
		entries = append(entries, entryFor(noise, noise.Date))
	}

	sg.rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
	return entries
}

// GenerateAmbiguousEntries doubles every matched entry so that each movement
// has two equally good candidates
func (sg *StatementGenerator) GenerateAmbiguousEntries(movements []movementTemplate) []entryTemplate {
	var entries []entryTemplate
	for _, e := range sg.GenerateMatchingEntries(movements) {
		twin := e
		twin.Description = e.Description + " (2)"
		entries = append(entries, e, twin)
	}
	return entries
}

// GenerateDriftedEntries dates every entry one day beyond the tolerance so
// that nothing auto-matches and everything shows up as a candidate
func (sg *StatementGenerator) GenerateDriftedEntries(movements []movementTemplate) []entryTemplate {
	var entries []entryTemplate
	for _, m := range movements {
		if sg.rng.Float64() >= sg.MatchRatio {
			continue
		}
		drift := sg.DateTolerance + 1
		if sg.rng.Intn(2) == 0 {
			drift = -drift
		}
		entries = append(entries, entryFor(m, m.Date.AddDate(0, 0, drift)))
	}
	return entries
}

func entryFor(m movementTemplate, date time.Time) entryTemplate {
	return entryTemplate{
		Date:        date,
		Description: strings.ToLower(m.Description),
		Amount:      m.Amount.Abs(),
		Kind:        models.DirectionFromAmount(m.Amount).Kind(),
	}
}

// generateDescription picks a realistic memo for the movement's direction
func (sg *StatementGenerator) generateDescription(amount decimal.Decimal) string {
	if amount.IsPositive() {
		credits := []string{
			"PIX RECEBIDO", "TED RECEBIDA", "SALARIO", "ESTORNO",
			"RENDIMENTO POUPANCA", "DEPOSITO", "REEMBOLSO",
		}
		return credits[sg.rng.Intn(len(credits))]
	}

	debits := []string{
		"PIX ENVIADO", "BOLETO PAGO", "ALUGUEL", "MERCADO", "FARMACIA",
		"TARIFA PACOTE", "SAQUE 24H", "CARTAO CREDITO", "ENERGIA", "INTERNET",
	}
	return debits[sg.rng.Intn(len(debits))]
}

// WriteOFX writes the movements as an OFX 2 bank statement
func (sg *StatementGenerator) WriteOFX(filename string, movements []movementTemplate) error {
	period := models.NewPeriod(sg.Month, sg.Year)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<?OFX OFXHEADER="200" VERSION="220" SECURITY="NONE" OLDFILEUID="NONE" NEWFILEUID="NONE"?>` + "\n")
	b.WriteString("<OFX>\n<BANKMSGSRSV1>\n<STMTTRNRS>\n<STMTRS>\n<CURDEF>BRL</CURDEF>\n")
	fmt.Fprintf(&b, "<BANKACCTFROM>\n<BANKID>341</BANKID>\n<BRANCHID>%s</BRANCHID>\n<ACCTID>%s</ACCTID>\n<ACCTTYPE>CHECKING</ACCTTYPE>\n</BANKACCTFROM>\n",
		sg.BranchID, sg.AccountID)
	fmt.Fprintf(&b, "<BANKTRANLIST>\n<DTSTART>%s</DTSTART>\n<DTEND>%s</DTEND>\n",
		period.FirstDay().Format("20060102"), period.LastDay().Format("20060102"))

	for _, m := range movements {
		trnType := "DEBIT"
		if m.Amount.IsPositive() {
			trnType = "CREDIT"
		}
		fmt.Fprintf(&b, "<STMTTRN>\n<TRNTYPE>%s</TRNTYPE>\n<DTPOSTED>%s120000[-3:BRT]</DTPOSTED>\n<TRNAMT>%s</TRNAMT>\n<FITID>%s</FITID>\n<MEMO>%s</MEMO>\n</STMTTRN>\n",
			trnType, m.Date.Format("20060102"), m.Amount.StringFixed(2), m.FitID, m.Description)
	}

	b.WriteString("</BANKTRANLIST>\n</STMTRS>\n</STMTTRNRS>\n</BANKMSGSRSV1>\n</OFX>\n")

	return os.WriteFile(filename, []byte(b.String()), 0644)
}

// WriteLedgerCSV writes the entries in the standard ledger seed layout
func (sg *StatementGenerator) WriteLedgerCSV(filename string, entries []entryTemplate) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"date", "description", "amount", "kind"}); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			e.Date.Format(models.DateLayout),
			e.Description,
			e.Amount.StringFixed(2),
			string(e.Kind),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
