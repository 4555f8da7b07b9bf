package parsers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

// Extractor reads a PDF statement and returns its transactions in structured form
type Extractor interface {
	Extract(ctx context.Context, pdf []byte) (*Extraction, error)
}

// Extraction is the structured content returned by an Extractor
type Extraction struct {
	Transactions []ExtractedTransaction `json:"transactions"`
	BankInfo     *ExtractedBankInfo     `json:"bankInfo,omitempty"`
}

// ExtractedTransaction is one row as read from the PDF. Values are raw
// strings; normalization happens in the decoder.
type ExtractedTransaction struct {
	Date        string     `json:"date"`
	Description string     `json:"description"`
	Amount      FlexAmount `json:"amount"`
	Type        string     `json:"type,omitempty"`
}

// ExtractedBankInfo holds the account identifiers printed on the statement
type ExtractedBankInfo struct {
	Agencia string `json:"agencia,omitempty"`
	Conta   string `json:"conta,omitempty"`
	CNPJ    string `json:"cnpj,omitempty"`
}

// FlexAmount accepts an amount encoded as either a JSON number or a string
type FlexAmount string

// UnmarshalJSON implements json.Unmarshaler
func (a *FlexAmount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*a = FlexAmount(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = FlexAmount(num.String())
	return nil
}

var (
	creditWords = map[string]bool{
		"credit": true, "crédito": true, "credito": true, "c": true, "entrada": true, "cr": true,
	}
	debitWords = map[string]bool{
		"debit": true, "débito": true, "debito": true, "d": true, "saída": true, "saida": true, "db": true,
	}
)

// PDFDecoder decodes PDF statements through an Extractor
type PDFDecoder struct {
	extractor Extractor
	logger    logger.Logger
}

// NewPDFDecoder creates a PDF decoder backed by extractor
func NewPDFDecoder(extractor Extractor) *PDFDecoder {
	return &PDFDecoder{
		extractor: extractor,
		logger:    logger.GetGlobalLogger().WithComponent("pdf_decoder"),
	}
}

// Decode implements Decoder
func (d *PDFDecoder) Decode(ctx context.Context, raw []byte) (*Statement, error) {
	if len(raw) < 5 || string(raw[:5]) != "%PDF-" {
		return nil, errors.DecodeError(errors.CodeMalformedStatement, string(models.FileTypePDF), "missing %PDF- header", nil)
	}

	extraction, err := d.extractor.Extract(ctx, raw)
	if err != nil {
		return nil, errors.DecodeError(errors.CodeExtractorFailed, string(models.FileTypePDF), err.Error(), err)
	}
	if extraction == nil {
		return nil, errors.DecodeError(errors.CodeNoTransactions, string(models.FileTypePDF), "", nil)
	}

	return normalizeExtraction(extraction, d.logger)
}

func normalizeExtraction(extraction *Extraction, log logger.Logger) (*Statement, error) {
	source := string(models.FileTypePDF)
	stmt := &Statement{Meta: bankInfoMeta(extraction.BankInfo)}

	for i, tx := range extraction.Transactions {
		index := i + 1

		date, err := models.ParseDateWithFormats(tx.Date)
		if err != nil {
			stmt.Skipped = append(stmt.Skipped, errors.InvalidRecordDate(source, index, "date", tx.Date))
			continue
		}

		amount, err := models.ParseDecimalFromString(string(tx.Amount))
		if err != nil {
			stmt.Skipped = append(stmt.Skipped, errors.InvalidRecordAmount(source, index, "amount", string(tx.Amount)))
			continue
		}

		stmt.Movements = append(stmt.Movements,
			models.NewStatementMovement(date, cleanDescription(tx.Description), signedAmount(amount, tx.Type)))
	}

	if len(stmt.Skipped) > 0 {
		log.WithFields(logger.Fields{
			"skipped": len(stmt.Skipped),
			"details": errors.FormatRecordErrorsForUser(stmt.Skipped),
		}).Warn("Some extracted transactions could not be read")
	}

	if len(stmt.Movements) == 0 {
		return nil, errors.DecodeError(errors.CodeNoTransactions, source, "", nil).
			WithContext("skipped", len(stmt.Skipped))
	}

	return stmt, nil
}

// signedAmount applies the direction named by typeWord, falling back to the
// sign of amount when the word is not recognized. The result has two places.
func signedAmount(amount decimal.Decimal, typeWord string) decimal.Decimal {
	amount = amount.Round(2)
	word := strings.ToLower(strings.TrimSpace(typeWord))
	switch {
	case creditWords[word]:
		return amount.Abs()
	case debitWords[word]:
		return amount.Abs().Neg()
	default:
		return amount
	}
}

func bankInfoMeta(info *ExtractedBankInfo) *models.BankMeta {
	if info == nil {
		return nil
	}
	meta := &models.BankMeta{
		BranchNumber:  strings.TrimSpace(info.Agencia),
		AccountNumber: strings.TrimSpace(info.Conta),
		TaxID:         strings.TrimSpace(info.CNPJ),
	}
	if meta.IsEmpty() {
		return nil
	}
	return meta
}
