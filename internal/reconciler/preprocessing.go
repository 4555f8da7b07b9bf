package reconciler

import (
	"strings"

	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/errors"
)

// NormalizeAccountNumber keeps the digits of s and drops leading zeros, so
// "0012345-6" and "12345-6" compare equal. An all-zero number becomes "0"
// and a number without digits becomes "". The result is a fixed point:
// normalizing it again returns it unchanged.
func NormalizeAccountNumber(s string) string {
	digits := digitsOnly(s)
	if digits == "" {
		return ""
	}
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// normalizeTaxID keeps digits only. Leading zeros are significant in a CNPJ.
func normalizeTaxID(s string) string {
	return digitsOnly(s)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateAccountIdentity checks the identifiers found in a statement against
// the target account. Only identifiers present in the statement are checked,
// in the order account number, branch number, tax id; the first mismatch is
// returned. The tax id is only compared when both sides have one.
func ValidateAccountIdentity(meta *models.BankMeta, account *models.Account) error {
	if meta.IsEmpty() || account == nil {
		return nil
	}

	if found := NormalizeAccountNumber(meta.AccountNumber); found != "" {
		if expected := NormalizeAccountNumber(account.AccountNumber); found != expected {
			return errors.MismatchError("account", expected, found)
		}
	}

	if found := NormalizeAccountNumber(meta.BranchNumber); found != "" {
		if expected := NormalizeAccountNumber(account.BranchNumber); found != expected {
			return errors.MismatchError("branch", expected, found)
		}
	}

	found, expected := normalizeTaxID(meta.TaxID), normalizeTaxID(account.TaxID)
	if found != "" && expected != "" && found != expected {
		return errors.MismatchError("tax_id", expected, found)
	}

	return nil
}

// FilterPeriod keeps the movements dated inside period, in their original order
func FilterPeriod(movements []*models.StatementMovement, period models.Period) []*models.StatementMovement {
	kept := make([]*models.StatementMovement, 0, len(movements))
	for _, m := range movements {
		if period.Contains(m.Date) {
			kept = append(kept, m)
		}
	}
	return kept
}
