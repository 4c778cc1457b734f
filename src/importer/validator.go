package importer

import (
	"fmt"
	"time"

	"github.com/username/fundlio/backend/src/models"
)

// Rejection codes for per-row invariant violations. They are stable
// API codes; the offending row index travels alongside.
const (
	CodeReturnRequiresContact      = "return_requires_contact"
	CodeFeeForbidsContact          = "fee_forbids_contact"
	CodeContactReferenceIncomplete = "contact_reference_incomplete"
	CodeReturnAmountNotNegative    = "return_amount_not_negative"
	CodeDonationAmountNotPositive  = "donation_amount_not_positive"
	CodeFeeAmountNotNegative       = "fee_amount_not_negative"
	CodeInvalidTransactionType     = "invalid_transaction_type"
	CodeInvalidDate                = "invalid_date"
)

// RowViolation identifies the first row that breaks a sign or
// relationship rule. Validation runs fully before any I/O, so a
// violation always means zero rows were written.
type RowViolation struct {
	Index int
	Code  string
}

func (v *RowViolation) Error() string {
	return fmt.Sprintf("row %d: %s", v.Index, v.Code)
}

var validTransactionTypes = map[string]bool{
	models.TxTypeNormal:    true,
	models.TxTypeReturn:    true,
	models.TxTypeReturnFee: true,
	models.TxTypeDonation:  true,
	models.TxTypeFee:       true,
}

// ValidateRows enforces the per-row sign and relationship rules over
// the whole batch, aborting on the first violation.
//
// Relationship rules: a return requires a contact, a fee forbids one,
// and a contact type without a contact id (or vice versa) is invalid.
// Sign rules: returns and fees must be negative, donations positive.
func ValidateRows(rows []models.ImportRow) error {
	for i, row := range rows {
		if err := validateRow(i, row); err != nil {
			return err
		}
	}
	return nil
}

func validateRow(index int, row models.ImportRow) error {
	if !validTransactionTypes[row.TransactionType] {
		return &RowViolation{Index: index, Code: CodeInvalidTransactionType}
	}
	if _, err := time.Parse("2006-01-02", row.Date); err != nil {
		return &RowViolation{Index: index, Code: CodeInvalidDate}
	}

	// Relationship rules.
	switch row.TransactionType {
	case models.TxTypeReturn:
		if row.ContactID == "" {
			return &RowViolation{Index: index, Code: CodeReturnRequiresContact}
		}
	case models.TxTypeFee:
		if row.ContactID != "" {
			return &RowViolation{Index: index, Code: CodeFeeForbidsContact}
		}
	}
	if (row.ContactType != "" && row.ContactID == "") || (row.ContactID != "" && row.ContactType == "") {
		return &RowViolation{Index: index, Code: CodeContactReferenceIncomplete}
	}

	// Sign rules.
	switch row.TransactionType {
	case models.TxTypeReturn:
		if row.Amount >= 0 {
			return &RowViolation{Index: index, Code: CodeReturnAmountNotNegative}
		}
	case models.TxTypeDonation:
		if row.Amount <= 0 {
			return &RowViolation{Index: index, Code: CodeDonationAmountNotPositive}
		}
	case models.TxTypeFee:
		if row.Amount >= 0 {
			return &RowViolation{Index: index, Code: CodeFeeAmountNotNegative}
		}
	}
	return nil
}
