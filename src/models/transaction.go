package models

import "time"

// Transaction types as they appear on the books. The type drives the
// sign and relationship rules checked before any persistence.
const (
	TxTypeNormal    = "normal"
	TxTypeReturn    = "return"
	TxTypeReturnFee = "return_fee"
	TxTypeDonation  = "donation"
	TxTypeFee       = "fee"
)

// Transaction sources.
const (
	SourceBank       = "bank"
	SourceManual     = "manual"
	SourceRemittance = "remittance"
	SourceStripe     = "stripe"
)

// Contact types. Donation lines must reference a donor contact.
const (
	ContactTypeDonor = "donor"
	ContactTypeOther = "other"
)

// Transaction is the canonical financial record. Created by import or
// split; mutated by split (parent flagged) or rollback (children
// archived); never physically deleted, only archived.
type Transaction struct {
	ID                   string     `json:"id"`
	OrganizationID       string     `json:"organization_id"`
	BankAccountID        string     `json:"bank_account_id"`
	RowUID               string     `json:"row_uid,omitempty"` // deterministic import row id, empty for split children
	Amount               float64    `json:"amount"`
	Date                 string     `json:"date"` // YYYY-MM-DD
	Description          string     `json:"description"`
	CategoryID           string     `json:"category_id,omitempty"`
	ContactID            string     `json:"contact_id,omitempty"`
	ContactType          string     `json:"contact_type,omitempty"`
	TransactionType      string     `json:"transaction_type"`
	Source               string     `json:"source"`
	BankReference        string     `json:"bank_reference,omitempty"`
	BalanceAfter         *float64   `json:"balance_after,omitempty"` // balance reported by the bank after this line
	ParentTransactionID  string     `json:"parent_transaction_id,omitempty"`
	IsSplit              bool       `json:"is_split,omitempty"`
	LinkedTransactionIDs []string   `json:"linked_transaction_ids,omitempty"`
	ArchivedAt           *time.Time `json:"archived_at,omitempty"`
	ArchivedReason       string     `json:"archived_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Contact is a minimal projection of the contact directory maintained
// by external modules. The core only reads it for referential checks.
type Contact struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	ContactType    string `json:"contact_type"`
}

// Category is a minimal projection of the category tree maintained by
// external modules.
type Category struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}
