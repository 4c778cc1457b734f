package models

import "time"

// Import job statuses. A job is keyed by the content hash of the
// request it serves; once completed it is permanently idempotent.
const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusError      = "error"
)

// ImportJob is the durable idempotency ledger entry for one content
// hash. Created on the first attempt, mutated only by the owning
// request (or a later request after lease expiry), never deleted.
type ImportJob struct {
	ContentHash    string     `json:"content_hash"`
	Status         string     `json:"status"`
	OrganizationID string     `json:"organization_id"`
	BankAccountID  string     `json:"bank_account_id"`
	Source         string     `json:"source"`
	FileName       string     `json:"file_name,omitempty"`
	TotalRows      int        `json:"total_rows"`
	StartedAt      time.Time  `json:"started_at"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	RequestedBy    string     `json:"requested_by,omitempty"`
	ImportRunID    string     `json:"import_run_id,omitempty"`
	CreatedCount   int        `json:"created_count"`
	LastError      string     `json:"last_error,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// ImportRun is the write-once summary of a successful import job.
type ImportRun struct {
	ID                    string    `json:"id"`
	ContentHash           string    `json:"content_hash"`
	OrganizationID        string    `json:"organization_id"`
	BankAccountID         string    `json:"bank_account_id"`
	CreatedCount          int       `json:"created_count"`
	DuplicateSkippedCount int       `json:"duplicate_skipped_count"`
	CandidateCount        int       `json:"candidate_count"`
	DateFrom              string    `json:"date_from,omitempty"`
	DateTo                string    `json:"date_to,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// ProcessLock is an ephemeral lease on a single resource (e.g. the
// parent transaction of a split). Always deleted at the end of the
// guarded operation regardless of outcome.
type ProcessLock struct {
	ResourceID string    `json:"resource_id"`
	Operation  string    `json:"operation"`
	LockedBy   string    `json:"locked_by"`
	LockedAt   time.Time `json:"locked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ImportRow is one normalized statement line as submitted by an
// external parser. Dates are YYYY-MM-DD strings.
type ImportRow struct {
	Amount          float64  `json:"amount"`
	Date            string   `json:"date"`
	Description     string   `json:"description"`
	CategoryID      string   `json:"category_id,omitempty"`
	ContactID       string   `json:"contact_id,omitempty"`
	ContactType     string   `json:"contact_type,omitempty"`
	TransactionType string   `json:"transaction_type"`
	BankReference   string   `json:"bank_reference,omitempty"`
	BalanceAfter    *float64 `json:"balance_after,omitempty"`
}

// Classification verdicts and reason codes. The reason codes are part
// of the data contract consumed by the review surface.
const (
	VerdictClean         = "clean"
	VerdictSafeDuplicate = "safe_duplicate"
	VerdictCandidate     = "candidate"

	ReasonBankRef           = "BANK_REF"
	ReasonBalanceAmountDate = "BALANCE_AMOUNT_DATE"
	ReasonIntraFile         = "INTRA_FILE"
)

// ClassifiedRow is the transient per-row classification result. It is
// never persisted; candidates are surfaced for manual adjudication.
type ClassifiedRow struct {
	Index           int           `json:"index"`
	RowUID          string        `json:"row_uid"`
	Row             ImportRow     `json:"row"`
	Verdict         string        `json:"verdict"`
	Reason          string        `json:"reason,omitempty"`
	MatchedExisting []Transaction `json:"matched_existing,omitempty"`
}

// ImportRequest is the normalized bulk-import payload.
type ImportRequest struct {
	OrganizationID string      `json:"organization_id"`
	BankAccountID  string      `json:"bank_account_id"`
	FileName       string      `json:"file_name,omitempty"`
	Source         string      `json:"source"`
	TotalRows      int         `json:"total_rows"`
	Rows           []ImportRow `json:"rows"`
}

// ImportResult is the response payload of an import operation.
type ImportResult struct {
	Success               bool            `json:"success"`
	Idempotent            bool            `json:"idempotent"`
	CreatedCount          int             `json:"created_count"`
	DuplicateSkippedCount int             `json:"duplicate_skipped_count"`
	CandidateCount        int             `json:"candidate_count"`
	RunID                 string          `json:"run_id,omitempty"`
	ContentHash           string          `json:"content_hash"`
	CreatedIDs            []string        `json:"created_ids,omitempty"`
	Candidates            []ClassifiedRow `json:"candidates,omitempty"`
}

// Split line kinds.
const (
	SplitKindDonation    = "donation"
	SplitKindNonDonation = "non_donation"
)

// SplitLine is one proposed attributed line of a split. Amounts are
// integer cents so the balance law is checked without float drift.
type SplitLine struct {
	AmountCents int64  `json:"amount_cents"`
	Kind        string `json:"kind"`
	CategoryID  string `json:"category_id,omitempty"`
	ContactID   string `json:"contact_id,omitempty"`
	Note        string `json:"note,omitempty"`
}

// SplitRequest decomposes one parent transaction into attributed lines.
type SplitRequest struct {
	OrganizationID      string      `json:"organization_id"`
	ParentTransactionID string      `json:"parent_transaction_id"`
	Lines               []SplitLine `json:"lines"`
}

// SplitResult is the response payload of a split operation.
type SplitResult struct {
	ParentID     string   `json:"parent_id"`
	ChildIDs     []string `json:"child_ids"`
	CreatedCount int      `json:"created_count"`
}
