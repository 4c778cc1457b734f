package services

import (
	"context"
	"errors"

	"github.com/username/fundlio/backend/src/models"
)

// Common service errors. Handlers map these to stable API codes.
var (
	ErrMissingField            = errors.New("missing or invalid required field")
	ErrTooManyTransactions     = errors.New("too many transactions in one import")
	ErrNoValidTransactions     = errors.New("no valid transactions to import")
	ErrRowCountMismatch        = errors.New("declared total_rows does not match submitted rows")
	ErrImportFailed            = errors.New("import failed")
	ErrParentNotFound          = errors.New("parent transaction not found")
	ErrParentNotEligible       = errors.New("parent transaction not eligible for split")
	ErrTooFewSplitLines        = errors.New("split requires at least two lines")
	ErrInvalidSplitLine        = errors.New("invalid split line")
	ErrSumMismatch             = errors.New("split lines do not sum to the parent amount")
	ErrCategoryNotFound        = errors.New("referenced category not found")
	ErrContactNotFound         = errors.New("referenced contact not found")
	ErrDonationContactNotDonor = errors.New("donation line contact is not a donor")
	ErrRollbackFailed          = errors.New("split rollback failed, manual reconciliation required")
)

// ImportService is the locked, idempotent bulk-import pipeline.
type ImportService interface {
	// ProcessImport runs invariant validation -> hash -> lease claim ->
	// duplicate classification -> chunked commit -> finalize.
	ProcessImport(ctx context.Context, req models.ImportRequest, requestedBy string) (*models.ImportResult, error)

	// GetImportJob reads the idempotency ledger entry for one hash.
	GetImportJob(ctx context.Context, orgID, contentHash string) (*models.ImportJob, error)

	// GetImportRun reads the run summary of a completed job.
	GetImportRun(ctx context.Context, orgID, contentHash string) (*models.ImportRun, error)
}

// SplitService decomposes one transaction into attributed lines under
// the same lock and rollback discipline as the import pipeline.
type SplitService interface {
	SplitTransaction(ctx context.Context, req models.SplitRequest, requestedBy string) (*models.SplitResult, error)
}
