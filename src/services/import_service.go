package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/fundlio/backend/src/committer"
	"github.com/username/fundlio/backend/src/importer"
	"github.com/username/fundlio/backend/src/lockstore"
	"github.com/username/fundlio/backend/src/logger"
	"github.com/username/fundlio/backend/src/models"
	"github.com/username/fundlio/backend/src/security/validation"
)

const (
	ckImportRun            = "res_import_run_org_%s_hash_%s"
	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

var importSources = map[string]bool{
	models.SourceBank:       true,
	models.SourceRemittance: true,
}

type importServiceImpl struct {
	db          *sql.DB
	locks       *lockstore.Store
	committer   *committer.Committer
	classifier  *importer.Classifier
	resultCache *cache.Cache
	leaseTTL    time.Duration
	maxRows     int
}

func NewImportService(db *sql.DB, locks *lockstore.Store, comm *committer.Committer, resultCache *cache.Cache, leaseTTL time.Duration, maxRows int) ImportService {
	return &importServiceImpl{
		db:          db,
		locks:       locks,
		committer:   comm,
		classifier:  importer.NewClassifier(&existingLookup{db: db}),
		resultCache: resultCache,
		leaseTTL:    leaseTTL,
		maxRows:     maxRows,
	}
}

func (s *importServiceImpl) ProcessImport(ctx context.Context, req models.ImportRequest, requestedBy string) (*models.ImportResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	// Request and row validation are fully side-effect-free: nothing
	// touches the store (ledger included) before the lease claim.
	if err := validateImportRequest(&req, s.maxRows); err != nil {
		return nil, err
	}
	sanitizeRows(req.Rows)
	if err := importer.ValidateRows(req.Rows); err != nil {
		return nil, err
	}

	contentHash := importer.ContentHash(req)
	log.Info("ProcessImport START", "orgID", req.OrganizationID, "rows", len(req.Rows), "contentHash", contentHash)

	existing, acquired, err := s.locks.AcquireImportLease(ctx, models.ImportJob{
		ContentHash:    contentHash,
		OrganizationID: req.OrganizationID,
		BankAccountID:  req.BankAccountID,
		Source:         req.Source,
		FileName:       req.FileName,
		TotalRows:      len(req.Rows),
		RequestedBy:    requestedBy,
	}, s.leaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		// Completed job: permanently idempotent, replay the result.
		log.Info("ProcessImport idempotent replay", "contentHash", contentHash, "runID", existing.ImportRunID)
		return s.replayResult(ctx, existing), nil
	}

	result, err := s.runPipeline(ctx, req, contentHash)
	if err != nil {
		// The ledger records the failure with its expiry cleared so a
		// retry does not wait out the TTL. Chunks already committed
		// stay; reconciliation reads the transaction table directly.
		if failErr := s.locks.FailImportJob(ctx, contentHash, sanitizeErrorMessage(err)); failErr != nil {
			log.Error("Failed to record import failure on ledger", "contentHash", contentHash, "error", failErr)
		}
		return nil, err
	}

	s.resultCache.Delete(fmt.Sprintf(ckImportRun, req.OrganizationID, contentHash))
	log.Info("ProcessImport END", "contentHash", contentHash, "created", result.CreatedCount, "duration", time.Since(start))
	return result, nil
}

// runPipeline executes classification, chunked commit and finalization
// under an already-held lease. Row invariants were already checked, so
// every error in here is an I/O failure worth recording on the ledger.
func (s *importServiceImpl) runPipeline(ctx context.Context, req models.ImportRequest, contentHash string) (*models.ImportResult, error) {
	classified, err := s.classifier.Classify(ctx, req.OrganizationID, req.BankAccountID, contentHash, req.Rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFailed, err)
	}

	var records []models.Transaction
	var candidates []models.ClassifiedRow
	duplicateSkipped := 0
	dateFrom, dateTo := "", ""
	for _, row := range classified {
		switch row.Verdict {
		case models.VerdictSafeDuplicate:
			duplicateSkipped++
		case models.VerdictCandidate:
			candidates = append(candidates, row)
		default:
			records = append(records, models.Transaction{
				ID:              uuid.NewString(),
				OrganizationID:  req.OrganizationID,
				BankAccountID:   req.BankAccountID,
				RowUID:          row.RowUID,
				Amount:          row.Row.Amount,
				Date:            row.Row.Date,
				Description:     row.Row.Description,
				CategoryID:      row.Row.CategoryID,
				ContactID:       row.Row.ContactID,
				ContactType:     row.Row.ContactType,
				TransactionType: row.Row.TransactionType,
				Source:          req.Source,
				BankReference:   row.Row.BankReference,
				BalanceAfter:    row.Row.BalanceAfter,
			})
			if dateFrom == "" || row.Row.Date < dateFrom {
				dateFrom = row.Row.Date
			}
			if row.Row.Date > dateTo {
				dateTo = row.Row.Date
			}
		}
	}

	commitResult, err := s.committer.CommitTransactions(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFailed, err)
	}

	run := models.ImportRun{
		ID:                    uuid.NewString(),
		ContentHash:           contentHash,
		OrganizationID:        req.OrganizationID,
		BankAccountID:         req.BankAccountID,
		CreatedCount:          commitResult.CreatedCount,
		DuplicateSkippedCount: duplicateSkipped,
		CandidateCount:        len(candidates),
		DateFrom:              dateFrom,
		DateTo:                dateTo,
	}
	if err := s.committer.WriteRunSummary(ctx, run); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFailed, err)
	}
	if err := s.locks.CompleteImportJob(ctx, contentHash, run.ID, commitResult.CreatedCount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFailed, err)
	}

	return &models.ImportResult{
		Success:               true,
		Idempotent:            false,
		CreatedCount:          commitResult.CreatedCount,
		DuplicateSkippedCount: duplicateSkipped,
		CandidateCount:        len(candidates),
		RunID:                 run.ID,
		ContentHash:           contentHash,
		CreatedIDs:            commitResult.CreatedIDs,
		Candidates:            candidates,
	}, nil
}

func (s *importServiceImpl) replayResult(ctx context.Context, job *models.ImportJob) *models.ImportResult {
	result := &models.ImportResult{
		Success:      true,
		Idempotent:   true,
		CreatedCount: job.CreatedCount,
		RunID:        job.ImportRunID,
		ContentHash:  job.ContentHash,
	}
	if run, err := s.GetImportRun(ctx, job.OrganizationID, job.ContentHash); err == nil && run != nil {
		result.DuplicateSkippedCount = run.DuplicateSkippedCount
		result.CandidateCount = run.CandidateCount
	}
	result.CreatedIDs = s.createdIDsForJob(ctx, job)
	return result
}

// createdIDsForJob recovers the ids of the records a completed job
// created. Row uids are deterministic in the content hash, so the
// persisted records stay addressable without a stored id list; rows
// skipped as duplicates or held as candidates were never written under
// these uids and drop out naturally.
func (s *importServiceImpl) createdIDsForJob(ctx context.Context, job *models.ImportJob) []string {
	if job.TotalRows == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", job.TotalRows), ",")
	args := make([]any, 0, job.TotalRows+1)
	args = append(args, job.OrganizationID)
	for i := 0; i < job.TotalRows; i++ {
		args = append(args, importer.RowUID(job.ContentHash, i))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM transactions WHERE organization_id = ? AND row_uid IN (`+placeholders+`)`,
		args...)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to recover created ids for replay", "contentHash", job.ContentHash, "error", err)
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logger.FromContext(ctx).Warn("Failed to scan created id for replay", "contentHash", job.ContentHash, "error", err)
			return nil
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		logger.FromContext(ctx).Warn("Failed to read created ids for replay", "contentHash", job.ContentHash, "error", err)
		return nil
	}
	return ids
}

func (s *importServiceImpl) GetImportJob(ctx context.Context, orgID, contentHash string) (*models.ImportJob, error) {
	job, err := s.locks.GetImportJob(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	if job == nil || job.OrganizationID != orgID {
		return nil, nil
	}
	return job, nil
}

func (s *importServiceImpl) GetImportRun(ctx context.Context, orgID, contentHash string) (*models.ImportRun, error) {
	cacheKey := fmt.Sprintf(ckImportRun, orgID, contentHash)
	if cached, found := s.resultCache.Get(cacheKey); found {
		return cached.(*models.ImportRun), nil
	}

	var run models.ImportRun
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content_hash, organization_id, bank_account_id, created_count,
		        duplicate_skipped_count, candidate_count, date_from, date_to, created_at
		 FROM import_runs WHERE content_hash = ? AND organization_id = ?`,
		contentHash, orgID).Scan(
		&run.ID, &run.ContentHash, &run.OrganizationID, &run.BankAccountID, &run.CreatedCount,
		&run.DuplicateSkippedCount, &run.CandidateCount, &run.DateFrom, &run.DateTo, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading import run: %w", err)
	}

	s.resultCache.Set(cacheKey, &run, DefaultCacheExpiration)
	return &run, nil
}

func validateImportRequest(req *models.ImportRequest, maxRows int) error {
	if strings.TrimSpace(req.OrganizationID) == "" {
		return fmt.Errorf("%w: organization_id", ErrMissingField)
	}
	if strings.TrimSpace(req.BankAccountID) == "" {
		return fmt.Errorf("%w: bank_account_id", ErrMissingField)
	}
	if !importSources[req.Source] {
		return fmt.Errorf("%w: source", ErrMissingField)
	}
	if len(req.Rows) == 0 {
		return ErrNoValidTransactions
	}
	if len(req.Rows) > maxRows {
		return fmt.Errorf("%w: limit is %d rows per request", ErrTooManyTransactions, maxRows)
	}
	if req.TotalRows != 0 && req.TotalRows != len(req.Rows) {
		return ErrRowCountMismatch
	}
	req.TotalRows = len(req.Rows)
	return nil
}

// sanitizeRows strips HTML and unprintable characters from free-text
// fields before they take part in hashing or persistence.
func sanitizeRows(rows []models.ImportRow) {
	for i := range rows {
		rows[i].Description = strings.TrimSpace(validation.StripUnprintable(validation.SanitizeText(rows[i].Description)))
		rows[i].Date = strings.TrimSpace(rows[i].Date)
		rows[i].BankReference = strings.TrimSpace(rows[i].BankReference)
	}
}

// sanitizeErrorMessage produces the stack-free, length-capped message
// stored on the ledger and shown to callers.
func sanitizeErrorMessage(err error) string {
	msg := err.Error()
	if idx := strings.IndexAny(msg, "\n\r"); idx >= 0 {
		msg = msg[:idx]
	}
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
