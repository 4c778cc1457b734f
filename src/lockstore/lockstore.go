package lockstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/username/fundlio/backend/src/models"
)

// ErrLocked is returned when a lease is held by someone else and has
// not expired. Callers surface it as a 409 and retry later; the server
// never retries on their behalf.
var ErrLocked = errors.New("resource is locked")

// Store implements lease-based mutual exclusion on top of the SQL
// store's transactions. Two usage patterns share the mechanism: the
// import ledger (durable, never deleted, doubles as idempotency
// memory) and the process lock (ephemeral, always deleted after the
// guarded operation).
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const maxStoredErrorLen = 500

// AcquireImportLease claims the import job for the given content hash.
// Outcomes:
//   - no job yet, or a previous attempt errored, or its lease expired:
//     the job is (re)claimed and (nil, true, nil) is returned;
//   - the job already completed: the existing job is returned so the
//     caller can short-circuit with the idempotent result;
//   - the job is processing under an unexpired lease: ErrLocked.
func (s *Store) AcquireImportLease(ctx context.Context, job models.ImportJob, ttl time.Duration) (*models.ImportJob, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning lease transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	existing, err := scanImportJob(tx.QueryRowContext(ctx,
		`SELECT content_hash, status, organization_id, bank_account_id, source, file_name,
		        total_rows, started_at, lease_expires_at, requested_by, import_run_id,
		        created_count, last_error, finished_at
		 FROM import_jobs WHERE content_hash = ?`, job.ContentHash))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("reading import job: %w", err)
	}

	if existing != nil {
		switch existing.Status {
		case models.JobStatusCompleted:
			return existing, false, nil
		case models.JobStatusProcessing:
			if existing.LeaseExpiresAt != nil && existing.LeaseExpiresAt.After(now) {
				return nil, false, ErrLocked
			}
			// Lease expired: the previous owner crashed or stalled.
			// Reclaim and proceed (at-least-once retry).
		}
	}

	expires := now.Add(ttl)
	if existing == nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO import_jobs
			 (content_hash, status, organization_id, bank_account_id, source, file_name,
			  total_rows, started_at, lease_expires_at, requested_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ContentHash, models.JobStatusProcessing, job.OrganizationID, job.BankAccountID,
			job.Source, job.FileName, job.TotalRows, now, expires, job.RequestedBy)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE import_jobs
			 SET status = ?, started_at = ?, lease_expires_at = ?, requested_by = ?, last_error = NULL
			 WHERE content_hash = ?`,
			models.JobStatusProcessing, now, expires, job.RequestedBy, job.ContentHash)
	}
	if err != nil {
		return nil, false, fmt.Errorf("claiming import lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing lease claim: %w", err)
	}
	return nil, true, nil
}

// CompleteImportJob flips the job to completed with its run id and
// created count. From this point on, replays of the same content hash
// short-circuit permanently.
func (s *Store) CompleteImportJob(ctx context.Context, contentHash, runID string, createdCount int) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs
		 SET status = ?, import_run_id = ?, created_count = ?, finished_at = ?, lease_expires_at = NULL, last_error = NULL
		 WHERE content_hash = ?`,
		models.JobStatusCompleted, runID, createdCount, now, contentHash)
	if err != nil {
		return fmt.Errorf("completing import job: %w", err)
	}
	return nil
}

// FailImportJob records a sanitized failure on the ledger and clears
// the lease expiry so a retry does not have to wait out the TTL.
func (s *Store) FailImportJob(ctx context.Context, contentHash, message string) error {
	if len(message) > maxStoredErrorLen {
		message = message[:maxStoredErrorLen]
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs
		 SET status = ?, last_error = ?, finished_at = ?, lease_expires_at = NULL
		 WHERE content_hash = ?`,
		models.JobStatusError, message, now, contentHash)
	if err != nil {
		return fmt.Errorf("recording import job failure: %w", err)
	}
	return nil
}

// GetImportJob reads one ledger entry.
func (s *Store) GetImportJob(ctx context.Context, contentHash string) (*models.ImportJob, error) {
	job, err := scanImportJob(s.db.QueryRowContext(ctx,
		`SELECT content_hash, status, organization_id, bank_account_id, source, file_name,
		        total_rows, started_at, lease_expires_at, requested_by, import_run_id,
		        created_count, last_error, finished_at
		 FROM import_jobs WHERE content_hash = ?`, contentHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading import job: %w", err)
	}
	return job, nil
}

// AcquireProcessLock claims the ephemeral lease on one resource. A
// held, unexpired lock yields ErrLocked; an absent or expired one is
// claimed. Unlike the import ledger this carries no idempotency
// meaning: a retried operation is a fresh structural mutation.
func (s *Store) AcquireProcessLock(ctx context.Context, resourceID, operation, owner string, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning lock transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM process_locks WHERE resource_id = ?`, resourceID).Scan(&expiresAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading process lock: %w", err)
	}
	if err == nil && expiresAt.After(now) {
		return ErrLocked
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO process_locks (resource_id, operation, locked_by, locked_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (resource_id) DO UPDATE
		 SET operation = excluded.operation, locked_by = excluded.locked_by,
		     locked_at = excluded.locked_at, expires_at = excluded.expires_at`,
		resourceID, operation, owner, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("claiming process lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing lock claim: %w", err)
	}
	return nil
}

// ReleaseProcessLock deletes the lease. It is called on every exit
// path of the guarded operation, success or failure.
func (s *Store) ReleaseProcessLock(ctx context.Context, resourceID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM process_locks WHERE resource_id = ? AND locked_by = ?`, resourceID, owner)
	if err != nil {
		return fmt.Errorf("releasing process lock: %w", err)
	}
	return nil
}

func scanImportJob(row *sql.Row) (*models.ImportJob, error) {
	var job models.ImportJob
	var leaseExpires, finishedAt sql.NullTime
	var runID, lastError sql.NullString
	var createdCount sql.NullInt64
	err := row.Scan(&job.ContentHash, &job.Status, &job.OrganizationID, &job.BankAccountID,
		&job.Source, &job.FileName, &job.TotalRows, &job.StartedAt, &leaseExpires,
		&job.RequestedBy, &runID, &createdCount, &lastError, &finishedAt)
	if err != nil {
		return nil, err
	}
	if leaseExpires.Valid {
		t := leaseExpires.Time
		job.LeaseExpiresAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	job.ImportRunID = runID.String
	job.LastError = lastError.String
	job.CreatedCount = int(createdCount.Int64)
	return &job, nil
}
