package committer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/username/fundlio/backend/src/logger"
	"github.com/username/fundlio/backend/src/models"
	"github.com/username/fundlio/backend/src/security/validation"
)

// transactionSchema is checked immediately before each record is
// included in a sub-batch. A failing record aborts its own write (and
// the remaining stream), never chunks that already committed.
var transactionSchema = validation.RecordSchema{
	Required: []string{"id", "organization_id", "bank_account_id", "amount", "date", "transaction_type", "source"},
	Numeric:  []string{"amount", "balance_after"},
}

// Committer writes validated records in bounded-size atomic
// sub-batches. The chunk bound follows the underlying store's
// per-transaction operation ceiling. Within one chunk writes are
// all-or-nothing; across chunks they apply in submission order, and
// the whole commit is deliberately not atomic as a unit.
type Committer struct {
	db        *sql.DB
	chunkSize int
}

func New(db *sql.DB, chunkSize int) *Committer {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &Committer{db: db, chunkSize: chunkSize}
}

// Result reports what one commit pass actually created. Records
// deduplicated by the row-uid unique index count as skipped, not
// created, which keeps lease-bypassing replays idempotent at the
// document level.
type Result struct {
	CreatedCount int
	CreatedIDs   []string
}

// CommitTransactions persists the records in chunks. On a mid-stream
// failure the error is returned with all previously committed chunks
// left in place; the caller records the failure on the job ledger.
func (c *Committer) CommitTransactions(ctx context.Context, records []models.Transaction) (*Result, error) {
	result := &Result{}
	for start := 0; start < len(records); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(records) {
			end = len(records)
		}
		if err := c.commitChunk(ctx, records[start:end], result); err != nil {
			return result, fmt.Errorf("chunk starting at record %d: %w", start, err)
		}
	}
	return result, nil
}

func (c *Committer) commitChunk(ctx context.Context, chunk []models.Transaction, result *Result) error {
	// Counts merge into the shared result only once the chunk commits,
	// so a rolled-back chunk contributes nothing.
	var createdIDs []string

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transactions
		 (id, organization_id, bank_account_id, row_uid, amount, date, description,
		  category_id, contact_id, contact_type, transaction_type, source, bank_reference,
		  balance_after, parent_transaction_id, is_split, linked_transaction_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (row_uid) WHERE row_uid IS NOT NULL DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range chunk {
		if err := transactionSchema.Check(recordFields(record)); err != nil {
			return err
		}
		res, err := stmt.ExecContext(ctx,
			record.ID, record.OrganizationID, record.BankAccountID, nullIfEmpty(record.RowUID),
			record.Amount, record.Date, record.Description,
			nullIfEmpty(record.CategoryID), nullIfEmpty(record.ContactID), nullIfEmpty(record.ContactType),
			record.TransactionType, record.Source, nullIfEmpty(record.BankReference),
			record.BalanceAfter, nullIfEmpty(record.ParentTransactionID), record.IsSplit,
			linkedIDsJSON(record.LinkedTransactionIDs))
		if err != nil {
			return fmt.Errorf("inserting transaction %s: %w", record.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading insert result for %s: %w", record.ID, err)
		}
		if affected == 0 {
			logger.L.Debug("Skipping already-persisted row on commit", "rowUID", record.RowUID)
			continue
		}
		createdIDs = append(createdIDs, record.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunk: %w", err)
	}
	result.CreatedCount += len(createdIDs)
	result.CreatedIDs = append(result.CreatedIDs, createdIDs...)
	return nil
}

// WriteRunSummary records the write-once summary of a successful
// import job.
func (c *Committer) WriteRunSummary(ctx context.Context, run models.ImportRun) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO import_runs
		 (id, content_hash, organization_id, bank_account_id, created_count,
		  duplicate_skipped_count, candidate_count, date_from, date_to, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		run.ID, run.ContentHash, run.OrganizationID, run.BankAccountID, run.CreatedCount,
		run.DuplicateSkippedCount, run.CandidateCount, run.DateFrom, run.DateTo)
	if err != nil {
		return fmt.Errorf("writing run summary: %w", err)
	}
	return nil
}

func recordFields(record models.Transaction) map[string]any {
	fields := map[string]any{
		"id":               record.ID,
		"organization_id":  record.OrganizationID,
		"bank_account_id":  record.BankAccountID,
		"amount":           record.Amount,
		"date":             record.Date,
		"transaction_type": record.TransactionType,
		"source":           record.Source,
	}
	if record.BalanceAfter != nil {
		fields["balance_after"] = *record.BalanceAfter
	}
	return fields
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func linkedIDsJSON(ids []string) any {
	if len(ids) == 0 {
		return nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil
	}
	return string(raw)
}
