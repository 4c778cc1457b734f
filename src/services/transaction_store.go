package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/username/fundlio/backend/src/models"
)

const transactionColumns = `id, organization_id, bank_account_id, row_uid, amount, date, description,
	category_id, contact_id, contact_type, transaction_type, source, bank_reference,
	balance_after, parent_transaction_id, is_split, linked_transaction_ids, archived_at, archived_reason, created_at`

// existingLookup is the SQL-backed read side of the duplicate
// classifier. Archived records never count as duplicates.
type existingLookup struct {
	db *sql.DB
}

func (l *existingLookup) ByBankReference(ctx context.Context, orgID, accountID, reference string) ([]models.Transaction, error) {
	return queryTransactions(ctx, l.db, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE organization_id = ? AND bank_account_id = ? AND bank_reference = ? AND archived_at IS NULL`,
		orgID, accountID, reference)
}

func (l *existingLookup) ByBalanceAmountDate(ctx context.Context, orgID, accountID, date string, amount, balance float64) ([]models.Transaction, error) {
	return queryTransactions(ctx, l.db, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE organization_id = ? AND bank_account_id = ? AND date = ? AND amount = ? AND balance_after = ? AND archived_at IS NULL`,
		orgID, accountID, date, amount, balance)
}

func (l *existingLookup) ByAmountDate(ctx context.Context, orgID, accountID, date string, amount float64) ([]models.Transaction, error) {
	return queryTransactions(ctx, l.db, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE organization_id = ? AND bank_account_id = ? AND date = ? AND amount = ? AND archived_at IS NULL`,
		orgID, accountID, date, amount)
}

func getTransaction(ctx context.Context, db *sql.DB, orgID, id string) (*models.Transaction, error) {
	txs, err := queryTransactions(ctx, db, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE id = ? AND organization_id = ?`, id, orgID)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func getContact(ctx context.Context, db *sql.DB, orgID, id string) (*models.Contact, error) {
	var c models.Contact
	err := db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, contact_type FROM contacts WHERE id = ? AND organization_id = ?`,
		id, orgID).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.ContactType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading contact %s: %w", id, err)
	}
	return &c, nil
}

func categoryExists(ctx context.Context, db *sql.DB, orgID, id string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM categories WHERE id = ? AND organization_id = ?`, id, orgID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading category %s: %w", id, err)
	}
	return true, nil
}

func queryTransactions(ctx context.Context, db *sql.DB, query string, args ...any) ([]models.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		out = append(out, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transaction rows: %w", err)
	}
	return out, nil
}

func scanTransaction(rows *sql.Rows) (models.Transaction, error) {
	var tx models.Transaction
	var rowUID, categoryID, contactID, contactType, bankRef, parentID, linkedIDs, archivedReason sql.NullString
	var balanceAfter sql.NullFloat64
	var archivedAt sql.NullTime

	err := rows.Scan(&tx.ID, &tx.OrganizationID, &tx.BankAccountID, &rowUID, &tx.Amount, &tx.Date,
		&tx.Description, &categoryID, &contactID, &contactType, &tx.TransactionType, &tx.Source,
		&bankRef, &balanceAfter, &parentID, &tx.IsSplit, &linkedIDs, &archivedAt, &archivedReason,
		&tx.CreatedAt)
	if err != nil {
		return tx, err
	}
	tx.RowUID = rowUID.String
	tx.CategoryID = categoryID.String
	tx.ContactID = contactID.String
	tx.ContactType = contactType.String
	tx.BankReference = bankRef.String
	tx.ParentTransactionID = parentID.String
	tx.ArchivedReason = archivedReason.String
	if balanceAfter.Valid {
		v := balanceAfter.Float64
		tx.BalanceAfter = &v
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		tx.ArchivedAt = &t
	}
	if linkedIDs.Valid && linkedIDs.String != "" {
		if err := json.Unmarshal([]byte(linkedIDs.String), &tx.LinkedTransactionIDs); err != nil {
			return tx, fmt.Errorf("decoding linked transaction ids for %s: %w", tx.ID, err)
		}
	}
	return tx, nil
}

func archiveTransactions(ctx context.Context, db *sql.DB, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, reason)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := db.ExecContext(ctx,
		`UPDATE transactions SET archived_at = CURRENT_TIMESTAMP, archived_reason = ? WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("archiving transactions: %w", err)
	}
	return nil
}
