package committer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/fundlio/backend/src/logger"
	"github.com/username/fundlio/backend/src/models"
	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "000001_init.up.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	return db
}

func makeRecords(n int) []models.Transaction {
	records := make([]models.Transaction, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, models.Transaction{
			ID:              fmt.Sprintf("tx-%03d", i),
			OrganizationID:  "org-1",
			BankAccountID:   "acct-1",
			RowUID:          fmt.Sprintf("uid-%03d", i),
			Amount:          -float64(i + 1),
			Date:            "2024-03-01",
			Description:     "row",
			TransactionType: models.TxTypeNormal,
			Source:          models.SourceBank,
		})
	}
	return records
}

func countTransactions(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&n))
	return n
}

func TestCommitTransactionsAcrossChunks(t *testing.T) {
	db := newTestDB(t)
	c := New(db, 50)

	result, err := c.CommitTransactions(context.Background(), makeRecords(120))
	require.NoError(t, err)
	assert.Equal(t, 120, result.CreatedCount)
	assert.Len(t, result.CreatedIDs, 120)
	assert.Equal(t, 120, countTransactions(t, db))
}

func TestCommitSkipsAlreadyPersistedRowUIDs(t *testing.T) {
	db := newTestDB(t)
	c := New(db, 50)
	ctx := context.Background()

	first, err := c.CommitTransactions(ctx, makeRecords(10))
	require.NoError(t, err)
	require.Equal(t, 10, first.CreatedCount)

	// A replay carries fresh record ids but the same deterministic row
	// uids; nothing new may be created.
	replay := makeRecords(10)
	for i := range replay {
		replay[i].ID = fmt.Sprintf("retry-%03d", i)
	}
	second, err := c.CommitTransactions(ctx, replay)
	require.NoError(t, err)
	assert.Equal(t, 0, second.CreatedCount)
	assert.Empty(t, second.CreatedIDs)
	assert.Equal(t, 10, countTransactions(t, db))
}

func TestMidStreamFailureKeepsCommittedChunks(t *testing.T) {
	db := newTestDB(t)
	c := New(db, 50)

	records := makeRecords(120)
	records[70].Date = "" // fails the pre-write schema check in chunk 2

	result, err := c.CommitTransactions(context.Background(), records)
	require.Error(t, err)
	assert.Equal(t, 50, result.CreatedCount, "only the first chunk committed")
	assert.Equal(t, 50, countTransactions(t, db),
		"no cross-chunk rollback: chunk 1 stays, chunks 2 and 3 never commit")
}

func TestFailingRowAbortsItsWholeChunk(t *testing.T) {
	db := newTestDB(t)
	c := New(db, 50)

	records := makeRecords(10)
	records[9].TransactionType = ""

	_, err := c.CommitTransactions(context.Background(), records)
	require.Error(t, err)
	assert.Equal(t, 0, countTransactions(t, db),
		"the failing row's chunk is atomic and rolls back whole")
}

func TestCommitEmptySet(t *testing.T) {
	db := newTestDB(t)
	c := New(db, 50)

	result, err := c.CommitTransactions(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.CreatedCount)
}

func TestWriteRunSummary(t *testing.T) {
	db := newTestDB(t)
	c := New(db, 50)

	run := models.ImportRun{
		ID:                    "run-1",
		ContentHash:           "hash-a",
		OrganizationID:        "org-1",
		BankAccountID:         "acct-1",
		CreatedCount:          5,
		DuplicateSkippedCount: 2,
		CandidateCount:        1,
		DateFrom:              "2024-03-01",
		DateTo:                "2024-03-31",
	}
	require.NoError(t, c.WriteRunSummary(context.Background(), run))

	var created, dupes, candidates int
	require.NoError(t, db.QueryRow(
		`SELECT created_count, duplicate_skipped_count, candidate_count FROM import_runs WHERE id = 'run-1'`).
		Scan(&created, &dupes, &candidates))
	assert.Equal(t, 5, created)
	assert.Equal(t, 2, dupes)
	assert.Equal(t, 1, candidates)
}
