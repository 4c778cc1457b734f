package lockstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/fundlio/backend/src/models"
	_ "modernc.org/sqlite"
)

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

func testJob(hash string) models.ImportJob {
	return models.ImportJob{
		ContentHash:    hash,
		OrganizationID: "org-1",
		BankAccountID:  "acct-1",
		Source:         models.SourceBank,
		FileName:       "statement.csv",
		TotalRows:      3,
		RequestedBy:    "user-1",
	}
}

func TestAcquireImportLeaseFreshClaim(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	existing, acquired, err := store.AcquireImportLease(ctx, testJob("hash-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Nil(t, existing)

	job, err := store.GetImportJob(ctx, "hash-a")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	require.NotNil(t, job.LeaseExpiresAt)
	assert.True(t, job.LeaseExpiresAt.After(time.Now().UTC()))
}

func TestAcquireImportLeaseConflictWhileHeld(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	_, acquired, err := store.AcquireImportLease(ctx, testJob("hash-a"), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = store.AcquireImportLease(ctx, testJob("hash-a"), time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
	assert.False(t, acquired)
}

func TestAcquireImportLeaseReclaimAfterExpiry(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	// A negative TTL leaves the lease already expired, simulating an
	// owner that crashed and never finished.
	_, acquired, err := store.AcquireImportLease(ctx, testJob("hash-a"), -time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = store.AcquireImportLease(ctx, testJob("hash-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "expired lease must be reclaimable")
}

func TestCompletedJobShortCircuits(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	_, acquired, err := store.AcquireImportLease(ctx, testJob("hash-a"), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, store.CompleteImportJob(ctx, "hash-a", "run-1", 7))

	existing, acquired, err := store.AcquireImportLease(ctx, testJob("hash-a"), time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)
	require.NotNil(t, existing)
	assert.Equal(t, models.JobStatusCompleted, existing.Status)
	assert.Equal(t, "run-1", existing.ImportRunID)
	assert.Equal(t, 7, existing.CreatedCount)
}

func TestFailImportJobClearsLease(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	_, acquired, err := store.AcquireImportLease(ctx, testJob("hash-a"), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, store.FailImportJob(ctx, "hash-a", "chunk 2 exploded"))

	job, err := store.GetImportJob(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Equal(t, "chunk 2 exploded", job.LastError)
	assert.Nil(t, job.LeaseExpiresAt, "expiry cleared so a retry need not wait out the TTL")

	// Errored jobs are immediately reclaimable.
	_, acquired, err = store.AcquireImportLease(ctx, testJob("hash-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestFailImportJobTruncatesMessage(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	_, _, err := store.AcquireImportLease(ctx, testJob("hash-a"), time.Minute)
	require.NoError(t, err)

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, store.FailImportJob(ctx, "hash-a", string(long)))

	job, err := store.GetImportJob(ctx, "hash-a")
	require.NoError(t, err)
	assert.Len(t, job.LastError, maxStoredErrorLen)
}

func TestProcessLockMutualExclusion(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.AcquireProcessLock(ctx, "tx-1", "split", "owner-a", time.Minute))
	assert.ErrorIs(t, store.AcquireProcessLock(ctx, "tx-1", "split", "owner-b", time.Minute), ErrLocked)

	// Different resource, no collision.
	require.NoError(t, store.AcquireProcessLock(ctx, "tx-2", "split", "owner-b", time.Minute))
}

func TestProcessLockReleaseAndReacquire(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.AcquireProcessLock(ctx, "tx-1", "split", "owner-a", time.Minute))
	require.NoError(t, store.ReleaseProcessLock(ctx, "tx-1", "owner-a"))
	assert.NoError(t, store.AcquireProcessLock(ctx, "tx-1", "split", "owner-b", time.Minute))
}

func TestProcessLockExpiredIsClaimable(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.AcquireProcessLock(ctx, "tx-1", "split", "owner-a", -time.Second))
	assert.NoError(t, store.AcquireProcessLock(ctx, "tx-1", "split", "owner-b", time.Minute))
}

func TestReleaseProcessLockOnlyByOwner(t *testing.T) {
	store := New(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.AcquireProcessLock(ctx, "tx-1", "split", "owner-a", time.Minute))
	require.NoError(t, store.ReleaseProcessLock(ctx, "tx-1", "owner-b"))

	// owner-b's release was a no-op; the lock is still held.
	assert.ErrorIs(t, store.AcquireProcessLock(ctx, "tx-1", "split", "owner-b", time.Minute), ErrLocked)
}
