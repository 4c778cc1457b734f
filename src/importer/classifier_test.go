package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/fundlio/backend/src/models"
)

// fakeLookup serves classifier queries from an in-memory slice the way
// the SQL lookup would.
type fakeLookup struct {
	existing []models.Transaction
}

func (f *fakeLookup) ByBankReference(_ context.Context, _, _, reference string) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, tx := range f.existing {
		if tx.BankReference == reference {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeLookup) ByBalanceAmountDate(_ context.Context, _, _, date string, amount, balance float64) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, tx := range f.existing {
		if tx.Date == date && tx.Amount == amount && tx.BalanceAfter != nil && *tx.BalanceAfter == balance {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeLookup) ByAmountDate(_ context.Context, _, _, date string, amount float64) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, tx := range f.existing {
		if tx.Date == date && tx.Amount == amount {
			out = append(out, tx)
		}
	}
	return out, nil
}

func classify(t *testing.T, existing []models.Transaction, rows []models.ImportRow) []models.ClassifiedRow {
	t.Helper()
	c := NewClassifier(&fakeLookup{existing: existing})
	out, err := c.Classify(context.Background(), "org-1", "acct-1", "deadbeef", rows)
	require.NoError(t, err)
	require.Len(t, out, len(rows))
	return out
}

func TestClassifyBankReferenceIsAuthoritative(t *testing.T) {
	balance := 900.0
	existing := []models.Transaction{{ID: "t-1", Date: "2024-03-05", Amount: -20, BankReference: "REF-123"}}
	// Same reference, completely different amount and date: still a
	// safe duplicate, the bank-assigned reference wins.
	rows := []models.ImportRow{{Amount: -99, Date: "2024-04-01", BankReference: "REF-123",
		TransactionType: models.TxTypeNormal, BalanceAfter: &balance}}

	out := classify(t, existing, rows)
	assert.Equal(t, models.VerdictSafeDuplicate, out[0].Verdict)
	assert.Equal(t, models.ReasonBankRef, out[0].Reason)
	require.Len(t, out[0].MatchedExisting, 1)
	assert.Equal(t, "t-1", out[0].MatchedExisting[0].ID)
}

func TestClassifyBalanceAmountDateTriple(t *testing.T) {
	balance := 1200.0
	existing := []models.Transaction{{ID: "t-1", Date: "2024-03-01", Amount: -50, BalanceAfter: &balance}}
	rows := []models.ImportRow{{Amount: -50, Date: "2024-03-01", BalanceAfter: &balance,
		TransactionType: models.TxTypeNormal}}

	out := classify(t, existing, rows)
	assert.Equal(t, models.VerdictSafeDuplicate, out[0].Verdict)
	assert.Equal(t, models.ReasonBalanceAmountDate, out[0].Reason)
}

func TestClassifyIntraFileDuplicate(t *testing.T) {
	row := models.ImportRow{Amount: -15, Date: "2024-03-02", Description: "Bank charge",
		TransactionType: models.TxTypeNormal}
	out := classify(t, nil, []models.ImportRow{row, row})

	assert.Equal(t, models.VerdictClean, out[0].Verdict)
	assert.Equal(t, models.VerdictSafeDuplicate, out[1].Verdict)
	assert.Equal(t, models.ReasonIntraFile, out[1].Reason)
}

func TestClassifyIntraFileRequiresExactMatch(t *testing.T) {
	// Two donations from different donors can legitimately share amount,
	// date and description. Only a byte-exact repeat is a duplicate.
	a := models.ImportRow{Amount: 25, Date: "2024-03-01", Description: "Membership fee",
		TransactionType: models.TxTypeDonation, ContactID: "c-1", ContactType: models.ContactTypeDonor}
	b := a
	b.ContactID = "c-2"
	out := classify(t, nil, []models.ImportRow{a, b})
	assert.Equal(t, models.VerdictClean, out[0].Verdict)
	assert.Equal(t, models.VerdictClean, out[1].Verdict, "differing contact ids are distinct rows")

	c := models.ImportRow{Amount: -15, Date: "2024-03-02", Description: "Bank charge",
		TransactionType: models.TxTypeNormal}
	d := c
	d.TransactionType = models.TxTypeFee
	out = classify(t, nil, []models.ImportRow{c, d})
	assert.Equal(t, models.VerdictClean, out[1].Verdict, "differing transaction types are distinct rows")
}

func TestClassifyPartialMatchBecomesCandidate(t *testing.T) {
	existingBalance := 1200.0
	rowBalance := 800.0
	existing := []models.Transaction{{ID: "t-1", Date: "2024-03-01", Amount: -50, BalanceAfter: &existingBalance}}
	// Same amount and date, disagreeing balance: ambiguous, a human
	// decides.
	rows := []models.ImportRow{{Amount: -50, Date: "2024-03-01", BalanceAfter: &rowBalance,
		TransactionType: models.TxTypeNormal}}

	out := classify(t, existing, rows)
	assert.Equal(t, models.VerdictCandidate, out[0].Verdict)
	assert.Empty(t, out[0].Reason)
	require.Len(t, out[0].MatchedExisting, 1)
}

func TestClassifyCleanRow(t *testing.T) {
	rows := []models.ImportRow{{Amount: -50, Date: "2024-03-01", TransactionType: models.TxTypeNormal}}
	out := classify(t, nil, rows)
	assert.Equal(t, models.VerdictClean, out[0].Verdict)
	assert.Empty(t, out[0].MatchedExisting)
}

func TestClassifyAssignsDeterministicRowUIDs(t *testing.T) {
	rows := []models.ImportRow{
		{Amount: -1, Date: "2024-03-01", TransactionType: models.TxTypeNormal},
		{Amount: -2, Date: "2024-03-02", TransactionType: models.TxTypeNormal},
	}
	out := classify(t, nil, rows)
	assert.Equal(t, RowUID("deadbeef", 0), out[0].RowUID)
	assert.Equal(t, RowUID("deadbeef", 1), out[1].RowUID)
}

func TestClassifyPrecedenceOverIntraFile(t *testing.T) {
	// A repeated row whose triple matches an existing record reports
	// the stronger balance/amount/date reason, not the intra-file one.
	balance := 700.0
	existing := []models.Transaction{{ID: "t-1", Date: "2024-03-03", Amount: -30, BalanceAfter: &balance}}
	row := models.ImportRow{Amount: -30, Date: "2024-03-03", BalanceAfter: &balance,
		TransactionType: models.TxTypeNormal}

	out := classify(t, existing, []models.ImportRow{row, row})
	assert.Equal(t, models.ReasonBalanceAmountDate, out[0].Reason)
	assert.Equal(t, models.ReasonBalanceAmountDate, out[1].Reason)
}
