package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/fundlio/backend/src/models"
)

func sampleRequest() models.ImportRequest {
	balance := 1200.0
	return models.ImportRequest{
		OrganizationID: "org-1",
		BankAccountID:  "acct-1",
		Source:         models.SourceBank,
		FileName:       "statement-march.csv",
		TotalRows:      2,
		Rows: []models.ImportRow{
			{Amount: -50, Date: "2024-03-01", Description: "Office rent", TransactionType: models.TxTypeNormal, BalanceAfter: &balance},
			{Amount: 25, Date: "2024-03-02", Description: "Donation J. Doe", TransactionType: models.TxTypeDonation, ContactID: "c-1", ContactType: "donor"},
		},
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash(sampleRequest())
	b := ContentHash(sampleRequest())
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestContentHashSensitiveToRowOrder(t *testing.T) {
	req := sampleRequest()
	reordered := sampleRequest()
	reordered.Rows[0], reordered.Rows[1] = reordered.Rows[1], reordered.Rows[0]

	assert.NotEqual(t, ContentHash(req), ContentHash(reordered),
		"row order is part of the canonical form")
}

func TestContentHashSensitiveToFieldChanges(t *testing.T) {
	base := ContentHash(sampleRequest())

	changed := sampleRequest()
	changed.Rows[0].Amount = -50.01
	assert.NotEqual(t, base, ContentHash(changed))

	changed = sampleRequest()
	changed.FileName = "statement-april.csv"
	assert.NotEqual(t, base, ContentHash(changed))
}

func TestContentHashIgnoresWhitespacePadding(t *testing.T) {
	padded := sampleRequest()
	padded.Rows[0].Description = "  Office rent  "
	assert.Equal(t, ContentHash(sampleRequest()), ContentHash(padded))
}

func TestContentHashEquivalentFloatForms(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()
	a.Rows[1].Amount = 25
	b.Rows[1].Amount = 25.0
	assert.Equal(t, ContentHash(a), ContentHash(b))
}

func TestRowUIDDeterministicPerIndex(t *testing.T) {
	hash := ContentHash(sampleRequest())

	require.Equal(t, RowUID(hash, 0), RowUID(hash, 0))
	assert.NotEqual(t, RowUID(hash, 0), RowUID(hash, 1))

	otherHash := ContentHash(func() models.ImportRequest {
		r := sampleRequest()
		r.FileName = "other.csv"
		return r
	}())
	assert.NotEqual(t, RowUID(hash, 0), RowUID(otherHash, 0),
		"row ids are scoped to the content hash")
}
