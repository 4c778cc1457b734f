package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/username/fundlio/backend/src/models"
)

// Field separator chosen outside the printable range so canonical
// forms cannot collide through crafted field values.
const fieldSep = "\x1f"
const rowSep = "\x1e"

// ContentHash derives the idempotency key of an import request: a
// SHA-256 digest over a canonical byte form with fixed field order and
// trimmed whitespace. Byte-identical payloads always digest
// identically; row order is part of the canonical form, so a reordered
// upload is treated as a different upload.
func ContentHash(req models.ImportRequest) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.OrganizationID))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(req.BankAccountID))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(req.Source))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(req.FileName))
	b.WriteString(fieldSep)
	b.WriteString(strconv.Itoa(req.TotalRows))
	for _, row := range req.Rows {
		b.WriteString(rowSep)
		writeCanonicalRow(&b, row)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// RowUID derives the deterministic identifier of one row from the
// content hash and the row index. Identical payloads therefore yield
// the identical set of row identifiers, which makes the document-level
// writes idempotent independent of the job-level lease.
func RowUID(contentHash string, index int) string {
	sum := sha256.Sum256([]byte(contentHash + ":" + strconv.Itoa(index)))
	return hex.EncodeToString(sum[:])
}

func writeCanonicalRow(b *strings.Builder, row models.ImportRow) {
	b.WriteString(canonicalFloat(row.Amount))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(row.Date))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(row.Description))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(row.CategoryID))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(row.ContactID))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(row.ContactType))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(row.TransactionType))
	b.WriteString(fieldSep)
	b.WriteString(strings.TrimSpace(row.BankReference))
	b.WriteString(fieldSep)
	if row.BalanceAfter != nil {
		b.WriteString(canonicalFloat(*row.BalanceAfter))
	}
}

// canonicalFloat renders a float with the shortest round-trippable
// representation, so 50, 50.0 and 5e1 canonicalize to the same bytes.
func canonicalFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
