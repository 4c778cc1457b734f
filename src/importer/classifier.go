package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/username/fundlio/backend/src/models"
)

// ExistingLookup is the read side of the duplicate classifier. All
// lookups are scoped to one organization and bank account; archived
// records are excluded by the implementation.
type ExistingLookup interface {
	ByBankReference(ctx context.Context, orgID, accountID, reference string) ([]models.Transaction, error)
	ByBalanceAmountDate(ctx context.Context, orgID, accountID, date string, amount, balance float64) ([]models.Transaction, error)
	ByAmountDate(ctx context.Context, orgID, accountID, date string, amount float64) ([]models.Transaction, error)
}

// Classifier produces exactly one verdict per incoming row, checking
// heuristics in strict precedence order: an externally assigned bank
// reference wins over the balance/amount/date triple, which wins over
// an intra-file repeat. Weaker partial matches are never auto-resolved;
// they become candidates for manual adjudication.
type Classifier struct {
	lookup ExistingLookup
}

func NewClassifier(lookup ExistingLookup) *Classifier {
	return &Classifier{lookup: lookup}
}

// Classify assigns a verdict to every row of one upload. Rows marked
// as candidates carry the matched existing records and are excluded
// from the auto-commit set by the caller.
func (c *Classifier) Classify(ctx context.Context, orgID, accountID, contentHash string, rows []models.ImportRow) ([]models.ClassifiedRow, error) {
	out := make([]models.ClassifiedRow, 0, len(rows))
	seen := make(map[string]bool, len(rows))

	for i, row := range rows {
		classified := models.ClassifiedRow{
			Index:   i,
			RowUID:  RowUID(contentHash, i),
			Row:     row,
			Verdict: models.VerdictClean,
		}

		verdict, reason, matched, err := c.classifyRow(ctx, orgID, accountID, row, seen)
		if err != nil {
			return nil, fmt.Errorf("classifying row %d: %w", i, err)
		}
		classified.Verdict = verdict
		classified.Reason = reason
		classified.MatchedExisting = matched

		// A row only shields later intra-file repeats once it has been
		// seen, so the first occurrence keeps its own verdict.
		seen[intraFileKey(row)] = true

		out = append(out, classified)
	}
	return out, nil
}

func (c *Classifier) classifyRow(ctx context.Context, orgID, accountID string, row models.ImportRow, seen map[string]bool) (string, string, []models.Transaction, error) {
	// 1. Bank-assigned reference: authoritative, skips all other checks.
	if ref := strings.TrimSpace(row.BankReference); ref != "" {
		matches, err := c.lookup.ByBankReference(ctx, orgID, accountID, ref)
		if err != nil {
			return "", "", nil, err
		}
		if len(matches) > 0 {
			return models.VerdictSafeDuplicate, models.ReasonBankRef, matches, nil
		}
	}

	// 2. Three independent bank-reported fields agreeing at once is a
	// near-zero false-positive signal.
	if row.BalanceAfter != nil {
		matches, err := c.lookup.ByBalanceAmountDate(ctx, orgID, accountID, row.Date, row.Amount, *row.BalanceAfter)
		if err != nil {
			return "", "", nil, err
		}
		if len(matches) > 0 {
			return models.VerdictSafeDuplicate, models.ReasonBalanceAmountDate, matches, nil
		}
	}

	// 3. Exact repeat of an earlier row in the same upload.
	if seen[intraFileKey(row)] {
		return models.VerdictSafeDuplicate, models.ReasonIntraFile, nil, nil
	}

	// 4. Partial matches (same amount and date, but no agreeing balance
	// or reference) are ambiguous: two identical recurring payments on
	// different statement lines are legitimate. Defer to a human.
	matches, err := c.lookup.ByAmountDate(ctx, orgID, accountID, row.Date, row.Amount)
	if err != nil {
		return "", "", nil, err
	}
	if len(matches) > 0 {
		return models.VerdictCandidate, "", matches, nil
	}

	return models.VerdictClean, "", nil, nil
}

// intraFileKey is the exact-equality key used for duplicate lines
// within one upload. It covers the full canonical row, so lines that
// differ in any field (contact, category, type, ...) never collapse.
func intraFileKey(row models.ImportRow) string {
	var b strings.Builder
	writeCanonicalRow(&b, row)
	return b.String()
}
