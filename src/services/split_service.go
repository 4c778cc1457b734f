package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/username/fundlio/backend/src/committer"
	"github.com/username/fundlio/backend/src/lockstore"
	"github.com/username/fundlio/backend/src/logger"
	"github.com/username/fundlio/backend/src/models"
	"github.com/username/fundlio/backend/src/security/validation"
)

const splitOperation = "split"

// archive reason recorded on children rolled back after a partial
// split. The soft delete keeps the audit trail and prevents a
// duplicate-income artifact.
const splitRollbackReason = "split_rollback"

type splitServiceImpl struct {
	db        *sql.DB
	locks     *lockstore.Store
	committer *committer.Committer
	leaseTTL  time.Duration

	flagParent func(ctx context.Context, orgID, parentID string, childIDs []string) error
}

func NewSplitService(db *sql.DB, locks *lockstore.Store, comm *committer.Committer, leaseTTL time.Duration) SplitService {
	s := &splitServiceImpl{
		db:        db,
		locks:     locks,
		committer: comm,
		leaseTTL:  leaseTTL,
	}
	s.flagParent = s.markParentSplit
	return s
}

func (s *splitServiceImpl) SplitTransaction(ctx context.Context, req models.SplitRequest, requestedBy string) (*models.SplitResult, error) {
	log := logger.FromContext(ctx)

	if strings.TrimSpace(req.OrganizationID) == "" || strings.TrimSpace(req.ParentTransactionID) == "" {
		return nil, fmt.Errorf("%w: organization_id and parent_transaction_id", ErrMissingField)
	}
	if len(req.Lines) < 2 {
		return nil, ErrTooFewSplitLines
	}

	parent, err := getTransaction(ctx, s.db, req.OrganizationID, req.ParentTransactionID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, ErrParentNotFound
	}
	if err := checkParentEligible(parent); err != nil {
		return nil, err
	}

	// Balance law in integer cents: any nonzero delta rejects the whole
	// operation before a single write.
	parentCents := int64(math.Round(parent.Amount * 100))
	var sumCents int64
	for i, line := range req.Lines {
		if line.AmountCents <= 0 {
			return nil, fmt.Errorf("%w: line %d amount must be positive", ErrInvalidSplitLine, i)
		}
		if line.Kind != models.SplitKindDonation && line.Kind != models.SplitKindNonDonation {
			return nil, fmt.Errorf("%w: line %d kind %q", ErrInvalidSplitLine, i, line.Kind)
		}
		sumCents += line.AmountCents
	}
	if sumCents != parentCents {
		return nil, fmt.Errorf("%w: lines sum to %d cents, parent is %d cents", ErrSumMismatch, sumCents, parentCents)
	}

	contacts, err := s.checkLineReferences(ctx, req)
	if err != nil {
		return nil, err
	}

	owner := uuid.NewString()
	if err := s.locks.AcquireProcessLock(ctx, parent.ID, splitOperation, owner, s.leaseTTL); err != nil {
		return nil, err
	}
	defer func() {
		// The split lease carries no idempotency meaning; it is deleted
		// on every exit path.
		if relErr := s.locks.ReleaseProcessLock(context.WithoutCancel(ctx), parent.ID, owner); relErr != nil {
			log.Error("Failed to release split lock", "parentID", parent.ID, "error", relErr)
		}
	}()

	children := buildChildren(parent, req.Lines, contacts)

	commitResult, err := s.committer.CommitTransactions(ctx, children)
	if err != nil {
		return nil, s.rollback(ctx, parent.ID, commitResult.CreatedIDs, fmt.Errorf("creating split children: %w", err))
	}

	if err := s.flagParent(ctx, req.OrganizationID, parent.ID, commitResult.CreatedIDs); err != nil {
		return nil, s.rollback(ctx, parent.ID, commitResult.CreatedIDs, fmt.Errorf("flagging split parent: %w", err))
	}

	log.Info("Split committed", "parentID", parent.ID, "children", len(commitResult.CreatedIDs))
	return &models.SplitResult{
		ParentID:     parent.ID,
		ChildIDs:     commitResult.CreatedIDs,
		CreatedCount: commitResult.CreatedCount,
	}, nil
}

// rollback archives the created children so no duplicate income is
// left behind. A failed rollback is the one terminal failure mode of
// the pipeline: it is reported distinctly so an operator reconciles
// manually instead of retrying.
func (s *splitServiceImpl) rollback(ctx context.Context, parentID string, childIDs []string, cause error) error {
	if len(childIDs) == 0 {
		return cause
	}
	log := logger.FromContext(ctx)
	log.Warn("Rolling back partially committed split", "parentID", parentID, "children", len(childIDs), "cause", cause)
	if err := archiveTransactions(context.WithoutCancel(ctx), s.db, childIDs, splitRollbackReason); err != nil {
		log.Error("Split rollback failed, manual intervention required", "parentID", parentID, "error", err)
		return fmt.Errorf("%w: %v (original failure: %v)", ErrRollbackFailed, err, cause)
	}
	return cause
}

func (s *splitServiceImpl) markParentSplit(ctx context.Context, orgID, parentID string, childIDs []string) error {
	linked, err := json.Marshal(childIDs)
	if err != nil {
		return fmt.Errorf("encoding linked transaction ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET is_split = 1, linked_transaction_ids = ?
		 WHERE id = ? AND organization_id = ? AND is_split = 0 AND archived_at IS NULL`,
		string(linked), parentID, orgID)
	if err != nil {
		return fmt.Errorf("updating split parent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading parent update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("parent %s changed underneath the split", parentID)
	}
	return nil
}

// checkLineReferences verifies every referenced category and contact
// exists, and that donation lines reference a donor contact. The
// resolved contacts are returned so children carry the contact type.
func (s *splitServiceImpl) checkLineReferences(ctx context.Context, req models.SplitRequest) (map[string]*models.Contact, error) {
	contacts := make(map[string]*models.Contact)
	for i, line := range req.Lines {
		if line.CategoryID != "" {
			exists, err := categoryExists(ctx, s.db, req.OrganizationID, line.CategoryID)
			if err != nil {
				return nil, err
			}
			if !exists {
				return nil, fmt.Errorf("%w: line %d category %s", ErrCategoryNotFound, i, line.CategoryID)
			}
		}
		if line.ContactID != "" {
			contact, ok := contacts[line.ContactID]
			if !ok {
				var err error
				contact, err = getContact(ctx, s.db, req.OrganizationID, line.ContactID)
				if err != nil {
					return nil, err
				}
				contacts[line.ContactID] = contact
			}
			if contact == nil {
				return nil, fmt.Errorf("%w: line %d contact %s", ErrContactNotFound, i, line.ContactID)
			}
		}
		if line.Kind == models.SplitKindDonation {
			if line.ContactID == "" {
				return nil, fmt.Errorf("%w: line %d has no contact", ErrDonationContactNotDonor, i)
			}
			if contact := contacts[line.ContactID]; contact != nil && contact.ContactType != models.ContactTypeDonor {
				return nil, fmt.Errorf("%w: line %d contact %s", ErrDonationContactNotDonor, i, line.ContactID)
			}
		}
	}
	return contacts, nil
}

func checkParentEligible(parent *models.Transaction) error {
	switch {
	case parent.ArchivedAt != nil:
		return fmt.Errorf("%w: parent is archived", ErrParentNotEligible)
	case parent.Amount <= 0:
		return fmt.Errorf("%w: parent amount is not income", ErrParentNotEligible)
	case strings.TrimSpace(parent.BankAccountID) == "":
		return fmt.Errorf("%w: parent has no bank account", ErrParentNotEligible)
	case parent.Source == models.SourceRemittance:
		return fmt.Errorf("%w: remittance transactions cannot be split", ErrParentNotEligible)
	case parent.Source == models.SourceStripe:
		return fmt.Errorf("%w: stripe transactions cannot be split", ErrParentNotEligible)
	case parent.IsSplit:
		return fmt.Errorf("%w: parent is already split", ErrParentNotEligible)
	case parent.ParentTransactionID != "":
		return fmt.Errorf("%w: parent is itself a split child", ErrParentNotEligible)
	case parent.TransactionType == models.TxTypeDonation || parent.TransactionType == models.TxTypeFee:
		return fmt.Errorf("%w: parent type %s cannot be split", ErrParentNotEligible, parent.TransactionType)
	}
	return nil
}

func buildChildren(parent *models.Transaction, lines []models.SplitLine, contacts map[string]*models.Contact) []models.Transaction {
	children := make([]models.Transaction, 0, len(lines))
	for _, line := range lines {
		txType := models.TxTypeNormal
		if line.Kind == models.SplitKindDonation {
			txType = models.TxTypeDonation
		}
		contactType := ""
		if contact := contacts[line.ContactID]; contact != nil {
			contactType = contact.ContactType
		}
		description := strings.TrimSpace(validation.StripUnprintable(validation.SanitizeText(line.Note)))
		if description == "" {
			description = parent.Description
		}
		children = append(children, models.Transaction{
			ID:                  uuid.NewString(),
			OrganizationID:      parent.OrganizationID,
			BankAccountID:       parent.BankAccountID,
			Amount:              float64(line.AmountCents) / 100,
			Date:                parent.Date,
			Description:         description,
			CategoryID:          line.CategoryID,
			ContactID:           line.ContactID,
			ContactType:         contactType,
			TransactionType:     txType,
			Source:              parent.Source,
			ParentTransactionID: parent.ID,
		})
	}
	return children
}
