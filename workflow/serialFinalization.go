package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/mmdatafocus/serial_tracking/utils"
	"gorm.io/gorm"
)

// ValidateIssueLock is the pre-lock gate of an issue document. Every lot-tracked line
// needs a whole-number quantity and exactly that many attached serials. All problems
// are reported together; ok is false when there is at least one.
func ValidateIssueLock(ctx context.Context, db *gorm.DB, lines []models.IssueDocument) (ok bool, messages []string, err error) {
	for _, line := range lines {
		if !models.IsLotTracked(line) {
			continue
		}
		lineCtx := utils.SetCompanyIdInContext(ctx, line.SerialDocumentRef().CompanyId)
		msg, err := validateLineForLock(lineCtx, db, line)
		if err != nil {
			return false, nil, err
		}
		if msg != "" {
			messages = append(messages, msg)
		}
	}
	return len(messages) == 0, messages, nil
}

func validateLineForLock(ctx context.Context, db *gorm.DB, line models.IssueDocument) (string, error) {
	item := line.SerialItem()
	quantity := line.SerialQuantity()
	if !quantity.Valid {
		return fmt.Sprintf("For %s, the quantity must be a whole number before locking.", item.Label()), nil
	}
	required, err := models.WholeUnits(item.Code, quantity.Decimal)
	if err != nil {
		return fmt.Sprintf("For %s, the quantity must be a whole number before locking.", item.Label()), nil
	}
	selected, err := models.CountDocumentSerials(ctx, db, line.SerialDocumentRef())
	if err != nil {
		return "", err
	}
	if int(selected) != required {
		return fmt.Sprintf("For %s, %d serials must be selected before locking (currently %d).", item.Label(), required, selected), nil
	}
	return "", nil
}

// FinalizeIssueSerials moves every serial attached to a locked issue document (or line)
// into its terminal status: CONSUMED for consumption documents, ISSUED otherwise.
func FinalizeIssueSerials(ctx context.Context, db *gorm.DB, issue models.IssueDocument, actor models.Actor) error {
	return FinalizeIssueLines(ctx, db, []models.IssueDocument{issue}, actor)
}

// FinalizeIssueLines finalizes all lines of one document in a single transaction.
func FinalizeIssueLines(ctx context.Context, db *gorm.DB, lines []models.IssueDocument, actor models.Actor) (err error) {
	ref, ok := firstRef(lines)
	if !ok {
		return nil
	}
	ctx, op := startOperation(ctx, "FinalizeIssueSerials", ref)
	var transitions map[models.SerialEventType]int
	defer func() { op.finish(err, transitions) }()

	if err := validateRefs(lines); err != nil {
		return err
	}

	var batch *serialBatch
	err = serialTransaction(ctx, db, ref, "FinalizeIssueSerials", func(tx *gorm.DB) error {
		batch = newSerialBatch(tx, actor)
		return finalizeLines(ctx, batch, lines)
	})
	if err != nil {
		return err
	}

	transitions = batch.transitions
	models.InvalidateAvailableSerials(ctx, ref.CompanyId, batch.touched)
	return nil
}

// LockIssueDocument runs the whole lock workflow of an issue document in one transaction:
// pre-lock validation, the caller's own lock write (commit), then finalization. A failed
// validation returns *SerialLockValidationError and leaves the document unlocked.
func LockIssueDocument(ctx context.Context, db *gorm.DB, lines []models.IssueDocument, actor models.Actor, commit func(tx *gorm.DB) error) (err error) {
	ref, ok := firstRef(lines)
	if !ok {
		if commit == nil {
			return nil
		}
		return db.WithContext(ctx).Transaction(commit)
	}
	ctx, op := startOperation(ctx, "LockIssueDocument", ref)
	var transitions map[models.SerialEventType]int
	defer func() { op.finish(err, transitions) }()

	if err := validateRefs(lines); err != nil {
		return err
	}

	var batch *serialBatch
	err = serialTransaction(ctx, db, ref, "LockIssueDocument", func(tx *gorm.DB) error {
		batch = newSerialBatch(tx, actor)
		ok, messages, err := ValidateIssueLock(ctx, tx, lines)
		if err != nil {
			return err
		}
		if !ok {
			return &models.SerialLockValidationError{Messages: messages}
		}
		if commit != nil {
			if err := commit(tx); err != nil {
				return err
			}
		}
		return finalizeLines(ctx, batch, lines)
	})
	if err != nil {
		return err
	}

	transitions = batch.transitions
	models.InvalidateAvailableSerials(ctx, ref.CompanyId, batch.touched)
	return nil
}

// finalizeLines locks the serials of every lot-tracked line in one ascending pass and
// applies each line's terminal transition.
func finalizeLines(ctx context.Context, batch *serialBatch, lines []models.IssueDocument) error {
	lineOf := make(map[int]models.IssueDocument)
	var ids []int
	companyId := ""
	for _, line := range lines {
		if !models.IsLotTracked(line) {
			continue
		}
		ref := line.SerialDocumentRef()
		companyId = ref.CompanyId
		lineIds, err := models.ListDocumentSerialIds(ctx, batch.tx, ref)
		if err != nil {
			return err
		}
		for _, id := range lineIds {
			if other, dup := lineOf[id]; dup {
				return &models.SerialAssignmentError{Reason: fmt.Sprintf("serial %d is attached to both %s and %s", id, other.SerialDocumentRef(), ref)}
			}
			lineOf[id] = line
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	serials, err := models.LockSerialsForUpdate(batch.tx, companyId, ids)
	if err != nil {
		return err
	}
	batch.stamp()
	for _, serial := range serials {
		line := lineOf[serial.ID]
		before := serial.AvailabilityKey()
		status := line.SerialIssueKind().FinalSerialStatus()
		entry, err := serial.FinalizeFor(line.SerialDocumentRef(), status, line.SerialDepartmentUnit(), batch.now, batch.actor)
		if err != nil {
			return err
		}
		if err := batch.apply(serial, before, entry); err != nil {
			return err
		}
	}
	return nil
}

func firstRef(lines []models.IssueDocument) (models.DocumentRef, bool) {
	if len(lines) == 0 {
		return models.DocumentRef{}, false
	}
	return lines[0].SerialDocumentRef(), true
}

// validateRefs checks every line ref and that all lines belong to one company.
func validateRefs(lines []models.IssueDocument) error {
	companyId := ""
	for _, line := range lines {
		ref := line.SerialDocumentRef()
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("%w: issue %s: %v", models.ErrSerialTracking, ref, err)
		}
		if companyId != "" && ref.CompanyId != companyId {
			return fmt.Errorf("%w: lines of %s span companies %s and %s", models.ErrSerialTracking, ref, companyId, ref.CompanyId)
		}
		companyId = ref.CompanyId
	}
	return nil
}
