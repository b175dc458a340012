package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/mmdatafocus/serial_tracking/utils"
	"gorm.io/gorm"
)

// SyncIssueSerials brings serial state in line with what is attached to an editable
// issue document (or line) right now. previousSerialIds is the attachment set before
// the edit being saved. Serials no longer attached go back to AVAILABLE, newly attached
// ones become RESERVED by the issue. Both happen in one transaction.
func SyncIssueSerials(ctx context.Context, db *gorm.DB, issue models.IssueDocument, previousSerialIds []int, actor models.Actor) (err error) {
	ref := issue.SerialDocumentRef()
	ctx, op := startOperation(ctx, "SyncIssueSerials", ref)
	var transitions map[models.SerialEventType]int
	defer func() { op.finish(err, transitions) }()

	if err := ref.Validate(); err != nil {
		return fmt.Errorf("%w: issue %s: %v", models.ErrSerialTracking, ref, err)
	}

	var batch *serialBatch
	err = serialTransaction(ctx, db, ref, "SyncIssueSerials", func(tx *gorm.DB) error {
		batch = newSerialBatch(tx, actor)
		return syncIssueSerials(ctx, batch, issue, previousSerialIds)
	})
	if err != nil {
		return err
	}

	transitions = batch.transitions
	models.InvalidateAvailableSerials(ctx, ref.CompanyId, batch.touched)
	return nil
}

func syncIssueSerials(ctx context.Context, batch *serialBatch, issue models.IssueDocument, previousSerialIds []int) error {
	ref := issue.SerialDocumentRef()
	previous := idSet(previousSerialIds)

	if !models.IsLotTracked(issue) {
		if len(previous) == 0 {
			return nil
		}
		serials, err := models.LockSerialsForUpdate(batch.tx, ref.CompanyId, previousSerialIds)
		if err != nil {
			return err
		}
		batch.stamp()
		return batch.reconcile(serials, issue, nil, previous)
	}

	currentIds, err := models.ListDocumentSerialIds(ctx, batch.tx, ref)
	if err != nil {
		return err
	}
	current := idSet(currentIds)
	added := difference(currentIds, previous)
	removed := difference(previousSerialIds, current)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	// one locking pass over both sets keeps lock order global
	serials, err := models.LockSerialsForUpdate(batch.tx, ref.CompanyId, append(append([]int{}, removed...), added...))
	if err != nil {
		return err
	}
	batch.stamp()
	return batch.reconcile(serials, issue, idSet(added), idSet(removed))
}

// AssignIssueSerials replaces the serial selection of an issue document (or line) and
// reserves it. The selection must match the whole-number quantity, belong to the
// document's item and company, and be selectable: AVAILABLE in the document's
// warehouse or already reserved by this document.
func AssignIssueSerials(ctx context.Context, db *gorm.DB, issue models.IssueDocument, serialIds []int, actor models.Actor) (err error) {
	ref := issue.SerialDocumentRef()
	ctx, op := startOperation(ctx, "AssignIssueSerials", ref)
	var transitions map[models.SerialEventType]int
	defer func() { op.finish(err, transitions) }()

	if err := ref.Validate(); err != nil {
		return fmt.Errorf("%w: issue %s: %v", models.ErrSerialTracking, ref, err)
	}
	item := issue.SerialItem()
	if item == nil {
		return &models.SerialAssignmentError{Reason: fmt.Sprintf("issue %s has no item", ref)}
	}
	if !item.LotTracked {
		return &models.SerialAssignmentError{Reason: fmt.Sprintf("item %s does not track serials", item.Label())}
	}
	quantity := issue.SerialQuantity()
	if !quantity.Valid {
		return &models.SerialAssignmentError{Reason: fmt.Sprintf("quantity of %s is required before selecting serials", item.Label())}
	}
	required, err := models.WholeUnits(item.Code, quantity.Decimal)
	if err != nil {
		return &models.SerialAssignmentError{Reason: fmt.Sprintf("quantity of %s must be a whole number", item.Label())}
	}
	serialIds = utils.UniqueSlice(serialIds)
	if len(serialIds) != required {
		return &models.SerialAssignmentError{Reason: fmt.Sprintf("select exactly %d serials for %s (%d selected)", required, item.Label(), len(serialIds))}
	}

	var batch *serialBatch
	err = serialTransaction(ctx, db, ref, "AssignIssueSerials", func(tx *gorm.DB) error {
		batch = newSerialBatch(tx, actor)
		if err := checkSelectable(tx, issue, serialIds); err != nil {
			return err
		}
		previous, err := models.ReplaceDocumentSerials(ctx, tx, ref, serialIds)
		if err != nil {
			return err
		}
		return syncIssueSerials(ctx, batch, issue, previous)
	})
	if err != nil {
		return err
	}

	transitions = batch.transitions
	models.InvalidateAvailableSerials(ctx, ref.CompanyId, batch.touched)
	return nil
}

func checkSelectable(tx *gorm.DB, issue models.IssueDocument, serialIds []int) error {
	ref := issue.SerialDocumentRef()
	item := issue.SerialItem()
	warehouse := issue.SerialWarehouse()

	serials, err := models.LockSerialsForUpdate(tx, ref.CompanyId, serialIds)
	if errors.Is(err, models.ErrSerialTracking) {
		return &models.SerialAssignmentError{Reason: "one or more selected serials do not exist"}
	} else if err != nil {
		return err
	}
	for _, serial := range serials {
		if serial.ItemId != item.Id {
			return &models.SerialAssignmentError{Reason: fmt.Sprintf("serial %s belongs to item %s, not %s", serial.SerialCode, serial.ItemCode, item.Label())}
		}
		if serial.IsEnabled != nil && !*serial.IsEnabled {
			return &models.SerialAssignmentError{Reason: fmt.Sprintf("serial %s is disabled", serial.SerialCode)}
		}
		// a sibling line's reservation is handed over by the synchronizer
		if serial.CurrentStatus == models.SerialStatusReserved && (serial.HeldBy(ref) || serial.HeldBySibling(ref)) {
			continue
		}
		if serial.CurrentStatus != models.SerialStatusAvailable {
			return &models.SerialAssignmentError{Reason: fmt.Sprintf("serial %s is %s", serial.SerialCode, serial.CurrentStatus)}
		}
		if warehouse != nil && serial.AvailabilityKey()[1] != warehouse.Id {
			return &models.SerialAssignmentError{Reason: fmt.Sprintf("serial %s is not in warehouse %s", serial.SerialCode, warehouse.Code)}
		}
	}
	return nil
}
