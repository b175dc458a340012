package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/serial_tracking/config"
	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/mmdatafocus/serial_tracking/utils"
	"gorm.io/gorm"
)

const (
	serialCodeDefaultPrefix = "SER"
	// candidate codes tried per unit before giving up
	serialCodeMaxAttempts = 100
)

func serialCode(ref models.DocumentRef, sequence int) string {
	prefix := ref.Code
	if prefix == "" {
		prefix = serialCodeDefaultPrefix
	}
	if ref.LineId > 0 {
		return fmt.Sprintf("%s-L%d-%04d", prefix, ref.LineId, sequence)
	}
	return fmt.Sprintf("%s-%04d", prefix, sequence)
}

// GenerateReceiptSerials makes sure a locked receipt (or receipt line) of a lot-tracked
// item has exactly as many enabled serials as its quantity, creating the missing ones.
// It returns how many were created; calling it again on the same receipt creates none.
func GenerateReceiptSerials(ctx context.Context, db *gorm.DB, receipt models.ReceiptDocument, actor models.Actor) (created int, err error) {
	item := receipt.SerialItem()
	if item == nil || !item.LotTracked {
		return 0, nil
	}
	quantity := receipt.SerialQuantity()
	if !quantity.Valid {
		return 0, nil
	}
	ref := receipt.SerialDocumentRef()

	ctx, op := startOperation(ctx, "GenerateReceiptSerials", ref)
	var transitions map[models.SerialEventType]int
	defer func() { op.finish(err, transitions) }()

	if err := ref.Validate(); err != nil {
		return 0, fmt.Errorf("%w: receipt %s: %v", models.ErrSerialTracking, ref, err)
	}
	required, err := models.WholeUnits(item.Code, quantity.Decimal)
	if err != nil {
		return 0, err
	}
	if limit := config.SerialMaxPerReceipt(); required > limit {
		return 0, &models.SerialQuantityMismatchError{
			ItemCode: item.Code,
			Quantity: quantity.Decimal.String(),
			Reason:   fmt.Sprintf("a receipt cannot generate more than %d serials", limit),
		}
	}

	var batch *serialBatch
	err = receiptTransaction(ctx, db, ref, "GenerateReceiptSerials", func(tx *gorm.DB) error {
		batch = newSerialBatch(tx, actor)
		existing, err := models.CountReceiptSerials(tx, ref)
		if err != nil {
			return err
		}
		if int(existing) >= required {
			return nil
		}

		next := int(existing) + 1
		for n := int(existing); n < required; n++ {
			batch.stamp()
			serial, used, err := insertGeneratedSerial(tx, ref, item, receipt.SerialWarehouse(), next, batch.now, actor)
			if err != nil {
				return err
			}
			if err := models.AttachDocumentSerials(ctx, tx, ref, []int{serial.ID}); err != nil {
				return err
			}
			batch.created(serial)
			next = used + 1
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	transitions = batch.transitions
	models.InvalidateAvailableSerials(ctx, ref.CompanyId, batch.touched)
	return batch.transitions[models.SerialEventCreated], nil
}

// insertGeneratedSerial tries sequence, sequence+1, ... until a code is free. A code
// taken by a concurrent generator between the check and the insert counts as taken.
func insertGeneratedSerial(tx *gorm.DB, ref models.DocumentRef, item *models.ItemRef, warehouse *models.LocationRef, sequence int, now time.Time, actor models.Actor) (*models.ItemSerial, int, error) {
	var lastCode string
	for attempt := 0; attempt < serialCodeMaxAttempts; attempt++ {
		seq := sequence + attempt
		code := serialCode(ref, seq)
		lastCode = code

		exists, err := models.SerialCodeExists(tx, code)
		if err != nil {
			return nil, 0, err
		}
		if exists {
			continue
		}

		moved := now
		serial := &models.ItemSerial{
			CompanyId:            ref.CompanyId,
			ItemId:               item.Id,
			ItemCode:             item.Code,
			SerialCode:           code,
			ReceiptDocumentType:  ref.Type,
			ReceiptDocumentId:    ref.Id,
			ReceiptLineId:        ref.LineId,
			ReceiptDocumentCode:  ref.Code,
			CurrentStatus:        models.SerialStatusAvailable,
			CurrentWarehouseId:   warehouse.IdPtr(),
			CurrentWarehouseCode: warehouse.CodeOrEmpty(),
			LastMovedAt:          &moved,
			IsEnabled:            utils.NewTrue(),
			CreatedBy:            actor.UserId,
			EditedBy:             actor.UserId,
		}
		if _, err := models.CreateItemSerial(tx, serial, now); err != nil {
			if utils.IsDuplicateKey(err) {
				continue
			}
			return nil, 0, err
		}
		return serial, seq, nil
	}
	return nil, 0, &models.SerialGenerationError{DocumentCode: ref.Code, Attempts: serialCodeMaxAttempts, LastCode: lastCode}
}
