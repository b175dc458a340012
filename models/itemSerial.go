package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/serial_tracking/config"
	"github.com/mmdatafocus/serial_tracking/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemSerial is one physical unit of a lot-tracked item.
type ItemSerial struct {
	ID                        int          `gorm:"primary_key" json:"id"`
	CompanyId                 string       `gorm:"size:36;not null;index:idx_item_serial_status,priority:1;index:idx_item_serial_receipt,priority:1" json:"company_id"`
	ItemId                    int          `gorm:"not null;index:idx_item_serial_status,priority:2" json:"item_id"`
	ItemCode                  string       `gorm:"size:16" json:"item_code"`
	LotCode                   string       `gorm:"size:30" json:"lot_code"`
	SerialCode                string       `gorm:"size:50;not null;uniqueIndex" json:"serial_code"`
	SecondarySerialCode       string       `gorm:"size:50" json:"secondary_serial_code"`
	ReceiptDocumentType       string       `gorm:"size:30;index:idx_item_serial_receipt,priority:2" json:"receipt_document_type"`
	ReceiptDocumentId         int          `gorm:"index:idx_item_serial_receipt,priority:3" json:"receipt_document_id"`
	ReceiptLineId             int          `gorm:"not null;default:0;index:idx_item_serial_receipt,priority:4" json:"receipt_line_id"`
	ReceiptDocumentCode       string       `gorm:"size:30" json:"receipt_document_code"`
	CurrentStatus             SerialStatus `gorm:"size:20;not null;index:idx_item_serial_status,priority:3" json:"current_status"`
	CurrentWarehouseId        *int         `gorm:"index" json:"current_warehouse_id"`
	CurrentWarehouseCode      string       `gorm:"size:8" json:"current_warehouse_code"`
	CurrentCompanyUnitId      *int         `json:"current_company_unit_id"`
	CurrentCompanyUnitCode    string       `gorm:"size:8" json:"current_company_unit_code"`
	CurrentDocumentType       string       `gorm:"size:30" json:"current_document_type"`
	CurrentDocumentId         *int         `json:"current_document_id"`
	CurrentDocumentLineId     int          `gorm:"not null;default:0" json:"current_document_line_id"`
	CurrentDocumentCode       string       `gorm:"size:30" json:"current_document_code"`
	ReservedFromWarehouseId   *int         `json:"reserved_from_warehouse_id"`
	ReservedFromWarehouseCode string       `gorm:"size:8" json:"reserved_from_warehouse_code"`
	LastMovedAt               *time.Time   `json:"last_moved_at"`
	IsEnabled                 *bool        `gorm:"not null;default:true" json:"is_enabled"`
	CreatedBy                 int          `gorm:"index" json:"created_by"`
	EditedBy                  int          `json:"edited_by"`
	CreatedAt                 time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// serialStateColumns are the only columns the engines ever write after creation.
var serialStateColumns = []string{
	"current_status",
	"current_warehouse_id",
	"current_warehouse_code",
	"current_company_unit_id",
	"current_company_unit_code",
	"current_document_type",
	"current_document_id",
	"current_document_line_id",
	"current_document_code",
	"reserved_from_warehouse_id",
	"reserved_from_warehouse_code",
	"last_moved_at",
	"edited_by",
	"updated_at",
}

// HeldBy reports whether the serial's holding document is ref.
func (s *ItemSerial) HeldBy(ref DocumentRef) bool {
	return s.CurrentDocumentId != nil &&
		*s.CurrentDocumentId == ref.Id &&
		s.CurrentDocumentType == ref.Type &&
		s.CurrentDocumentLineId == ref.LineId
}

// HeldBySibling reports whether another line of ref's document holds the serial.
func (s *ItemSerial) HeldBySibling(ref DocumentRef) bool {
	return s.CurrentDocumentId != nil &&
		*s.CurrentDocumentId == ref.Id &&
		s.CurrentDocumentType == ref.Type &&
		s.CurrentDocumentLineId != ref.LineId
}

// eventTime never goes back past the serial's last recorded move, so history read in
// event_at order is the order the transitions committed in.
func (s *ItemSerial) eventTime(now time.Time) time.Time {
	if s.LastMovedAt != nil && now.Before(*s.LastMovedAt) {
		return *s.LastMovedAt
	}
	return now
}

func (s *ItemSerial) holderLabel() string {
	if s.CurrentDocumentId == nil {
		return ""
	}
	return DocumentRef{Type: s.CurrentDocumentType, Id: *s.CurrentDocumentId, LineId: s.CurrentDocumentLineId, Code: s.CurrentDocumentCode}.String()
}

// AvailabilityKey is the (item, warehouse) pair whose available list this serial belongs to.
func (s *ItemSerial) AvailabilityKey() [2]int {
	if s.CurrentWarehouseId == nil {
		return [2]int{s.ItemId, 0}
	}
	return [2]int{s.ItemId, *s.CurrentWarehouseId}
}

// checkHoldingConsistency enforces that holding-document fields match the status.
func (s *ItemSerial) checkHoldingConsistency() error {
	if !s.CurrentStatus.IsValid() {
		return fmt.Errorf("serial %s: invalid status %q", s.SerialCode, s.CurrentStatus)
	}
	hasHolder := s.CurrentDocumentId != nil
	if s.CurrentStatus == SerialStatusAvailable && hasHolder {
		return fmt.Errorf("serial %s: available serial cannot have a holding document", s.SerialCode)
	}
	if s.CurrentStatus.HasHoldingDocument() && !hasHolder {
		return fmt.Errorf("serial %s: %s serial needs a holding document", s.SerialCode, s.CurrentStatus)
	}
	return nil
}

func saveSerialState(tx *gorm.DB, serial *ItemSerial) error {
	return tx.Model(serial).Select(serialStateColumns).Updates(serial).Error
}

/* Registry lookups */

// GetItemSerial finds a serial by id (may return RecordNotFound).
func GetItemSerial(ctx context.Context, db *gorm.DB, companyId string, id int) (*ItemSerial, error) {
	var serial ItemSerial
	err := db.WithContext(ctx).Where("company_id = ? AND id = ?", companyId, id).First(&serial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &serial, nil
}

// GetItemSerialByCode finds a serial by its code (may return RecordNotFound).
func GetItemSerialByCode(ctx context.Context, db *gorm.DB, companyId string, serialCode string) (*ItemSerial, error) {
	var serial ItemSerial
	err := db.WithContext(ctx).Where("company_id = ? AND serial_code = ?", companyId, strings.TrimSpace(serialCode)).First(&serial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &serial, nil
}

// ListAvailableSerials returns the AVAILABLE serials of an item in a warehouse, ordered by code.
// Results are cached in Redis and dropped whenever a serial of that item moves.
func ListAvailableSerials(ctx context.Context, db *gorm.DB, companyId string, itemId int, warehouseId int) ([]*ItemSerial, error) {
	cached, err := utils.RetrieveRedisList[ItemSerial](ctx, companyId, itemId, warehouseId)
	if err != nil {
		config.LogError(config.GetLogger(), "models/itemSerial.go", "ListAvailableSerials", "RetrieveRedisList", itemId, err)
	} else if cached != nil {
		return cached, nil
	}

	var serials []*ItemSerial
	if err := db.WithContext(ctx).
		Where("company_id = ? AND item_id = ? AND current_warehouse_id = ? AND current_status = ? AND is_enabled = ?",
			companyId, itemId, warehouseId, SerialStatusAvailable, true).
		Order("serial_code").
		Find(&serials).Error; err != nil {
		return nil, err
	}

	if err := utils.StoreRedisList[ItemSerial](ctx, serials, companyId, itemId, warehouseId); err != nil {
		config.LogError(config.GetLogger(), "models/itemSerial.go", "ListAvailableSerials", "StoreRedisList", itemId, err)
	}
	return serials, nil
}

// ListSelectableSerials is what an issue line may pick from: AVAILABLE serials of its item in
// its warehouse plus the ones this line already holds in reservation.
func ListSelectableSerials(ctx context.Context, db *gorm.DB, issue IssueDocument) ([]*ItemSerial, error) {
	item := issue.SerialItem()
	if item == nil || !item.LotTracked {
		return nil, nil
	}
	ref := issue.SerialDocumentRef()
	warehouse := issue.SerialWarehouse()
	if warehouse == nil {
		return nil, nil
	}

	var serials []*ItemSerial
	if err := db.WithContext(ctx).
		Where("company_id = ? AND item_id = ? AND current_warehouse_id = ? AND is_enabled = ?", ref.CompanyId, item.Id, warehouse.Id, true).
		Where(db.Where("current_status = ?", SerialStatusAvailable).
			Or("current_status = ? AND current_document_type = ? AND current_document_id = ? AND current_document_line_id = ?",
				SerialStatusReserved, ref.Type, ref.Id, ref.LineId)).
		Order("serial_code").
		Find(&serials).Error; err != nil {
		return nil, err
	}
	return serials, nil
}

// InvalidateAvailableSerials drops cached available lists for (item, warehouse) pairs.
func InvalidateAvailableSerials(ctx context.Context, companyId string, touched map[[2]int]struct{}) {
	for pair := range touched {
		if pair[1] == 0 {
			continue
		}
		if err := utils.RemoveRedisList[ItemSerial](ctx, companyId, pair[0], pair[1]); err != nil {
			config.LogError(config.GetLogger(), "models/itemSerial.go", "InvalidateAvailableSerials", "RemoveRedisList", pair, err)
		}
	}
}

// UpdateSecondarySerialCode sets the user-defined secondary code of a serial.
func UpdateSecondarySerialCode(ctx context.Context, db *gorm.DB, companyId string, id int, code string, actor Actor) (*ItemSerial, error) {
	code = strings.TrimSpace(code)
	if len(code) > 50 {
		return nil, errors.New("secondary serial code is longer than 50 characters")
	}
	ctx = utils.SetCompanyIdInContext(ctx, companyId)

	var serial *ItemSerial
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		serial, err = GetItemSerial(ctx, tx, companyId, id)
		if err != nil {
			return err
		}
		serial.SecondarySerialCode = code
		serial.EditedBy = actor.UserId
		return tx.Model(serial).Select("secondary_serial_code", "edited_by", "updated_at").Updates(serial).Error
	})
	if err != nil {
		return nil, err
	}
	return serial, nil
}

/* Used inside engine transactions */

// SerialCodeExists checks a code across every company; serial codes are globally unique.
func SerialCodeExists(tx *gorm.DB, serialCode string) (bool, error) {
	var count int64
	ctx := utils.SkipTenantScope(tx.Statement.Context)
	if err := tx.WithContext(ctx).Model(&ItemSerial{}).Where("serial_code = ?", serialCode).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountReceiptSerials counts the enabled serials a receipt (or receipt line) already generated.
func CountReceiptSerials(tx *gorm.DB, ref DocumentRef) (int64, error) {
	var count int64
	err := tx.Model(&ItemSerial{}).
		Where("company_id = ? AND receipt_document_type = ? AND receipt_document_id = ? AND receipt_line_id = ? AND is_enabled = ?",
			ref.CompanyId, ref.Type, ref.Id, ref.LineId, true).
		Count(&count).Error
	return count, err
}

// LockSerialsForUpdate row-locks the given serials in ascending serial code order.
// Every multi-row serial operation goes through here so lock acquisition order is the same everywhere.
func LockSerialsForUpdate(tx *gorm.DB, companyId string, ids []int) ([]*ItemSerial, error) {
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var serials []*ItemSerial
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND id IN ?", companyId, ids).
		Order("serial_code").
		Find(&serials).Error; err != nil {
		return nil, err
	}
	if len(serials) != len(ids) {
		return nil, fmt.Errorf("%w: %d of %d serials not found for company %s", ErrSerialTracking, len(ids)-len(serials), len(ids), companyId)
	}
	return serials, nil
}

// CreateItemSerial inserts a freshly generated serial with its CREATED history entry.
func CreateItemSerial(tx *gorm.DB, serial *ItemSerial, now time.Time) (*ItemSerialHistory, error) {
	if err := tx.Create(serial).Error; err != nil {
		return nil, err
	}
	entry := ItemSerialHistory{
		CompanyId:               serial.CompanyId,
		SerialId:                serial.ID,
		ItemId:                  serial.ItemId,
		ItemCode:                serial.ItemCode,
		EventType:               SerialEventCreated,
		EventAt:                 now,
		ToStatus:                serial.CurrentStatus,
		ReferenceDocumentType:   serial.ReceiptDocumentType,
		ReferenceDocumentId:     &serial.ReceiptDocumentId,
		ReferenceDocumentLineId: serial.ReceiptLineId,
		ReferenceDocumentCode:   serial.ReceiptDocumentCode,
		ToWarehouseCode:         serial.CurrentWarehouseCode,
		CreatedBy:               serial.CreatedBy,
	}
	if err := appendSerialHistory(tx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
