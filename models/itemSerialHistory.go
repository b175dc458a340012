package models

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ItemSerialHistory is one transition of an ItemSerial. Rows are append-only.
type ItemSerialHistory struct {
	ID                      int             `gorm:"primary_key" json:"id"`
	CompanyId               string          `gorm:"size:36;not null;index:idx_item_serial_hist,priority:1" json:"company_id"`
	SerialId                int             `gorm:"not null;index:idx_item_serial_hist,priority:2" json:"serial_id"`
	ItemId                  int             `gorm:"not null" json:"item_id"`
	ItemCode                string          `gorm:"size:16" json:"item_code"`
	EventType               SerialEventType `gorm:"size:30;not null" json:"event_type"`
	EventAt                 time.Time       `gorm:"not null;index:idx_item_serial_hist,priority:3" json:"event_at"`
	FromStatus              SerialStatus    `gorm:"size:20" json:"from_status"`
	ToStatus                SerialStatus    `gorm:"size:20" json:"to_status"`
	ReferenceDocumentType   string          `gorm:"size:30" json:"reference_document_type"`
	ReferenceDocumentId     *int            `json:"reference_document_id"`
	ReferenceDocumentLineId int             `gorm:"not null;default:0" json:"reference_document_line_id"`
	ReferenceDocumentCode   string          `gorm:"size:30" json:"reference_document_code"`
	FromWarehouseCode       string          `gorm:"size:8" json:"from_warehouse_code"`
	ToWarehouseCode         string          `gorm:"size:8" json:"to_warehouse_code"`
	FromCompanyUnitCode     string          `gorm:"size:8" json:"from_company_unit_code"`
	ToCompanyUnitCode       string          `gorm:"size:8" json:"to_company_unit_code"`
	Notes                   string          `gorm:"type:text" json:"notes"`
	CreatedBy               int             `json:"created_by"`
	CreatedAt               time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// serialSnapshot is the part of a serial's state a history row records as "from".
type serialSnapshot struct {
	Status          SerialStatus
	WarehouseCode   string
	CompanyUnitCode string
}

func snapshotOf(s *ItemSerial) serialSnapshot {
	return serialSnapshot{
		Status:          s.CurrentStatus,
		WarehouseCode:   s.CurrentWarehouseCode,
		CompanyUnitCode: s.CurrentCompanyUnitCode,
	}
}

func newTransitionEntry(s *ItemSerial, from serialSnapshot, event SerialEventType, ref DocumentRef, now time.Time, actor Actor) ItemSerialHistory {
	refId := ref.Id
	return ItemSerialHistory{
		CompanyId:               s.CompanyId,
		SerialId:                s.ID,
		ItemId:                  s.ItemId,
		ItemCode:                s.ItemCode,
		EventType:               event,
		EventAt:                 now,
		FromStatus:              from.Status,
		ToStatus:                s.CurrentStatus,
		ReferenceDocumentType:   ref.Type,
		ReferenceDocumentId:     &refId,
		ReferenceDocumentLineId: ref.LineId,
		ReferenceDocumentCode:   ref.Code,
		FromWarehouseCode:       from.WarehouseCode,
		ToWarehouseCode:         s.CurrentWarehouseCode,
		FromCompanyUnitCode:     from.CompanyUnitCode,
		ToCompanyUnitCode:       s.CurrentCompanyUnitCode,
		CreatedBy:               actor.UserId,
	}
}

// appendSerialHistory is the only write path into item_serial_histories.
func appendSerialHistory(tx *gorm.DB, entry *ItemSerialHistory) error {
	if entry.ID != 0 {
		return fmt.Errorf("serial history entry %d already stored", entry.ID)
	}
	return tx.Create(entry).Error
}

// ListSerialHistory returns a serial's history oldest first.
func ListSerialHistory(ctx context.Context, db *gorm.DB, companyId string, serialId int) ([]*ItemSerialHistory, error) {
	var entries []*ItemSerialHistory
	if err := db.WithContext(ctx).
		Where("company_id = ? AND serial_id = ?", companyId, serialId).
		Order("event_at, id").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// SerialHistoryChainBreak describes the first entry that does not continue its predecessor.
type SerialHistoryChainBreak struct {
	SerialId int
	EntryId  int
	Index    int
	Reason   string
}

func (b *SerialHistoryChainBreak) Error() string {
	return fmt.Sprintf("serial %d history entry %d (#%d): %s", b.SerialId, b.EntryId, b.Index, b.Reason)
}

// VerifySerialHistoryChain replays entries (oldest first). The chain must start with a
// CREATED entry ending in AVAILABLE, and every later from_status must equal the previous to_status.
func VerifySerialHistoryChain(entries []*ItemSerialHistory) *SerialHistoryChainBreak {
	for i, e := range entries {
		if i == 0 {
			if e.EventType != SerialEventCreated || e.FromStatus != "" || e.ToStatus != SerialStatusAvailable {
				return &SerialHistoryChainBreak{SerialId: e.SerialId, EntryId: e.ID, Index: i,
					Reason: fmt.Sprintf("chain starts with %s %q -> %q, want created -> available", e.EventType, e.FromStatus, e.ToStatus)}
			}
			continue
		}
		prev := entries[i-1]
		if e.SerialId != prev.SerialId {
			return &SerialHistoryChainBreak{SerialId: e.SerialId, EntryId: e.ID, Index: i, Reason: "entries of different serials"}
		}
		if e.EventType == SerialEventCreated {
			return &SerialHistoryChainBreak{SerialId: e.SerialId, EntryId: e.ID, Index: i, Reason: "second created entry"}
		}
		if e.FromStatus != prev.ToStatus {
			return &SerialHistoryChainBreak{SerialId: e.SerialId, EntryId: e.ID, Index: i,
				Reason: fmt.Sprintf("from_status %q does not follow previous to_status %q", e.FromStatus, prev.ToStatus)}
		}
		if e.EventAt.Before(prev.EventAt) {
			return &SerialHistoryChainBreak{SerialId: e.SerialId, EntryId: e.ID, Index: i, Reason: "event_at goes backwards"}
		}
	}
	return nil
}
