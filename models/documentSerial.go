package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/serial_tracking/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentSerial links a receipt (its generated serials) or an issue document/line
// (its attached serials) to serial rows.
type DocumentSerial struct {
	ID           int       `gorm:"primary_key" json:"id"`
	CompanyId    string    `gorm:"size:36;not null;index" json:"company_id"`
	DocumentType string    `gorm:"size:30;not null;uniqueIndex:idx_document_serial,priority:1" json:"document_type"`
	DocumentId   int       `gorm:"not null;uniqueIndex:idx_document_serial,priority:2" json:"document_id"`
	LineId       int       `gorm:"not null;default:0;uniqueIndex:idx_document_serial,priority:3" json:"line_id"`
	SerialId     int       `gorm:"not null;index;uniqueIndex:idx_document_serial,priority:4" json:"serial_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func documentSerialScope(ref DocumentRef) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("company_id = ? AND document_type = ? AND document_id = ? AND line_id = ?",
			ref.CompanyId, ref.Type, ref.Id, ref.LineId)
	}
}

// ListDocumentSerialIds returns the serial ids linked to a document or line.
func ListDocumentSerialIds(ctx context.Context, db *gorm.DB, ref DocumentRef) ([]int, error) {
	var ids []int
	if err := db.WithContext(ctx).Model(&DocumentSerial{}).
		Scopes(documentSerialScope(ref)).
		Order("serial_id").
		Pluck("serial_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func CountDocumentSerials(ctx context.Context, db *gorm.DB, ref DocumentRef) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&DocumentSerial{}).Scopes(documentSerialScope(ref)).Count(&count).Error
	return count, err
}

// AttachDocumentSerials links serials to a document. Existing links are kept.
func AttachDocumentSerials(ctx context.Context, db *gorm.DB, ref DocumentRef, serialIds []int) error {
	serialIds = utils.UniqueSlice(serialIds)
	if len(serialIds) == 0 {
		return nil
	}
	links := make([]DocumentSerial, 0, len(serialIds))
	for _, id := range serialIds {
		links = append(links, DocumentSerial{
			CompanyId:    ref.CompanyId,
			DocumentType: ref.Type,
			DocumentId:   ref.Id,
			LineId:       ref.LineId,
			SerialId:     id,
		})
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

// DetachDocumentSerials removes links; serial state is left to the synchronizer.
func DetachDocumentSerials(ctx context.Context, db *gorm.DB, ref DocumentRef, serialIds []int) error {
	if len(serialIds) == 0 {
		return nil
	}
	return db.WithContext(ctx).Scopes(documentSerialScope(ref)).
		Where("serial_id IN ?", serialIds).
		Delete(&DocumentSerial{}).Error
}

// ReplaceDocumentSerials makes serialIds the exact attachment set of a document
// and returns the set it had before.
func ReplaceDocumentSerials(ctx context.Context, db *gorm.DB, ref DocumentRef, serialIds []int) ([]int, error) {
	previous, err := ListDocumentSerialIds(ctx, db, ref)
	if err != nil {
		return nil, err
	}
	keep := make(map[int]struct{}, len(serialIds))
	for _, id := range serialIds {
		keep[id] = struct{}{}
	}
	var removed []int
	for _, id := range previous {
		if _, ok := keep[id]; !ok {
			removed = append(removed, id)
		}
	}
	if err := DetachDocumentSerials(ctx, db, ref, removed); err != nil {
		return nil, err
	}
	if err := AttachDocumentSerials(ctx, db, ref, serialIds); err != nil {
		return nil, err
	}
	return previous, nil
}
