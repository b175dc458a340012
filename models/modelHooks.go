package models

import (
	"errors"

	"github.com/mmdatafocus/serial_tracking/utils"
	"gorm.io/gorm"
)

// Serial ledger guardrails:
// - item_serial_histories are append-only (no updates/deletes).
// - item_serials are never deleted; is_enabled is the soft-disable flag.
// - every write of an item_serial keeps status and holding document consistent.

func (h *ItemSerialHistory) BeforeCreate(tx *gorm.DB) error {
	if h.EventAt.IsZero() {
		h.EventAt = tx.NowFunc()
	}
	if !h.ToStatus.IsValid() {
		return errors.New("serial history: invalid to_status " + string(h.ToStatus))
	}
	return nil
}

func (h *ItemSerialHistory) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("immutable ledger: item_serial_histories cannot be updated")
}

func (h *ItemSerialHistory) BeforeDelete(tx *gorm.DB) error {
	return errors.New("immutable ledger: item_serial_histories cannot be deleted")
}

func (s *ItemSerial) BeforeCreate(tx *gorm.DB) error {
	if s.IsEnabled == nil {
		s.IsEnabled = utils.NewTrue()
	}
	return s.checkHoldingConsistency()
}

func (s *ItemSerial) BeforeUpdate(tx *gorm.DB) error {
	// column-only updates (secondary code, soft-disable) carry no state
	if s.CurrentStatus == "" {
		return nil
	}
	return s.checkHoldingConsistency()
}

func (s *ItemSerial) BeforeDelete(tx *gorm.DB) error {
	return errors.New("item_serials cannot be deleted, disable the serial instead")
}
