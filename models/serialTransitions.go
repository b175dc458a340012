package models

import (
	"time"

	"gorm.io/gorm"
)

// ReserveFor claims an AVAILABLE serial for ref. A serial ref already holds in
// reservation is left alone (nil entry). The pre-reservation warehouse is kept so a
// later release can put the serial back where it was. A serial reserved by another
// line of the same document is handed over to ref.
func (s *ItemSerial) ReserveFor(ref DocumentRef, warehouse *LocationRef, unit *LocationRef, now time.Time, actor Actor) (*ItemSerialHistory, error) {
	if s.CurrentStatus == SerialStatusReserved && s.HeldBy(ref) {
		return nil, nil
	}
	if s.CurrentStatus == SerialStatusReserved && s.HeldBySibling(ref) {
		return s.handOver(ref, warehouse, unit, now, actor), nil
	}
	if s.CurrentStatus != SerialStatusAvailable {
		return nil, &SerialStateError{SerialCode: s.SerialCode, Status: s.CurrentStatus, Holder: s.holderLabel(), Operation: "reserve"}
	}
	now = s.eventTime(now)
	from := snapshotOf(s)

	s.ReservedFromWarehouseId = s.CurrentWarehouseId
	s.ReservedFromWarehouseCode = s.CurrentWarehouseCode
	if warehouse != nil {
		s.CurrentWarehouseId = warehouse.IdPtr()
		s.CurrentWarehouseCode = warehouse.Code
	}
	s.CurrentCompanyUnitId = unit.IdPtr()
	s.CurrentCompanyUnitCode = unit.CodeOrEmpty()
	s.CurrentStatus = SerialStatusReserved
	s.setHolder(ref)
	s.touch(now, actor)

	entry := newTransitionEntry(s, from, SerialEventReserved, ref, now, actor)
	return &entry, nil
}

// handOver moves a reservation between lines of one document. The serial stays RESERVED
// and keeps the warehouse it was reserved from.
func (s *ItemSerial) handOver(ref DocumentRef, warehouse *LocationRef, unit *LocationRef, now time.Time, actor Actor) *ItemSerialHistory {
	now = s.eventTime(now)
	from := snapshotOf(s)

	if warehouse != nil {
		s.CurrentWarehouseId = warehouse.IdPtr()
		s.CurrentWarehouseCode = warehouse.Code
	}
	s.CurrentCompanyUnitId = unit.IdPtr()
	s.CurrentCompanyUnitCode = unit.CodeOrEmpty()
	s.setHolder(ref)
	s.touch(now, actor)

	entry := newTransitionEntry(s, from, SerialEventReserved, ref, now, actor)
	return &entry
}

// ReleaseFrom returns a serial reserved by ref to AVAILABLE. The warehouse goes back
// to the one recorded at reservation, or fallback when none was recorded.
// AVAILABLE serials and serials held by another document or another line (which
// includes one handed over to a sibling line) are left alone (nil entry).
func (s *ItemSerial) ReleaseFrom(ref DocumentRef, fallback *LocationRef, now time.Time, actor Actor) (*ItemSerialHistory, error) {
	if s.CurrentStatus == SerialStatusAvailable || !s.HeldBy(ref) {
		return nil, nil
	}
	if s.CurrentStatus != SerialStatusReserved {
		return nil, &SerialStateError{SerialCode: s.SerialCode, Status: s.CurrentStatus, Holder: s.holderLabel(), Operation: "release"}
	}
	now = s.eventTime(now)
	from := snapshotOf(s)

	switch {
	case s.ReservedFromWarehouseId != nil:
		s.CurrentWarehouseId = s.ReservedFromWarehouseId
		s.CurrentWarehouseCode = s.ReservedFromWarehouseCode
	case fallback != nil:
		s.CurrentWarehouseId = fallback.IdPtr()
		s.CurrentWarehouseCode = fallback.Code
	}
	s.ReservedFromWarehouseId = nil
	s.ReservedFromWarehouseCode = ""
	s.CurrentCompanyUnitId = nil
	s.CurrentCompanyUnitCode = ""
	s.CurrentStatus = SerialStatusAvailable
	s.clearHolder()
	s.touch(now, actor)

	entry := newTransitionEntry(s, from, SerialEventReleased, ref, now, actor)
	return &entry, nil
}

// FinalizeFor moves a serial into the terminal status of a locked document. The
// serial leaves tracked storage; the holding unit becomes the document's department
// unit when there is one. A serial already finalized by ref is left alone (nil entry).
func (s *ItemSerial) FinalizeFor(ref DocumentRef, status SerialStatus, unit *LocationRef, now time.Time, actor Actor) (*ItemSerialHistory, error) {
	if s.CurrentStatus == status && s.HeldBy(ref) {
		return nil, nil
	}
	reservedHere := s.CurrentStatus == SerialStatusReserved && s.HeldBy(ref)
	if !reservedHere && s.CurrentStatus != SerialStatusAvailable {
		return nil, &SerialStateError{SerialCode: s.SerialCode, Status: s.CurrentStatus, Holder: s.holderLabel(), Operation: "finalize"}
	}
	now = s.eventTime(now)
	from := snapshotOf(s)

	s.CurrentWarehouseId = nil
	s.CurrentWarehouseCode = ""
	s.ReservedFromWarehouseId = nil
	s.ReservedFromWarehouseCode = ""
	s.CurrentCompanyUnitId = unit.IdPtr()
	s.CurrentCompanyUnitCode = unit.CodeOrEmpty()
	s.CurrentStatus = status
	s.setHolder(ref)
	s.touch(now, actor)

	entry := newTransitionEntry(s, from, SerialEventForStatus(status), ref, now, actor)
	return &entry, nil
}

func (s *ItemSerial) setHolder(ref DocumentRef) {
	id := ref.Id
	s.CurrentDocumentType = ref.Type
	s.CurrentDocumentId = &id
	s.CurrentDocumentLineId = ref.LineId
	s.CurrentDocumentCode = ref.Code
}

func (s *ItemSerial) clearHolder() {
	s.CurrentDocumentType = ""
	s.CurrentDocumentId = nil
	s.CurrentDocumentLineId = 0
	s.CurrentDocumentCode = ""
}

func (s *ItemSerial) touch(now time.Time, actor Actor) {
	moved := now
	s.LastMovedAt = &moved
	s.EditedBy = actor.UserId
}

// SaveSerialTransition persists a serial's new state together with the history
// entry describing it. Both writes belong to the caller's transaction.
func SaveSerialTransition(tx *gorm.DB, serial *ItemSerial, entry *ItemSerialHistory) error {
	if err := saveSerialState(tx, serial); err != nil {
		return err
	}
	return appendSerialHistory(tx, entry)
}
