package models

import (
	"errors"
	"strings"
)

type SerialStatus string

const (
	SerialStatusAvailable SerialStatus = "available"
	SerialStatusReserved  SerialStatus = "reserved"
	SerialStatusIssued    SerialStatus = "issued"
	SerialStatusConsumed  SerialStatus = "consumed"
	SerialStatusReturned  SerialStatus = "returned"
	SerialStatusDamaged   SerialStatus = "damaged"
)

func (s SerialStatus) IsValid() bool {
	switch s {
	case SerialStatusAvailable, SerialStatusReserved, SerialStatusIssued,
		SerialStatusConsumed, SerialStatusReturned, SerialStatusDamaged:
		return true
	}
	return false
}

// HasHoldingDocument reports whether a serial in this status must point at a holding document.
func (s SerialStatus) HasHoldingDocument() bool {
	switch s {
	case SerialStatusReserved, SerialStatusIssued, SerialStatusConsumed:
		return true
	}
	return false
}

// IsTerminal is true for statuses no core operation moves a serial out of.
func (s SerialStatus) IsTerminal() bool {
	switch s {
	case SerialStatusIssued, SerialStatusConsumed, SerialStatusReturned, SerialStatusDamaged:
		return true
	}
	return false
}

func ParseSerialStatus(str string) (SerialStatus, error) {
	s := SerialStatus(strings.ToLower(strings.TrimSpace(str)))
	if !s.IsValid() {
		return "", errors.New("invalid serial status")
	}
	return s, nil
}

type SerialEventType string

const (
	SerialEventCreated  SerialEventType = "created"
	SerialEventReserved SerialEventType = "reserved"
	SerialEventReleased SerialEventType = "released"
	SerialEventIssued   SerialEventType = "issued"
	SerialEventConsumed SerialEventType = "consumed"
	SerialEventReturned SerialEventType = "returned"
	SerialEventAdjusted SerialEventType = "adjusted"
)

// SerialEventForStatus maps a terminal status to the history event that records it.
func SerialEventForStatus(status SerialStatus) SerialEventType {
	switch status {
	case SerialStatusConsumed:
		return SerialEventConsumed
	case SerialStatusReturned:
		return SerialEventReturned
	}
	return SerialEventIssued
}

// IssueKind replaces document class inspection when choosing a terminal status.
type IssueKind string

const (
	IssueKindPermanent   IssueKind = "permanent"
	IssueKindConsumption IssueKind = "consumption"
	IssueKindConsignment IssueKind = "consignment"
)

// FinalSerialStatus is the status serials of a locked issue document end in.
func (k IssueKind) FinalSerialStatus() SerialStatus {
	if k == IssueKindConsumption {
		return SerialStatusConsumed
	}
	return SerialStatusIssued
}
