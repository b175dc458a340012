package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSerialTracking is the base of every serial tracking failure.
// Callers that only need broad categorization check errors.Is(err, ErrSerialTracking).
var ErrSerialTracking = errors.New("serial tracking error")

// SerialQuantityMismatchError: a document quantity cannot be mapped onto a whole number of units.
type SerialQuantityMismatchError struct {
	ItemCode string
	Quantity string
	Reason   string
}

func (e *SerialQuantityMismatchError) Error() string {
	if e.ItemCode == "" {
		return fmt.Sprintf("serial quantity mismatch: %s (quantity %q)", e.Reason, e.Quantity)
	}
	return fmt.Sprintf("serial quantity mismatch for item %s: %s (quantity %q)", e.ItemCode, e.Reason, e.Quantity)
}

func (e *SerialQuantityMismatchError) Unwrap() error { return ErrSerialTracking }

// SerialGenerationError: no free serial code was found within the allowed attempts.
type SerialGenerationError struct {
	DocumentCode string
	Attempts     int
	LastCode     string
}

func (e *SerialGenerationError) Error() string {
	return fmt.Sprintf("could not generate unique serial code for %s after %d attempts (last tried %s)", e.DocumentCode, e.Attempts, e.LastCode)
}

func (e *SerialGenerationError) Unwrap() error { return ErrSerialTracking }

// SerialLockTimeoutError: a row or document lock was not obtained within the lock wait timeout.
type SerialLockTimeoutError struct {
	Document string
	Err      error
}

func (e *SerialLockTimeoutError) Error() string {
	return fmt.Sprintf("serials of %s are locked by another document, try again: %v", e.Document, e.Err)
}

func (e *SerialLockTimeoutError) Unwrap() []error { return []error{ErrSerialTracking, e.Err} }

// SerialStateError: a serial is not in a state the requested transition accepts.
type SerialStateError struct {
	SerialCode string
	Status     SerialStatus
	Holder     string
	Operation  string
}

func (e *SerialStateError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("cannot %s serial %s: status %s held by %s", e.Operation, e.SerialCode, e.Status, e.Holder)
	}
	return fmt.Sprintf("cannot %s serial %s: status %s", e.Operation, e.SerialCode, e.Status)
}

func (e *SerialStateError) Unwrap() error { return ErrSerialTracking }

// SerialAssignmentError: a serial selection for an issue line was rejected.
type SerialAssignmentError struct {
	Reason string
}

func (e *SerialAssignmentError) Error() string { return "invalid serial selection: " + e.Reason }

func (e *SerialAssignmentError) Unwrap() error { return ErrSerialTracking }

// SerialLockValidationError carries every pre-lock message so the caller can show them together.
type SerialLockValidationError struct {
	Messages []string
}

func (e *SerialLockValidationError) Error() string {
	return "document cannot be locked: " + strings.Join(e.Messages, "; ")
}

func (e *SerialLockValidationError) Unwrap() error { return ErrSerialTracking }
