package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRange            = errors.New("start time must be before end time")
	ErrOverlap                 = errors.New("time slot overlaps with an existing slot")
	ErrDuplicateSlot           = errors.New("time slot already exists")
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
	ErrSlotFull                = errors.New("slot is fully booked")
	ErrSlotCancelled           = errors.New("slot has been cancelled by the provider")
	ErrAlreadyBooked           = errors.New("customer already holds this slot")
	ErrAlreadyCancelled        = errors.New("already cancelled")
	ErrInvalidCapacity         = errors.New("invalid capacity")
	ErrConflict                = errors.New("concurrent modification, retry")
	ErrLockTimeout             = errors.New("slot is busy, retry")
	ErrHoldExpired             = errors.New("pending appointment has expired")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	ErrSlotNotFound        = fmt.Errorf("slot %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrOptimisticConflict  = fmt.Errorf("slot version mismatch: %w", ErrConflict)
)

// IsRetryable reports whether the failed operation may succeed if re-read and retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrLockTimeout)
}
