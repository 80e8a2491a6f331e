package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used across layers. Each maps to a distinct user-facing
// message and recovery action in the caller.
var (
	// ErrNotConnected means the dispenser transport is not ready.
	ErrNotConnected = errors.New("dispenser is not connected")
	// ErrDeviceUnresponsive means the device did not answer a poll in time.
	ErrDeviceUnresponsive = errors.New("dispenser is unresponsive")
	// ErrOrderInProgress means another order is already queued on the device.
	// Recoverable: the caller may force-submit anyway.
	ErrOrderInProgress = errors.New("an order is already in progress on the device")
	// ErrDeviceBusy means the device is actively dispensing. Recoverable:
	// the caller may cancel the active dispense.
	ErrDeviceBusy = errors.New("dispenser is busy dispensing an order")
	// ErrCancelFailed means a QUIT was not acknowledged in time.
	ErrCancelFailed = errors.New("active order could not be cancelled")
	// ErrOrderInFlight rejects a second submission while one is outstanding.
	ErrOrderInFlight = errors.New("another order submission is in flight")

	// ErrExceededAmount means the order volume exceeds the bowl capacity.
	ErrExceededAmount = errors.New("order exceeds maximum bowl capacity")
	// ErrNoSpices means the selected recipe contains no ingredients.
	ErrNoSpices = errors.New("recipe contains no spices")
	// ErrMissingSpices means a recipe ingredient's container is not active.
	ErrMissingSpices = errors.New("recipe contains spices that are not active")
	// ErrInvalidName rejects a recipe with an empty name.
	ErrInvalidName = errors.New("recipe name must not be empty")

	// ErrNotFound is returned by the repository for missing records.
	ErrNotFound = errors.New("not found")
)

// SlotLevel names a dispensing slot whose stock level is low.
type SlotLevel struct {
	Slot int
	Name string
}

// LowLevelError reports the slots whose polled stock level is at or below
// LowLevelThreshold, in ascending slot order. The caller may bypass it by
// resubmitting with an empty stock-level list.
type LowLevelError struct {
	Slots []SlotLevel
}

func (e *LowLevelError) Error() string {
	parts := make([]string, len(e.Slots))
	for i, s := range e.Slots {
		parts[i] = fmt.Sprintf("%d (%s)", s.Slot, s.Name)
	}
	return "spice levels are low in container(s): " + strings.Join(parts, ", ")
}
