package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidHistory) {
//	    // handle bad argument
//	}
var (
	// ErrInvalidHistory is returned when a history write or query has
	// missing or out-of-range arguments.
	ErrInvalidHistory = errors.New("device: invalid history request")

	// ErrHistoryNotFound is returned when no matching history entry exists.
	ErrHistoryNotFound = errors.New("device: history not found")

	// ErrCorruptHistory is returned when a stored row cannot be decoded.
	ErrCorruptHistory = errors.New("device: corrupt history entry")
)
