package reclaim

import "errors"

// Domain errors for the reclaim package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, reclaim.ErrAttributeUnavailable) {
//	    // delta update without this register, nothing to do
//	}
var (
	// ErrInvalidIdentifier is returned when a device identifier fails the
	// structural or checksum validation. It is never retried.
	ErrInvalidIdentifier = errors.New("reclaim: invalid device identifier")

	// ErrTransport wraps connect, subscribe and receive failures inside the
	// session loop. These are always retried after the fixed delay.
	ErrTransport = errors.New("reclaim: transport error")

	// ErrPublishFailed is returned when a single outbound command could not
	// be published. The session is not affected.
	ErrPublishFailed = errors.New("reclaim: publish failed")

	// ErrMalformedMessage is returned when an inbound payload cannot be parsed
	// or has an unrecognised shape.
	ErrMalformedMessage = errors.New("reclaim: malformed message")

	// ErrAttributeUnavailable is returned when the register backing an
	// attribute is absent from a state. Expected for deltas.
	ErrAttributeUnavailable = errors.New("reclaim: attribute unavailable")

	// ErrReadOnlyAttribute is returned when encoding or writing an attribute
	// that has no encoder.
	ErrReadOnlyAttribute = errors.New("reclaim: attribute is read-only")

	// ErrEncodeFailed is returned when a typed value cannot be encoded.
	ErrEncodeFailed = errors.New("reclaim: encoding failed")

	// ErrDecodeFailed is returned when a raw register value cannot be decoded.
	ErrDecodeFailed = errors.New("reclaim: decoding failed")

	// ErrUnknownAttribute is returned for attribute names outside the register map.
	ErrUnknownAttribute = errors.New("reclaim: unknown attribute")

	// ErrSessionRunning is returned by Connect when the session loop is already running.
	ErrSessionRunning = errors.New("reclaim: session already running")
)
