package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrSchemaMismatch) {
//	    // payload decoded as JSON but has the wrong shape
//	}
var (
	// ErrInvalidIdentifier is returned when a device identifier is empty or
	// not a 12-character hex MAC address.
	ErrInvalidIdentifier = errors.New("device: invalid identifier")

	// ErrInvalidCommand is returned when a command targets a relay outside the layout.
	ErrInvalidCommand = errors.New("device: invalid command")

	// ErrInvalidLayout is returned when a layout has a negative or zero arity.
	ErrInvalidLayout = errors.New("device: invalid layout")

	// ErrMalformedPayload is returned when a status payload is not valid JSON.
	ErrMalformedPayload = errors.New("device: malformed payload")

	// ErrSchemaMismatch is returned when a status payload is valid JSON but
	// required fields are missing or have the wrong type or arity.
	ErrSchemaMismatch = errors.New("device: schema mismatch")
)

// DecodeErrorKind classifies why a status payload was rejected.
type DecodeErrorKind int

const (
	// DecodeMalformed means the payload is not well-formed JSON.
	DecodeMalformed DecodeErrorKind = iota + 1

	// DecodeSchemaMismatch means a required field is absent or mis-shaped.
	DecodeSchemaMismatch
)

// String returns the kind name used in logs.
func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeMalformed:
		return "malformed"
	case DecodeSchemaMismatch:
		return "schema_mismatch"
	default:
		return "unknown"
	}
}

// DecodeError describes a rejected status payload.
//
// It unwraps to ErrMalformedPayload or ErrSchemaMismatch depending on Kind,
// so callers can use errors.Is without a type assertion.
type DecodeError struct {
	Kind DecodeErrorKind

	// Field is the offending JSON field, empty for malformed payloads.
	Field string

	// Reason is a short human-readable description.
	Reason string

	// Err is the underlying json error, if any.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	sentinel := e.sentinel()
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %s: %v", sentinel, e.Field, e.Reason, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%v: %s: %s", sentinel, e.Field, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", sentinel, e.Reason, e.Err)
	default:
		return fmt.Sprintf("%v: %s", sentinel, e.Reason)
	}
}

// Unwrap returns the sentinel matching Kind and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *DecodeError) sentinel() error {
	if e.Kind == DecodeMalformed {
		return ErrMalformedPayload
	}
	return ErrSchemaMismatch
}
