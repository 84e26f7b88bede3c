package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported signals a query construct the store cannot express.
	ErrUnsupported = errors.New("unsupported operator")
	// ErrNotFound signals a missing document.
	ErrNotFound = errors.New("not found")
	// ErrConversion signals a stored value that cannot be coerced to its target type.
	ErrConversion = errors.New("conversion failed")
	// ErrGateway signals a store transport failure.
	ErrGateway = errors.New("gateway failure")
	// ErrNoElements signals an empty result for First/Single.
	ErrNoElements = errors.New("sequence contains no elements")
	// ErrMultipleElements signals more than one match for Single.
	ErrMultipleElements = errors.New("sequence contains more than one element")
	// ErrInvalidPlan signals a plan that cannot be lowered (e.g. unresolved pagination).
	ErrInvalidPlan = errors.New("invalid query plan")
	// ErrInvalidSchema signals a type that cannot be registered or constructed.
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrInternal signals an unexpected failure inside the pipeline.
	ErrInternal = errors.New("internal error")
)

// UnsupportedError names the construct a translator refused.
type UnsupportedError struct {
	Construct string
	Reason    string
}

func (e *UnsupportedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", ErrUnsupported.Error(), e.Construct)
	}
	return fmt.Sprintf("%s: %s: %s", ErrUnsupported.Error(), e.Construct, e.Reason)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// Unsupported creates an UnsupportedError.
func Unsupported(construct, reason string) error {
	return &UnsupportedError{Construct: construct, Reason: reason}
}

// ConversionError describes a single field that failed to convert.
type ConversionError struct {
	Field  string
	Value  any
	Target string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s: field %q value %v (%T) to %s",
		ErrConversion.Error(), e.Field, e.Value, e.Value, e.Target)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return ErrConversion }

// NotFoundError names the document path that was missing.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %q %s", e.Path, ErrNotFound.Error())
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// GatewayError is the normalized shape of a store failure.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrGateway.Error(), e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *GatewayError) Unwrap() []error { return []error{ErrGateway, e.Err} }
