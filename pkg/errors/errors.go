// Package errors defines the typed error taxonomy the datapath core uses to
// distinguish data-path drops from management-surface failures.
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// Kind identifies one of the error categories the core distinguishes.
// Data-path kinds (the ones DataPath reports true for: MalformedPacket,
// ClassifierMiss, UpcallFailed, RecircTooDeep, UnsupportedAction and
// GateClosed) never propagate out of a worker; pkg/worker converts them
// into a typed drop counter. All other kinds are management kinds and
// propagate to the management caller.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindExists             Kind = "exists"
	KindInvalid            Kind = "invalid"
	KindNoMemory           Kind = "no_memory"
	KindBusy               Kind = "busy"
	KindUnsupported        Kind = "unsupported"
	KindGateClosed         Kind = "gate_closed"
	KindMalformedPacket    Kind = "malformed_packet"
	KindClassifierMiss     Kind = "classifier_miss"
	KindUpcallFailed       Kind = "upcall_failed"
	KindRecircTooDeep      Kind = "recirc_too_deep"
	KindUnsupportedAction  Kind = "unsupported_action"
	KindCapacityExceeded   Kind = "capacity_exceeded"
	KindPortExists         Kind = "port_exists"
	KindPortNotFound       Kind = "port_not_found"
	KindPortLocalProtected Kind = "port_local_protected"
	KindMaskInvalid        Kind = "mask_invalid"
)

// DataPath reports whether errors of this kind are data-path errors: ones
// that must never propagate out of a worker and instead become a typed drop
// counter increment (see §7 policy).
func (k Kind) DataPath() bool {
	switch k {
	case KindMalformedPacket, KindClassifierMiss, KindUpcallFailed,
		KindRecircTooDeep, KindUnsupportedAction, KindGateClosed:
		return true
	default:
		return false
	}
}

// DatapathError is the typed error the core raises for both data-path and
// management-surface failures. Grounded on the teacher's AppError, narrowed
// to the fixed Kind enum in place of free-form error codes.
type DatapathError struct {
	Kind      Kind
	Message   string
	Component string
	Operation string
	Cause     error
	StackTrace string
	Metadata  map[string]interface{}
	Timestamp time.Time
}

// New creates a DatapathError of the given kind.
func New(kind Kind, component, operation, message string) *DatapathError {
	_, file, line, _ := runtime.Caller(1)
	return &DatapathError{
		Kind:       kind,
		Message:    message,
		Component:  component,
		Operation:  operation,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]interface{}),
		Timestamp:  time.Now(),
	}
}

func (e *DatapathError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Kind, e.Message)
}

func (e *DatapathError) Unwrap() error {
	return e.Cause
}

// Wrap sets the underlying cause and returns the receiver.
func (e *DatapathError) Wrap(cause error) *DatapathError {
	e.Cause = cause
	return e
}

// WithMetadata attaches a key/value pair, for use in structured log fields.
func (e *DatapathError) WithMetadata(key string, value interface{}) *DatapathError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ToMap converts the error to a map suitable as logrus.Fields.
func (e *DatapathError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_kind":      string(e.Kind),
		"error_message":   e.Message,
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_timestamp": e.Timestamp,
	}
	if e.Cause != nil {
		result["error_cause"] = e.Cause.Error()
	}
	for k, v := range e.Metadata {
		result[fmt.Sprintf("error_meta_%s", k)] = v
	}
	return result
}

// Is reports whether err is a DatapathError of the given kind, an
// errors.Is-style check keyed on Kind. Like As, it inspects err itself and
// does not unwrap a chain of wrapped errors.
func Is(err error, kind Kind) bool {
	de, ok := As(err)
	return ok && de.Kind == kind
}

// As extracts a *DatapathError from err, if present.
func As(err error) (*DatapathError, bool) {
	de, ok := err.(*DatapathError)
	return de, ok
}

// Convenience constructors for the error table in §7.

func NotFound(component, operation, message string) *DatapathError {
	return New(KindNotFound, component, operation, message)
}

func Exists(component, operation, message string) *DatapathError {
	return New(KindExists, component, operation, message)
}

func Invalid(component, operation, message string) *DatapathError {
	return New(KindInvalid, component, operation, message)
}

func Busy(component, operation, message string) *DatapathError {
	return New(KindBusy, component, operation, message)
}

func Unsupported(component, operation, message string) *DatapathError {
	return New(KindUnsupported, component, operation, message)
}

func GateClosed(component, operation, message string) *DatapathError {
	return New(KindGateClosed, component, operation, message)
}

func MalformedPacket(component, operation, message string) *DatapathError {
	return New(KindMalformedPacket, component, operation, message)
}

func ClassifierMiss(component, operation, message string) *DatapathError {
	return New(KindClassifierMiss, component, operation, message)
}

func UpcallFailed(component, operation, message string) *DatapathError {
	return New(KindUpcallFailed, component, operation, message)
}

func RecircTooDeep(component, operation, message string) *DatapathError {
	return New(KindRecircTooDeep, component, operation, message)
}

func UnsupportedAction(component, operation, message string) *DatapathError {
	return New(KindUnsupportedAction, component, operation, message)
}

func CapacityExceeded(component, operation, message string) *DatapathError {
	return New(KindCapacityExceeded, component, operation, message)
}

func PortExists(component, operation, message string) *DatapathError {
	return New(KindPortExists, component, operation, message)
}

func PortNotFound(component, operation, message string) *DatapathError {
	return New(KindPortNotFound, component, operation, message)
}

func PortLocalProtected(component, operation, message string) *DatapathError {
	return New(KindPortLocalProtected, component, operation, message)
}

func MaskInvalid(component, operation, message string) *DatapathError {
	return New(KindMaskInvalid, component, operation, message)
}
