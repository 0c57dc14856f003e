package engine

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorInvalid     ErrorKind = "invalid"
	ErrorNotFound    ErrorKind = "not_found"
	ErrorUnavailable ErrorKind = "unavailable"
	ErrorConflict    ErrorKind = "conflict"
	ErrorRuntime     ErrorKind = "runtime"
)

// EngineError classifies execution failures for callers that need to map
// them onto exit codes or API statuses.
type EngineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the error kind, defaulting to runtime for untyped errors.
func KindOf(err error) ErrorKind {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr != nil {
		return engineErr.Kind
	}
	return ErrorRuntime
}

func invalidError(message string, err error) *EngineError {
	return &EngineError{Kind: ErrorInvalid, Message: message, Err: err}
}

func notFoundError(message string, err error) *EngineError {
	return &EngineError{Kind: ErrorNotFound, Message: message, Err: err}
}

func unavailableError(message string, err error) *EngineError {
	return &EngineError{Kind: ErrorUnavailable, Message: message, Err: err}
}

func conflictError(message string, err error) *EngineError {
	return &EngineError{Kind: ErrorConflict, Message: message, Err: err}
}

func runtimeError(message string, err error) *EngineError {
	return &EngineError{Kind: ErrorRuntime, Message: message, Err: err}
}
