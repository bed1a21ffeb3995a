package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("version conflict")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("transport failure")
	// ErrCanceled is returned when the operation is canceled by the client
	ErrCanceled = errors.New("operation canceled")
)

// Resource names used by NotFoundError.
const (
	ResourceDocument   = "document"
	ResourceCollection = "collection"
	ResourceTask       = "task"
)

// ConflictError reports a failed concurrency check. Message holds the
// full client-visible text, for example
// "[1]: version conflict, required seqNo [2], primary term [2]. current document has seqNo [3] and primary term [1]".
type ConflictError struct {
	ID      string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NewConflictError prefixes reason with the document id.
func NewConflictError(id, reason string) *ConflictError {
	return &ConflictError{ID: id, Message: fmt.Sprintf("[%s]: version conflict, %s", id, reason)}
}

// NotFoundError reports a missing document, collection or task.
type NotFoundError struct {
	Resource string
	ID       string
	Message  string
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DocumentMissing is returned by updates that target an absent document
// without an upsert.
func DocumentMissing(id string) *NotFoundError {
	return &NotFoundError{Resource: ResourceDocument, ID: id, Message: fmt.Sprintf("[%s]: document missing", id)}
}

// CollectionMissing is returned for reads against an unknown collection.
func CollectionMissing(name string) *NotFoundError {
	return &NotFoundError{Resource: ResourceCollection, ID: name, Message: fmt.Sprintf("no such collection [%s]", name)}
}

// ValidationError reports a malformed request. It is raised before any
// store access.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failure of an external collaborator (storage
// engine, query source).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Transport wraps err as a TransportError unless it already carries one
// of the typed kinds.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrTransport) {
		return err
	}
	return &TransportError{Op: op, Err: WrapError(err)}
}

// WrapError converts context.Canceled and context.DeadlineExceeded to ErrCanceled.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
// It checks both direct context errors and wrapped errors (e.g., from MongoDB driver).
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded")
}
