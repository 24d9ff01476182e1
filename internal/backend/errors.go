// Package backend defines the pluggable trait surfaces the core
// depends on — VectorStore, MetadataStore, ExperienceStore — and the
// common error taxonomy backend implementations wrap their failures
// into. The core never depends on a concrete backend, only on these
// interfaces, mirroring the teacher's database/vector package split
// generalized into proper traits.
package backend

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy surfaced by the core (spec §7).
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindDuplicate          Kind = "duplicate"
	KindBackendFailure     Kind = "backend_failure"
	KindIndexInconsistent  Kind = "index_inconsistent"
	KindRetrievalFailed    Kind = "retrieval_failed"
	KindEmbedderUnavailable   Kind = "embedder_unavailable"
	KindEmbedderIncompatible Kind = "embedder_incompatible"
)

// ConnectorSubKind enumerates the taxonomy a backend's ConnectorError
// wraps (spec §6).
type ConnectorSubKind string

const (
	ConnectorConnection     ConnectorSubKind = "connection"
	ConnectorAuthentication ConnectorSubKind = "authentication"
	ConnectorNotFound       ConnectorSubKind = "not_found"
	ConnectorValidation     ConnectorSubKind = "validation"
	ConnectorOperation      ConnectorSubKind = "operation"
	ConnectorUnsupported    ConnectorSubKind = "unsupported"
)

// Error is the core's uniform error type. Callers use errors.As to
// recover the Kind and decide how to react (spec §7 propagation policy).
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ConnectorError is the common shape backend implementations wrap
// their failures into before they cross the trait boundary.
type ConnectorError struct {
	SubKind ConnectorSubKind
	Backend string
	Message string
	Wrapped error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("%s[%s]: %s: %v", e.Backend, e.SubKind, e.Message, e.Wrapped)
}

func (e *ConnectorError) Unwrap() error { return e.Wrapped }

// NewConnectorError builds a ConnectorError for backend implementations.
func NewConnectorError(backend string, sub ConnectorSubKind, message string, cause error) *ConnectorError {
	return &ConnectorError{Backend: backend, SubKind: sub, Message: message, Wrapped: cause}
}
