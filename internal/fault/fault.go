// Package fault defines the closed error taxonomy used across the
// ingestion pipeline. Every failure crossing a component boundary is
// tagged with one of five kinds so the API layer can translate it to
// user-facing text in exactly one place.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Transport covers chunk decode failures and dead channels.
	// Recovered locally, never propagated as a pipeline failure.
	Transport Kind = iota
	// Validation covers empty files, unsupported types, malformed
	// manifests. File-scoped; never aborts sibling files.
	Validation
	// Extraction covers engine timeouts, empty responses and
	// unparseable engine output.
	Extraction
	// Storage covers bulk insert and object store failures.
	Storage
	// Fatal is anything unexpected caught at the orchestrator
	// boundary.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Validation:
		return "validation"
	case Extraction:
		return "extraction"
	case Storage:
		return "storage"
	default:
		return "fatal"
	}
}

// Error is a kind-tagged error. Use New/Wrap to construct and KindOf
// to classify; callers should not switch on message text.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kind-tagged error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind and context message.
// Returns nil when err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or Fatal for untagged errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Fatal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
