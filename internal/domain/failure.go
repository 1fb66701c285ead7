package domain

import (
	"errors"
	"fmt"
)

// FailureKind classifies a handler failure. The dispatcher maps each kind
// to exactly one user-facing reply.
type FailureKind string

const (
	FailureUnsupportedType  FailureKind = "unsupported_type"
	FailureEmptyArgument    FailureKind = "empty_argument"
	FailureUnrecognized     FailureKind = "unrecognized"
	FailureUnknownCommand   FailureKind = "unknown_command"
	FailureInsufficientText FailureKind = "insufficient_text"
	FailureTooLarge         FailureKind = "too_large"
	FailureUnavailable      FailureKind = "unavailable"
	FailureExternal         FailureKind = "external"
)

// Validation reports whether failures of this kind come from the input
// itself rather than from a collaborator.
func (k FailureKind) Validation() bool {
	switch k {
	case FailureUnsupportedType, FailureEmptyArgument, FailureUnrecognized,
		FailureUnknownCommand, FailureInsufficientText, FailureTooLarge:
		return true
	}
	return false
}

// Failure is a classified handler error.
type Failure struct {
	Kind FailureKind
	// Op names the step that failed, e.g. "youtube.resolve".
	Op  string
	Err error
	// Reply overrides the catalog key used for the user-facing text.
	Reply string
	// Args are passed to the reply template.
	Args []any
}

func (f *Failure) Error() string {
	switch {
	case f.Op != "" && f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
	case f.Op != "":
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail builds a Failure without an underlying cause.
func Fail(kind FailureKind, op string) *Failure {
	return &Failure{Kind: kind, Op: op}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind FailureKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Op: op, Err: err}
}

// KindOf classifies any error. Errors that are not Failures are external.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureExternal
}

// AsFailure returns the Failure in err's chain, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}
