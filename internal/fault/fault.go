// Package fault classifies pipeline errors into the three kinds the
// consumers care about: validation (discard the message), business (log,
// do not retry) and infrastructure (leave unacked so the transport
// redelivers).
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindInfrastructure is the zero value on purpose: an error nobody
	// classified must be redelivered, never dropped.
	KindInfrastructure Kind = iota
	KindValidation
	KindBusiness
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusiness:
		return "business"
	default:
		return "infrastructure"
	}
}

// Error wraps a cause with its kind. It unwraps, so errors.Is still
// matches the domain sentinels underneath.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }

func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindValidation, err: err}
}

func Validationf(format string, args ...any) error {
	return &Error{kind: KindValidation, err: fmt.Errorf(format, args...)}
}

func Business(err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindBusiness, err: err}
}

func Businessf(format string, args ...any) error {
	return &Error{kind: KindBusiness, err: fmt.Errorf(format, args...)}
}

func Infra(err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindInfrastructure, err: err}
}

func Infraf(format string, args ...any) error {
	return &Error{kind: KindInfrastructure, err: fmt.Errorf(format, args...)}
}

// KindOf walks the wrap chain for the outermost classified error.
// Unclassified errors count as infrastructure.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindInfrastructure
}

// Retryable reports whether the message carrying err should be left to
// the transport for redelivery.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindInfrastructure
}
