package vm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a runtime error.
type ErrorKind int

const (
	KindTypeMismatch ErrorKind = iota + 1
	KindUndefinedVariable
	KindAssertionFailed
	KindAssertionTypeMismatch
	KindStackOverflow
	KindInvalidBytecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindTypeMismatch:
		return "type mismatch"
	case KindUndefinedVariable:
		return "undefined variable"
	case KindAssertionFailed:
		return "assertion failed"
	case KindAssertionTypeMismatch:
		return "assertion type mismatch"
	case KindStackOverflow:
		return "stack overflow"
	case KindInvalidBytecode:
		return "invalid bytecode"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Sentinel errors for errors.Is. ErrAssertion matches both assertion kinds.
var (
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrAssertion         = errors.New("assertion failed")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrInvalidBytecode   = errors.New("invalid bytecode")
)

// RuntimeError aborts execution of a chunk.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Line    int
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s\n[line %d] in script", e.Message, e.Line)
}

// Unwrap maps the kind to its sentinel.
func (e *RuntimeError) Unwrap() error {
	switch e.Kind {
	case KindTypeMismatch:
		return ErrTypeMismatch
	case KindUndefinedVariable:
		return ErrUndefinedVariable
	case KindAssertionFailed, KindAssertionTypeMismatch:
		return ErrAssertion
	case KindStackOverflow:
		return ErrStackOverflow
	case KindInvalidBytecode:
		return ErrInvalidBytecode
	default:
		return nil
	}
}
