// Package errors defines the stable error taxonomy surfaced by cellgraph.
//
// Errors are values: every operation that can fail returns one of the
// Kinds below wrapped in an *Error, never panics for expected failure
// modes. The shape (Kind + Op + wrapped cause) follows the pattern used
// by github.com/grailbio/reflow's errors package, trimmed to the fixed
// set of kinds this engine actually produces.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one of the engine's stable, documented failure modes.
type Kind int

const (
	// Other is used internally only; every error constructed by this
	// package should carry one of the named kinds below.
	Other Kind = iota
	// NodeNotFound: operation references an index with no node.
	NodeNotFound
	// CycleDetected: add_function (or a rewire) would close a cycle.
	CycleDetected
	// SelfDependency: add_function's dependencies include the node being added.
	SelfDependency
	// UnknownDependency: add_function dependency references a missing index.
	UnknownDependency
	// ReentrancyDetected: recursive compute, or an access to an in-flight dependency.
	ReentrancyDetected
	// TypeMismatch: get_result's requested type does not match the cell's value type.
	TypeMismatch
	// Disposed: operation invoked after engine disposal.
	Disposed
	// ComputeFailed: user compute raised; wraps the inner error.
	ComputeFailed
)

func (k Kind) String() string {
	switch k {
	case NodeNotFound:
		return "NodeNotFound"
	case CycleDetected:
		return "CycleDetected"
	case SelfDependency:
		return "SelfDependency"
	case UnknownDependency:
		return "UnknownDependency"
	case ReentrancyDetected:
		return "ReentrancyDetected"
	case TypeMismatch:
		return "TypeMismatch"
	case Disposed:
		return "Disposed"
	case ComputeFailed:
		return "ComputeFailed"
	default:
		return "Other"
	}
}

// Error is the concrete error type returned by every cellgraph operation.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "add_function", "get_result".
	Op string
	// Cell is the cell index the error pertains to, or -1 if not applicable.
	Cell int
	// Chain is a best-effort dependency chain, populated only for ReentrancyDetected.
	Chain []int
	// Err is the wrapped underlying cause, nil for pure structural errors.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		fmt.Fprintf(&b, " during %s", e.Op)
	}
	if e.Cell >= 0 {
		fmt.Fprintf(&b, " (cell %d)", e.Cell)
	}
	if len(e.Chain) > 0 {
		b.WriteString(": chain ")
		for i, c := range e.Chain {
			if i > 0 {
				b.WriteString(" -> ")
			}
			fmt.Fprintf(&b, "%d", c)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an *Error from a Kind, an operation name, a cell index and
// an optional wrapped cause (nil for none). Pass -1 as cell when no cell
// applies.
func E(kind Kind, op string, cell int, err error) *Error {
	return &Error{Kind: kind, Op: op, Cell: cell, Err: err}
}

// Reentrant constructs a ReentrancyDetected error carrying a diagnostic chain.
func Reentrant(op string, cell int, chain []int) *Error {
	return &Error{Kind: ReentrancyDetected, Op: op, Cell: cell, Chain: chain}
}

// Is reports whether err's Kind matches k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// GetKind extracts the Kind of err, or Other if err is not (or does not wrap) an *Error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}
