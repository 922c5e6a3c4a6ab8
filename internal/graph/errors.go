package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed identifiers or unknown actions
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSelfReference is returned when an actor tries to relate to itself
	ErrSelfReference = errors.New("self reference")
	// ErrNotFound is returned when the actor or target entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an action is not valid in the current state
	ErrConflict = errors.New("conflict")
	// ErrStorageUnavailable is returned when a backing store cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrConsistencyFault marks a failed compensation; counters may have drifted
	ErrConsistencyFault = errors.New("consistency fault")

	ErrAlreadyFollowing = fmt.Errorf("%w: already following", ErrConflict)
	ErrNotFollowing     = fmt.Errorf("%w: not following", ErrConflict)
	ErrAlreadyLiked     = fmt.Errorf("%w: already liked", ErrConflict)
	ErrNotLiked         = fmt.Errorf("%w: not liked", ErrConflict)
)

// Store-level outcomes. Backends return these so that the service can tell a
// lost race apart from a broken store.
var (
	ErrEdgeExists    = errors.New("edge already exists")
	ErrEdgeMissing   = errors.New("edge not found")
	ErrEntityMissing = errors.New("entity not found")
)

// ConsistencyFault is returned when a partially applied transition could not
// be rolled back. It carries everything needed for manual reconciliation.
type ConsistencyFault struct {
	Op           string
	Kind         Kind
	Source       string
	Target       string
	Cause        error
	Compensation error
}

func (f *ConsistencyFault) Error() string {
	return fmt.Sprintf("consistency fault during %s %s(%s -> %s): cause: %v; compensation: %v",
		f.Op, f.Kind, f.Source, f.Target, f.Cause, f.Compensation)
}

// Is reports whether target is ErrConsistencyFault
func (f *ConsistencyFault) Is(target error) bool {
	return target == ErrConsistencyFault
}

func (f *ConsistencyFault) Unwrap() error {
	return f.Cause
}

// Code is the client-facing classification of an error
type Code string

const (
	CodeOK               Code = "ok"
	CodeInvalidArgument  Code = "invalid_argument"
	CodeSelfReference    Code = "self_reference"
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeUnavailable      Code = "storage_unavailable"
	CodeConsistencyFault Code = "consistency_fault"
	CodeInternal         Code = "internal"
)

// CodeOf classifies err. A consistency fault wins over whatever caused it.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrConsistencyFault):
		return CodeConsistencyFault
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrSelfReference):
		return CodeSelfReference
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrStorageUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// Retryable reports whether the caller may retry the same request with backoff
func Retryable(err error) bool {
	return CodeOf(err) == CodeUnavailable
}

// Unavailable wraps a backend failure so callers can classify it as retryable
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
