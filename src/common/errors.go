package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies consensus errors so that callers can tell routine
// adversarial input apart from local state corruption.
type ErrorKind uint32

const (
	// MalformedBlock is a decoding or structural failure. The block is dropped
	// and never retried.
	MalformedBlock ErrorKind = iota
	// ValidationFailure means the block validator rejected the block.
	ValidationFailure
	// StorageFailure is an I/O failure of the block store. In-memory state is
	// left untouched so the caller may retry.
	StorageFailure
	// ProtocolInvariantViolation means our own state is inconsistent. It is
	// fatal for the consensus instance.
	ProtocolInvariantViolation
)

// String ...
func (k ErrorKind) String() string {
	switch k {
	case MalformedBlock:
		return "MalformedBlock"
	case ValidationFailure:
		return "ValidationFailure"
	case StorageFailure:
		return "StorageFailure"
	case ProtocolInvariantViolation:
		return "ProtocolInvariantViolation"
	default:
		return "Unknown"
	}
}

// ConsensusError is the error type returned by the consensus core.
type ConsensusError struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

// Error ...
func (e *ConsensusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap ...
func (e *ConsensusError) Unwrap() error {
	return e.Cause
}

// Is matches any ConsensusError of the same kind, so that
// errors.Is(err, &ConsensusError{Kind: StorageFailure}) works.
func (e *ConsensusError) Is(target error) bool {
	t, ok := target.(*ConsensusError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func newErr(kind ErrorKind, cause error, format string, args ...interface{}) error {
	return &ConsensusError{
		Kind:  kind,
		Msg:   fmt.Sprintf(format, args...),
		Cause: cause,
	}
}

// NewMalformedBlockErr ...
func NewMalformedBlockErr(cause error, format string, args ...interface{}) error {
	return newErr(MalformedBlock, cause, format, args...)
}

// NewValidationErr ...
func NewValidationErr(format string, args ...interface{}) error {
	return newErr(ValidationFailure, nil, format, args...)
}

// NewStorageErr ...
func NewStorageErr(cause error, format string, args ...interface{}) error {
	return newErr(StorageFailure, cause, format, args...)
}

// NewInvariantErr ...
func NewInvariantErr(format string, args ...interface{}) error {
	return newErr(ProtocolInvariantViolation, nil, format, args...)
}

// IsKind reports whether err, or any error it wraps, is a ConsensusError of
// the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *ConsensusError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// IsFatal reports whether err must halt the consensus instance.
func IsFatal(err error) bool {
	return IsKind(err, ProtocolInvariantViolation)
}
