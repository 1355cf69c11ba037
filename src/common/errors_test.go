package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestConsensusErrorKinds(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageErr(cause, "writing %d blocks", 3)

	if !IsKind(err, StorageFailure) {
		t.Fatalf("expected StorageFailure, got %v", err)
	}
	if IsFatal(err) {
		t.Fatalf("storage failure should not be fatal")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause should be reachable through Unwrap")
	}

	wrapped := fmt.Errorf("add blocks: %w", NewInvariantErr("missing ancestor %s", "A1"))
	if !IsFatal(wrapped) {
		t.Fatalf("wrapped invariant violation should be fatal")
	}
	if !errors.Is(wrapped, &ConsensusError{Kind: ProtocolInvariantViolation}) {
		t.Fatalf("errors.Is should match on kind")
	}
	if errors.Is(wrapped, &ConsensusError{Kind: ValidationFailure}) {
		t.Fatalf("errors.Is should not match another kind")
	}
}

func TestStoreErr(t *testing.T) {
	err := NewStoreErr("Block", KeyNotFound, "A1")
	if !IsStore(err, KeyNotFound) {
		t.Fatalf("expected KeyNotFound")
	}
	if IsStore(err, Empty) {
		t.Fatalf("did not expect Empty")
	}
	if err.Error() != "Block, A1, Not Found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
