package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := NotFoundf("incident %s not found", "0007")
	if !Is(err, NotFound) {
		t.Fatal("expected NotFound kind")
	}
	if Is(err, Storage) {
		t.Fatal("did not expect Storage kind")
	}
}

func TestIsUnwrapsWrappedError(t *testing.T) {
	base := StateConflictf("incident already resolved")
	wrapped := fmt.Errorf("claim: %w", base)
	if !Is(wrapped, StateConflict) {
		t.Fatal("expected wrapped error to retain kind")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("boom"), Storage) {
		t.Fatal("plain error should not match any kind")
	}
}
