package hints_test

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/paulschiretz/pgl-photosync/pkg/hints"
)

var errNoItems = hints.New("catalog returned no items")

func TestIsHint(t *testing.T) {
	notFound := hints.Wrap(fs.ErrNotExist)

	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{"Nil", nil, false},
		{"Plain Error", fs.ErrNotExist, false},
		{"New", errNoItems, true},
		{"Wrap", notFound, true},
		{"Wrapped By Caller", fmt.Errorf("sync: %w", errNoItems), true},
		{"Twice Wrapped By Caller", fmt.Errorf("run: %w", fmt.Errorf("sync: %w", notFound)), true},
		{"Plain Error Wrapped By Caller", fmt.Errorf("sync: %w", fs.ErrNotExist), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := hints.IsHint(tc.err); got != tc.expected {
				t.Errorf("expected IsHint %v, but got %v", tc.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if hints.Wrap(nil) != nil {
		t.Error("expected Wrap(nil) to be nil")
	}

	wrapped := hints.Wrap(fs.ErrPermission)
	if wrapped.Error() != fs.ErrPermission.Error() {
		t.Errorf("expected message %q, but got %q", fs.ErrPermission.Error(), wrapped.Error())
	}
	if !errors.Is(wrapped, fs.ErrPermission) {
		t.Error("expected the cause to be reachable through errors.Is")
	}
	if errors.Unwrap(wrapped) != fs.ErrPermission {
		t.Errorf("expected Unwrap to return the cause, but got %v", errors.Unwrap(wrapped))
	}
}

func TestIs(t *testing.T) {
	wrapped := fmt.Errorf("post-sync: %w", errNoItems)

	if !hints.Is(wrapped, errNoItems) {
		t.Error("expected Is to match the hint through a caller's wrap")
	}
	if hints.Is(fs.ErrNotExist, fs.ErrNotExist) {
		t.Error("expected Is to be false for an error that is not a hint")
	}
	if hints.Is(errNoItems, fs.ErrNotExist) {
		t.Error("expected Is to be false for an unrelated target")
	}
}
