// Package hints marks errors that report a skipped step rather than a
// failure, such as a hook stage with no commands or a catalog with no
// items. Callers log a hint and carry on; they never count it as a failed
// run or a failed item.
//
// Detection goes through the IsHint behaviour so a caller does not need
// the producing package's sentinel to recognise a hint.
package hints

import "errors"

type softError struct {
	cause error
}

func (s *softError) Error() string {
	if s == nil || s.cause == nil {
		return "unknown hint"
	}
	return s.cause.Error()
}

func (s *softError) IsHint() bool  { return true }
func (s *softError) Unwrap() error { return s.cause }

// New returns a hint with the given message.
func New(msg string) error {
	return &softError{cause: errors.New(msg)}
}

// Wrap marks err as a hint. Wrap(nil) is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &softError{cause: err}
}

// IsHint reports whether any error in the chain is a hint.
func IsHint(err error) bool {
	var h interface{ IsHint() bool }
	return errors.As(err, &h) && h.IsHint()
}

// Is reports whether err is a hint and matches target.
func Is(err, target error) bool {
	return IsHint(err) && errors.Is(err, target)
}
