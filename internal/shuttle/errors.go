package shuttle

import "errors"

// Failures are reported by wrapping one of these with fmt.Errorf("...: %w")
// and matched with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrDataIncomplete = errors.New("data incomplete")
	ErrTransientStore = errors.New("transient store error")
	// ErrConflict means a shift changed since it was read.
	ErrConflict = errors.New("version conflict")
)

// Skippable reports whether err only invalidates the current stop or shift.
func Skippable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrDataIncomplete)
}
