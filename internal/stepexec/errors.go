package stepexec

import (
	"fmt"
	"strings"
)

// LocateKind names one of the element-locate failure kinds eligible for
// self-heal and resolution, distinct from a navigation or backend error.
type LocateKind string

const (
	KindElementNotFound LocateKind = "ElementNotFound"
	KindElementObscured LocateKind = "ElementObscured"
	KindElementDisabled LocateKind = "ElementDisabled"
	KindStaleElement    LocateKind = "StaleElement"
)

// LocateError is a typed Locate-error: a step failure of a known kind,
// wrapping whatever underlying error (Playwright timeout, locator.ErrNotFound,
// ...) triggered it. Callers use errors.As(err, &locateErr) to recover the
// kind, or errors.Is(err, stepexec.ErrElementObscured) to test for one.
type LocateError struct {
	Kind LocateKind
	Err  error
}

func (e *LocateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *LocateError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrElementObscured) match any *LocateError sharing
// ErrElementObscured's kind, not just that exact pointer.
func (e *LocateError) Is(target error) bool {
	t, ok := target.(*LocateError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons against a bare kind.
var (
	ErrElementNotFound = &LocateError{Kind: KindElementNotFound}
	ErrElementObscured = &LocateError{Kind: KindElementObscured}
	ErrElementDisabled = &LocateError{Kind: KindElementDisabled}
	ErrStaleElement    = &LocateError{Kind: KindStaleElement}
)

func locateErr(kind LocateKind, err error) *LocateError {
	return &LocateError{Kind: kind, Err: err}
}

// isStaleElementErr reports whether err is Playwright's detached-from-DOM
// failure, the real-path trigger for KindStaleElement.
func isStaleElementErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not attached to the dom") || strings.Contains(msg, "element is detached")
}

// simulatedKinds maps a simulate-mode fixture message's leading token to
// the LocateKind it represents, so a simulated failure is a real typed
// error too, not just decorative text.
var simulatedKinds = map[string]LocateKind{
	"ElementNotFound": KindElementNotFound,
	"ElementObscured": KindElementObscured,
	"ElementDisabled": KindElementDisabled,
	"StaleElement":    KindStaleElement,
}

// classifySimulatedError wraps a simulate-mode fixture message in a
// *LocateError when its leading token names a known kind, otherwise returns
// a plain error.
func classifySimulatedError(msg string) error {
	if prefix, _, ok := strings.Cut(msg, ":"); ok {
		if kind, known := simulatedKinds[prefix]; known {
			return locateErr(kind, fmt.Errorf("stepexec: simulate: %s", msg))
		}
	}
	return fmt.Errorf("stepexec: simulate: %s", msg)
}
