package bindcache

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is; the concrete types below carry the details.
var (
	ErrNilBinding           = errors.New("bindcache: key computed without a binding")
	ErrMalformedBinding     = errors.New("bindcache: malformed binding")
	ErrMissingIdentityField = errors.New("bindcache: selector has no identity field")
)

// MalformedBindingError reports a binding element of an unrecognized shape.
type MalformedBindingError struct {
	Element any
	Reason  string
}

func (e *MalformedBindingError) Error() string {
	return fmt.Sprintf("bindcache: malformed binding element %#v: %s", e.Element, e.Reason)
}

func (e *MalformedBindingError) Is(target error) bool { return target == ErrMalformedBinding }

// MissingIdentityFieldError reports an object-scoped selector that names none of
// the configured identity fields. It is never silently widened to the wildcard.
type MissingIdentityFieldError struct {
	Class    string
	Selector Selector
	Fields   []string
}

func (e *MissingIdentityFieldError) Error() string {
	return fmt.Sprintf("bindcache: selector %v for %q has none of the identity fields [%s]",
		e.Selector, e.Class, strings.Join(e.Fields, ", "))
}

func (e *MissingIdentityFieldError) Is(target error) bool { return target == ErrMissingIdentityField }

// InvalidateError reports rotations that failed during Invalidate.
// Both rotations are attempted even if the first one fails.
type InvalidateError struct {
	Class       string
	Index       string
	ObjectErr   error
	WildcardErr error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.ObjectErr != nil && e.WildcardErr != nil:
		return fmt.Sprintf("invalidate %q failed: object and wildcard rotation failed: object=%v; wildcard=%v",
			e.Index, e.ObjectErr, e.WildcardErr)
	case e.ObjectErr != nil:
		return fmt.Sprintf("invalidate %q: rotation failed: %v", e.Index, e.ObjectErr)
	case e.WildcardErr != nil:
		return fmt.Sprintf("invalidate %q: wildcard rotation for %q failed: %v", e.Index, e.Class, e.WildcardErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Index)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.ObjectErr != nil {
		errs = append(errs, e.ObjectErr)
	}
	if e.WildcardErr != nil {
		errs = append(errs, e.WildcardErr)
	}
	return errs
}
