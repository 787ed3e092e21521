package bindcache

import "fmt"

const indexPrefix = "INDEX:"

// IndexFor returns the index string under which the generation token for
// (class, sel) lives:
//
//	INDEX:{class}/{field}={value}   first identity field present in sel
//	INDEX:{class}/*                 sel == nil (class-wide wildcard)
//
// The result depends only on the identity field, never on the other keys of sel
// or on map ordering. A non-nil sel without any identity field is an error.
func (id Identity) IndexFor(class string, sel Selector) (string, error) {
	if class == "" {
		return "", &MalformedBindingError{Element: sel, Reason: "empty class"}
	}
	if sel == nil {
		return wildcardIndex(class), nil
	}
	field, value, ok := id.match(sel)
	if !ok {
		return "", &MissingIdentityFieldError{Class: class, Selector: sel, Fields: id.fields()}
	}
	return fmt.Sprintf("%s%s/%s=%v", indexPrefix, class, field, value), nil
}

func wildcardIndex(class string) string {
	return indexPrefix + class + "/*"
}

// indexes maps each canonical entry to its index string, preserving order.
func (id Identity) indexes(b Binding) ([]string, error) {
	out := make([]string, len(b))
	for i, e := range b {
		idx, err := id.IndexFor(e.Class, e.Selector)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}
