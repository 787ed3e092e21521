package bindcache

// Identity is the ordered set of field names that identify an object inside a
// Selector. The first field is also the one scalar shorthands bind to.
type Identity []string

// DefaultIdentity identifies objects by "id".
var DefaultIdentity = Identity{"id"}

func (id Identity) fields() Identity {
	if len(id) == 0 {
		return DefaultIdentity
	}
	return id
}

// match returns the first identity field present (and non-nil) in sel.
func (id Identity) match(sel Selector) (field string, value any, ok bool) {
	for _, f := range id.fields() {
		if v, found := sel[f]; found && v != nil {
			return f, v, true
		}
	}
	return "", nil, false
}

// Normalize turns a Spec into its canonical Binding. A nil spec yields a nil
// Binding and no error. Normalizing a Binding returns an equal Binding.
func (id Identity) Normalize(s Spec) (Binding, error) {
	if s == nil {
		return nil, nil
	}
	if b, ok := s.(Binding); ok && b == nil {
		return nil, nil
	}
	var out Binding
	if err := id.appendSpec(&out, s); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeAny parses dynamic input with ParseSpec and normalizes the result.
func (id Identity) NormalizeAny(v any) (Binding, error) {
	s, err := ParseSpec(v)
	if err != nil {
		return nil, err
	}
	return id.Normalize(s)
}

func (id Identity) appendSpec(out *Binding, s Spec) error {
	switch v := s.(type) {
	case ClassOnly:
		return id.appendEntry(out, v, v.Class, nil)
	case ClassWithSelector:
		return id.appendEntry(out, v, v.Class, v.Selector)
	case ClassWithID:
		if v.ID == nil {
			return id.appendEntry(out, v, v.Class, nil)
		}
		return id.appendEntry(out, v, v.Class, Selector{id.fields()[0]: v.ID})
	case Disjunction:
		if len(v) == 0 {
			return &MalformedBindingError{Element: v, Reason: "empty disjunction"}
		}
		for _, m := range v {
			if m == nil {
				return &MalformedBindingError{Element: v, Reason: "nil member"}
			}
			if err := id.appendSpec(out, m); err != nil {
				return err
			}
		}
		return nil
	case Binding:
		if len(v) == 0 {
			return &MalformedBindingError{Element: v, Reason: "empty binding"}
		}
		for _, e := range v {
			if err := id.appendEntry(out, e, e.Class, e.Selector); err != nil {
				return err
			}
		}
		return nil
	default:
		return &MalformedBindingError{Element: s, Reason: "unknown spec type"}
	}
}

func (id Identity) appendEntry(out *Binding, src any, class string, sel Selector) error {
	if class == "" {
		return &MalformedBindingError{Element: src, Reason: "empty class"}
	}
	if sel != nil {
		if _, _, ok := id.match(sel); !ok {
			return &MissingIdentityFieldError{Class: class, Selector: sel, Fields: id.fields()}
		}
	}
	*out = append(*out, Entry{Class: class, Selector: sel})
	return nil
}

// ParseSpec converts loosely typed input into a Spec:
//
//	"Widget"                                   class only
//	[]any{"Widget"}                            class only
//	[]any{"Widget", 5}                         first identity field = 5
//	[]any{"Widget", map[string]any{"id": 5}}   selector
//	map[string]any{"klass": "Widget", "object": map[string]any{"id": 5}}
//	[]any{[]any{"Widget"}, []any{"User", 7}}   disjunction (first element is a list or mapping)
//
// Spec values pass through unchanged. nil yields nil.
func ParseSpec(v any) (Spec, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case Spec:
		return x, nil
	case string:
		return ClassOnly{Class: x}, nil
	case map[string]any:
		return parseMapping(x)
	case []any:
		return parseArray(x)
	case []Spec:
		return Disjunction(x), nil
	default:
		return nil, &MalformedBindingError{Element: v, Reason: "expected class, mapping or array"}
	}
}

func parseMapping(m map[string]any) (Spec, error) {
	raw, ok := m["klass"]
	if !ok {
		raw, ok = m["class"]
	}
	class, isStr := raw.(string)
	if !ok || !isStr || class == "" {
		return nil, &MalformedBindingError{Element: m, Reason: "mapping without class"}
	}
	obj, ok := m["object"]
	if !ok {
		obj = m["selector"]
	}
	return classWith(class, obj, m)
}

func parseArray(a []any) (Spec, error) {
	if len(a) == 0 {
		return nil, &MalformedBindingError{Element: a, Reason: "empty array"}
	}
	switch first := a[0].(type) {
	case string:
		switch len(a) {
		case 1:
			return ClassOnly{Class: first}, nil
		case 2:
			return classWith(first, a[1], a)
		default:
			return nil, &MalformedBindingError{Element: a[2], Reason: "unexpected element after class and selector"}
		}
	case []any, map[string]any, Spec:
		out := make(Disjunction, 0, len(a))
		for _, el := range a {
			s, err := ParseSpec(el)
			if err != nil {
				return nil, err
			}
			if s == nil {
				return nil, &MalformedBindingError{Element: a, Reason: "nil member"}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &MalformedBindingError{Element: first, Reason: "expected class, mapping or array"}
	}
}

// classWith builds the class + object form shared by mappings and shorthand arrays.
func classWith(class string, obj, src any) (Spec, error) {
	switch o := obj.(type) {
	case nil:
		return ClassOnly{Class: class}, nil
	case Selector:
		return ClassWithSelector{Class: class, Selector: o}, nil
	case map[string]any:
		return ClassWithSelector{Class: class, Selector: Selector(o)}, nil
	case []any, Spec:
		return nil, &MalformedBindingError{Element: src, Reason: "object must be a selector or identity value"}
	default:
		return ClassWithID{Class: class, ID: o}, nil
	}
}
