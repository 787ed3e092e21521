package bindcache

// Selector identifies one object of a class by one of its identity fields,
// e.g. Selector{"id": 42}.
type Selector map[string]any

// Spec describes what a cached result depends on. It is a closed set:
// ClassOnly, ClassWithSelector, ClassWithID, Disjunction and Binding.
// Dynamic input (decoded JSON/YAML) is converted with ParseSpec.
type Spec interface {
	isSpec()
}

// ClassOnly depends on any object of Class (list pages, counts, ...).
type ClassOnly struct {
	Class string
}

// ClassWithSelector depends on the one object of Class matched by Selector.
// A nil Selector is the same as ClassOnly.
type ClassWithSelector struct {
	Class    string
	Selector Selector
}

// ClassWithID is shorthand for a selector on the first identity field.
type ClassWithID struct {
	Class string
	ID    any
}

// Disjunction depends on every member; a change to any of them invalidates.
type Disjunction []Spec

// Entry is one canonical dependency. A nil Selector means "any object of Class".
type Entry struct {
	Class    string
	Selector Selector
}

// Binding is the canonical, ordered form of a Spec. Order affects the key string
// but not which changes invalidate it.
type Binding []Entry

func (ClassOnly) isSpec()         {}
func (ClassWithSelector) isSpec() {}
func (ClassWithID) isSpec()       {}
func (Disjunction) isSpec()       {}
func (Binding) isSpec()           {}

// Class binds to every object of class.
func Class(class string) Spec { return ClassOnly{Class: class} }

// Select binds to the object of class matched by sel.
func Select(class string, sel Selector) Spec {
	return ClassWithSelector{Class: class, Selector: sel}
}

// Object binds to the object of class whose first identity field equals id.
func Object(class string, id any) Spec { return ClassWithID{Class: class, ID: id} }

// AnyOf combines specs; nested combinations are flattened on normalization.
func AnyOf(specs ...Spec) Spec { return Disjunction(specs) }
