package bindcache

import "reflect"

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// isEmpty reports whether v is nil or false, looking through interfaces.
// Zero numbers, empty strings and zero structs are real results and get cached.
func isEmpty[V any](v V) bool {
	rv := reflect.ValueOf(&v).Elem()
	for {
		switch rv.Kind() {
		case reflect.Interface:
			if rv.IsNil() {
				return true
			}
			rv = rv.Elem()
			continue
		case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return rv.IsNil()
		case reflect.Bool:
			return !rv.Bool()
		case reflect.Invalid:
			return true
		default:
			return false
		}
	}
}
