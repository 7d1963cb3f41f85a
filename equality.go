package storion

import (
	"fmt"
	"math"
	"math/cmplx"
	"reflect"
)

// EqualFunc reports whether two values are considered equal. Writes that are
// equal to the current value under the field's EqualFunc are dropped.
type EqualFunc func(a, b any) bool

// Strict compares by identity. Comparable values use ==, reference kinds
// (maps, slices, pointers, funcs, chans) compare by address, and structs that
// hold reference kinds compare field by field with the same rule. NaN equals
// NaN, so rewriting NaN is not a change.
func Strict(a, b any) bool {
	return strictValue(reflect.ValueOf(a), reflect.ValueOf(b))
}

// Shallow compares one level deep: members of maps, slices, arrays and
// structs are compared with Strict.
func Shallow(a, b any) bool {
	return shallowValue(reflect.ValueOf(a), reflect.ValueOf(b), 1)
}

// Shallow2 compares two levels deep.
func Shallow2(a, b any) bool {
	return shallowValue(reflect.ValueOf(a), reflect.ValueOf(b), 2)
}

// Shallow3 compares three levels deep.
func Shallow3(a, b any) bool {
	return shallowValue(reflect.ValueOf(a), reflect.ValueOf(b), 3)
}

// Deep compares recursively.
func Deep(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// EqualityByName maps the names used in configuration files to EqualFuncs.
func EqualityByName(name string) (EqualFunc, error) {
	switch name {
	case "", "strict":
		return Strict, nil
	case "shallow":
		return Shallow, nil
	case "shallow2":
		return Shallow2, nil
	case "shallow3":
		return Shallow3, nil
	case "deep":
		return Deep, nil
	default:
		return nil, fmt.Errorf("unknown equality %q", name)
	}
}

func strictValue(a, b reflect.Value) bool {
	a, b = unwrapInterface(a), unwrapInterface(b)
	if !a.IsValid() || !b.IsValid() {
		return a.IsValid() == b.IsValid()
	}
	if a.Type() != b.Type() {
		return false
	}

	switch a.Kind() {
	case reflect.Slice:
		return a.Len() == b.Len() && a.Pointer() == b.Pointer()
	case reflect.Map, reflect.Pointer, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return a.Pointer() == b.Pointer()
	case reflect.Float32, reflect.Float64:
		x, y := a.Float(), b.Float()
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	case reflect.Complex64, reflect.Complex128:
		x, y := a.Complex(), b.Complex()
		return x == y || (cmplx.IsNaN(x) && cmplx.IsNaN(y))
	case reflect.Struct:
		if a.Type().Comparable() && a.Equal(b) {
			return true
		}
		for i := 0; i < a.NumField(); i++ {
			if !strictValue(a.Field(i), b.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		if a.Type().Comparable() && a.Equal(b) {
			return true
		}
		for i := 0; i < a.Len(); i++ {
			if !strictValue(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	default:
		return a.Equal(b)
	}
}

func shallowValue(a, b reflect.Value, depth int) bool {
	if strictValue(a, b) {
		return true
	}
	if depth <= 0 {
		return false
	}

	a, b = unwrapInterface(a), unwrapInterface(b)
	if !a.IsValid() || !b.IsValid() || a.Type() != b.Type() {
		return false
	}

	switch a.Kind() {
	case reflect.Pointer:
		if a.IsNil() || b.IsNil() {
			return false
		}
		return shallowValue(a.Elem(), b.Elem(), depth)
	case reflect.Map:
		if a.IsNil() != b.IsNil() || a.Len() != b.Len() {
			return false
		}
		iter := a.MapRange()
		for iter.Next() {
			other := b.MapIndex(iter.Key())
			if !other.IsValid() || !shallowValue(iter.Value(), other, depth-1) {
				return false
			}
		}
		return true
	case reflect.Slice, reflect.Array:
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !shallowValue(a.Index(i), b.Index(i), depth-1) {
				return false
			}
		}
		return true
	case reflect.Struct:
		for i := 0; i < a.NumField(); i++ {
			if !shallowValue(a.Field(i), b.Field(i), depth-1) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func unwrapInterface(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
