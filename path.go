package storion

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// readAt navigates segs from v. It reports false when a segment is missing
// or a nil is reached before the end of the path.
func readAt(v any, segs []string) (any, bool) {
	cur := reflect.ValueOf(v)
	for _, seg := range segs {
		cur = indirect(cur)
		if !cur.IsValid() {
			return nil, false
		}
		switch cur.Kind() {
		case reflect.Map:
			if cur.Type().Key().Kind() != reflect.String {
				return nil, false
			}
			cur = cur.MapIndex(reflect.ValueOf(seg).Convert(cur.Type().Key()))
		case reflect.Struct:
			idx := structField(cur.Type(), seg)
			if idx < 0 {
				return nil, false
			}
			cur = cur.Field(idx)
		case reflect.Slice, reflect.Array:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= cur.Len() {
				return nil, false
			}
			cur = cur.Index(i)
		default:
			return nil, false
		}
	}

	cur = unwrapInterface(cur)
	if !cur.IsValid() {
		return nil, false
	}
	return cur.Interface(), true
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// writeAt returns a copy of cur, of static type typ, with v stored at segs.
// Every container along the path is copied; missing intermediates are
// created: maps and structs as zero values, nil pointers as new values, nil
// interfaces as map[string]any, and slices grow to fit the index.
func writeAt(cur reflect.Value, typ reflect.Type, segs []string, v any) (reflect.Value, error) {
	if len(segs) == 0 {
		return valueFor(v, typ)
	}
	if !cur.IsValid() {
		cur = reflect.Zero(typ)
	}

	switch typ.Kind() {
	case reflect.Interface:
		inner := cur
		if cur.Kind() == reflect.Interface {
			inner = unwrapInterface(cur)
		}
		if !inner.IsValid() {
			inner = reflect.ValueOf(map[string]any{})
		}
		res, err := writeAt(inner, inner.Type(), segs, v)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(typ).Elem()
		out.Set(res)
		return out, nil

	case reflect.Pointer:
		var elem reflect.Value
		if !cur.IsNil() {
			elem = cur.Elem()
		}
		res, err := writeAt(elem, typ.Elem(), segs, v)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(typ.Elem())
		out.Elem().Set(res)
		return out, nil

	case reflect.Map:
		if typ.Key().Kind() != reflect.String {
			return reflect.Value{}, fmt.Errorf("%w: map key %s", ErrInvalidPath, typ.Key())
		}
		key := reflect.ValueOf(segs[0]).Convert(typ.Key())
		out := reflect.MakeMapWithSize(typ, cur.Len()+1)
		iter := cur.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		res, err := writeAt(cur.MapIndex(key), typ.Elem(), segs[1:], v)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetMapIndex(key, res)
		return out, nil

	case reflect.Struct:
		idx := structField(typ, segs[0])
		if idx < 0 {
			return reflect.Value{}, fmt.Errorf("%w: no field %q in %s", ErrInvalidPath, segs[0], typ)
		}
		out := reflect.New(typ).Elem()
		out.Set(cur)
		res, err := writeAt(cur.Field(idx), typ.Field(idx).Type, segs[1:], v)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Field(idx).Set(res)
		return out, nil

	case reflect.Slice:
		i, err := strconv.Atoi(segs[0])
		if err != nil || i < 0 {
			return reflect.Value{}, fmt.Errorf("%w: index %q", ErrInvalidPath, segs[0])
		}
		n := cur.Len()
		if i >= n {
			n = i + 1
		}
		out := reflect.MakeSlice(typ, n, n)
		reflect.Copy(out, cur)
		var child reflect.Value
		if i < cur.Len() {
			child = cur.Index(i)
		}
		res, err := writeAt(child, typ.Elem(), segs[1:], v)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(res)
		return out, nil
	}

	return reflect.Value{}, fmt.Errorf("%w: cannot descend into %s", ErrInvalidPath, typ)
}

// valueFor converts v to a value of type typ
func valueFor(v any, typ reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(typ), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(typ):
		out := reflect.New(typ).Elem()
		out.Set(rv)
		return out, nil
	case sameFamily(rv.Kind(), typ.Kind()) && rv.Type().ConvertibleTo(typ):
		return convertScalar(rv, typ)
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot assign %T to %s", ErrInvalidPath, v, typ)
}

// structField returns the index of the exported field whose state key is name
func structField(typ reflect.Type, name string) int {
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.IsExported() && fieldKey(f) == name {
			return i
		}
	}
	return -1
}

// deepClone copies maps, slices, pointers and structs reachable from v so a
// mutator can edit the result without touching v.
func deepClone(v any) any {
	if v == nil {
		return nil
	}
	return cloneValue(reflect.ValueOf(v)).Interface()
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneValue(v.Elem()))
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneValue(v.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				out.Field(i).Set(cloneValue(v.Field(i)))
			}
		}
		return out
	}
	return v
}
