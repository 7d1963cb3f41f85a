package storion

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// wrapActions validates the action struct returned by setup and replaces every
// exported func field with a wrapper that refuses disposed instances, runs
// untracked and reports to OnDispatch and OnError.
func wrapActions[S, A any](inst *Instance[S, A], actions A) (A, error) {
	var zero A

	rv := reflect.ValueOf(actions)
	if !rv.IsValid() || rv.Kind() != reflect.Struct {
		return zero, &ActionError{
			Store: inst.info.DisplayName,
			Cause: fmt.Errorf("%w: actions must be a struct, got %T", ErrInvalidAction, actions),
		}
	}

	out := reflect.New(rv.Type()).Elem()
	out.Set(rv)
	for idx := 0; idx < rv.NumField(); idx++ {
		field := rv.Type().Field(idx)
		if !field.IsExported() {
			continue
		}
		fn := rv.Field(idx)
		if fn.Kind() != reflect.Func || fn.IsNil() {
			return zero, &ActionError{
				Store:  inst.info.DisplayName,
				Action: field.Name,
				Cause:  ErrInvalidAction,
			}
		}
		out.Field(idx).Set(wrapAction(inst, field.Name, fn))
	}
	return out.Interface().(A), nil
}

func wrapAction[S, A any](inst *Instance[S, A], name string, fn reflect.Value) reflect.Value {
	typ := fn.Type()
	returnsErr := typ.NumOut() > 0 && typ.Out(typ.NumOut()-1) == errorType

	return reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
		if inst.Disposed() {
			err := &ActionError{Store: inst.info.DisplayName, Action: name, Cause: ErrDisposed}
			if returnsErr {
				return errorResults(typ, err)
			}
			panic(err)
		}

		defer func() {
			if r := recover(); r != nil {
				inst.reportError(&ActionError{
					Store:  inst.info.DisplayName,
					Action: name,
					Cause:  &PanicError{Value: r, Stack: debug.Stack()},
				})
				panic(r)
			}
		}()

		var results []reflect.Value
		inst.state.tracking.untrack(func() {
			if typ.IsVariadic() {
				results = fn.CallSlice(args)
			} else {
				results = fn.Call(args)
			}
		})

		if returnsErr {
			if last := results[len(results)-1]; !last.IsNil() {
				inst.reportError(&ActionError{
					Store:  inst.info.DisplayName,
					Action: name,
					Cause:  last.Interface().(error),
				})
			}
		}

		inst.dispatched(DispatchEvent{
			Store:   inst.info.DisplayName,
			Action:  name,
			Args:    interfaces(args),
			Results: interfaces(results),
		})
		return results
	})
}

func errorResults(typ reflect.Type, err error) []reflect.Value {
	out := make([]reflect.Value, typ.NumOut())
	for i := range out {
		out[i] = reflect.Zero(typ.Out(i))
	}
	ev := reflect.New(errorType).Elem()
	ev.Set(reflect.ValueOf(err))
	out[len(out)-1] = ev
	return out
}

func interfaces(values []reflect.Value) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v.Interface()
	}
	return out
}
