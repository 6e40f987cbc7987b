package wire

import "reflect"

// IsSet reports whether x holds a value. Only a nil interface or a nil
// pointer, map, slice, func, chan or interface counts as unset; zero numbers,
// NaN, empty strings and empty non-nil collections are set.
func IsSet(x any) bool {
	if x == nil {
		return false
	}

	v := reflect.ValueOf(x)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return !v.IsNil()
	}
	return true
}
