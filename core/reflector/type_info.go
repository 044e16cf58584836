// Package reflector derives stable type names for event payloads and
// aggregates. Names are cached per reflect.Type.
package reflector

import (
	"reflect"
	"sync"
)

var cache sync.Map // reflect.Type -> TypeInfo

// TypeInfo describes a (pointer-unwrapped) type.
type TypeInfo struct {
	Name string       // "pkg/path.TypeName"
	Type reflect.Type // element type for pointers
}

// Named is implemented by values that choose their own type name.
type Named interface {
	TypeName() string
}

// TypeInfoOf returns TypeInfo for the dynamic type of x.
func TypeInfoOf(x any) TypeInfo { return TypeInfoForType(reflect.TypeOf(x)) }

// TypeInfoFor returns TypeInfo for T.
func TypeInfoFor[T any]() TypeInfo { return TypeInfoForType(reflect.TypeFor[T]()) }

// TypeInfoForType unwraps pointers and returns the cached TypeInfo for t.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if ti, ok := cache.Load(t); ok {
		return ti.(TypeInfo)
	}
	ti := TypeInfo{Name: t.PkgPath() + "." + t.Name(), Type: t}
	actual, _ := cache.LoadOrStore(t, ti)
	return actual.(TypeInfo)
}

// NameOf returns x's chosen name if it implements Named, otherwise its type name.
func NameOf(x any) string {
	if n, ok := x.(Named); ok {
		return n.TypeName()
	}
	return TypeInfoOf(x).Name
}

// NameFor is NameOf for a type parameter. Named is checked on *T first so that
// pointer-receiver implementations are honored.
func NameFor[T any]() string {
	if n, ok := any(new(T)).(Named); ok {
		return n.TypeName()
	}
	var zero T
	if n, ok := any(zero).(Named); ok {
		return n.TypeName()
	}
	return TypeInfoFor[T]().Name
}
