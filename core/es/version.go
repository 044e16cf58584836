package es

import (
	"fmt"
	"log/slog"
)

// Version is the per-aggregate stream version. The first event has version 1;
// zero means "never persisted". Optimistic concurrency compares versions.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) Next() Version                          { return v + 1 }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }

// KeyString renders an aggregate key for storage and logs. Keys implementing
// fmt.Stringer are rendered with String.
func KeyString[K comparable](key K) string {
	switch k := any(key).(type) {
	case string:
		return k
	case fmt.Stringer:
		return k.String()
	}
	return fmt.Sprint(key)
}

// keyFromString is the inverse of KeyString for string keys.
func keyFromString[K comparable](s string) (key K, ok bool) {
	if p, isString := any(&key).(*string); isString {
		*p = s
		return key, true
	}
	return key, false
}

func isZeroKey[K comparable](key K) bool {
	var zero K
	return key == zero
}
