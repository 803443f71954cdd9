package mwtree

import (
	"reflect"
	"unsafe"
)

// nodeHeaderSize is the expected size of a node header. Chunks hold headers
// by value, so growing the header grows every chunk.
const nodeHeaderSize = 48

var _ [nodeHeaderSize - int(unsafe.Sizeof(nodeHeader{}))]byte
var _ [int(unsafe.Sizeof(nodeHeader{})) - nodeHeaderSize]byte

// pointerFields lists the fields of t, as dotted paths below prefix, whose
// kind holds a Go pointer. Node headers must report none: nodes link to each
// other only through slots, so a header stays valid when it is copied into a
// snapshot or resolved through a rebuilt chunk directory.
func pointerFields(t reflect.Type, prefix string) []string {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan, reflect.String, reflect.UnsafePointer:
		return []string{prefix}
	case reflect.Array:
		return pointerFields(t.Elem(), prefix+"[]")
	case reflect.Struct:
		var out []string
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			out = append(out, pointerFields(f.Type, prefix+"."+f.Name)...)
		}
		return out
	}
	return nil
}
