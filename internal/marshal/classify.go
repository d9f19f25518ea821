package marshal

import (
	"reflect"

	"github.com/dop251/goja"
)

var arrayBufferType = reflect.TypeOf(goja.ArrayBuffer{})

// matcher accepts the values of one Kind. Matchers are written to be
// mutually exclusive; the table order only decides which check runs first.
type matcher struct {
	kind  Kind
	match func(m *Marshaller, v goja.Value, o *goja.Object) bool
}

// matchers is the dispatch table, highest priority first. Host-tracked
// objects (DOM nodes, proxies) are matched before anything that inspects the
// object itself, and functions before any generic-object check.
var matchers = []matcher{
	{KindUndefined, func(_ *Marshaller, v goja.Value, _ *goja.Object) bool { return v == nil || goja.IsUndefined(v) }},
	{KindNull, func(_ *Marshaller, v goja.Value, _ *goja.Object) bool { return v != nil && goja.IsNull(v) }},
	{KindBoolean, func(_ *Marshaller, v goja.Value, o *goja.Object) bool {
		return o == nil && v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) && v.ExportType() != nil && v.ExportType().Kind() == reflect.Bool
	}},
	{KindNaN, func(_ *Marshaller, v goja.Value, _ *goja.Object) bool { return v != nil && goja.IsNaN(v) }},
	{KindInfinity, func(_ *Marshaller, v goja.Value, _ *goja.Object) bool {
		return v != nil && goja.IsInfinity(v) && v.ToFloat() > 0
	}},
	{KindNegInfinity, func(_ *Marshaller, v goja.Value, _ *goja.Object) bool {
		return v != nil && goja.IsInfinity(v) && v.ToFloat() < 0
	}},
	{KindNumber, func(_ *Marshaller, v goja.Value, _ *goja.Object) bool {
		return v != nil && goja.IsNumber(v) && !goja.IsNaN(v) && !goja.IsInfinity(v)
	}},
	{KindString, func(_ *Marshaller, v goja.Value, _ *goja.Object) bool { return v != nil && goja.IsString(v) }},
	{KindBigInt, func(_ *Marshaller, v goja.Value, _ *goja.Object) bool { return v != nil && goja.IsBigInt(v) }},
	{KindSymbol, func(_ *Marshaller, v goja.Value, _ *goja.Object) bool {
		_, ok := v.(*goja.Symbol)
		return ok
	}},
	{KindNode, func(m *Marshaller, _ goja.Value, o *goja.Object) bool {
		_, ok := m.node(o)
		return ok
	}},
	{KindProxy, func(m *Marshaller, _ goja.Value, o *goja.Object) bool {
		_, _, ok := m.proxy(o)
		return ok
	}},
	{KindFunction, func(m *Marshaller, _ goja.Value, o *goja.Object) bool {
		return m.ordinary(o) && isFunction(o)
	}},
	{KindWeakSet, classMatcher("WeakSet")},
	{KindWeakMap, classMatcher("WeakMap")},
	{KindWeakRef, func(m *Marshaller, _ goja.Value, o *goja.Object) bool {
		return m.ordinary(o) && !isFunction(o) && (o.ClassName() == "WeakRef" || constructorName(o) == "WeakRef")
	}},
	{KindPromise, classMatcher("Promise")},
	{KindDate, classMatcher("Date")},
	{KindRegExp, classMatcher("RegExp")},
	{KindError, classMatcher("Error")},
	{KindArrayBuffer, func(m *Marshaller, _ goja.Value, o *goja.Object) bool {
		return m.ordinary(o) && o.ExportType() == arrayBufferType
	}},
	{KindArray, classMatcher("Array")},
	{KindSet, classMatcher("Set")},
	{KindMap, classMatcher("Map")},
	{KindObject, func(m *Marshaller, _ goja.Value, o *goja.Object) bool {
		if !m.ordinary(o) || isFunction(o) || specialClasses[o.ClassName()] {
			return false
		}
		return o.ExportType() != arrayBufferType && constructorName(o) != "WeakRef"
	}},
}

// specialClasses are the class names claimed by a dedicated matcher.
var specialClasses = map[string]bool{
	"WeakSet": true,
	"WeakMap": true,
	"WeakRef": true,
	"Promise": true,
	"Date":    true,
	"RegExp":  true,
	"Error":   true,
	"Array":   true,
	"Set":     true,
	"Map":     true,
}

func classMatcher(class string) func(*Marshaller, goja.Value, *goja.Object) bool {
	return func(m *Marshaller, _ goja.Value, o *goja.Object) bool {
		return m.ordinary(o) && !isFunction(o) && o.ClassName() == class
	}
}

// ordinary reports whether o is an object the host does not track itself.
func (m *Marshaller) ordinary(o *goja.Object) bool {
	if o == nil {
		return false
	}
	if _, ok := m.node(o); ok {
		return false
	}
	_, _, ok := m.proxy(o)
	return !ok
}

func isFunction(o *goja.Object) bool {
	if _, ok := goja.AssertFunction(o); ok {
		return true
	}
	switch o.ClassName() {
	case "Function", "AsyncFunction", "GeneratorFunction":
		return true
	}
	return false
}

// constructorName returns the name of o's prototype's constructor, or "".
func constructorName(o *goja.Object) (name string) {
	defer func() {
		if recover() != nil {
			name = ""
		}
	}()
	proto := o.Prototype()
	if proto == nil {
		return ""
	}
	ctor, ok := proto.Get("constructor").(*goja.Object)
	if !ok {
		return ""
	}
	if n := ctor.Get("name"); n != nil && goja.IsString(n) {
		return n.String()
	}
	return ""
}

// Classify returns the Kind of v using the first matcher that accepts it.
// Values no matcher accepts, such as a revoked proxy, are KindUnknown.
func (m *Marshaller) Classify(v goja.Value) (kind Kind) {
	defer func() {
		if recover() != nil {
			kind = KindUnknown
		}
	}()
	o, _ := v.(*goja.Object)
	for _, mt := range matchers {
		if mt.match(m, v, o) {
			return mt.kind
		}
	}
	return KindUnknown
}

// matches returns every Kind whose matcher accepts v.
func (m *Marshaller) matches(v goja.Value) []Kind {
	o, _ := v.(*goja.Object)
	var kinds []Kind
	for _, mt := range matchers {
		if mt.match(m, v, o) {
			kinds = append(kinds, mt.kind)
		}
	}
	return kinds
}
