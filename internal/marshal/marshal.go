package marshal

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dop251/goja"
)

// DefaultMaxDepth is the default nesting ceiling.
const DefaultMaxDepth = 8

// DefaultMaxItems is the default per-container element ceiling.
const DefaultMaxItems = 1000

// Options configures a Marshaller.
type Options struct {
	// MaxDepth is the nesting ceiling; containers nested deeper become
	// KindTruncated. Zero means DefaultMaxDepth.
	MaxDepth int

	// MaxItems caps the elements, entries or properties read from one
	// container; the rest are counted in Value.Omitted. Zero means
	// DefaultMaxItems.
	MaxItems int

	// Node reports whether o is a DOM element and describes it.
	Node func(o *goja.Object) (Node, bool)

	// Proxy reports whether o was created by the Proxy constructor and
	// returns what it was created with.
	Proxy func(o *goja.Object) (target, handler *goja.Object, ok bool)
}

// Marshaller snapshots values of one goja runtime. It must only be used on
// that runtime's goroutine.
type Marshaller struct {
	vm      *goja.Runtime
	opts    Options
	take    goja.Callable
	visited map[*goja.Object]struct{}
}

// helperSource reads at most n elements from an iterable. It is compiled
// before guest code runs, so it does not depend on guest globals.
const helperSource = `(function () {
	return function (c, n) {
		const out = [];
		if (n <= 0) return out;
		for (const x of c) {
			out[out.length] = x;
			if (out.length >= n) break;
		}
		return out;
	};
})()`

// New returns a Marshaller for vm. It evaluates a small helper in vm, so it
// should be created before guest code runs.
func New(vm *goja.Runtime, opts *Options) *Marshaller {
	m := &Marshaller{vm: vm, visited: make(map[*goja.Object]struct{})}
	if opts != nil {
		m.opts = *opts
	}
	if m.opts.MaxDepth <= 0 {
		m.opts.MaxDepth = DefaultMaxDepth
	}
	if m.opts.MaxItems <= 0 {
		m.opts.MaxItems = DefaultMaxItems
	}
	if fn, err := vm.RunString(helperSource); err == nil {
		m.take, _ = goja.AssertFunction(fn)
	}
	return m
}

// Marshal snapshots v. It never fails: anything that cannot be inspected is
// reported as KindUnknown, and v itself is never modified.
func (m *Marshaller) Marshal(v goja.Value) (out Value) {
	clear(m.visited)
	defer func() {
		if r := recover(); r != nil {
			out = Unknown(fmt.Sprint(r))
		}
	}()
	return m.value(v, 0)
}

func (m *Marshaller) node(o *goja.Object) (Node, bool) {
	if o == nil || m.opts.Node == nil {
		return Node{}, false
	}
	return m.opts.Node(o)
}

func (m *Marshaller) proxy(o *goja.Object) (*goja.Object, *goja.Object, bool) {
	if o == nil || m.opts.Proxy == nil {
		return nil, nil, false
	}
	return m.opts.Proxy(o)
}

func (m *Marshaller) value(v goja.Value, depth int) Value {
	kind := m.Classify(v)
	switch kind {
	case KindUndefined:
		return Undefined()
	case KindNull:
		return Null()
	case KindBoolean:
		return Bool(v.ToBoolean())
	case KindNumber:
		return Number(v.ToFloat())
	case KindNaN, KindInfinity, KindNegInfinity:
		return Value{Kind: kind}
	case KindString:
		return String(v.String())
	case KindBigInt:
		return Value{Kind: KindBigInt, Text: v.String()}
	case KindSymbol:
		return Value{Kind: KindSymbol, Text: "Symbol(" + v.(*goja.Symbol).String() + ")"}
	case KindUnknown:
		return Unknown("unrecognized value")
	}

	o := v.(*goja.Object)
	if _, ok := m.visited[o]; ok {
		return Value{Kind: KindCircular}
	}
	if depth >= m.opts.MaxDepth {
		return Value{Kind: KindTruncated, Text: TruncatedText}
	}
	m.visited[o] = struct{}{}
	defer delete(m.visited, o)

	switch kind {
	case KindNode:
		n, _ := m.node(o)
		return Value{Kind: KindNode, Name: n.Tag, Attrs: n.Attrs, Text: n.Text, HasChildren: n.HasChildren}
	case KindProxy:
		target, handler, _ := m.proxy(o)
		t, h := m.value(target, depth+1), m.value(handler, depth+1)
		return Value{Kind: KindProxy, Target: &t, Handler: &h}
	case KindFunction:
		return Value{Kind: KindFunction, Name: m.stringProp(o, "name"), Text: safeString(o)}
	case KindWeakSet, KindWeakMap, KindWeakRef:
		return Value{Kind: kind}
	case KindPromise:
		return m.promise(o, depth)
	case KindDate:
		out := Value{Kind: KindDate, Text: "Invalid Date"}
		if t, ok := o.Export().(time.Time); ok {
			out.Text = t.UTC().Format(time.RFC3339Nano)
		}
		return out
	case KindRegExp:
		return Value{Kind: KindRegExp, Text: safeString(o)}
	case KindError:
		out := Value{
			Kind:  KindError,
			Name:  m.stringProp(o, "name"),
			Text:  m.stringProp(o, "message"),
			Stack: m.stringProp(o, "stack"),
		}
		out.Props, out.Omitted = m.props(o, depth)
		return out
	case KindArrayBuffer:
		buf, _ := o.Export().(goja.ArrayBuffer)
		return Value{Kind: KindArrayBuffer, Size: len(buf.Bytes())}
	case KindArray:
		out := Value{Kind: KindArray}
		out.Items, out.Omitted = m.arrayItems(o, depth)
		return out
	case KindSet:
		out := Value{Kind: KindSet}
		out.Items, out.Omitted = m.iterate(o, depth)
		return out
	case KindMap:
		out := Value{Kind: KindMap}
		out.Entries, out.Omitted = m.entries(o, depth)
		return out
	}
	out := Value{Kind: KindObject, Name: constructorName(o)}
	out.Props, out.Omitted = m.props(o, depth)
	return out
}

func (m *Marshaller) promise(o *goja.Object, depth int) Value {
	p, ok := o.Export().(*goja.Promise)
	if !ok {
		return Value{Kind: KindPromise, State: PromisePending}
	}
	out := Value{Kind: KindPromise}
	switch p.State() {
	case goja.PromiseStatePending:
		out.State = PromisePending
		return out
	case goja.PromiseStateFulfilled:
		out.State = PromiseFulfilled
	default:
		out.State = PromiseRejected
	}
	r := m.value(p.Result(), depth+1)
	out.Result = &r
	return out
}

// props marshals o's own enumerable string-keyed properties in key order,
// up to MaxItems. A property whose getter throws becomes KindUnknown.
func (m *Marshaller) props(o *goja.Object, depth int) ([]Prop, int) {
	keys := o.Keys()
	if len(keys) == 0 {
		return nil, 0
	}
	keys, omitted := m.limit(keys)
	props := make([]Prop, 0, len(keys))
	for _, k := range keys {
		props = append(props, Prop{Key: k, Value: m.field(o, k, depth)})
	}
	return props, omitted
}

func (m *Marshaller) limit(keys []string) ([]string, int) {
	if len(keys) <= m.opts.MaxItems {
		return keys, 0
	}
	return keys[:m.opts.MaxItems], len(keys) - m.opts.MaxItems
}

func (m *Marshaller) field(o *goja.Object, key string, depth int) (out Value) {
	defer func() {
		if r := recover(); r != nil {
			out = Unknown(fmt.Sprint(r))
		}
	}()
	return m.value(o.Get(key), depth+1)
}

// arrayItems reads the first MaxItems indices of o, holes included, and
// reports how many of length were left unread.
func (m *Marshaller) arrayItems(o *goja.Object, depth int) ([]Value, int) {
	length := o.Get("length").ToInteger()
	if length <= 0 {
		return []Value{}, 0
	}
	n, omitted := int(min(length, int64(m.opts.MaxItems))), 0
	if length > int64(n) {
		omitted = int(min(length-int64(n), int64(math.MaxInt)))
	}
	items := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, m.field(o, strconv.Itoa(i), depth))
	}
	return items, omitted
}

// list iterates o for at most MaxItems elements. The count of elements left
// over comes from o's size, and is at least 1 when iteration was cut short.
func (m *Marshaller) list(o *goja.Object) (*goja.Object, int, int) {
	if m.take == nil {
		return nil, 0, 0
	}
	res, err := m.take(goja.Undefined(), o, m.vm.ToValue(m.opts.MaxItems+1))
	if err != nil {
		return nil, 0, 0
	}
	arr, _ := res.(*goja.Object)
	if arr == nil {
		return nil, 0, 0
	}
	n := int(arr.Get("length").ToInteger())
	if n <= m.opts.MaxItems {
		return arr, n, 0
	}
	n = m.opts.MaxItems
	omitted := 1
	if size, ok := m.size(o); ok && size > n {
		omitted = size - n
	}
	return arr, n, omitted
}

func (m *Marshaller) size(o *goja.Object) (n int, ok bool) {
	defer func() {
		if recover() != nil {
			n, ok = 0, false
		}
	}()
	v := o.Get("size")
	if v == nil || goja.IsUndefined(v) {
		return 0, false
	}
	return int(min(v.ToInteger(), int64(math.MaxInt))), true
}

func (m *Marshaller) iterate(o *goja.Object, depth int) ([]Value, int) {
	arr, n, omitted := m.list(o)
	if arr == nil {
		return nil, 0
	}
	items := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, m.field(arr, strconv.Itoa(i), depth))
	}
	return items, omitted
}

func (m *Marshaller) entries(o *goja.Object, depth int) ([]Entry, int) {
	arr, n, omitted := m.list(o)
	if arr == nil {
		return nil, 0
	}
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		pair, ok := arr.Get(strconv.Itoa(i)).(*goja.Object)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Key:   m.field(pair, "0", depth),
			Value: m.field(pair, "1", depth),
		})
	}
	return entries, omitted
}

func (m *Marshaller) stringProp(o *goja.Object, key string) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	v := o.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func safeString(o *goja.Object) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	return o.String()
}
