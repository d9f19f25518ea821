// Package marshal converts live goja values into Value snapshots that can be
// encoded as JSON and carried out of the execution context.
package marshal

// Kind tags a Value.
type Kind string

const (
	KindUndefined   Kind = "undefined"
	KindNull        Kind = "null"
	KindBoolean     Kind = "boolean"
	KindNumber      Kind = "number"
	KindNaN         Kind = "nan"
	KindInfinity    Kind = "infinity"
	KindNegInfinity Kind = "-infinity"
	KindString      Kind = "string"
	KindBigInt      Kind = "bigint"
	KindSymbol      Kind = "symbol"
	KindNode        Kind = "node"
	KindFunction    Kind = "function"
	KindWeakSet     Kind = "weakset"
	KindWeakMap     Kind = "weakmap"
	KindWeakRef     Kind = "weakref"
	KindProxy       Kind = "proxy"
	KindPromise     Kind = "promise"
	KindDate        Kind = "date"
	KindRegExp      Kind = "regexp"
	KindError       Kind = "error"
	KindArrayBuffer Kind = "arraybuffer"
	KindArray       Kind = "array"
	KindSet         Kind = "set"
	KindMap         Kind = "map"
	KindObject      Kind = "object"

	// KindCircular marks an object met again while still on the current path.
	KindCircular Kind = "circular"
	// KindTruncated replaces containers past the nesting ceiling.
	KindTruncated Kind = "truncated"
	// KindUnknown replaces anything that could not be inspected.
	KindUnknown Kind = "unknown"
)

// TruncatedText is the display form of a KindTruncated value.
const TruncatedText = "(…)"

// Promise states.
const (
	PromisePending   = "pending"
	PromiseFulfilled = "fulfilled"
	PromiseRejected  = "rejected"
)

// Value is a snapshot of a guest value. Which fields are meaningful depends on
// Kind:
//
//	boolean            Bool
//	number             Number
//	string, bigint     Text
//	symbol, regexp     Text (display form)
//	date               Text (RFC 3339, or "Invalid Date")
//	error              Name, Text (message), Stack, Props
//	function           Name, Text (source)
//	node               Name (tag), Attrs, Text (text content), HasChildren
//	arraybuffer        Size (byte length)
//	array, set         Items, Omitted
//	map                Entries, Omitted
//	proxy              Target, Handler
//	promise            State, Result
//	object             Name (constructor), Props, Omitted
//	unknown            Text (reason)
type Value struct {
	Kind        Kind    `json:"kind"`
	Bool        bool    `json:"bool,omitempty"`
	Number      float64 `json:"number,omitempty"`
	Text        string  `json:"text,omitempty"`
	Name        string  `json:"name,omitempty"`
	Stack       string  `json:"stack,omitempty"`
	Items       []Value `json:"items,omitempty"`
	Entries     []Entry `json:"entries,omitempty"`
	Props       []Prop  `json:"props,omitempty"`
	Attrs       []Attr  `json:"attrs,omitempty"`
	HasChildren bool    `json:"hasChildren,omitempty"`
	Size        int     `json:"size,omitempty"`
	State       string  `json:"state,omitempty"`
	Target      *Value  `json:"target,omitempty"`
	Handler     *Value  `json:"handler,omitempty"`
	Result      *Value  `json:"result,omitempty"`
	// Omitted counts elements, entries or properties past the item ceiling.
	Omitted int `json:"omitted,omitempty"`
}

// Prop is one own enumerable property.
type Prop struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Entry is one Map entry.
type Entry struct {
	Key   Value `json:"key"`
	Value Value `json:"value"`
}

// Attr is one DOM attribute.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Node describes a DOM element, as reported by Options.Node.
type Node struct {
	Tag         string
	Attrs       []Attr
	Text        string
	HasChildren bool
}

func Undefined() Value { return Value{Kind: KindUndefined} }

func Null() Value { return Value{Kind: KindNull} }

func String(s string) Value { return Value{Kind: KindString, Text: s} }

func Number(f float64) Value { return Value{Kind: KindNumber, Number: f} }

func Bool(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

func Unknown(reason string) Value { return Value{Kind: KindUnknown, Text: reason} }

// Prop returns the value of the named property, if present.
func (v Value) Prop(key string) (Value, bool) {
	for _, p := range v.Props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return Value{}, false
}

// IsPrimitive reports whether the value has no nested structure.
func (v Value) IsPrimitive() bool {
	switch v.Kind {
	case KindUndefined, KindNull, KindBoolean, KindNumber, KindNaN, KindInfinity,
		KindNegInfinity, KindString, KindBigInt, KindSymbol:
		return true
	}
	return false
}
