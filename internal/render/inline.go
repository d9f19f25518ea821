// Package render turns captured values into short terminal text: one-line
// value summaries, and source listings with those summaries laid out beside
// the lines that produced them.
package render

import (
	"math"
	"strconv"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/joeycumines/liveeval/internal/marshal"
)

// MaxItems caps how many elements of a container Inline spells out.
const MaxItems = 10

// Inline returns a single-line, JavaScript-flavoured rendering of v.
func Inline(v marshal.Value) string {
	var b strings.Builder
	writeValue(&b, v, true)
	return b.String()
}

// Bare is Inline, except that top-level strings are unquoted.
func Bare(v marshal.Value) string {
	if v.Kind == marshal.KindString {
		return oneLine(v.Text)
	}
	return Inline(v)
}

func writeValue(b *strings.Builder, v marshal.Value, top bool) {
	switch v.Kind {
	case marshal.KindUndefined, marshal.KindNull:
		b.WriteString(string(v.Kind))
	case marshal.KindBoolean:
		b.WriteString(strconv.FormatBool(v.Bool))
	case marshal.KindNumber:
		b.WriteString(FormatNumber(v.Number))
	case marshal.KindNaN:
		b.WriteString("NaN")
	case marshal.KindInfinity:
		b.WriteString("Infinity")
	case marshal.KindNegInfinity:
		b.WriteString("-Infinity")
	case marshal.KindString:
		b.WriteString(strconv.Quote(v.Text))
	case marshal.KindBigInt:
		b.WriteString(v.Text + "n")
	case marshal.KindSymbol, marshal.KindRegExp:
		b.WriteString(v.Text)
	case marshal.KindDate:
		b.WriteString(v.Text)
	case marshal.KindError:
		name := v.Name
		if name == "" {
			name = "Error"
		}
		b.WriteString(name)
		if v.Text != "" {
			b.WriteString(": " + oneLine(v.Text))
		}
	case marshal.KindFunction:
		b.WriteString("ƒ " + v.Name + "()")
	case marshal.KindNode:
		writeNode(b, v)
	case marshal.KindArrayBuffer:
		b.WriteString("ArrayBuffer(" + strconv.Itoa(v.Size) + ")")
	case marshal.KindWeakSet:
		b.WriteString("WeakSet {}")
	case marshal.KindWeakMap:
		b.WriteString("WeakMap {}")
	case marshal.KindWeakRef:
		b.WriteString("WeakRef {}")
	case marshal.KindProxy:
		b.WriteString("Proxy(")
		if v.Target != nil {
			writeValue(b, *v.Target, false)
		}
		b.WriteString(")")
	case marshal.KindPromise:
		b.WriteString("Promise {<" + v.State + ">")
		if v.Result != nil {
			b.WriteString(" ")
			writeValue(b, *v.Result, false)
		}
		b.WriteString("}")
	case marshal.KindArray:
		writeItems(b, "[", "]", v.Items, v.Omitted)
	case marshal.KindSet:
		b.WriteString("Set(" + strconv.Itoa(len(v.Items)+v.Omitted) + ") ")
		writeItems(b, "{", "}", v.Items, v.Omitted)
	case marshal.KindMap:
		b.WriteString("Map(" + strconv.Itoa(len(v.Entries)+v.Omitted) + ") {")
		for i, e := range v.Entries {
			if i == MaxItems {
				writeMore(b, len(v.Entries)-i+v.Omitted)
				break
			}
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, e.Key, false)
			b.WriteString(" => ")
			writeValue(b, e.Value, false)
		}
		if len(v.Entries) < MaxItems && v.Omitted > 0 {
			writeMore(b, v.Omitted)
		}
		b.WriteString("}")
	case marshal.KindObject:
		if v.Name != "" && v.Name != "Object" {
			b.WriteString(v.Name + " ")
		}
		b.WriteString("{")
		for i, p := range v.Props {
			if i == MaxItems {
				writeMore(b, len(v.Props)-i+v.Omitted)
				break
			}
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(propKey(p.Key) + ": ")
			writeValue(b, p.Value, false)
		}
		if len(v.Props) < MaxItems && v.Omitted > 0 {
			writeMore(b, v.Omitted)
		}
		b.WriteString("}")
	case marshal.KindCircular:
		b.WriteString("[Circular]")
	case marshal.KindTruncated:
		b.WriteString(marshal.TruncatedText)
	case marshal.KindUnknown:
		b.WriteString("<" + v.Text + ">")
	default:
		b.WriteString("<" + string(v.Kind) + ">")
	}
}

// writeItems spells out up to MaxItems of items. omitted counts elements
// the snapshot itself left out.
func writeItems(b *strings.Builder, open, close string, items []marshal.Value, omitted int) {
	b.WriteString(open)
	for i, item := range items {
		if i == MaxItems {
			writeMore(b, len(items)-i+omitted)
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		writeValue(b, item, false)
	}
	if len(items) < MaxItems && omitted > 0 {
		if len(items) == 0 {
			b.WriteString("… " + strconv.Itoa(omitted) + " more")
		} else {
			writeMore(b, omitted)
		}
	}
	b.WriteString(close)
}

func writeMore(b *strings.Builder, n int) {
	b.WriteString(", … " + strconv.Itoa(n) + " more")
}

func writeNode(b *strings.Builder, v marshal.Value) {
	b.WriteString("<" + strings.ToLower(v.Name))
	for _, a := range v.Attrs {
		b.WriteString(" " + a.Name + "=" + strconv.Quote(a.Value))
	}
	switch {
	case v.HasChildren || v.Text != "":
		b.WriteString(">" + oneLine(v.Text) + "</" + strings.ToLower(v.Name) + ">")
	default:
		b.WriteString(" />")
	}
}

func propKey(k string) string {
	if k == "" {
		return `""`
	}
	for i, r := range k {
		if r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return strconv.Quote(k)
	}
	return k
}

// FormatNumber formats f the way JavaScript prints numbers: integers
// without a fraction, exponents without padding, and -0 kept signed.
func FormatNumber(f float64) string {
	switch {
	case f == 0 && math.Signbit(f):
		return "-0"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if mant, exp, ok := strings.Cut(s, "e"); ok {
		sign := exp[:1]
		exp = strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + exp
	}
	return s
}

func oneLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

// Truncate shortens s to at most width display cells, ending in "…" when
// anything was cut. A non-positive width leaves s alone.
func Truncate(s string, width int) string {
	if width <= 0 || uniseg.StringWidth(s) <= width {
		return s
	}
	const tail = "…"
	target := width - uniseg.StringWidth(tail)
	var (
		b       strings.Builder
		used    int
		cluster string
		w       int
		state   = -1
	)
	for rest := s; rest != ""; {
		cluster, rest, w, state = uniseg.FirstGraphemeClusterInString(rest, state)
		if used+w > target {
			break
		}
		used += w
		b.WriteString(cluster)
	}
	b.WriteString(tail)
	return b.String()
}
