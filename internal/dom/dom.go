// Package dom provides the small document model exposed to guest programs.
//
// The tree is stored as golang.org/x/net/html nodes. Each node is surfaced to
// JavaScript through a single wrapper object, so object identity in the guest
// matches node identity in Go.
//
// # JavaScript API
//
//	const el = document.createElement("div");
//	el.setAttribute("id", "app");
//	el.textContent = "hello";
//	document.body.appendChild(el);
//
//	// JSX, compiled with h as the factory and Fragment as the fragment
//	const view = h("ul", {className: "list"}, h("li", null, "one"));
package dom

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/joeycumines/liveeval/internal/marshal"
)

// Document is the guest-visible document. It is bound to one runtime and must
// only be used on that runtime's goroutine.
type Document struct {
	vm         *goja.Runtime
	body       *html.Node
	objects    map[*goja.Object]*html.Node
	wrappers   map[*html.Node]*goja.Object
	onMutation func()
}

// New returns a Document with an empty body. onMutation, if set, is called
// after every change to the subtree under body.
func New(vm *goja.Runtime, onMutation func()) *Document {
	return &Document{
		vm:         vm,
		body:       &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body},
		objects:    make(map[*goja.Object]*html.Node),
		wrappers:   make(map[*html.Node]*goja.Object),
		onMutation: onMutation,
	}
}

// Install defines document, h and Fragment on the global object.
func (d *Document) Install() error {
	document := d.vm.NewObject()
	_ = document.Set("body", d.wrap(d.body))
	_ = document.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		return d.wrap(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
	})
	_ = document.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return d.wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	})
	_ = document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		if n := find(d.body, func(n *html.Node) bool { v, ok := attr(n, "id"); return ok && v == id }); n != nil {
			return d.wrap(n)
		}
		return goja.Null()
	})
	if err := d.vm.Set("document", document); err != nil {
		return fmt.Errorf("dom: install document: %w", err)
	}
	if err := d.vm.Set("h", d.createElement); err != nil {
		return fmt.Errorf("dom: install h: %w", err)
	}
	if err := d.vm.Set("Fragment", func(call goja.FunctionCall) goja.Value {
		if props, ok := call.Argument(0).(*goja.Object); ok {
			if children := props.Get("children"); children != nil {
				return children
			}
		}
		return d.vm.NewArray()
	}); err != nil {
		return fmt.Errorf("dom: install Fragment: %w", err)
	}
	return nil
}

// Body returns the body element.
func (d *Document) Body() *html.Node { return d.body }

// BodyHTML renders the children of body.
func (d *Document) BodyHTML() string { return innerHTML(d.body) }

// Lookup returns the node behind a guest wrapper object.
func (d *Document) Lookup(o *goja.Object) (*html.Node, bool) {
	n, ok := d.objects[o]
	return n, ok
}

// Describe implements marshal.Options.Node.
func (d *Document) Describe(o *goja.Object) (marshal.Node, bool) {
	n, ok := d.objects[o]
	if !ok {
		return marshal.Node{}, false
	}
	if n.Type == html.TextNode {
		return marshal.Node{Tag: "#text", Text: n.Data}, true
	}
	out := marshal.Node{Tag: n.Data, Text: TextContent(n), HasChildren: n.FirstChild != nil}
	for _, a := range n.Attr {
		out.Attrs = append(out.Attrs, marshal.Attr{Name: a.Key, Value: a.Val})
	}
	return out, true
}

// SetBodyAttribute sets an attribute on body without reporting a mutation.
func (d *Document) SetBodyAttribute(name, value string) {
	setAttr(d.body, name, value)
}

func (d *Document) connected(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == d.body {
			return true
		}
	}
	return false
}

func (d *Document) mutated(n *html.Node) {
	if d.connected(n) {
		d.notify()
	}
}

// node converts a guest value into a node, creating a text node for
// anything that is not already one.
func (d *Document) node(v goja.Value) *html.Node {
	if o, ok := v.(*goja.Object); ok {
		if n, ok := d.objects[o]; ok {
			return n
		}
	}
	return &html.Node{Type: html.TextNode, Data: v.String()}
}

func (d *Document) appendChild(parent, child *html.Node) {
	if child == parent || contains(child, parent) {
		panic(d.vm.NewTypeError("The new child element contains the parent."))
	}
	moved := d.connected(child)
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
	if moved {
		d.notify()
		return
	}
	d.mutated(parent)
}

func (d *Document) notify() {
	if d.onMutation != nil {
		d.onMutation()
	}
}

func (d *Document) wrap(n *html.Node) *goja.Object {
	if o, ok := d.wrappers[n]; ok {
		return o
	}
	o := d.vm.NewObject()
	d.wrappers[n] = o
	d.objects[o] = n

	getter := func(name string, get func() goja.Value, set func(goja.Value)) {
		var setter goja.Value
		if set != nil {
			setter = d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
				set(call.Argument(0))
				return goja.Undefined()
			})
		}
		_ = o.DefineAccessorProperty(name, d.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() }), setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
	}

	getter("nodeType", func() goja.Value {
		if n.Type == html.TextNode {
			return d.vm.ToValue(3)
		}
		return d.vm.ToValue(1)
	}, nil)
	getter("parentNode", func() goja.Value {
		if n.Parent == nil {
			return goja.Null()
		}
		return d.wrap(n.Parent)
	}, nil)
	getter("textContent", func() goja.Value { return d.vm.ToValue(TextContent(n)) }, func(v goja.Value) {
		if n.Type == html.TextNode {
			n.Data = v.String()
		} else {
			removeChildren(n)
			n.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
		}
		d.mutated(n)
	})
	_ = o.Set("remove", func(goja.FunctionCall) goja.Value {
		if p := n.Parent; p != nil {
			connected := d.connected(n)
			p.RemoveChild(n)
			if connected {
				d.notify()
			}
		}
		return goja.Undefined()
	})
	if n.Type == html.TextNode {
		getter("data", func() goja.Value { return d.vm.ToValue(n.Data) }, func(v goja.Value) {
			n.Data = v.String()
			d.mutated(n)
		})
		return o
	}

	getter("tagName", func() goja.Value { return d.vm.ToValue(strings.ToUpper(n.Data)) }, nil)
	getter("nodeName", func() goja.Value { return d.vm.ToValue(strings.ToUpper(n.Data)) }, nil)
	getter("id", func() goja.Value { v, _ := attr(n, "id"); return d.vm.ToValue(v) }, func(v goja.Value) {
		setAttr(n, "id", v.String())
		d.mutated(n)
	})
	getter("className", func() goja.Value { v, _ := attr(n, "class"); return d.vm.ToValue(v) }, func(v goja.Value) {
		setAttr(n, "class", v.String())
		d.mutated(n)
	})
	getter("children", func() goja.Value {
		var items []any
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				items = append(items, d.wrap(c))
			}
		}
		return d.vm.NewArray(items...)
	}, nil)
	getter("childNodes", func() goja.Value {
		var items []any
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			items = append(items, d.wrap(c))
		}
		return d.vm.NewArray(items...)
	}, nil)
	getter("firstChild", func() goja.Value {
		if n.FirstChild == nil {
			return goja.Null()
		}
		return d.wrap(n.FirstChild)
	}, nil)
	getter("innerHTML", func() goja.Value { return d.vm.ToValue(innerHTML(n)) }, func(v goja.Value) {
		nodes, err := html.ParseFragment(strings.NewReader(v.String()), n)
		if err != nil {
			panic(d.vm.NewGoError(err))
		}
		removeChildren(n)
		for _, c := range nodes {
			n.AppendChild(c)
		}
		d.mutated(n)
	})
	getter("outerHTML", func() goja.Value { return d.vm.ToValue(render(n)) }, nil)

	_ = o.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		d.appendChild(n, d.node(call.Argument(0)))
		return call.Argument(0)
	})
	_ = o.Set("append", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			d.appendChild(n, d.node(arg))
		}
		return goja.Undefined()
	})
	_ = o.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child := d.node(call.Argument(0))
		if child.Parent != n {
			panic(d.vm.NewTypeError("The node to be removed is not a child of this node."))
		}
		n.RemoveChild(child)
		d.mutated(n)
		return call.Argument(0)
	})
	_ = o.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		setAttr(n, strings.ToLower(call.Argument(0).String()), call.Argument(1).String())
		d.mutated(n)
		return goja.Undefined()
	})
	_ = o.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := attr(n, strings.ToLower(call.Argument(0).String())); ok {
			return d.vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = o.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := attr(n, strings.ToLower(call.Argument(0).String()))
		return d.vm.ToValue(ok)
	})
	_ = o.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		if removeAttr(n, strings.ToLower(call.Argument(0).String())) {
			d.mutated(n)
		}
		return goja.Undefined()
	})
	// listeners are accepted so UI snippets run; no events are ever dispatched
	_ = o.Set("addEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = o.Set("removeEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}

// createElement is the JSX factory: h(type, props, ...children).
func (d *Document) createElement(call goja.FunctionCall) goja.Value {
	kind := call.Argument(0)
	props, _ := call.Argument(1).(*goja.Object)
	children := call.Arguments
	if len(children) > 2 {
		children = children[2:]
	} else {
		children = nil
	}

	if component, ok := goja.AssertFunction(kind); ok {
		p := d.vm.NewObject()
		if props != nil {
			for _, k := range props.Keys() {
				_ = p.Set(k, props.Get(k))
			}
		}
		items := make([]any, len(children))
		for i, c := range children {
			items[i] = c
		}
		_ = p.Set("children", d.vm.NewArray(items...))
		res, err := component(goja.Undefined(), p)
		if err != nil {
			panic(err)
		}
		return res
	}

	tag := strings.ToLower(kind.String())
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	if props != nil {
		for _, k := range props.Keys() {
			v := props.Get(k)
			if k == "children" || k == "key" || v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
				continue
			}
			if _, fn := goja.AssertFunction(v); fn {
				continue
			}
			name := k
			switch k {
			case "className":
				name = "class"
			case "htmlFor":
				name = "for"
			}
			if isBool(v) {
				if v.ToBoolean() {
					setAttr(n, name, "")
				}
				continue
			}
			setAttr(n, name, v.String())
		}
	}
	for _, c := range children {
		d.appendValue(n, c)
	}
	return d.wrap(n)
}

// appendValue appends a JSX child, flattening arrays and skipping holes.
func (d *Document) appendValue(parent *html.Node, v goja.Value) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return
	}
	if isBool(v) {
		return
	}
	if o, ok := v.(*goja.Object); ok && o.ClassName() == "Array" {
		for i := int64(0); i < o.Get("length").ToInteger(); i++ {
			d.appendValue(parent, o.Get(strconv.FormatInt(i, 10)))
		}
		return
	}
	child := d.node(v)
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
}

func isBool(v goja.Value) bool {
	t := v.ExportType()
	return t != nil && t.Kind() == reflect.Bool
}

// TextContent concatenates the text of every descendant text node.
func TextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(TextContent(c))
	}
	return b.String()
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) bool {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return true
		}
	}
	return false
}

func removeChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

func contains(root, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

func find(root *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && pred(c) {
			return c
		}
		if m := find(c, pred); m != nil {
			return m
		}
	}
	return nil
}

func render(n *html.Node) string {
	var b strings.Builder
	_ = html.Render(&b, n)
	return b.String()
}

func innerHTML(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}
