package instrument

import (
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// consoleMethods is the console logging family routed through the capture
// call.
var consoleMethods = map[string]bool{
	"log":   true,
	"info":  true,
	"warn":  true,
	"error": true,
	"debug": true,
	"trace": true,
	"table": true,
	"dir":   true,
}

// Options tunes a transform. The zero value is usable.
type Options struct {
	// LoopLimit is the iteration ceiling for while/for/do-while loops.
	// Zero means DefaultLoopLimit.
	LoopLimit int

	// Remap, if set, translates a 1-based position in the parsed source to
	// the position reported in contexts. Sites whose start position does not
	// map are not instrumented; this keeps compiler-generated helpers out of
	// transpiled input.
	Remap func(line, col int) (int, int, bool)
}

// Result is the output of Instrument.
type Result struct {
	Code     string
	Contexts []CaptureContext
}

// Instrument parses src and returns the rewritten program plus the contexts
// created for it, in the order they were issued by counter. Only a syntax
// error fails the transform; it is reported as a *ParseError.
func Instrument(src, filePath string, counter *Counter, opts *Options) (*Result, error) {
	prog, err := parser.ParseFile(nil, filePath, src, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return nil, newParseError(filePath, err)
	}
	if counter == nil {
		counter = NewCounter(0)
	}
	t := &transformer{
		src:       src,
		file:      filePath,
		base:      1,
		lines:     newLineIndex(src),
		counter:   counter,
		processed: make(map[nodeKey]struct{}),
		loopLimit: DefaultLoopLimit,
	}
	if prog.File != nil {
		t.base = prog.File.Base()
	}
	if opts != nil {
		if opts.LoopLimit > 0 {
			t.loopLimit = opts.LoopLimit
		}
		t.remap = opts.Remap
	}
	t.statements(prog.Body, 0)
	return &Result{Code: t.edits.apply(src), Contexts: t.contexts}, nil
}

// nodeKey is the stable index of a node: its source span plus the rule that
// touched it.
type nodeKey struct {
	start, end int
	rule       string
}

type transformer struct {
	src       string
	file      string
	base      int
	lines     lineIndex
	counter   *Counter
	remap     func(line, col int) (int, int, bool)
	loopLimit int
	edits     editList
	contexts  []CaptureContext
	processed map[nodeKey]struct{}
	temps     int
}

// mark records that rule has been applied to the span, returning false if it
// already had been.
func (t *transformer) mark(start, end int, rule string) bool {
	k := nodeKey{start, end, rule}
	if _, ok := t.processed[k]; ok {
		return false
	}
	t.processed[k] = struct{}{}
	return true
}

func (t *transformer) temp(prefix string) string {
	t.temps++
	return fmt.Sprintf("%s%s%d", ReservedPrefix, prefix, t.temps)
}

// span returns the byte range of n, widened to include parentheses that the
// parser does not record on the node itself.
func (t *transformer) span(n ast.Node) (int, int, bool) {
	if n == nil {
		return 0, 0, false
	}
	start, end := int(n.Idx0())-t.base, int(n.Idx1())-t.base
	if start < 0 || end > len(t.src) || start >= end {
		return 0, 0, false
	}
	open, unmatched := parenBalance(t.src[start:end])
	for ; unmatched > 0; unmatched-- {
		p := start
		for p > 0 && isSpace(t.src[p-1]) {
			p--
		}
		if p == 0 || t.src[p-1] != '(' {
			return 0, 0, false
		}
		start = p - 1
	}
	for ; open > 0; open-- {
		p := end
		for p < len(t.src) && isSpace(t.src[p]) {
			p++
		}
		if p >= len(t.src) || t.src[p] != ')' {
			return 0, 0, false
		}
		end = p + 1
	}
	return start, end, true
}

// semicolonAfter returns the offset of a ';' following pos on the same line,
// or -1.
func (t *transformer) semicolonAfter(pos int) int {
	for p := pos; p < len(t.src); p++ {
		switch t.src[p] {
		case ' ', '\t':
			continue
		case ';':
			return p
		}
		break
	}
	return -1
}

// stmtEnd returns the offset just past st, including its semicolon.
func (t *transformer) stmtEnd(st ast.Statement) int {
	switch s := st.(type) {
	case *ast.ExpressionStatement:
		if _, end, ok := t.span(s.Expression); ok {
			return t.pastSemicolon(end)
		}
	case *ast.VariableStatement:
		return t.pastSemicolon(t.bindingsEnd(s.List, int(s.Idx1())-t.base))
	case *ast.LexicalDeclaration:
		return t.pastSemicolon(t.bindingsEnd(s.List, int(s.Idx1())-t.base))
	case *ast.ReturnStatement:
		if s.Argument != nil {
			if _, end, ok := t.span(s.Argument); ok {
				return t.pastSemicolon(end)
			}
		}
	case *ast.ThrowStatement:
		if _, end, ok := t.span(s.Argument); ok {
			return t.pastSemicolon(end)
		}
	case *ast.WhileStatement:
		return t.stmtEnd(s.Body)
	case *ast.ForStatement:
		return t.stmtEnd(s.Body)
	case *ast.ForInStatement:
		return t.stmtEnd(s.Body)
	case *ast.ForOfStatement:
		return t.stmtEnd(s.Body)
	case *ast.WithStatement:
		return t.stmtEnd(s.Body)
	case *ast.LabelledStatement:
		return t.stmtEnd(s.Statement)
	case *ast.IfStatement:
		if s.Alternate != nil {
			return t.stmtEnd(s.Alternate)
		}
		return t.stmtEnd(s.Consequent)
	case *ast.DoWhileStatement, *ast.BranchStatement, *ast.DebuggerStatement:
		return t.pastSemicolon(int(st.Idx1()) - t.base)
	}
	return int(st.Idx1()) - t.base
}

func (t *transformer) pastSemicolon(end int) int {
	if p := t.semicolonAfter(end); p >= 0 {
		return p + 1
	}
	return end
}

func (t *transformer) bindingsEnd(list []*ast.Binding, fallback int) int {
	if len(list) == 0 {
		return fallback
	}
	last := list[len(list)-1]
	var n ast.Node = last.Target
	if last.Initializer != nil {
		n = last.Initializer
	}
	if _, end, ok := t.span(n); ok {
		return end
	}
	return fallback
}

// newContext allocates a context for the byte range, or reports false if the
// range does not map back to user code.
func (t *transformer) newContext(kind Kind, start, end int, name string) (*CaptureContext, bool) {
	ls, cs := t.lines.position(start)
	le, ce := t.lines.position(end)
	if t.remap != nil {
		var ok bool
		if ls, cs, ok = t.remap(ls, cs); !ok {
			return nil, false
		}
		if l, c, ok := t.remap(le, ce); ok && (l > ls || (l == ls && c > cs)) {
			le, ce = l, c
		} else {
			le, ce = ls, cs+(end-start)
		}
	}
	t.contexts = append(t.contexts, CaptureContext{
		ID:         t.counter.Next(),
		Kind:       kind,
		File:       t.file,
		LineStart:  ls,
		LineEnd:    le,
		ColStart:   cs,
		ColEnd:     ce,
		SourceText: t.src[start:end],
		Name:       name,
	})
	return &t.contexts[len(t.contexts)-1], true
}

// wrap routes the value of e through the capture call.
func (t *transformer) wrap(e ast.Expression, kind Kind, depth int, name string) bool {
	start, end, ok := t.span(e)
	if !ok || !t.mark(start, end, "wrap") {
		return false
	}
	ctx, ok := t.newContext(kind, start, end, name)
	if !ok {
		return false
	}
	open, closing := fmt.Sprintf("%s(%d, ", CaptureFunc, ctx.ID), ")"
	if _, seq := e.(*ast.SequenceExpression); seq {
		open, closing = open+"(", "))"
	}
	t.edits.insert(start, openRank(depth), open)
	t.edits.insert(end, closeRank(depth), closing)
	return true
}

func (t *transformer) text(n ast.Node) string {
	if start, end, ok := t.span(n); ok {
		return t.src[start:end]
	}
	return ""
}

func isCaptureCall(e ast.Expression) bool {
	call, ok := e.(*ast.CallExpression)
	if !ok {
		return false
	}
	id, ok := call.Callee.(*ast.Identifier)
	return ok && string(id.Name) == CaptureFunc
}

func isReservedIdent(e ast.Expression) bool {
	id, ok := e.(*ast.Identifier)
	return ok && IsReserved(string(id.Name))
}

// consoleMethod returns the method name if call is console.<family>(...).
func consoleMethod(call *ast.CallExpression) (string, bool) {
	dot, ok := call.Callee.(*ast.DotExpression)
	if !ok {
		return "", false
	}
	obj, ok := dot.Left.(*ast.Identifier)
	if !ok || string(obj.Name) != "console" {
		return "", false
	}
	method := string(dot.Identifier.Name)
	return method, consoleMethods[method]
}

func (t *transformer) statements(list []ast.Statement, depth int) {
	for i, st := range list {
		var next ast.Statement
		if i+1 < len(list) {
			next = list[i+1]
		}
		t.statement(st, depth, true, next)
	}
}

func (t *transformer) statement(st ast.Statement, depth int, inList bool, next ast.Statement) {
	switch s := st.(type) {
	case nil:
	case *ast.ExpressionStatement:
		t.expressionStatement(s, depth)
	case *ast.VariableStatement:
		t.declaration(st, s.List, depth, inList, next)
	case *ast.LexicalDeclaration:
		t.declaration(st, s.List, depth, inList, next)
	case *ast.FunctionDeclaration:
		t.function(s.Function, depth+1)
	case *ast.ClassDeclaration:
		t.class(s.Class, depth+1)
	case *ast.BlockStatement:
		t.statements(s.List, depth+1)
	case *ast.IfStatement:
		t.expression(s.Test, depth+1)
		t.statement(s.Consequent, depth+1, false, nil)
		if s.Alternate != nil {
			t.statement(s.Alternate, depth+1, false, nil)
		}
	case *ast.ReturnStatement:
		t.returnStatement(s, depth)
	case *ast.ThrowStatement:
		t.expression(s.Argument, depth+1)
	case *ast.TryStatement:
		t.statement(s.Body, depth, false, nil)
		if s.Catch != nil {
			t.statement(s.Catch.Body, depth, false, nil)
		}
		if s.Finally != nil {
			t.statement(s.Finally, depth, false, nil)
		}
	case *ast.SwitchStatement:
		t.expression(s.Discriminant, depth+1)
		for _, c := range s.Body {
			if c.Test != nil {
				t.expression(c.Test, depth+1)
			}
			t.statements(c.Consequent, depth+1)
		}
	case *ast.WithStatement:
		t.expression(s.Object, depth+1)
		t.statement(s.Body, depth+1, false, nil)
	case *ast.LabelledStatement:
		if isLoop(s.Statement) {
			t.loop(s.Statement, depth, int(s.Idx0())-t.base)
		} else {
			t.statement(s.Statement, depth, false, nil)
		}
	case *ast.WhileStatement, *ast.DoWhileStatement, *ast.ForStatement, *ast.ForInStatement, *ast.ForOfStatement:
		t.loop(st, depth, int(st.Idx0())-t.base)
	}
}

func (t *transformer) expressionStatement(s *ast.ExpressionStatement, depth int) {
	switch e := s.Expression.(type) {
	case *ast.StringLiteral:
		if string(e.Value) == "use strict" {
			return
		}
	case *ast.CallExpression:
		if isCaptureCall(e) {
			t.expression(e, depth+1)
			return
		}
		if _, ok := consoleMethod(e); ok {
			t.expression(e, depth+1)
			return
		}
	case *ast.AssignExpression:
		t.assignmentChain(e, depth)
		return
	}
	t.wrap(s.Expression, KindExpression, depth, "")
	t.expression(s.Expression, depth+1)
}

// assignmentChain instruments each assignment of a right-nested chain such as
// a = b = 3. The inner assignment is wrapped deeper, so it reports first.
func (t *transformer) assignmentChain(a *ast.AssignExpression, depth int) {
	var chain []*ast.AssignExpression
	for cur := a; cur != nil; {
		chain = append(chain, cur)
		next, ok := cur.Right.(*ast.AssignExpression)
		if !ok {
			break
		}
		cur = next
	}
	for i, link := range chain {
		t.wrap(link, KindAssignment, depth+i, t.text(link.Left))
		t.expression(link.Left, depth+i+1)
	}
	t.expression(chain[len(chain)-1].Right, depth+len(chain))
}

// trailingCapture is a binding reported by a capture statement inserted
// after its declaration, with the span its context points at.
type trailingCapture struct {
	name       string
	start, end int
}

func (t *transformer) declaration(st ast.Statement, list []*ast.Binding, depth int, inList bool, next ast.Statement) {
	var trailing []trailingCapture
	for _, b := range list {
		switch target := b.Target.(type) {
		case *ast.Identifier:
			if b.Initializer == nil {
				continue
			}
			name := string(target.Name)
			switch {
			case IsReserved(name) || isCaptureCall(b.Initializer):
			case isAnonymousFunction(b.Initializer):
				// Wrapping would defeat name inference, so the binding is
				// read back after the declaration instead.
				if start, end, ok := t.span(b.Initializer); ok {
					trailing = append(trailing, trailingCapture{name, start, end})
				}
			default:
				t.wrap(b.Initializer, KindVariable, depth, name)
			}
			t.expression(b.Initializer, depth+1)
		default:
			t.pattern(b.Target, depth+1)
			var ids []*ast.Identifier
			collectBindings(b.Target, &ids)
			for _, id := range ids {
				start := int(id.Idx0()) - t.base
				trailing = append(trailing, trailingCapture{string(id.Name), start, start + len(id.Name)})
			}
			if b.Initializer != nil {
				t.expression(b.Initializer, depth+1)
			}
		}
	}
	if len(trailing) == 0 || !inList || isCaptureStatement(next) {
		return
	}

	end := t.stmtEnd(st)
	if !t.mark(int(st.Idx0())-t.base, end, "trailing") {
		return
	}
	var b strings.Builder
	if end == 0 || t.src[end-1] != ';' {
		b.WriteByte(';')
	}
	for i := len(trailing) - 1; i >= 0; i-- {
		c := trailing[i]
		if IsReserved(c.name) {
			continue
		}
		ctx, ok := t.newContext(KindVariable, c.start, c.end, c.name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s(%d, %s);", CaptureFunc, ctx.ID, c.name)
	}
	if b.Len() > 1 {
		t.edits.insert(end, closeRank(depth), b.String())
	}
}

// isAnonymousFunction reports whether e is a function, arrow or class
// expression that takes its name from the binding it initializes.
func isAnonymousFunction(e ast.Expression) bool {
	switch n := e.(type) {
	case *ast.FunctionLiteral:
		return n.Name == nil
	case *ast.ClassLiteral:
		return n.Name == nil
	case *ast.ArrowFunctionLiteral:
		return true
	}
	return false
}

func isCaptureStatement(st ast.Statement) bool {
	es, ok := st.(*ast.ExpressionStatement)
	return ok && isCaptureCall(es.Expression)
}

// collectBindings appends every identifier bound by a destructuring target,
// in source order.
func collectBindings(target ast.Node, out *[]*ast.Identifier) {
	switch n := target.(type) {
	case *ast.Identifier:
		*out = append(*out, n)
	case *ast.ArrayPattern:
		for _, el := range n.Elements {
			if el != nil {
				collectBindings(el, out)
			}
		}
		if n.Rest != nil {
			collectBindings(n.Rest, out)
		}
	case *ast.ObjectPattern:
		for _, p := range n.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				*out = append(*out, &p.Name)
			case *ast.PropertyKeyed:
				collectBindings(p.Value, out)
			case *ast.SpreadElement:
				collectBindings(p.Expression, out)
			}
		}
		if n.Rest != nil {
			collectBindings(n.Rest, out)
		}
	case *ast.AssignExpression:
		collectBindings(n.Left, out)
	}
}

// pattern walks default values and computed keys inside a binding pattern.
func (t *transformer) pattern(target ast.Node, depth int) {
	switch n := target.(type) {
	case *ast.ArrayPattern:
		for _, el := range n.Elements {
			if el != nil {
				t.pattern(el, depth)
			}
		}
	case *ast.ObjectPattern:
		for _, p := range n.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				if p.Initializer != nil {
					t.expression(p.Initializer, depth)
				}
			case *ast.PropertyKeyed:
				if p.Computed {
					t.expression(p.Key, depth)
				}
				t.pattern(p.Value, depth)
			}
		}
	case *ast.AssignExpression:
		t.pattern(n.Left, depth)
		t.expression(n.Right, depth)
	}
}

func (t *transformer) returnStatement(s *ast.ReturnStatement, depth int) {
	if s.Argument != nil {
		if isReservedIdent(s.Argument) {
			return
		}
		t.expression(s.Argument, depth+1)
	}
	kw := int(s.Return) - t.base
	if kw < 0 || kw+len("return") > len(t.src) || !t.mark(kw, kw+len("return"), "return") {
		return
	}

	start, end, ok := kw, kw+len("return"), true
	if s.Argument != nil {
		start, end, ok = t.span(s.Argument)
		if !ok {
			return
		}
	}
	ctx, ok := t.newContext(KindReturn, start, end, "")
	if !ok {
		return
	}
	tmp := t.temp("r")
	tail := fmt.Sprintf("; %s(%d, %s); return %s; }", CaptureFunc, ctx.ID, tmp, tmp)

	if s.Argument == nil {
		stop := kw + len("return")
		if semi := t.semicolonAfter(stop); semi >= 0 {
			stop = semi + 1
		}
		t.edits.replace(kw, stop, "{ const "+tmp+" = undefined"+tail)
		return
	}
	open := "{ const " + tmp + " ="
	if _, seq := s.Argument.(*ast.SequenceExpression); seq {
		// A bare comma would start a second declarator.
		open, tail = open+" (", ")"+tail
	}
	t.edits.replace(kw, kw+len("return"), open)
	if semi := t.semicolonAfter(end); semi >= 0 {
		t.edits.replace(semi, semi+1, tail)
	} else {
		t.edits.insert(end, closeRank(depth), tail)
	}
}

func isLoop(st ast.Statement) bool {
	switch st.(type) {
	case *ast.WhileStatement, *ast.DoWhileStatement, *ast.ForStatement, *ast.ForInStatement, *ast.ForOfStatement:
		return true
	}
	return false
}

// loop instruments a loop statement. start is where the statement begins,
// including any label.
func (t *transformer) loop(st ast.Statement, depth int, start int) {
	var (
		body    ast.Statement
		guarded bool
		vars    []*ast.Identifier
	)
	switch s := st.(type) {
	case *ast.WhileStatement:
		t.expression(s.Test, depth+2)
		body, guarded = s.Body, true
	case *ast.DoWhileStatement:
		t.expression(s.Test, depth+2)
		body, guarded = s.Body, true
	case *ast.ForStatement:
		vars = t.forInitializer(s.Initializer, depth+2)
		if s.Test != nil {
			t.expression(s.Test, depth+2)
		}
		if s.Update != nil {
			t.expression(s.Update, depth+2)
		}
		body, guarded = s.Body, true
	case *ast.ForInStatement:
		vars = t.forInto(s.Into, depth+2)
		t.expression(s.Source, depth+2)
		body = s.Body
	case *ast.ForOfStatement:
		vars = t.forInto(s.Into, depth+2)
		t.expression(s.Source, depth+2)
		body = s.Body
	default:
		return
	}

	block, isBlock := body.(*ast.BlockStatement)
	if guarded && !t.isGuarded(block) && t.mark(start, t.stmtEnd(st), "guard") {
		counter := t.temp("loop")
		guard := fmt.Sprintf("if (++%s > %d) throw new RangeError(%q);", counter, t.loopLimit,
			fmt.Sprintf("Potential infinite loop: exceeded %d iterations.", t.loopLimit))
		t.edits.insert(start, openRank(depth), "{let "+counter+" = 0;")
		t.edits.insert(t.stmtEnd(st), closeRank(depth), "}")
		if isBlock {
			t.edits.insert(int(block.LeftBrace)-t.base+1, openRank(depth+1), guard)
		} else if bs, be, ok := t.bodySpan(body); ok {
			t.edits.insert(bs, openRank(depth+1), "{"+guard)
			t.edits.insert(be, closeRank(depth+1), "}")
		}
	}

	if isBlock && len(vars) > 0 && !t.hasLoopCaptures(block, vars) {
		pos := int(block.LeftBrace) - t.base + 1
		if t.mark(pos, pos, "loopvars") {
			var b strings.Builder
			for _, id := range vars {
				s := int(id.Idx0()) - t.base
				ctx, ok := t.newContext(KindLoopVariable, s, s+len(id.Name), string(id.Name))
				if !ok {
					continue
				}
				fmt.Fprintf(&b, "%s(%d, %s);", CaptureFunc, ctx.ID, id.Name)
			}
			if b.Len() > 0 {
				t.edits.insert(pos, openRank(depth+1), b.String())
			}
		}
	}

	if isBlock {
		t.statements(block.List, depth+2)
	} else {
		t.statement(body, depth+2, false, nil)
	}
}

func (t *transformer) bodySpan(body ast.Statement) (int, int, bool) {
	start := int(body.Idx0()) - t.base
	if es, ok := body.(*ast.ExpressionStatement); ok {
		if s, _, ok := t.span(es.Expression); ok {
			start = s
		}
	}
	end := t.stmtEnd(body)
	if start < 0 || end > len(t.src) || start >= end {
		return 0, 0, false
	}
	return start, end, true
}

// isGuarded reports whether the loop body already starts with an iteration
// guard.
func (t *transformer) isGuarded(block *ast.BlockStatement) bool {
	if block == nil || len(block.List) == 0 {
		return false
	}
	s := int(block.List[0].Idx0()) - t.base
	return s >= 0 && strings.HasPrefix(t.src[s:], "if (++"+ReservedPrefix+"loop")
}

// hasLoopCaptures reports whether the body already begins with capture calls
// for every loop variable.
func (t *transformer) hasLoopCaptures(block *ast.BlockStatement, vars []*ast.Identifier) bool {
	list := block.List
	if t.isGuarded(block) {
		list = list[1:]
	}
	if len(list) < len(vars) {
		return false
	}
	for i, id := range vars {
		es, ok := list[i].(*ast.ExpressionStatement)
		if !ok || !isCaptureCall(es.Expression) {
			return false
		}
		call := es.Expression.(*ast.CallExpression)
		if len(call.ArgumentList) != 2 {
			return false
		}
		arg, ok := call.ArgumentList[1].(*ast.Identifier)
		if !ok || arg.Name != id.Name {
			return false
		}
	}
	return true
}

func (t *transformer) forInitializer(init ast.ForLoopInitializer, depth int) []*ast.Identifier {
	var vars []*ast.Identifier
	bindings := func(list []*ast.Binding) {
		for _, b := range list {
			t.pattern(b.Target, depth)
			collectBindings(b.Target, &vars)
			if b.Initializer != nil {
				t.expression(b.Initializer, depth)
			}
		}
	}
	switch n := init.(type) {
	case *ast.ForLoopInitializerLexicalDecl:
		bindings(n.LexicalDeclaration.List)
	case *ast.ForLoopInitializerVarDeclList:
		bindings(n.List)
	case *ast.ForLoopInitializerExpression:
		exprs := []ast.Expression{n.Expression}
		if seq, ok := n.Expression.(*ast.SequenceExpression); ok {
			exprs = seq.Sequence
		}
		for _, e := range exprs {
			if a, ok := e.(*ast.AssignExpression); ok {
				if id, ok := a.Left.(*ast.Identifier); ok {
					vars = append(vars, id)
				}
			}
		}
		t.expression(n.Expression, depth)
	}
	return filterReserved(vars)
}

func (t *transformer) forInto(into ast.ForInto, depth int) []*ast.Identifier {
	var vars []*ast.Identifier
	switch n := into.(type) {
	case *ast.ForIntoVar:
		if n.Binding != nil {
			t.pattern(n.Binding.Target, depth)
			collectBindings(n.Binding.Target, &vars)
		}
	case *ast.ForDeclaration:
		t.pattern(n.Target, depth)
		collectBindings(n.Target, &vars)
	case *ast.ForIntoExpression:
		if id, ok := n.Expression.(*ast.Identifier); ok {
			vars = append(vars, id)
		} else {
			t.expression(n.Expression, depth)
		}
	}
	return filterReserved(vars)
}

func filterReserved(ids []*ast.Identifier) []*ast.Identifier {
	out := ids[:0]
	for _, id := range ids {
		if !IsReserved(string(id.Name)) {
			out = append(out, id)
		}
	}
	return out
}

func (t *transformer) function(fn *ast.FunctionLiteral, depth int) {
	if fn == nil {
		return
	}
	t.parameters(fn.ParameterList, depth)
	if fn.Body != nil {
		t.statements(fn.Body.List, depth+1)
	}
}

func (t *transformer) parameters(params *ast.ParameterList, depth int) {
	if params == nil {
		return
	}
	for _, b := range params.List {
		t.pattern(b.Target, depth)
		if b.Initializer != nil {
			t.expression(b.Initializer, depth)
		}
	}
}

func (t *transformer) arrow(fn *ast.ArrowFunctionLiteral, depth int) {
	t.parameters(fn.ParameterList, depth)
	switch body := fn.Body.(type) {
	case *ast.BlockStatement:
		t.statements(body.List, depth+1)
	case *ast.ExpressionBody:
		if !isCaptureCall(body.Expression) {
			t.wrap(body.Expression, KindReturn, depth+1, "")
		}
		t.expression(body.Expression, depth+2)
	}
}

func (t *transformer) class(cls *ast.ClassLiteral, depth int) {
	if cls == nil {
		return
	}
	if cls.SuperClass != nil {
		t.expression(cls.SuperClass, depth)
	}
	for _, el := range cls.Body {
		switch m := el.(type) {
		case *ast.MethodDefinition:
			if m.Computed {
				t.expression(m.Key, depth)
			}
			t.function(m.Body, depth+1)
		case *ast.FieldDefinition:
			if m.Computed {
				t.expression(m.Key, depth)
			}
			if m.Initializer != nil {
				t.expression(m.Initializer, depth+1)
			}
		}
	}
}

// consoleCall routes a console call's arguments through the capture call
// while keeping the member call, and with it the receiver, intact.
func (t *transformer) consoleCall(call *ast.CallExpression, method string, depth int) {
	if len(call.ArgumentList) > 0 {
		if spread, ok := call.ArgumentList[0].(*ast.SpreadElement); ok && isCaptureCall(spread.Expression) {
			return
		}
	}
	start, end, ok := t.span(call)
	if !ok || !t.mark(start, end, "console") {
		return
	}
	ctx, ok := t.newContext(KindConsole, start, end, "")
	if !ok {
		return
	}
	ctx.Method = method
	ctx.ArgNames = make([]string, len(call.ArgumentList))
	for i, arg := range call.ArgumentList {
		if id, ok := arg.(*ast.Identifier); ok {
			ctx.ArgNames[i] = string(id.Name)
		}
	}

	open := fmt.Sprintf("...%s(%d, [", CaptureFunc, ctx.ID)
	if len(call.ArgumentList) == 0 {
		t.edits.insert(int(call.LeftParenthesis)-t.base+1, openRank(depth), open+"])")
		return
	}
	first, _, ok1 := t.span(call.ArgumentList[0])
	_, last, ok2 := t.span(call.ArgumentList[len(call.ArgumentList)-1])
	if !ok1 || !ok2 {
		return
	}
	t.edits.insert(first, openRank(depth), open)
	t.edits.insert(last, closeRank(depth), "])")
}

// expression walks e applying the expression-level rules: console calls,
// nested function bodies, and implicit arrow returns.
func (t *transformer) expression(e ast.Expression, depth int) {
	switch n := e.(type) {
	case nil:
	case *ast.CallExpression:
		if !isCaptureCall(n) {
			if method, ok := consoleMethod(n); ok {
				t.consoleCall(n, method, depth)
			}
			t.expression(n.Callee, depth+1)
		}
		for _, arg := range n.ArgumentList {
			t.expression(arg, depth+1)
		}
	case *ast.NewExpression:
		t.expression(n.Callee, depth+1)
		for _, arg := range n.ArgumentList {
			t.expression(arg, depth+1)
		}
	case *ast.FunctionLiteral:
		t.function(n, depth+1)
	case *ast.ArrowFunctionLiteral:
		t.arrow(n, depth+1)
	case *ast.ClassLiteral:
		t.class(n, depth+1)
	case *ast.AssignExpression:
		t.expression(n.Left, depth+1)
		t.expression(n.Right, depth+1)
	case *ast.BinaryExpression:
		t.expression(n.Left, depth+1)
		t.expression(n.Right, depth+1)
	case *ast.ConditionalExpression:
		t.expression(n.Test, depth+1)
		t.expression(n.Consequent, depth+1)
		t.expression(n.Alternate, depth+1)
	case *ast.UnaryExpression:
		t.expression(n.Operand, depth+1)
	case *ast.DotExpression:
		t.expression(n.Left, depth+1)
	case *ast.BracketExpression:
		t.expression(n.Left, depth+1)
		t.expression(n.Member, depth+1)
	case *ast.SequenceExpression:
		for _, x := range n.Sequence {
			t.expression(x, depth+1)
		}
	case *ast.ArrayLiteral:
		for _, x := range n.Value {
			if x != nil {
				t.expression(x, depth+1)
			}
		}
	case *ast.ObjectLiteral:
		for _, p := range n.Value {
			switch p := p.(type) {
			case *ast.PropertyKeyed:
				if p.Computed {
					t.expression(p.Key, depth+1)
				}
				t.expression(p.Value, depth+1)
			case *ast.PropertyShort:
				if p.Initializer != nil {
					t.expression(p.Initializer, depth+1)
				}
			case *ast.SpreadElement:
				t.expression(p.Expression, depth+1)
			}
		}
	case *ast.SpreadElement:
		t.expression(n.Expression, depth+1)
	case *ast.TemplateLiteral:
		if n.Tag != nil {
			t.expression(n.Tag, depth+1)
		}
		for _, x := range n.Expressions {
			t.expression(x, depth+1)
		}
	case *ast.AwaitExpression:
		t.expression(n.Argument, depth+1)
	case *ast.YieldExpression:
		if n.Argument != nil {
			t.expression(n.Argument, depth+1)
		}
	case *ast.OptionalChain:
		t.expression(n.Expression, depth+1)
	case *ast.Optional:
		t.expression(n.Expression, depth+1)
	}
}
