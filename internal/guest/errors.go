package guest

import (
	"cmp"
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/joeycumines/liveeval/internal/instrument"
)

// position is a 1-based location in a source file.
type position struct {
	File string
	Line int
	Col  int
}

// stackPosition matches the first file:line:column of a stack trace.
var stackPosition = regexp.MustCompile(`([^\s()]+):(\d+):(\d+)`)

// ReportError reports an error that escaped guest code, such as the result of
// evaluating the program or of a timer callback. Interrupts are not reported.
func (r *Runtime) ReportError(err error) {
	if err == nil {
		return
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return
	}

	var (
		value goja.Value
		pos   position
		found bool
	)
	var ex *goja.Exception
	var syntax *goja.CompilerSyntaxError
	switch {
	case errors.As(err, &ex):
		value = ex.Value()
		pos, found = framePosition(ex.Stack())
		if !found {
			pos, found = r.valuePosition(value)
		}
	case errors.As(err, &syntax) && syntax.File != nil:
		p := syntax.File.Position(syntax.Offset)
		pos, found = position{File: p.Filename, Line: p.Line, Col: p.Column}, true
	}
	if value == nil {
		value = r.vm.NewGoError(err)
	}
	if !found {
		pos = position{File: r.cfg.File}
	}
	r.reportAt(pos, value, err.Error())
}

// reportValue reports a thrown or rejected value that carries no Go-side
// stack, using the value's own stack property when it has one.
func (r *Runtime) reportValue(v goja.Value) {
	pos, ok := r.valuePosition(v)
	if !ok {
		pos = position{File: r.cfg.File}
	}
	r.reportAt(pos, v, describe(v))
}

func (r *Runtime) reportAt(pos position, value goja.Value, message string) {
	if !r.scope.enter() {
		return
	}
	defer r.scope.exit()

	pos = r.mapPosition(pos)
	site, seen := r.errorSites[pos]
	if !seen {
		site = instrument.CaptureContext{
			ID:         r.cfg.Contexts.Next(),
			Kind:       instrument.KindWindowError,
			File:       pos.File,
			LineStart:  pos.Line,
			LineEnd:    pos.Line,
			ColStart:   pos.Col,
			ColEnd:     pos.Col + 1,
			SourceText: r.sourceLine(pos),
		}
		r.errorSites[pos] = site
		r.sites[site.ID] = site
	}
	p := r.newPayload(site.ID)
	p.Result = r.marshal.Marshal(value)
	p.IsError = true
	if !seen {
		p.Context = &site
	}
	r.log.Debug("guest error", "file", pos.File, "line", pos.Line, "column", pos.Col, "error", message)
	r.send(p)
}

// framePosition returns the innermost stack frame with a known position.
func framePosition(frames []goja.StackFrame) (position, bool) {
	for i := range frames {
		p := frames[i].Position()
		if p.Line > 0 {
			return position{File: p.Filename, Line: p.Line, Col: p.Column}, true
		}
	}
	return position{}, false
}

func (r *Runtime) valuePosition(v goja.Value) (position, bool) {
	o, ok := v.(*goja.Object)
	if !ok {
		return position{}, false
	}
	stack := o.Get("stack")
	if stack == nil || !goja.IsString(stack) {
		return position{}, false
	}
	m := stackPosition.FindStringSubmatch(stack.String())
	if m == nil {
		return position{}, false
	}
	line, _ := strconv.Atoi(m[2])
	col, _ := strconv.Atoi(m[3])
	return position{File: m[1], Line: line, Col: col}, true
}

// mapPosition translates a position in the built file to the original
// source. The built position is kept when there is no mapping for it.
func (r *Runtime) mapPosition(p position) position {
	if r.cfg.SourceMap == nil || p.Line <= 0 {
		return p
	}
	col := max(p.Col-1, 0)
	source, _, line, column, ok := r.cfg.SourceMap.Source(p.Line, col)
	if !ok || line <= 0 {
		return p
	}
	if source == "" {
		source = p.File
	}
	return position{File: source, Line: line, Col: column + 1}
}

// sourceLine returns the trimmed text of the line at pos, when the source map
// embeds the original source.
func (r *Runtime) sourceLine(pos position) string {
	if r.cfg.SourceMap == nil || pos.Line <= 0 {
		return ""
	}
	content := r.cfg.SourceMap.SourceContent(pos.File)
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if pos.Line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[pos.Line-1])
}

func describe(v goja.Value) (s string) {
	defer func() {
		if recover() != nil {
			s = "uncaught exception"
		}
	}()
	if v == nil {
		return "undefined"
	}
	return v.String()
}

// trackRejection collects rejected promises without a handler. Rejections
// still unhandled once the current job finishes are reported in the order
// they happened.
func (r *Runtime) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		r.rejectSeq++
		r.rejections[p] = r.rejectSeq
		if !r.flushing {
			r.flushing = true
			r.cfg.Schedule(r.flushRejections)
		}
	case goja.PromiseRejectionHandle:
		delete(r.rejections, p)
	}
}

func (r *Runtime) flushRejections() {
	r.flushing = false
	pending := make([]*goja.Promise, 0, len(r.rejections))
	for p := range r.rejections {
		pending = append(pending, p)
	}
	order := r.rejections
	slices.SortFunc(pending, func(a, b *goja.Promise) int { return cmp.Compare(order[a], order[b]) })
	r.rejections = make(map[*goja.Promise]uint64)
	for _, p := range pending {
		r.reportValue(p.Result())
	}
}
