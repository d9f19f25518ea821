// Package guest is the capture runtime installed into every execution frame.
//
// It binds the two globals instrumented code calls, forwards captured values
// through the marshaller, and reports uncaught errors, unhandled promise
// rejections and document mutations back to the host. A Runtime belongs to a
// single run: it is created on the frame's event loop right before the
// program is evaluated and is discarded with that loop.
package guest

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dop251/goja"
	"github.com/go-sourcemap/sourcemap"

	"github.com/joeycumines/liveeval/internal/dom"
	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/marshal"
	"github.com/joeycumines/liveeval/internal/protocol"
)

// Config binds a Runtime to one run.
type Config struct {
	// Token is the run the runtime reports for.
	Token int
	// Post delivers a message to the host. It is called on the loop goroutine.
	Post func(protocol.Message)
	// Schedule runs fn on the loop goroutine after the current job.
	Schedule func(fn func())

	// Payloads issues payload ids. Required.
	Payloads *protocol.Sequence
	// Clock stamps payloads. Required.
	Clock *protocol.Clock
	// Contexts issues ids for error sites synthesized at runtime. Required.
	Contexts *instrument.Counter

	// File is the name the program was compiled under.
	File string
	// Sites are the capture sites of the program.
	Sites []instrument.CaptureContext
	// SourceMap maps positions in File back to the original sources.
	SourceMap *sourcemap.Consumer

	// MaxDepth is the marshalling nesting ceiling.
	MaxDepth int
	// MaxItems caps the elements marshalled per container.
	MaxItems int
	// Theme, if set, is applied to the body as data-theme.
	Theme string
	Logger *slog.Logger
}

// Runtime is the per-run capture runtime. All methods must be called on the
// runtime's loop goroutine.
type Runtime struct {
	vm      *goja.Runtime
	cfg     Config
	log     *slog.Logger
	marshal *marshal.Marshaller
	doc     *dom.Document
	sites   map[int]instrument.CaptureContext
	scope   captureScope

	// proxies maps each proxy created by guest code to what it was created with.
	proxies map[*goja.Object][2]*goja.Object

	errorSites map[position]instrument.CaptureContext
	rejections map[*goja.Promise]uint64
	rejectSeq  uint64
	flushing   bool

	mutationQueued bool
	then           goja.Callable
	complete       bool
}

// captureScope suppresses captures triggered while another capture is being
// marshalled, e.g. by a getter that calls instrumented code.
type captureScope struct {
	active bool
}

func (s *captureScope) enter() bool {
	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *captureScope) exit() { s.active = false }

// Install creates the runtime for vm and defines its globals. It must be
// called before the program is evaluated.
func Install(vm *goja.Runtime, cfg Config) (*Runtime, error) {
	if cfg.Post == nil || cfg.Schedule == nil || cfg.Payloads == nil || cfg.Clock == nil || cfg.Contexts == nil {
		return nil, fmt.Errorf("guest: incomplete config")
	}
	r := &Runtime{
		vm:         vm,
		cfg:        cfg,
		log:        cfg.Logger,
		sites:      make(map[int]instrument.CaptureContext, len(cfg.Sites)),
		proxies:    make(map[*goja.Object][2]*goja.Object),
		errorSites: make(map[position]instrument.CaptureContext),
		rejections: make(map[*goja.Promise]uint64),
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("token", cfg.Token)
	for _, s := range cfg.Sites {
		r.sites[s.ID] = s
	}

	r.doc = dom.New(vm, r.bodyMutated)
	if err := r.doc.Install(); err != nil {
		return nil, err
	}
	if cfg.Theme != "" {
		r.doc.SetBodyAttribute("data-theme", cfg.Theme)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"shims", r.installShims},
		{"proxy", r.installProxy},
		{"timers", r.installTimers},
		{"bindings", r.installBindings},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nil, fmt.Errorf("guest: install %s: %w", s.name, err)
		}
	}

	// The marshaller pins its helpers, so it is created before guest code can
	// replace any builtin.
	r.marshal = marshal.New(vm, &marshal.Options{
		MaxDepth: cfg.MaxDepth,
		MaxItems: cfg.MaxItems,
		Node:     r.doc.Describe,
		Proxy:    r.proxy,
	})
	vm.SetPromiseRejectionTracker(r.trackRejection)
	return r, nil
}

// Document returns the frame's document.
func (r *Runtime) Document() *dom.Document { return r.doc }

func (r *Runtime) installBindings() error {
	global := r.vm.GlobalObject()
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		instrument.CaptureFunc: r.capture,
		instrument.MetaFunc:    func(goja.FunctionCall) goja.Value { return goja.Undefined() },
	} {
		if err := global.DefineDataProperty(name, r.vm.ToValue(fn), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
			return err
		}
	}
	then, err := r.vm.RunString(`Promise.prototype.then`)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(then)
	if !ok {
		return fmt.Errorf("Promise.prototype.then is not callable")
	}
	r.then = fn
	return nil
}

// capture implements the capture binding: (contextID, value) => value.
func (r *Runtime) capture(call goja.FunctionCall) goja.Value {
	value := call.Argument(1)
	if !r.scope.enter() {
		return value
	}
	defer r.scope.exit()

	id := int(call.Argument(0).ToInteger())
	site, known := r.sites[id]
	p := r.newPayload(id)
	if known && site.Kind == instrument.KindConsole {
		p.Result = marshal.Undefined()
		p.Entries = r.entries(site, value)
	} else {
		p.Result = r.marshal.Marshal(value)
		r.promiseState(&p, value)
	}
	r.send(p)
	return value
}

func (r *Runtime) newPayload(contextID int) protocol.Payload {
	return protocol.Payload{
		ID:        r.cfg.Payloads.Next(),
		ContextID: contextID,
		Timestamp: r.cfg.Clock.Stamp(),
	}
}

func (r *Runtime) send(p protocol.Payload) {
	r.cfg.Post(protocol.Message{Token: r.cfg.Token, Type: protocol.TypeRepl, Payload: &p})
}

// entries marshals the arguments array of a console call.
func (r *Runtime) entries(site instrument.CaptureContext, value goja.Value) []protocol.NamedValue {
	args, ok := value.(*goja.Object)
	if !ok {
		return nil
	}
	n := int(args.Get("length").ToInteger())
	out := make([]protocol.NamedValue, 0, n)
	for i := 0; i < n; i++ {
		nv := protocol.NamedValue{Value: r.marshal.Marshal(args.Get(strconv.Itoa(i)))}
		if i < len(site.ArgNames) {
			nv.Name = site.ArgNames[i]
		}
		out = append(out, nv)
	}
	return out
}

// promiseState tags p with the state of a promise value, and arranges a
// follow-up payload for one that is still pending.
func (r *Runtime) promiseState(p *protocol.Payload, value goja.Value) {
	if p.Result.Kind != marshal.KindPromise {
		return
	}
	p.Promise = p.Result.State
	p.IsError = p.Result.State == protocol.PromiseRejected
	if p.Result.State != protocol.PromisePending || r.then == nil {
		return
	}
	contextID := p.ContextID
	settle := func(state string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if !r.scope.enter() {
				return goja.Undefined()
			}
			defer r.scope.exit()
			follow := r.newPayload(contextID)
			follow.Result = r.marshal.Marshal(call.Argument(0))
			follow.Promise = state
			follow.IsError = state == protocol.PromiseRejected
			r.send(follow)
			return goja.Undefined()
		}
	}
	if _, err := r.then(value, r.vm.ToValue(settle(protocol.PromiseFulfilled)), r.vm.ToValue(settle(protocol.PromiseRejected))); err != nil {
		r.log.Debug("promise follow-up not attached", "context", contextID, "error", err)
	}
}

// Complete posts the run's script-complete message. Only the first call has
// any effect.
func (r *Runtime) Complete() {
	if r.complete {
		return
	}
	r.complete = true
	r.cfg.Post(protocol.Message{Token: r.cfg.Token, Type: protocol.TypeScriptComplete})
}

func (r *Runtime) bodyMutated() {
	if r.mutationQueued {
		return
	}
	r.mutationQueued = true
	r.cfg.Schedule(func() {
		r.mutationQueued = false
		r.cfg.Post(protocol.Message{Token: r.cfg.Token, Type: protocol.TypeBodyMutation, HTML: r.doc.BodyHTML()})
	})
}
