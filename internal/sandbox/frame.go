// Package sandbox provides execution frames: isolated JavaScript contexts that
// run built programs on behalf of a host.
//
// A Frame owns at most one goja runtime at a time, driven by its own
// goja_nodejs event loop. Every run gets a fresh runtime and loop; the
// previous one is interrupted and discarded, so nothing leaks between runs.
// The host talks to a frame only through encoded packets.
//
// Lifecycle:
//
//	f, err := sandbox.New(opts)
//	if err != nil { ... }
//	if err := f.Start(ctx); err != nil { ... }
//	defer f.Close()
//
//	// packets from the host
//	_ = f.Deliver(packet)
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/go-sourcemap/sourcemap"

	"github.com/joeycumines/liveeval/internal/guest"
	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/protocol"
)

// State is a frame's lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateAwaitingReady
	StateIdle
	StateRunning
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingReady:
		return "awaiting-ready"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ErrDisposed is returned when using a closed frame.
var ErrDisposed = errors.New("sandbox: frame disposed")

// errSuperseded interrupts a runtime whose run was replaced.
var errSuperseded = errors.New("sandbox: run superseded")

// DefaultReadyInterval is how often an unacknowledged frame re-announces
// itself.
const DefaultReadyInterval = 50 * time.Millisecond

// inboxSize bounds packets queued for a frame.
const inboxSize = 64

// Options configures a Frame.
type Options struct {
	// Origin identifies the frame to the host.
	Origin string
	// HostOrigin is the only origin the frame accepts packets from.
	HostOrigin string
	// Deliver carries packets to the host.
	Deliver func(protocol.Packet)

	Payloads *protocol.Sequence
	Clock    *protocol.Clock
	Contexts *instrument.Counter

	MaxDepth      int
	MaxItems      int
	ReadyInterval time.Duration
	Logger        *slog.Logger
}

// Frame is one execution context.
type Frame struct {
	opts     Options
	log      *slog.Logger
	endpoint *protocol.Endpoint
	inbox    chan protocol.Packet
	state    atomic.Int32

	mu    sync.Mutex
	token int
	theme string
	html  string
	loop  *eventloop.EventLoop
	vm    *goja.Runtime
	rt    *guest.Runtime

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an unstarted frame.
func New(opts Options) (*Frame, error) {
	if opts.Origin == "" || opts.HostOrigin == "" || opts.Deliver == nil {
		return nil, errors.New("sandbox: origin, host origin and deliver are required")
	}
	if opts.Payloads == nil {
		opts.Payloads = new(protocol.Sequence)
	}
	if opts.Clock == nil {
		opts.Clock = new(protocol.Clock)
	}
	if opts.Contexts == nil {
		opts.Contexts = instrument.NewCounter(0)
	}
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = DefaultReadyInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("frame", opts.Origin)
	f := &Frame{
		opts: opts,
		log:  log,
		endpoint: &protocol.Endpoint{
			Origin:  opts.Origin,
			Source:  protocol.SourceGuest,
			Deliver: opts.Deliver,
			Logger:  log,
		},
		inbox: make(chan protocol.Packet, inboxSize),
		token: protocol.NoToken,
		done:  make(chan struct{}),
	}
	return f, nil
}

// Origin returns the frame's origin.
func (f *Frame) Origin() string { return f.opts.Origin }

// State returns the current state.
func (f *Frame) State() State { return State(f.state.Load()) }

// Token returns the token of the most recent run, or protocol.NoToken.
func (f *Frame) Token() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// BodyHTML returns the last reported document body.
func (f *Frame) BodyHTML() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html
}

// Done is closed once the frame has stopped.
func (f *Frame) Done() <-chan struct{} { return f.done }

// Start begins announcing readiness and serving packets. The frame closes
// itself when ctx is cancelled.
func (f *Frame) Start(ctx context.Context) error {
	if !f.state.CompareAndSwap(int32(StateUninitialized), int32(StateAwaitingReady)) {
		if f.State() == StateDisposed {
			return ErrDisposed
		}
		return errors.New("sandbox: frame already started")
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())
	go f.serve()
	if ctx.Done() != nil {
		context.AfterFunc(ctx, func() { _ = f.Close() })
	}
	return nil
}

// Deliver queues a packet from the host.
func (f *Frame) Deliver(p protocol.Packet) error {
	if f.State() == StateDisposed {
		return ErrDisposed
	}
	select {
	case f.inbox <- p:
		return nil
	case <-f.done:
		return ErrDisposed
	}
}

// Close stops the frame and its runtime. It is safe to call multiple times.
func (f *Frame) Close() error {
	prev := State(f.state.Swap(int32(StateDisposed)))
	switch prev {
	case StateDisposed:
		return nil
	case StateUninitialized:
		close(f.done)
		return nil
	}
	f.cancel()
	<-f.done
	return nil
}

func (f *Frame) serve() {
	defer close(f.done)
	defer f.stopLoop()

	ticker := time.NewTicker(f.opts.ReadyInterval)
	defer ticker.Stop()
	f.announce()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			if f.State() == StateAwaitingReady {
				f.announce()
			}
		case p := <-f.inbox:
			f.handle(p)
		}
	}
}

func (f *Frame) announce() {
	f.endpoint.Post(protocol.Message{Token: protocol.NoToken, Type: protocol.TypeReady})
}

func (f *Frame) handle(p protocol.Packet) {
	m, err := protocol.Receive(p, protocol.SourceHost, f.opts.HostOrigin)
	if err != nil {
		f.log.Debug("dropping packet", "origin", p.Origin, "error", err)
		return
	}
	switch m.Type {
	case protocol.TypeReadyAck:
		if f.state.CompareAndSwap(int32(StateAwaitingReady), int32(StateIdle)) {
			f.log.Debug("ready acknowledged")
		}
	case protocol.TypeRepl:
		f.run(m.Token, m.Document)
	case protocol.TypeUpdateTheme:
		f.setTheme(m.Theme)
	default:
		f.log.Debug("ignoring message", "type", m.Type)
	}
}

func (f *Frame) setTheme(theme string) {
	f.mu.Lock()
	f.theme = theme
	loop, rt := f.loop, f.rt
	f.mu.Unlock()
	if loop == nil || rt == nil {
		return
	}
	loop.RunOnLoop(func(*goja.Runtime) {
		rt.Document().SetBodyAttribute("data-theme", theme)
	})
}

// stopLoop interrupts and discards the current runtime, if any.
func (f *Frame) stopLoop() {
	f.mu.Lock()
	loop, vm := f.loop, f.vm
	f.loop, f.vm, f.rt = nil, nil, nil
	f.mu.Unlock()
	if vm != nil {
		vm.Interrupt(errSuperseded)
	}
	if loop != nil {
		loop.StopNoWait()
	}
}

// run starts token on a fresh runtime. A run already in progress is
// superseded.
func (f *Frame) run(token int, doc *protocol.Document) {
	f.stopLoop()
	if f.State() == StateDisposed {
		return
	}
	f.state.Store(int32(StateRunning))

	f.mu.Lock()
	f.token = token
	f.html = ""
	theme := f.theme
	f.mu.Unlock()

	log := f.log.With("token", token)
	var sm *sourcemap.Consumer
	if doc.SourceMap != "" {
		var err error
		if sm, err = sourcemap.Parse(doc.File+".map", []byte(doc.SourceMap)); err != nil {
			log.Warn("ignoring source map", "error", err)
			sm = nil
		}
	}

	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(&guest.Printer{
		Logger: f.log,
		Attrs:  []slog.Attr{slog.Int("token", token)},
	}))
	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(true),
	)
	loop.Start()
	f.mu.Lock()
	f.loop = loop
	f.mu.Unlock()

	schedule := func(fn func()) {
		loop.RunOnLoop(func(*goja.Runtime) { fn() })
	}
	cfg := guest.Config{
		Token:     token,
		Post:      f.post,
		Schedule:  schedule,
		Payloads:  f.opts.Payloads,
		Clock:     f.opts.Clock,
		Contexts:  f.opts.Contexts,
		File:      doc.File,
		Sites:     doc.Contexts,
		SourceMap: sm,
		MaxDepth:  f.opts.MaxDepth,
		MaxItems:  f.opts.MaxItems,
		Theme:     theme,
		Logger:    log,
	}
	ok := loop.RunOnLoop(func(vm *goja.Runtime) {
		f.execute(vm, loop, cfg, doc)
	})
	if !ok {
		log.Warn("event loop rejected run")
	}
}

func (f *Frame) execute(vm *goja.Runtime, loop *eventloop.EventLoop, cfg guest.Config, doc *protocol.Document) {
	f.mu.Lock()
	if f.loop != loop {
		f.mu.Unlock()
		return
	}
	f.vm = vm
	f.mu.Unlock()

	var rt *guest.Runtime
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("run panicked", "token", cfg.Token, "panic", r)
			if rt != nil {
				rt.Complete()
			} else {
				f.post(protocol.Message{Token: cfg.Token, Type: protocol.TypeScriptComplete})
			}
		}
		f.finish(cfg.Token)
	}()

	rt, err := guest.Install(vm, cfg)
	if err != nil {
		f.log.Error("install capture runtime", "token", cfg.Token, "error", err)
		f.post(protocol.Message{Token: cfg.Token, Type: protocol.TypeScriptComplete})
		return
	}
	f.mu.Lock()
	f.rt = rt
	f.mu.Unlock()

	prg, err := goja.Compile(doc.File, doc.Code, false)
	if err == nil {
		_, err = vm.RunProgram(prg)
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return
	}
	rt.ReportError(err)
	rt.Complete()
}

// finish marks the frame idle if token is still its current run.
func (f *Frame) finish(token int) {
	f.mu.Lock()
	current := f.token == token
	f.mu.Unlock()
	if current {
		f.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
	}
}

// post sends a guest message to the host. It runs on the loop goroutine.
func (f *Frame) post(m protocol.Message) {
	if m.Type == protocol.TypeBodyMutation {
		f.mu.Lock()
		f.html = m.HTML
		f.mu.Unlock()
	}
	f.endpoint.Post(m)
}
