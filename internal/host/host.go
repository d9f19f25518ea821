// Package host drives runs: it builds projects, hands them to one of two warm
// execution frames, and feeds what the frames report into a store.
//
// Each run gets a fresh token from a single counter. A newer run supersedes
// older ones: in-flight builds are cancelled, and anything a frame still
// reports under an old token is dropped when it reaches the store.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joeycumines/liveeval/internal/build"
	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/marshal"
	"github.com/joeycumines/liveeval/internal/protocol"
	"github.com/joeycumines/liveeval/internal/sandbox"
	"github.com/joeycumines/liveeval/internal/store"
)

// ErrSuperseded is returned by Run when a newer run started before it
// finished.
var ErrSuperseded = errors.New("host: run superseded")

// ErrClosed is returned when using a closed host.
var ErrClosed = errors.New("host: closed")

const (
	DefaultSwapTimeout = 2 * time.Second
	DefaultDebounce    = 300 * time.Millisecond

	// maxToken bounds run tokens; they wrap to zero and are never
	// protocol.NoToken.
	maxToken = 1 << 30

	inboxSize = 256
)

// Options configures a Host.
type Options struct {
	// Store receives payloads. Defaults to a new store.
	Store *store.Store
	// StoreCapacity is used when Store is nil.
	StoreCapacity int

	LoopLimit     int
	MaxDepth      int
	MaxItems      int
	SwapTimeout   time.Duration
	Debounce      time.Duration
	ReadyInterval time.Duration
	Theme         string
	Logger        *slog.Logger
}

// Host is safe for concurrent use.
type Host struct {
	opts     Options
	log      *slog.Logger
	store    *store.Store
	builder  *build.Builder
	contexts *instrument.Counter
	payloads *protocol.Sequence
	clock    *protocol.Clock
	origin   string
	frames   [2]*sandbox.Frame
	links    [2]*protocol.Endpoint
	inbox    chan protocol.Packet

	mu       sync.Mutex
	token    int
	active   int
	cancel   context.CancelFunc
	waiters  map[int]chan struct{}
	ready    [2]bool
	theme    string
	body     string
	debounce *time.Timer
	pending  *build.Project

	ctx     context.Context
	stop    context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

// New returns an unstarted host with two frames.
func New(opts Options) (*Host, error) {
	if opts.SwapTimeout <= 0 {
		opts.SwapTimeout = DefaultSwapTimeout
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	st := opts.Store
	if st == nil {
		st = store.New(store.Options{Capacity: opts.StoreCapacity, Logger: log})
	}
	h := &Host{
		opts:     opts,
		log:      log,
		store:    st,
		contexts: instrument.NewCounter(0),
		payloads: new(protocol.Sequence),
		clock:    new(protocol.Clock),
		origin:   "host-" + uuid.NewString(),
		inbox:    make(chan protocol.Packet, inboxSize),
		waiters:  make(map[int]chan struct{}),
		theme:    opts.Theme,
		done:     make(chan struct{}),
	}
	h.ctx, h.stop = context.WithCancel(context.Background())
	h.builder = build.NewBuilder(h.contexts, build.Options{LoopLimit: opts.LoopLimit, Logger: log})
	for i := range h.frames {
		f, err := sandbox.New(sandbox.Options{
			Origin:        fmt.Sprintf("frame-%d-%s", i, uuid.NewString()),
			HostOrigin:    h.origin,
			Deliver:       h.deliver,
			Payloads:      h.payloads,
			Clock:         h.clock,
			Contexts:      h.contexts,
			MaxDepth:      opts.MaxDepth,
			MaxItems:      opts.MaxItems,
			ReadyInterval: opts.ReadyInterval,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("host: frame %d: %w", i, err)
		}
		h.frames[i] = f
		h.links[i] = &protocol.Endpoint{
			Origin:  h.origin,
			Source:  protocol.SourceHost,
			Deliver: func(p protocol.Packet) { _ = f.Deliver(p) },
			Logger:  log,
		}
	}
	return h, nil
}

// Store returns the store runs report into.
func (h *Host) Store() *store.Store { return h.store }

// Start starts both frames and begins serving their messages. The host
// closes itself when ctx is cancelled.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.started {
		return errors.New("host: already started")
	}
	h.started = true
	go h.serve()
	for i, f := range h.frames {
		if err := f.Start(h.ctx); err != nil {
			return fmt.Errorf("host: start frame %d: %w", i, err)
		}
	}
	if ctx.Done() != nil {
		context.AfterFunc(ctx, func() { _ = h.Close() })
	}
	return nil
}

// Close stops the host and its frames. It is safe to call multiple times.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return nil
	}
	h.closed = true
	if !h.started {
		close(h.done)
	}
	if h.cancel != nil {
		h.cancel()
	}
	if h.debounce != nil {
		h.debounce.Stop()
	}
	h.mu.Unlock()

	h.stop()
	var errs []error
	for _, f := range h.frames {
		errs = append(errs, f.Close())
	}
	<-h.done
	return errors.Join(errs...)
}

// Token returns the current run token, or zero before the first run.
func (h *Host) Token() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

// Body returns the document body last reported by the current run.
func (h *Host) Body() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.body
}

// Ready reports whether both frames have completed the ready handshake.
func (h *Host) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready[0] && h.ready[1]
}

// nextToken advances the run token. Callers hold h.mu.
func (h *Host) nextToken() int {
	h.token = (h.token + 1) % maxToken
	return h.token
}

func (h *Host) current(token int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token == token && !h.closed
}

// begin starts a run, superseding any other.
func (h *Host) begin(ctx context.Context) (int, context.Context, chan struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, nil, ErrClosed
	}
	if h.cancel != nil {
		h.cancel()
	}
	token := h.nextToken()
	ctx, h.cancel = context.WithCancel(ctx)
	clear(h.waiters)
	complete := make(chan struct{})
	h.waiters[token] = complete
	h.body = ""
	h.store.Reset(token)
	return token, ctx, complete, nil
}

// Run builds p and executes it, returning the run's token once the frame
// reported script-complete or SwapTimeout elapsed. Build failures are
// reported into the store as build-error payloads and returned as
// *build.Error. A newer run makes Run return ErrSuperseded.
func (h *Host) Run(ctx context.Context, p build.Project) (int, error) {
	token, ctx, complete, err := h.begin(ctx)
	if err != nil {
		return 0, err
	}
	log := h.log.With("token", token)

	out, err := h.builder.Build(ctx, p)
	if !h.current(token) {
		return token, ErrSuperseded
	}
	if err != nil {
		var be *build.Error
		if !errors.As(err, &be) {
			return token, fmt.Errorf("host: build: %w", err)
		}
		h.report(token, be.Diagnostics, instrument.KindBuildError)
		h.report(token, be.Warnings, instrument.KindBuildWarning)
		h.store.MarkBuildFailed(token)
		h.store.Refresh(token)
		log.Info("build failed", "errors", len(be.Diagnostics))
		return token, err
	}
	h.store.SetContexts(token, out.Contexts)
	h.report(token, out.Warnings, instrument.KindBuildWarning)

	h.mu.Lock()
	if h.token != token || h.closed {
		h.mu.Unlock()
		return token, ErrSuperseded
	}
	target := 1 - h.active
	h.mu.Unlock()
	if !h.links[target].Post(protocol.Message{Token: token, Type: protocol.TypeRepl, Document: out.Document()}) {
		return token, fmt.Errorf("host: could not send run %d", token)
	}
	log.Debug("run posted", "frame", target, "contexts", len(out.Contexts))

	timer := time.NewTimer(h.opts.SwapTimeout)
	defer timer.Stop()
	select {
	case <-complete:
	case <-timer.C:
		log.Warn("swap timeout elapsed before script-complete", "timeout", h.opts.SwapTimeout)
	case <-ctx.Done():
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token != token || h.closed {
		return token, ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return token, err
	}
	h.active = target
	return token, nil
}

// report stores diagnostics as payloads in place of a run's captures.
func (h *Host) report(token int, diags []build.Diagnostic, kind instrument.Kind) {
	for _, d := range diags {
		c := d.Context(h.contexts.Next(), kind)
		h.store.Add(token, protocol.Payload{
			ID:        h.payloads.Next(),
			ContextID: c.ID,
			Result:    marshal.String(d.Text),
			IsError:   kind == instrument.KindBuildError,
			Timestamp: h.clock.Stamp(),
			Context:   &c,
		})
	}
}

// Edit schedules a run of p once edits have been quiet for the debounce
// interval. Only the last project submitted within the window runs.
func (h *Host) Edit(p build.Project) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.pending = &p
	if h.debounce != nil {
		h.debounce.Stop()
	}
	h.debounce = time.AfterFunc(h.opts.Debounce, h.flushEdit)
}

func (h *Host) flushEdit() {
	h.mu.Lock()
	p := h.pending
	h.pending = nil
	h.mu.Unlock()
	if p == nil {
		return
	}
	if _, err := h.Run(h.ctx, *p); err != nil && !errors.Is(err, ErrSuperseded) {
		h.log.Debug("edit run failed", "error", err)
	}
}

// SetTheme propagates theme to both frames, now and on every later
// handshake.
func (h *Host) SetTheme(theme string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.theme = theme
	for _, l := range h.links {
		l.Post(protocol.Message{Token: protocol.NoToken, Type: protocol.TypeUpdateTheme, Theme: theme})
	}
}

// deliver is the frames' channel to the host.
func (h *Host) deliver(p protocol.Packet) {
	select {
	case h.inbox <- p:
	case <-h.done:
	}
}

func (h *Host) serve() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case p := <-h.inbox:
			h.handle(p)
		}
	}
}

func (h *Host) frameIndex(origin string) int {
	for i, f := range h.frames {
		if f.Origin() == origin {
			return i
		}
	}
	return -1
}

func (h *Host) handle(p protocol.Packet) {
	m, err := protocol.Receive(p, protocol.SourceGuest, h.frames[0].Origin(), h.frames[1].Origin())
	if err != nil {
		h.log.Debug("dropping packet", "origin", p.Origin, "error", err)
		return
	}
	i := h.frameIndex(p.Origin)
	switch m.Type {
	case protocol.TypeReady:
		// Theme posts are ordered by h.mu so a stale theme never lands last.
		h.mu.Lock()
		h.ready[i] = true
		h.links[i].Post(protocol.Message{Token: protocol.NoToken, Type: protocol.TypeReadyAck})
		if h.theme != "" {
			h.links[i].Post(protocol.Message{Token: protocol.NoToken, Type: protocol.TypeUpdateTheme, Theme: h.theme})
		}
		h.mu.Unlock()
	case protocol.TypeRepl:
		if h.store.Add(m.Token, *m.Payload) {
			h.store.Refresh(m.Token)
		}
	case protocol.TypeScriptComplete:
		h.store.MarkComplete(m.Token)
		h.store.Refresh(m.Token)
		h.mu.Lock()
		if ch, ok := h.waiters[m.Token]; ok {
			close(ch)
			delete(h.waiters, m.Token)
		}
		h.mu.Unlock()
	case protocol.TypeBodyMutation:
		h.mu.Lock()
		if m.Token == h.token {
			h.body = m.HTML
		}
		h.mu.Unlock()
	}
}
