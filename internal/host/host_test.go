package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/liveeval/internal/build"
	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/marshal"
	"github.com/joeycumines/liveeval/internal/protocol"
	"github.com/joeycumines/liveeval/internal/store"
	"github.com/joeycumines/liveeval/internal/testutil"
)

func newHost(t *testing.T, opts Options) *Host {
	t.Helper()
	if opts.ReadyInterval == 0 {
		opts.ReadyInterval = 5 * time.Millisecond
	}
	h, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func project(src string) build.Project {
	return build.Project{Files: map[string]string{"main.js": src}}
}

func ofKind(kind instrument.Kind) store.Predicate {
	return func(_ protocol.Payload, c instrument.CaptureContext) bool { return c.Kind == kind }
}

func numbers(ps []protocol.Payload) []float64 {
	var out []float64
	for _, p := range ps {
		if p.Result.Kind == marshal.KindNumber {
			out = append(out, p.Result.Number)
		}
	}
	return out
}

func TestHost_Run(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{})
	token, err := h.Run(context.Background(), project("const x = 1 + 1;\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, token)

	st := h.Store().Status()
	assert.Equal(t, token, st.Token)
	assert.True(t, st.Complete)
	assert.True(t, st.OK())

	vars := h.Store().Visible(ofKind(instrument.KindVariable), nil)
	require.Len(t, vars, 1)
	assert.Equal(t, marshal.Number(2), vars[0].Result)
	c, ok := h.Store().Context(vars[0].ContextID)
	require.True(t, ok)
	assert.Equal(t, "x", c.Name)
	assert.Equal(t, "1 + 1", c.SourceText)
}

func TestHost_LoopVariable(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{})
	_, err := h.Run(context.Background(), project("function foo(n) {}\nfor (let i = 0; i < 3; i++) { foo(i); }\n"))
	require.NoError(t, err)

	loop := ofKind(instrument.KindLoopVariable)
	assert.Equal(t, []float64{0, 1, 2}, numbers(h.Store().Visible(loop, nil)))
	assert.Equal(t, []float64{2}, numbers(h.Store().LatestByContext(loop, nil)))
}

func TestHost_BuildError(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{})
	_, err := h.Run(context.Background(), project("let ok = 1;\nconst = ;\n"))
	var be *build.Error
	require.ErrorAs(t, err, &be)

	st := h.Store().Status()
	assert.True(t, st.BuildFailed)
	assert.Equal(t, 1, st.BuildErrors)
	assert.False(t, st.OK())

	all := h.Store().Visible(nil, nil)
	require.Len(t, all, 1, "a failed build produces no captures")
	assert.True(t, all[0].IsError)
	c, ok := h.Store().Context(all[0].ContextID)
	require.True(t, ok)
	assert.Equal(t, instrument.KindBuildError, c.Kind)
	assert.Equal(t, "main.js", c.File)
	assert.Equal(t, 2, c.LineStart)
}

func TestHost_RuntimeErrorMapsToSource(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{})
	_, err := h.Run(context.Background(), project("let a = 1;\nnull.x;\n"))
	require.NoError(t, err)

	errs := h.Store().Visible(ofKind(instrument.KindWindowError), nil)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].IsError)
	c, ok := h.Store().Context(errs[0].ContextID)
	require.True(t, ok)
	assert.Equal(t, "main.js", c.File)
	assert.Equal(t, 2, c.LineStart)
	assert.Equal(t, 1, h.Store().Status().RuntimeErrors)
}

func TestHost_SupersededRunIsDropped(t *testing.T) {
	t.Parallel()

	// A ceiling high enough that run 1 spins until it is interrupted.
	h := newHost(t, Options{SwapTimeout: 5 * time.Second, LoopLimit: 1 << 40})
	var (
		wg   sync.WaitGroup
		err1 error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err1 = h.Run(context.Background(), project("const a = \"first\";\nwhile (true) {}\n"))
	}()
	require.NoError(t, testutil.Poll(context.Background(), func() bool {
		return len(h.Store().Visible(nil, nil)) > 0
	}, testutil.DefaultTimeout, testutil.DefaultInterval), "run 1 never reported")

	token2, err := h.Run(context.Background(), project("const b = 2;\n"))
	require.NoError(t, err)
	wg.Wait()
	assert.ErrorIs(t, err1, ErrSuperseded)
	assert.Equal(t, 2, token2)

	time.Sleep(50 * time.Millisecond)
	all := h.Store().Visible(nil, nil)
	require.Len(t, all, 1)
	assert.Equal(t, marshal.Number(2), all[0].Result)
	assert.Equal(t, 2, h.Store().Status().Token)
}

func TestHost_LateAsyncPayloadsDropped(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{})
	_, err := h.Run(context.Background(), project("setTimeout(() => { const late = \"late\"; }, 150);\n"))
	require.NoError(t, err)
	_, err = h.Run(context.Background(), project("const b = 2;\n"))
	require.NoError(t, err)

	time.Sleep(400 * time.Millisecond)
	for _, p := range h.Store().Visible(nil, nil) {
		assert.NotEqual(t, marshal.String("late"), p.Result, "payload from run 1 leaked into run 2")
	}
	assert.Equal(t, []float64{2}, numbers(h.Store().Visible(nil, nil)))
}

func TestHost_AsyncPayloadsAfterComplete(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{})
	ch, cancel := h.Store().Subscribe()
	defer cancel()
	_, err := h.Run(context.Background(), project("setTimeout(() => { const later = 7; }, 20);\n"))
	require.NoError(t, err)

	deadline := time.After(testutil.DefaultTimeout)
	for len(numbers(h.Store().Visible(nil, nil))) == 0 {
		select {
		case <-ch:
		case <-deadline:
			t.Fatal("timer payload never arrived")
		}
	}
	assert.Equal(t, []float64{7}, numbers(h.Store().Visible(nil, nil)))
}

func TestHost_ThemeAndBody(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{Theme: "light"})
	h.SetTheme("dark")
	_, err := h.Run(context.Background(), project("const theme = document.body.getAttribute(\"data-theme\");\ndocument.body.textContent = \"hi \" + theme;\n"))
	require.NoError(t, err)

	vars := h.Store().Visible(ofKind(instrument.KindVariable), nil)
	require.Len(t, vars, 1)
	assert.Equal(t, marshal.String("dark"), vars[0].Result)
	_, err = testutil.WaitForState(context.Background(), h.Body,
		func(s string) bool { return s == "hi dark" }, testutil.DefaultTimeout, testutil.DefaultInterval)
	require.NoError(t, err, "body is %q", h.Body())
}

func TestHost_EditDebounces(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{Debounce: 20 * time.Millisecond})
	h.Edit(project("const v = 1;\n"))
	h.Edit(project("const v = 2;\n"))

	_, err := testutil.WaitForState(context.Background(), func() []float64 { return numbers(h.Store().Visible(nil, nil)) },
		func(v []float64) bool { return len(v) == 1 }, testutil.DefaultTimeout, testutil.DefaultInterval)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, numbers(h.Store().Visible(nil, nil)))
	assert.Equal(t, 1, h.Token(), "only the last edit ran")
}

func TestHost_Handshake(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{})
	require.NoError(t, testutil.Poll(context.Background(), h.Ready, testutil.DefaultTimeout, testutil.DefaultInterval))
}

func TestHost_RejectsForeignPackets(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{})
	_, err := h.Run(context.Background(), project("1;\n"))
	require.NoError(t, err)
	before := h.Store().Status().Payloads

	forged := &protocol.Endpoint{Origin: "intruder", Source: protocol.SourceGuest, Deliver: h.deliver}
	forged.Post(protocol.Message{Token: 1, Type: protocol.TypeRepl, Payload: &protocol.Payload{ID: 999, ContextID: 1, Result: marshal.Number(1)}})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, h.Store().Status().Payloads)
}

func TestHost_NextTokenWraps(t *testing.T) {
	t.Parallel()

	h, err := New(Options{})
	require.NoError(t, err)
	defer h.Close()

	h.token = maxToken - 1
	assert.Equal(t, 0, h.nextToken())
	assert.Equal(t, 1, h.nextToken())
	for range 1000 {
		assert.NotEqual(t, protocol.NoToken, h.nextToken())
	}
}

func TestHost_Close(t *testing.T) {
	t.Parallel()

	h := newHost(t, Options{})
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err := h.Run(context.Background(), project("1;\n"))
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, h.Start(context.Background()), ErrClosed)
}
