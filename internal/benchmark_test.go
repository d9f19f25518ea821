// Package internal_test contains performance benchmarks and regression tests for liveeval.
package internal_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/liveeval/internal/command"
	"github.com/joeycumines/liveeval/internal/config"
	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/marshal"
	"github.com/joeycumines/liveeval/internal/protocol"
	"github.com/joeycumines/liveeval/internal/render"
	"github.com/joeycumines/liveeval/internal/store"
)

// Performance thresholds (in microseconds) for regression detection
const (
	thresholdInstrumentSnippet = 20000
	thresholdStoreAdd          = 50
	thresholdFilterEval        = 50
)

// snippet is a representative edited file: declarations, a loop, a
// function with returns and console output.
var snippet = strings.Repeat(`const items = [1, 2, 3, 4];
let total = 0;
for (let i = 0; i < items.length; i++) {
	total += items[i];
}
function scale(n, by) {
	if (n < 0) return 0;
	return n * by;
}
console.log("total", total, scale(total, 2));
`, 10)

func fillStore(n int) *store.Store {
	st := store.New(store.Options{Capacity: n})
	st.Reset(1)
	st.SetContexts(1, []instrument.CaptureContext{
		{ID: 1, Kind: instrument.KindLoopVariable, File: "main.js", LineStart: 1, Name: "i"},
		{ID: 2, Kind: instrument.KindVariable, File: "main.js", LineStart: 2, Name: "total"},
	})
	for i := range n {
		st.Add(1, protocol.Payload{ID: protocol.PayloadID(i + 1), ContextID: 1 + i%2, Result: marshal.Number(float64(i))})
	}
	return st
}

// BenchmarkInstrument benchmarks the source transform.
func BenchmarkInstrument(b *testing.B) {
	b.ReportAllocs()
	counter := instrument.NewCounter(0)
	for b.Loop() {
		if _, err := instrument.Instrument(snippet, "main.js", counter, nil); err != nil {
			b.Fatalf("instrument: %v", err)
		}
	}
}

// BenchmarkStore benchmarks history operations.
func BenchmarkStore(b *testing.B) {
	b.Run("Add", func(b *testing.B) {
		b.ReportAllocs()
		st := store.New(store.Options{Capacity: 1000})
		st.Reset(1)
		id := protocol.PayloadID(0)
		for b.Loop() {
			id++
			st.Add(1, protocol.Payload{ID: id, ContextID: 1, Result: marshal.Number(1)})
		}
	})

	b.Run("LatestByContext", func(b *testing.B) {
		b.ReportAllocs()
		st := fillStore(store.DefaultCapacity)
		for b.Loop() {
			_ = st.LatestByContext(nil, nil)
		}
	})

	b.Run("VisibleWithFilter", func(b *testing.B) {
		b.ReportAllocs()
		st := fillStore(store.DefaultCapacity)
		pred, err := store.CompileFilter(`kind == "variable" && value > 100`)
		if err != nil {
			b.Fatal(err)
		}
		for b.Loop() {
			_ = st.Visible(pred, nil)
		}
	})
}

// BenchmarkRender benchmarks listing output.
func BenchmarkRender(b *testing.B) {
	st := fillStore(1000)
	payloads := st.LatestByContext(nil, nil)
	l := render.Listing{File: "main.js", Source: snippet, Width: 100, Styles: render.PlainStyles()}
	b.ReportAllocs()
	for b.Loop() {
		_ = l.Render(render.Decorate("main.js", payloads, st.Context))
	}
}

// BenchmarkConfigLoading benchmarks configuration parsing and resolution.
func BenchmarkConfigLoading(b *testing.B) {
	content := "# Test configuration\nloop-limit 1000\ntheme dark\n[run]\njson true\n"

	b.Run("LoadFromReader", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			if _, err := config.LoadFromReader(strings.NewReader(content)); err != nil {
				b.Fatalf("failed to load config: %v", err)
			}
		}
	})

	b.Run("Playground", func(b *testing.B) {
		cfg, err := config.LoadFromReader(strings.NewReader(content))
		if err != nil {
			b.Fatal(err)
		}
		b.ReportAllocs()
		for b.Loop() {
			_ = cfg.Playground()
		}
	})
}

// BenchmarkCommandDispatch benchmarks registry dispatch of a trivial command.
func BenchmarkCommandDispatch(b *testing.B) {
	r := command.NewRegistry("liveeval")
	command.RegisterBuiltins(r, config.NewConfig(), "", "bench", nil)
	var out bytes.Buffer
	b.ReportAllocs()
	for b.Loop() {
		out.Reset()
		if err := r.Dispatch(context.Background(), []string{"version"}, &out, &out); err != nil {
			b.Fatal(err)
		}
	}
}

// TestPerformanceRegression tests that critical operations complete within acceptable thresholds.
func TestPerformanceRegression(t *testing.T) {
	t.Run("Instrument", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping in short mode")
		}
		const iterations = 20
		start := time.Now()
		for range iterations {
			if _, err := instrument.Instrument(snippet, "main.js", nil, nil); err != nil {
				t.Fatalf("instrument: %v", err)
			}
		}
		avgUs := time.Since(start).Microseconds() / iterations
		if avgUs > thresholdInstrumentSnippet {
			t.Errorf("instrument too slow: avg %d μs (threshold: %d μs)", avgUs, thresholdInstrumentSnippet)
		}
		t.Logf("instrument: avg %d μs (threshold: %d μs)", avgUs, thresholdInstrumentSnippet)
	})

	t.Run("StoreAdd", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping in short mode")
		}
		const iterations = 10000
		st := store.New(store.Options{Capacity: 1000})
		st.Reset(1)
		start := time.Now()
		for i := range iterations {
			st.Add(1, protocol.Payload{ID: protocol.PayloadID(i + 1), ContextID: i % 7, Result: marshal.Number(1)})
		}
		avgUs := time.Since(start).Microseconds() / iterations
		if avgUs > thresholdStoreAdd {
			t.Errorf("store add too slow: avg %d μs (threshold: %d μs)", avgUs, thresholdStoreAdd)
		}
	})

	t.Run("FilterEval", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping in short mode")
		}
		pred, err := store.CompileFilter(`kind == "variable" && name == "total" && value > 1`)
		if err != nil {
			t.Fatal(err)
		}
		c := instrument.CaptureContext{ID: 1, Kind: instrument.KindVariable, Name: "total"}
		const iterations = 10000
		start := time.Now()
		for i := range iterations {
			_ = pred(protocol.Payload{ID: protocol.PayloadID(i), ContextID: 1, Result: marshal.Number(float64(i))}, c)
		}
		avgUs := time.Since(start).Microseconds() / iterations
		if avgUs > thresholdFilterEval {
			t.Errorf("filter too slow: avg %d μs (threshold: %d μs)", avgUs, thresholdFilterEval)
		}
	})
}
