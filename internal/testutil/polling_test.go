package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/liveeval/internal/protocol"
)

func TestPoll(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Poll(context.Background(), func() bool {
		calls++
		return calls >= 3
	}, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = Poll(context.Background(), func() bool { return false }, 20*time.Millisecond, time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestPoll_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Poll(ctx, func() bool { return false }, time.Second, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitForState(t *testing.T) {
	t.Parallel()

	n := 0
	got, err := WaitForState(context.Background(), func() int { n++; return n }, func(v int) bool { return v == 4 }, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
}

func TestCollector(t *testing.T) {
	t.Parallel()

	var c Collector
	e := &protocol.Endpoint{Origin: NewOrigin("frame", t), Source: protocol.SourceGuest, Deliver: c.Deliver}
	go e.Post(protocol.Message{Token: 2, Type: protocol.TypeScriptComplete})

	m := c.Await(t, OfType(protocol.TypeScriptComplete, 2))
	assert.Equal(t, protocol.SourceGuest, m.Source)
	assert.Equal(t, 1, c.Count(OfType(protocol.TypeScriptComplete, 2)))
	assert.Contains(t, e.Origin, "TestCollector")
}
