package protocol

import (
	"bytes"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/liveeval/internal/marshal"
)

func TestReceive(t *testing.T) {
	t.Parallel()

	repl, err := Encode(Message{Source: SourceGuest, Token: 3, Type: TypeRepl, Payload: &Payload{ID: 1, ContextID: 2, Result: marshal.Number(2)}})
	require.NoError(t, err)

	for _, tc := range []struct {
		name    string
		packet  Packet
		source  string
		wantErr bool
	}{
		{name: "valid", packet: Packet{Origin: "frame-a", Data: repl}, source: SourceGuest},
		{name: "unknown origin", packet: Packet{Origin: "elsewhere", Data: repl}, source: SourceGuest, wantErr: true},
		{name: "wrong source tag", packet: Packet{Origin: "frame-a", Data: repl}, source: SourceHost, wantErr: true},
		{name: "not json", packet: Packet{Origin: "frame-a", Data: []byte("{")}, source: SourceGuest, wantErr: true},
		{name: "unknown type", packet: Packet{Origin: "frame-a", Data: []byte(`{"source":"liveeval-guest","type":"nope"}`)}, source: SourceGuest, wantErr: true},
		{name: "repl without payload", packet: Packet{Origin: "frame-a", Data: []byte(`{"source":"liveeval-guest","type":"repl","token":1}`)}, source: SourceGuest, wantErr: true},
		{name: "theme from guest", packet: Packet{Origin: "frame-a", Data: []byte(`{"source":"liveeval-guest","type":"update-theme"}`)}, source: SourceGuest, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, err := Receive(tc.packet, tc.source, "frame-a", "frame-b")
			if tc.wantErr {
				require.ErrorIs(t, err, ErrRejected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 3, m.Token)
			require.NotNil(t, m.Payload)
			assert.Equal(t, 2.0, m.Payload.Result.Number)
		})
	}
}

func TestEndpoint_PostDropsUnencodable(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	var delivered []Packet
	e := &Endpoint{
		Origin:  "frame-a",
		Source:  SourceGuest,
		Deliver: func(p Packet) { delivered = append(delivered, p) },
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	}

	bad := &Payload{ID: 1, Result: marshal.Value{Kind: marshal.KindNumber, Number: math.NaN()}}
	assert.False(t, e.Post(Message{Token: 1, Type: TypeRepl, Payload: bad}))
	assert.Empty(t, delivered)
	assert.Contains(t, logs.String(), "dropping message")

	assert.True(t, e.Post(Message{Token: 1, Type: TypeScriptComplete}))
	require.Len(t, delivered, 1)
	m, err := Receive(delivered[0], SourceGuest, "frame-a")
	require.NoError(t, err)
	assert.Equal(t, TypeScriptComplete, m.Type)
}

func TestSequence(t *testing.T) {
	t.Parallel()

	var s Sequence
	assert.Equal(t, PayloadID(1), s.Next())
	assert.Equal(t, PayloadID(2), s.Next())
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	t.Parallel()

	fixed := time.Unix(100, 0)
	c := &Clock{Now: func() time.Time { return fixed }}
	a, b := c.Stamp(), c.Stamp()
	assert.Equal(t, fixed.UnixMicro(), a)
	assert.Equal(t, a+1, b)
}
