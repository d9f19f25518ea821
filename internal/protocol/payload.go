package protocol

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/marshal"
)

// PayloadID identifies one captured occurrence. Valid ids are positive.
type PayloadID int64

// Promise states carried by Payload.Promise.
const (
	PromisePending   = marshal.PromisePending
	PromiseFulfilled = marshal.PromiseFulfilled
	PromiseRejected  = marshal.PromiseRejected
)

// Payload is one observed runtime occurrence of a capture site.
type Payload struct {
	ID        PayloadID     `json:"id"`
	ContextID int           `json:"contextId"`
	Result    marshal.Value `json:"result"`
	// Entries holds the arguments of a console call, in call order.
	Entries   []NamedValue `json:"entries,omitempty"`
	IsError   bool         `json:"isError,omitempty"`
	Promise   string       `json:"promise,omitempty"`
	Timestamp int64        `json:"timestamp"`
	// Context is set when the site was synthesized at runtime (uncaught
	// errors), the first time it is reported.
	Context *instrument.CaptureContext `json:"context,omitempty"`
}

// NamedValue is one console argument. Name is empty unless the argument was
// a plain identifier.
type NamedValue struct {
	Name  string        `json:"name,omitempty"`
	Value marshal.Value `json:"value"`
}

// Sequence issues payload ids. One Sequence is shared by every frame of a
// host so ids are unique across runs.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next id, starting at 1.
func (s *Sequence) Next() PayloadID {
	return PayloadID(s.n.Add(1))
}

// Clock issues strictly increasing timestamps in microseconds since the Unix
// epoch.
type Clock struct {
	mu   sync.Mutex
	last int64
	// Now defaults to time.Now.
	Now func() time.Time
}

// Stamp returns a timestamp greater than every previous one.
func (c *Clock) Stamp() int64 {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now().UnixMicro()
	c.mu.Lock()
	defer c.mu.Unlock()
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	return t
}
