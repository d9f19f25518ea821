package testutil

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/liveeval/internal/protocol"
)

var originCounter atomic.Int64

// NewOrigin returns a process-unique endpoint origin traceable to the test.
func NewOrigin(prefix string, t testing.TB) string {
	return fmt.Sprintf("%s-%s-%d", prefix, strings.ReplaceAll(t.Name(), "/", "-_-"), originCounter.Add(1))
}

// Collector records every packet delivered to it and decodes them on demand.
// It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	packets []protocol.Packet
}

// Deliver records p. It has the signature of protocol.Endpoint.Deliver.
func (c *Collector) Deliver(p protocol.Packet) {
	c.mu.Lock()
	c.packets = append(c.packets, p)
	c.mu.Unlock()
}

// Messages decodes every packet recorded so far, skipping undecodable ones.
func (c *Collector) Messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.packets))
	for _, p := range c.packets {
		if m, err := protocol.Decode(p.Data); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Await waits until a recorded message satisfies match and returns it.
func (c *Collector) Await(t testing.TB, match func(protocol.Message) bool) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for {
		for _, m := range c.Messages() {
			if match(m) {
				return m
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for message; got %d messages", len(c.Messages()))
		}
		time.Sleep(DefaultInterval)
	}
}

// Count returns how many recorded messages satisfy match.
func (c *Collector) Count(match func(protocol.Message) bool) int {
	n := 0
	for _, m := range c.Messages() {
		if match(m) {
			n++
		}
	}
	return n
}

// OfType matches messages by type and token.
func OfType(typ protocol.Type, token int) func(protocol.Message) bool {
	return func(m protocol.Message) bool { return m.Type == typ && m.Token == token }
}
