package store

import (
	"slices"

	"github.com/joeycumines/liveeval/internal/protocol"
)

// Rewind is the time-travel cursor. The zero value is inactive. Navigation
// only moves over an already-stored sequence; nothing is re-run.
type Rewind struct {
	Active  bool                `json:"active"`
	Current *protocol.PayloadID `json:"currentPayloadId,omitempty"`
}

// Cutoff returns the id visible payloads stop at, or nil when inactive.
func (r Rewind) Cutoff() *protocol.PayloadID {
	if !r.Active {
		return nil
	}
	return r.Current
}

// First moves to the oldest payload of seq.
func (r Rewind) First(seq []protocol.PayloadID) Rewind {
	if len(seq) == 0 {
		return r
	}
	return at(seq[0])
}

// Last moves to the newest payload of seq.
func (r Rewind) Last(seq []protocol.PayloadID) Rewind {
	if len(seq) == 0 {
		return r
	}
	return at(seq[len(seq)-1])
}

// Prev moves one payload back, entering rewind at the newest payload when
// inactive.
func (r Rewind) Prev(seq []protocol.PayloadID) Rewind {
	i, ok := r.index(seq)
	if !ok {
		return r.Last(seq)
	}
	return at(seq[max(i-1, 0)])
}

// Next moves one payload forward, stopping at the newest.
func (r Rewind) Next(seq []protocol.PayloadID) Rewind {
	i, ok := r.index(seq)
	if !ok {
		return r.Last(seq)
	}
	return at(seq[min(i+1, len(seq)-1)])
}

// Exit leaves rewind mode.
func (r Rewind) Exit() Rewind { return Rewind{} }

func (r Rewind) index(seq []protocol.PayloadID) (int, bool) {
	if !r.Active || r.Current == nil {
		return 0, false
	}
	i := slices.Index(seq, *r.Current)
	return i, i >= 0
}

func at(id protocol.PayloadID) Rewind {
	return Rewind{Active: true, Current: &id}
}
