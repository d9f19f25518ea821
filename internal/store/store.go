// Package store holds the captured history of the current run.
//
// A Store is an arrival-ordered sequence of payloads plus a map of the latest
// payload per capture context. Both belong to a single run token and are
// cleared together when a new run starts. Payloads carrying any other token
// are dropped.
//
// The sequence is bounded: once Capacity payloads have arrived the oldest is
// evicted on each add. Latest-by-context entries survive eviction, so a site
// that stopped reporting keeps its last value. Everything else the store
// indexes by payload id covers the retained window only.
package store

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/protocol"
)

// DefaultCapacity is the default number of payloads retained per run.
const DefaultCapacity = 10000

// Options configures a Store.
type Options struct {
	// Capacity bounds the retained sequence. Zero means DefaultCapacity.
	Capacity int
	Logger   *slog.Logger
}

// Status aggregates the state of the current run, independent of the payload
// stream.
type Status struct {
	Token int `json:"token"`
	// Complete is set once the run reported script-complete.
	Complete bool `json:"complete"`
	// BuildFailed distinguishes a failed build from one that produced no
	// output.
	BuildFailed   bool  `json:"buildFailed"`
	Payloads      int   `json:"payloads"`
	Evicted       int64 `json:"evicted"`
	Contexts      int   `json:"contexts"`
	BuildErrors   int   `json:"buildErrors"`
	BuildWarnings int   `json:"buildWarnings"`
	RuntimeErrors int   `json:"runtimeErrors"`
}

// OK reports whether the run built and raised no errors.
func (s Status) OK() bool {
	return !s.BuildFailed && s.BuildErrors == 0 && s.RuntimeErrors == 0
}

type entry struct {
	pos     int64
	payload protocol.Payload
}

// Store is safe for concurrent use.
type Store struct {
	log *slog.Logger

	mu       sync.RWMutex
	token    int
	seq      *ring[entry]
	pos      map[protocol.PayloadID]int64
	latest   map[int]entry
	contexts map[int]instrument.CaptureContext
	status   Status
	rewind   Rewind
	subs     map[chan struct{}]struct{}
}

// New returns an empty store with no current run.
func New(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		log:      log,
		token:    protocol.NoToken,
		seq:      newRing[entry](opts.Capacity),
		pos:      make(map[protocol.PayloadID]int64),
		latest:   make(map[int]entry),
		contexts: make(map[int]instrument.CaptureContext),
		status:   Status{Token: protocol.NoToken},
		subs:     make(map[chan struct{}]struct{}),
	}
}

// Reset starts a new run: token becomes current and all history, contexts,
// status and rewind state are cleared.
func (s *Store) Reset(token int) {
	s.mu.Lock()
	s.token = token
	s.seq.reset()
	clear(s.pos)
	clear(s.latest)
	clear(s.contexts)
	s.status = Status{Token: token}
	s.rewind = Rewind{}
	s.mu.Unlock()
	s.notify()
}

// Token returns the current run token.
func (s *Store) Token() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetContexts registers the capture sites of token's build.
func (s *Store) SetContexts(token int, contexts []instrument.CaptureContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return false
	}
	for _, c := range contexts {
		s.contexts[c.ID] = c
	}
	s.status.Contexts = len(s.contexts)
	return true
}

// Context returns a registered capture site.
func (s *Store) Context(id int) (instrument.CaptureContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	return c, ok
}

// Contexts returns every registered capture site, ordered by id.
func (s *Store) Contexts() []instrument.CaptureContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]instrument.CaptureContext, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b instrument.CaptureContext) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Add appends p if token is current, reporting whether it was stored. A
// payload id already in the retained window is ignored. Inline contexts carried by
// the payload are registered.
func (s *Store) Add(token int, p protocol.Payload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		s.log.Debug("dropping stale payload", "token", token, "current", s.token, "payload", p.ID)
		return false
	}
	if _, dup := s.pos[p.ID]; dup {
		return false
	}
	if p.Context != nil {
		s.contexts[p.Context.ID] = *p.Context
		s.status.Contexts = len(s.contexts)
	}
	e := entry{pos: s.seq.total, payload: p}
	if old, evicted := s.seq.push(e); evicted {
		s.status.Evicted++
		s.forget(old.payload.ID)
	}
	s.pos[p.ID] = e.pos
	s.latest[p.ContextID] = e
	s.status.Payloads++
	switch kind := s.contexts[p.ContextID].Kind; {
	case kind == instrument.KindBuildWarning:
		s.status.BuildWarnings++
	case !p.IsError:
	case kind == instrument.KindBuildError:
		s.status.BuildErrors++
	default:
		s.status.RuntimeErrors++
	}
	return true
}

// MarkBuildFailed records that token's build did not produce a program.
func (s *Store) MarkBuildFailed(token int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return false
	}
	s.status.BuildFailed = true
	s.status.Complete = true
	return true
}

// MarkComplete records token's script-complete.
func (s *Store) MarkComplete(token int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return false
	}
	s.status.Complete = true
	return true
}

// Status returns the aggregate state of the current run.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Refresh notifies subscribers that token's history changed. Notifications
// coalesce: a subscriber that has not yet drained the previous one sees a
// single update.
func (s *Store) Refresh(token int) bool {
	if s.Token() != token {
		return false
	}
	s.notify()
	return true
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel signalled on every Refresh and Reset, and a
// func that ends the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

// IDs returns the retained payload ids in arrival order.
func (s *Store) IDs() []protocol.PayloadID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.PayloadID, s.seq.len())
	for i := range out {
		out[i] = s.seq.at(i).payload.ID
	}
	return out
}

// forget drops an evicted id from the position index. A rewind cursor on it
// moves to the oldest retained payload. Callers hold mu.
func (s *Store) forget(id protocol.PayloadID) {
	delete(s.pos, id)
	if cur := s.rewind.Current; cur != nil && *cur == id && s.seq.len() > 0 {
		oldest := s.seq.at(0).payload.ID
		s.rewind.Current = &oldest
	}
}

// cutoffPos resolves a cutoff id to a sequence position. A nil or unknown
// cutoff means no limit.
func (s *Store) cutoffPos(cutoff *protocol.PayloadID) (int64, bool) {
	if cutoff == nil {
		return 0, false
	}
	pos, ok := s.pos[*cutoff]
	return pos, ok
}

func (s *Store) contextOf(p protocol.Payload) instrument.CaptureContext {
	if c, ok := s.contexts[p.ContextID]; ok {
		return c
	}
	return instrument.CaptureContext{ID: p.ContextID}
}

// Visible returns the retained payloads accepted by pred, in arrival order,
// up to and including cutoff. A nil pred accepts everything.
func (s *Store) Visible(pred Predicate, cutoff *protocol.PayloadID) []protocol.Payload {
	if pred == nil {
		pred = All
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit, limited := s.cutoffPos(cutoff)
	var out []protocol.Payload
	for i := range s.seq.len() {
		e := s.seq.at(i)
		if limited && e.pos > limit {
			break
		}
		if pred(e.payload, s.contextOf(e.payload)) {
			out = append(out, e.payload)
		}
	}
	return out
}

// LatestByContext returns, for each context with a payload accepted by pred,
// only its most recent one at or before cutoff. Results are in arrival order
// of those payloads.
func (s *Store) LatestByContext(pred Predicate, cutoff *protocol.PayloadID) []protocol.Payload {
	if pred == nil {
		pred = All
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit, limited := s.cutoffPos(cutoff)

	// Evicted history is only reachable through the latest map.
	found := make(map[int]entry, len(s.latest))
	for id, e := range s.latest {
		if limited && e.pos > limit {
			continue
		}
		found[id] = e
	}
	for i := range s.seq.len() {
		e := s.seq.at(i)
		if limited && e.pos > limit {
			break
		}
		if cur, ok := found[e.payload.ContextID]; !ok || cur.pos < e.pos {
			found[e.payload.ContextID] = e
		}
	}

	picked := make([]entry, 0, len(found))
	for _, e := range found {
		if pred(e.payload, s.contextOf(e.payload)) {
			picked = append(picked, e)
		}
	}
	slices.SortFunc(picked, func(a, b entry) int { return cmp.Compare(a.pos, b.pos) })
	out := make([]protocol.Payload, len(picked))
	for i, e := range picked {
		out[i] = e.payload
	}
	return out
}

// Latest returns the most recent payload of a context.
func (s *Store) Latest(contextID int) (protocol.Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.latest[contextID]
	return e.payload, ok
}

// Rewind returns the current time-travel cursor.
func (s *Store) Rewind() Rewind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rewind
}

// Navigate applies move to the rewind cursor over the retained ids and
// returns the result.
func (s *Store) Navigate(move func(Rewind, []protocol.PayloadID) Rewind) Rewind {
	ids := s.IDs()
	s.mu.Lock()
	s.rewind = move(s.rewind, ids)
	r := s.rewind
	s.mu.Unlock()
	s.notify()
	return r
}
