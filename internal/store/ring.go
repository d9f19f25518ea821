package store

// ring is a fixed-capacity FIFO. Once full, each push overwrites the oldest
// entry. It is not safe for concurrent use; Store guards it.
type ring[T any] struct {
	entries  []T
	capacity int
	head     int   // index of the next write once full
	total    int64 // entries ever pushed
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{
		entries:  make([]T, 0, min(capacity, 1024)),
		capacity: capacity,
	}
}

// push appends v, returning the evicted entry if there was one.
func (r *ring[T]) push(v T) (evicted T, ok bool) {
	r.total++
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, v)
		return evicted, false
	}
	evicted = r.entries[r.head]
	r.entries[r.head] = v
	r.head = (r.head + 1) % r.capacity
	return evicted, true
}

func (r *ring[T]) len() int { return len(r.entries) }

// at returns the i-th retained entry, oldest first.
func (r *ring[T]) at(i int) T {
	if len(r.entries) < r.capacity {
		return r.entries[i]
	}
	return r.entries[(r.head+i)%r.capacity]
}

func (r *ring[T]) reset() {
	clear(r.entries)
	r.entries = r.entries[:0]
	r.head = 0
	r.total = 0
}
