package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte
}

// replayRing is a fixed-size circular buffer of recent event envelopes.
// Late-joining clients replay from it instead of missing events.
type replayRing struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int
	full bool
}

func newReplayRing(capacity int) *replayRing {
	if capacity <= 0 {
		capacity = 500
	}
	return &replayRing{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

// push appends an envelope, overwriting the oldest when full.
func (r *replayRing) push(seq int64, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	r.buf[r.pos] = replayEntry{Seq: seq, Data: cp}
	r.pos = (r.pos + 1) % r.cap
	if r.pos == 0 && !r.full {
		r.full = true
	}
}

// since returns buffered envelopes with seq > afterSeq, oldest first.
func (r *replayRing) since(afterSeq int64) [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out [][]byte
	for i := 0; i < r.len(); i++ {
		e := r.buf[r.index(i)]
		if e.Seq > afterSeq {
			out = append(out, e.Data)
		}
	}
	return out
}

func (r *replayRing) len() int {
	if r.full {
		return r.cap
	}
	return r.pos
}

func (r *replayRing) index(logical int) int {
	if r.full {
		return (r.pos + logical) % r.cap
	}
	return logical
}
