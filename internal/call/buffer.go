package call

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// CandidateBuffer queues remote connectivity candidates that arrive before
// the remote description has been applied. Candidates are drained exactly
// once, in arrival order, the moment the session can consume them.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

func (b *CandidateBuffer) Add(cand webrtc.ICECandidateInit) {
	b.mu.Lock()
	b.pending = append(b.pending, cand)
	b.mu.Unlock()
}

// Drain returns the queued candidates in arrival order and empties the
// buffer.
func (b *CandidateBuffer) Drain() []webrtc.ICECandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := b.pending
	b.pending = nil
	return drained
}

func (b *CandidateBuffer) Clear() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
