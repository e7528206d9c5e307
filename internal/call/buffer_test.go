package call

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
)

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestCandidateBuffer_DrainPreservesOrder(t *testing.T) {
	b := NewCandidateBuffer()
	b.Add(cand("a"))
	b.Add(cand("b"))
	b.Add(cand("c"))

	drained := b.Drain()
	assert.Equal(t, []webrtc.ICECandidateInit{cand("a"), cand("b"), cand("c")}, drained)
}

func TestCandidateBuffer_DrainEmptiesBuffer(t *testing.T) {
	b := NewCandidateBuffer()
	b.Add(cand("a"))

	assert.Len(t, b.Drain(), 1)
	assert.Empty(t, b.Drain())
	assert.Zero(t, b.Len())
}

func TestCandidateBuffer_Clear(t *testing.T) {
	b := NewCandidateBuffer()
	b.Add(cand("a"))
	b.Add(cand("b"))
	b.Clear()

	assert.Zero(t, b.Len())
	assert.Empty(t, b.Drain())
}
