// ABOUTME: Tests for tri-color transitions on marking bits

package color

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prateek/markbarrier/heap"
)

func TestTransitions(t *testing.T) {
	h := heap.NewHeap("test")
	obj := h.Allocate(h.Region(heap.OldSpace), 0)
	s := NewMarkingState()

	assert.True(t, s.IsWhite(obj))
	assert.False(t, s.GreyToBlack(obj), "white cannot go straight to black")

	assert.True(t, s.WhiteToGrey(obj))
	assert.True(t, s.IsGrey(obj))
	assert.False(t, s.WhiteToGrey(obj), "second grey is a no-op")

	assert.True(t, s.GreyToBlack(obj))
	assert.True(t, s.IsBlack(obj))
	assert.False(t, s.WhiteToGrey(obj), "black never regresses")
	assert.Equal(t, "black", s.Color(obj).String())

	s.Clear(obj)
	assert.True(t, s.IsWhite(obj))
}

func TestConcurrentWhiteToGrey(t *testing.T) {
	h := heap.NewHeap("test")
	obj := h.Allocate(h.Region(heap.OldSpace), 0)
	s := NewMarkingState()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.WhiteToGrey(obj) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
