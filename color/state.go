// ABOUTME: Tri-color marking state stored in each object's mark bits
// ABOUTME: Transitions are atomic and monotonic within a cycle

// Package color provides the White/Grey/Black classification of heap
// objects. All transitions are compare-and-swap on the object's mark word,
// so concurrent markers agree on which of them greyed an object.
package color

import (
	"fmt"

	"github.com/prateek/markbarrier/heap"
)

// Color of an object in the current cycle
type Color uint32

const (
	White Color = iota // unreached
	Grey               // reached, not yet scanned
	Black              // reached and scanned
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Grey:
		return "grey"
	case Black:
		return "black"
	}
	return fmt.Sprintf("color(%d)", uint32(c))
}

// MarkingState reads and transitions object colors. It is stateless and
// safe for concurrent use.
type MarkingState struct{}

// NewMarkingState returns a marking state
func NewMarkingState() *MarkingState {
	return &MarkingState{}
}

// Color returns obj's color
func (s *MarkingState) Color(obj *heap.Object) Color {
	return Color(obj.MarkBits().Load())
}

// IsWhite reports whether obj is unreached
func (s *MarkingState) IsWhite(obj *heap.Object) bool { return s.Color(obj) == White }

// IsGrey reports whether obj is reached but not scanned
func (s *MarkingState) IsGrey(obj *heap.Object) bool { return s.Color(obj) == Grey }

// IsBlack reports whether obj is reached and scanned
func (s *MarkingState) IsBlack(obj *heap.Object) bool { return s.Color(obj) == Black }

// WhiteToGrey greys obj and reports whether this call did the transition
func (s *MarkingState) WhiteToGrey(obj *heap.Object) bool {
	return obj.MarkBits().CompareAndSwap(uint32(White), uint32(Grey))
}

// GreyToBlack blackens obj and reports whether this call did the transition
func (s *MarkingState) GreyToBlack(obj *heap.Object) bool {
	return obj.MarkBits().CompareAndSwap(uint32(Grey), uint32(Black))
}

// Clear resets obj to White. Only the collector calls this, between cycles.
func (s *MarkingState) Clear(obj *heap.Object) {
	obj.MarkBits().Store(uint32(White))
}
