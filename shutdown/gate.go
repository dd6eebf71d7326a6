package shutdown

import "sync/atomic"

// gate packs the coordinator state and the in-flight counter into one
// atomic word so that admission (state check + increment) and the
// RUNNING→DRAINING transition are ordered by the same compare-and-swap.
//
//	bits 63..56  state
//	bits 55..0   in-flight count
type gate struct {
	word atomic.Uint64
}

const (
	stateShift = 56
	countMask  = uint64(1)<<stateShift - 1
)

func unpack(w uint64) (State, int64) {
	return State(w >> stateShift), int64(w & countMask)
}

func (g *gate) load() (State, int64) {
	return unpack(g.word.Load())
}

func (g *gate) state() State {
	s, _ := g.load()
	return s
}

func (g *gate) count() int64 {
	_, n := g.load()
	return n
}

// admit increments the counter only while the state is RUNNING.
func (g *gate) admit() bool {
	for {
		w := g.word.Load()
		if s, n := unpack(w); s != StateRunning || uint64(n) == countMask {
			return false
		}
		if g.word.CompareAndSwap(w, w+1) {
			return true
		}
	}
}

// release decrements the counter, never below zero. It returns the count
// after the decrement and false if there was nothing to release.
func (g *gate) release() (int64, bool) {
	for {
		w := g.word.Load()
		if w&countMask == 0 {
			return 0, false
		}
		if g.word.CompareAndSwap(w, w-1) {
			return int64((w - 1) & countMask), true
		}
	}
}

// advance moves the state from `from` to `to`, preserving the counter.
// It reports false if the current state is not `from`.
func (g *gate) advance(from, to State) bool {
	for {
		w := g.word.Load()
		if State(w>>stateShift) != from {
			return false
		}
		next := uint64(to)<<stateShift | w&countMask
		if g.word.CompareAndSwap(w, next) {
			return true
		}
	}
}
