// Package latency measures round trips to a fixed set of small static resources.
package latency

// WindowSize is the number of trailing samples kept per target.
const WindowSize = 10

// Window is a fixed trailing history; it starts as ten zeros and Push evicts the oldest.
type Window [WindowSize]int

func (w *Window) Push(ms int) {
	copy(w[:], w[1:])
	w[WindowSize-1] = ms
}

// Values returns the history oldest first.
func (w Window) Values() []int {
	out := make([]int, WindowSize)
	copy(out, w[:])
	return out
}

// Class is the three-tier colouring of a sample.
type Class string

const (
	ClassNeutral Class = "neutral"
	ClassGood    Class = "good"
	ClassWarn    Class = "warn"
	ClassPoor    Class = "poor"
)

func Classify(ms *int) Class {
	switch {
	case ms == nil:
		return ClassNeutral
	case *ms < 100:
		return ClassGood
	case *ms < 300:
		return ClassWarn
	default:
		return ClassPoor
	}
}
