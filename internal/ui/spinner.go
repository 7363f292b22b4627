package ui

import (
	"sync"
	"time"
)

// Spinner yields the glyph shown next to lanes that are still resolving.
type Spinner struct {
	mu       sync.Mutex
	chars    []rune
	current  int
	lastSpin time.Time
	interval time.Duration
	now      func() time.Time
}

func NewSpinner() *Spinner {
	return &Spinner{
		chars:    []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'},
		interval: 100 * time.Millisecond,
		now:      time.Now,
	}
}

// Frame returns the current glyph, advancing once per interval.
func (s *Spinner) Frame() string {
	if s == nil {
		return "…"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.lastSpin.IsZero() {
		s.lastSpin = now
	}
	if now.Sub(s.lastSpin) >= s.interval {
		s.current = (s.current + 1) % len(s.chars)
		s.lastSpin = now
	}
	return string(s.chars[s.current])
}
