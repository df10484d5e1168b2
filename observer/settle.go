package observer

import "time"

// settler delays the rescan after form-bearing insertions so a burst of
// DOM writes is covered by one pass. Unlike a debouncer it does not
// re-arm on every event: the first insertion starts the window and later
// ones ride along.
type settler struct {
	delay   time.Duration
	timer   *time.Timer
	timerCh <-chan time.Time
}

func newSettler(delay time.Duration) *settler {
	return &settler{delay: delay}
}

// arm starts the settle window if one is not already running.
func (s *settler) arm() {
	if s.timerCh != nil {
		return
	}
	s.timer = time.NewTimer(s.delay)
	s.timerCh = s.timer.C
}

// timerC returns the channel that fires when the window expires, or nil
// when no window is armed (blocks forever in a select).
func (s *settler) timerC() <-chan time.Time {
	return s.timerCh
}

// reset clears the window after it fired or was abandoned.
func (s *settler) reset() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = nil
	s.timerCh = nil
}
