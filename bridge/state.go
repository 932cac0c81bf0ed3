package bridge

import "time"

// sessionState is the bridge-scoped archery-session tracker: T0 opens a
// session, ARROW_END/TIMEOUT_END closes it. A device disconnect never
// closes a session on its own, but does reset the inferred-start latch so
// the next connection's first T0 synthesizes Timer_START_BTN again.
type sessionState struct {
	t0            time.Time
	pendingOpen   bool
	startInferred bool
}

// open marks a session open at t0 and reports whether this is the first T0
// since connect (or since the last close/reset) — the caller must
// synthesize an inferred Timer_START_BTN event when it is.
func (s *sessionState) open(t0 time.Time) (inferStart bool) {
	inferStart = !s.startInferred
	s.startInferred = true
	s.t0 = t0
	s.pendingOpen = true
	return inferStart
}

func (s *sessionState) close() {
	s.pendingOpen = false
	s.startInferred = false
}

// resetStart clears the inferred-start latch without touching pendingOpen,
// so a fresh connect or a disconnect makes the next T0 synthesize
// Timer_START_BTN again even without an explicit session close.
func (s *sessionState) resetStart() {
	s.startInferred = false
}

// relMs returns the milliseconds elapsed since the current session's T0,
// or false if no session is open.
func (s *sessionState) relMs(now time.Time) (float64, bool) {
	if !s.pendingOpen {
		return 0, false
	}
	return float64(now.Sub(s.t0).Microseconds()) / 1000, true
}
