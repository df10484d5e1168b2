package observer

import "time"

// guard paces full scans and deduplicates script alerts.
//
// Scans are rate-limited to one per throttle window; callers drop the
// pass silently when denied, the next trigger will cover the same state.
// Script sources alert once per page visit; the set resets on navigation
// so a revisited page re-reports.
type guard struct {
	throttle time.Duration
	last     time.Time
	alerted  map[string]struct{}
}

func newGuard(throttle time.Duration) *guard {
	return &guard{
		throttle: throttle,
		alerted:  make(map[string]struct{}),
	}
}

// allowScan reports whether a full scan may run now, and if so starts a
// new throttle window.
func (g *guard) allowScan(now time.Time) bool {
	if !g.last.IsZero() && now.Sub(g.last) < g.throttle {
		return false
	}
	g.last = now
	return true
}

// firstSight reports whether a script source has not alerted yet this
// visit, registering it as seen.
func (g *guard) firstSight(src string) bool {
	if _, seen := g.alerted[src]; seen {
		return false
	}
	g.alerted[src] = struct{}{}
	return true
}

// resetPage clears the dedup set. Called on navigation; the throttle
// window deliberately survives so a navigation storm cannot bypass it.
func (g *guard) resetPage() {
	g.alerted = make(map[string]struct{})
}
