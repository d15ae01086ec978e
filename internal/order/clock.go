package order

import "time"

// nowNanos is split out from New so tests can substitute a deterministic
// Clock in Params without touching the real wall clock.
func nowNanos() int64 {
	return time.Now().UnixNano()
}
