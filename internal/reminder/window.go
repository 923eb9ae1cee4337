package reminder

import "time"

// DefaultRetention is the age beyond which a pending reminder is no longer
// fired automatically.
const DefaultRetention = 7 * 24 * time.Hour

// Window returns the due window for a tick at now: the current UTC minute,
// with the start clamped to the retention cutoff. Both bounds are inclusive.
func Window(now time.Time, retention time.Duration) (start, end time.Time) {
	now = now.UTC()
	minute := now.Truncate(time.Minute)
	start = minute
	end = minute.Add(time.Minute - time.Nanosecond)
	if retention > 0 {
		if cutoff := now.Add(-retention); cutoff.After(start) {
			start = cutoff
		}
	}
	return start, end
}
