package engine

import "time"

// NextWait returns how long to sleep from now until the next multiple of
// interval since the Unix epoch. A now exactly on a boundary waits a full
// interval.
func NextWait(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	elapsed := time.Duration(now.UnixNano()) % interval
	return interval - elapsed
}
