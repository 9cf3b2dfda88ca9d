package sink

import (
	"context"
	"time"
)

// Sink persists record batches. High-rate batches are written every cycle,
// low-rate batches once per day.
type Sink interface {
	WriteHighRate(ctx context.Context, records []Record) error
	WriteLowRate(ctx context.Context, records []Record) error
	Close() error
}

// Window is a half-open time range [Start, Stop).
type Window struct {
	Start time.Time
	Stop  time.Time
}

// LastDay returns the 24 hours ending at now.
func LastDay(now time.Time) Window {
	return Window{Start: now.Add(-24 * time.Hour), Stop: now}
}

// Integrator is implemented by sinks that can integrate the stored power
// field over a window, per line or inverter group.
type Integrator interface {
	QueryIntegral(ctx context.Context, w Window) ([]GroupTotal, error)
}
