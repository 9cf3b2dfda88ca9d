package rollup

import (
	"context"
	"time"

	"envoy-logger/internal/sink"
)

// Accumulator integrates power client-side for sinks that cannot query
// their own history. It keeps the power field of every observed record for
// the retention period.
type Accumulator struct {
	retention time.Duration
	series    map[sink.Group][]sink.Point
	newest    time.Time
}

func NewAccumulator(retention time.Duration) *Accumulator {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Accumulator{
		retention: retention,
		series:    make(map[sink.Group][]sink.Point),
	}
}

// Observe records the power field of each record and drops points older
// than the retention period.
func (a *Accumulator) Observe(records []sink.Record) {
	for _, r := range records {
		p, ok := r.Fields[sink.FieldPower]
		if !ok {
			continue
		}
		g := r.Group()
		a.series[g] = append(a.series[g], sink.Point{Time: r.Time, Value: p})
		if r.Time.After(a.newest) {
			a.newest = r.Time
		}
	}
	a.prune(a.newest.Add(-a.retention))
}

func (a *Accumulator) QueryIntegral(_ context.Context, w sink.Window) ([]sink.GroupTotal, error) {
	return sink.IntegrateGroups(a.series, w), nil
}

// Len returns the number of retained points.
func (a *Accumulator) Len() int {
	n := 0
	for _, points := range a.series {
		n += len(points)
	}
	return n
}

func (a *Accumulator) prune(cutoff time.Time) {
	for g, points := range a.series {
		i := 0
		for i < len(points) && points[i].Time.Before(cutoff) {
			i++
		}
		switch {
		case i == len(points):
			delete(a.series, g)
		case i > 0:
			a.series[g] = append(points[:0:0], points[i:]...)
		}
	}
}
