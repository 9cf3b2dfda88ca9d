package sink

import (
	"sort"
	"time"
)

// Point is one power reading in watts.
type Point struct {
	Time  time.Time
	Value float64
}

// IntegrateWh returns the time integral of points in watt-hours using the
// trapezoidal rule, the same interpolation InfluxDB's integral() applies.
// Points need not be sorted. Fewer than two points integrate to zero.
func IntegrateWh(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var wh float64
	for i := 1; i < len(sorted); i++ {
		dt := sorted[i].Time.Sub(sorted[i-1].Time).Hours()
		wh += (sorted[i].Value + sorted[i-1].Value) / 2 * dt
	}
	return wh
}

// IntegrateGroups integrates each group's points that fall inside w.
func IntegrateGroups(series map[Group][]Point, w Window) []GroupTotal {
	totals := make([]GroupTotal, 0, len(series))
	for g, points := range series {
		inside := make([]Point, 0, len(points))
		for _, p := range points {
			if !p.Time.Before(w.Start) && p.Time.Before(w.Stop) {
				inside = append(inside, p)
			}
		}
		if len(inside) == 0 {
			continue
		}
		totals = append(totals, GroupTotal{Group: g, Wh: IntegrateWh(inside)})
	}

	sort.Slice(totals, func(i, j int) bool { return totals[i].Group.String() < totals[j].Group.String() })
	return totals
}
