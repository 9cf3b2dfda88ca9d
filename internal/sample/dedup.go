package sample

// Deduplicator drops inverter readings whose device report time has not
// advanced. The gateway re-serves an inverter's last report on every poll
// until the inverter checks in again.
type Deduplicator struct {
	seeded bool
	last   map[string]int64
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{last: make(map[string]int64)}
}

// Filter returns the readings in current that are new evidence of activity.
// The first call only seeds state and returns an empty set. Every observed
// serial's report time is recorded whether or not it was accepted.
func (d *Deduplicator) Filter(current InverterSet) InverterSet {
	accepted := make(InverterSet)

	for serial, inv := range current {
		prev, seen := d.last[serial]
		if d.seeded && (!seen || inv.ReportTime > prev) {
			accepted[serial] = inv
		}
		d.last[serial] = inv.ReportTime
	}

	d.seeded = true
	return accepted
}

// Seeded reports whether Filter has been called at least once.
func (d *Deduplicator) Seeded() bool {
	return d.seeded
}
