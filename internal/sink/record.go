package sink

import (
	"fmt"
	"strconv"
	"time"

	"envoy-logger/internal/sample"
)

const (
	TagSource          = "source"
	TagMeasurementType = "measurement-type"
	TagLineIdx         = "line-idx"
	TagSerial          = "serial"
	TagInterval        = "interval"

	FieldPower         = "P"
	FieldReactivePower = "Q"
	FieldApparentPower = "S"
	FieldCurrent       = "I_rms"
	FieldVoltage       = "V_rms"
	FieldPowerFactor   = "PF"
	FieldEnergy        = "Wh"

	DailyInterval = "24h"
)

// Record is one time-series point.
type Record struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]float64
	Time        time.Time
}

// Group identifies the series a record belongs to for integration.
type Group struct {
	MeasurementType sample.MeasurementType
	LineIdx         int
	Serial          string
}

// IsInverter reports whether the group is a per-inverter series.
func (g Group) IsInverter() bool {
	return g.MeasurementType == sample.MeasurementInverter
}

func (g Group) String() string {
	if g.IsInverter() {
		return fmt.Sprintf("%s/%s", g.MeasurementType, g.Serial)
	}
	return fmt.Sprintf("%s/%d", g.MeasurementType, g.LineIdx)
}

// GroupTotal is the integral of power over a window for one group.
type GroupTotal struct {
	Group
	Wh float64
}

// Group returns the series identity of r.
func (r Record) Group() Group {
	g := Group{
		MeasurementType: sample.MeasurementType(r.Tags[TagMeasurementType]),
		Serial:          r.Tags[TagSerial],
	}
	if idx, err := strconv.Atoi(r.Tags[TagLineIdx]); err == nil {
		g.LineIdx = idx
	}
	return g
}

// HighRateRecords converts one cycle's readings into records. inverterTags
// holds extra tags per inverter serial and may be nil.
func HighRateRecords(source string, data sample.SampleData, inverters sample.InverterSet, inverterTags map[string]map[string]string) []Record {
	records := make([]Record, 0, 8+len(inverters))

	for _, t := range sample.LineTypes {
		for i, line := range data.Lines(t) {
			records = append(records, LineRecord(source, t, i, line))
		}
	}

	for _, serial := range inverters.Serials() {
		records = append(records, InverterRecord(source, inverters[serial], inverterTags[serial]))
	}

	return records
}

func LineRecord(source string, t sample.MeasurementType, idx int, p sample.PowerSample) Record {
	return Record{
		Measurement: fmt.Sprintf("%s-line%d", t, idx),
		Tags: map[string]string{
			TagSource:          source,
			TagMeasurementType: string(t),
			TagLineIdx:         strconv.Itoa(idx),
		},
		Fields: map[string]float64{
			FieldPower:         p.WNow,
			FieldReactivePower: p.ReactPwr,
			FieldApparentPower: p.ApprntPwr,
			FieldCurrent:       p.RMSCurrent,
			FieldVoltage:       p.RMSVoltage,
			FieldPowerFactor:   p.PowerFactor(),
		},
		Time: p.Timestamp,
	}
}

func InverterRecord(source string, inv sample.InverterSample, extra map[string]string) Record {
	tags := map[string]string{
		TagSource:          source,
		TagMeasurementType: string(sample.MeasurementInverter),
		TagSerial:          inv.Serial,
	}
	applyTags(tags, extra)

	return Record{
		Measurement: "inverter-production-" + inv.Serial,
		Tags:        tags,
		Fields:      map[string]float64{FieldPower: inv.Watts},
		Time:        inv.Timestamp,
	}
}

// DailyRecord builds the low-rate energy record for a group.
func DailyRecord(source string, g Group, wh float64, ts time.Time, extra map[string]string) Record {
	tags := map[string]string{
		TagSource:          source,
		TagMeasurementType: string(g.MeasurementType),
		TagInterval:        DailyInterval,
	}

	var measurement string
	if g.IsInverter() {
		measurement = "inverter-daily-summary-" + g.Serial
		tags[TagSerial] = g.Serial
		applyTags(tags, extra)
	} else {
		measurement = fmt.Sprintf("%s-daily-summary-line%d", g.MeasurementType, g.LineIdx)
		tags[TagLineIdx] = strconv.Itoa(g.LineIdx)
	}

	return Record{
		Measurement: measurement,
		Tags:        tags,
		Fields:      map[string]float64{FieldEnergy: wh},
		Time:        ts,
	}
}

// configured tags never override the identity tags
func applyTags(tags, extra map[string]string) {
	for k, v := range extra {
		if _, reserved := tags[k]; reserved {
			continue
		}
		tags[k] = v
	}
}
