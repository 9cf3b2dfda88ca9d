package sample

import (
	"sort"
	"time"
)

// MeasurementType names a group of lines or the per-inverter series.
type MeasurementType string

const (
	MeasurementConsumption MeasurementType = "consumption"
	MeasurementProduction  MeasurementType = "production"
	MeasurementNet         MeasurementType = "net"
	MeasurementInverter    MeasurementType = "inverter"
)

// LineTypes lists the line measurement types in output order.
var LineTypes = []MeasurementType{MeasurementConsumption, MeasurementProduction, MeasurementNet}

// minApparentPower is the apparent power below which the power factor is
// reported as unity.
const minApparentPower = 10.0

// PowerSample is one line of an EIM measurement.
type PowerSample struct {
	Timestamp time.Time `json:"ts"`

	// Instantaneous
	WNow       float64 `json:"wNow"`
	RMSCurrent float64 `json:"rmsCurrent"`
	RMSVoltage float64 `json:"rmsVoltage"`
	ReactPwr   float64 `json:"reactPwr"`
	ApprntPwr  float64 `json:"apprntPwr"`

	// Today
	WhToday       float64 `json:"whToday"`
	VahToday      float64 `json:"vahToday"`
	VarhLagToday  float64 `json:"varhLagToday"`
	VarhLeadToday float64 `json:"varhLeadToday"`

	// Lifetime
	WhLifetime       float64 `json:"whLifetime"`
	VahLifetime      float64 `json:"vahLifetime"`
	VarhLagLifetime  float64 `json:"varhLagLifetime"`
	VarhLeadLifetime float64 `json:"varhLeadLifetime"`

	WhLastSevenDays float64 `json:"whLastSevenDays"`
}

// PowerFactor is computed from true and apparent power rather than taken
// from the gateway, whose own figure is unreliable.
func (p PowerSample) PowerFactor() float64 {
	if p.ApprntPwr < minApparentPower {
		return 1.0
	}
	return p.WNow / p.ApprntPwr
}

// EIMSample holds the per-line readings of one metering block.
type EIMSample struct {
	Lines []PowerSample `json:"lines"`
}

// SampleData is one power fetch. Any block may be nil when the gateway has
// no CTs for it.
type SampleData struct {
	Timestamp        time.Time  `json:"ts"`
	NetConsumption   *EIMSample `json:"net_consumption,omitempty"`
	TotalConsumption *EIMSample `json:"total_consumption,omitempty"`
	TotalProduction  *EIMSample `json:"total_production,omitempty"`
}

// Lines returns the lines of the given measurement type, or nil.
func (d SampleData) Lines(t MeasurementType) []PowerSample {
	var block *EIMSample
	switch t {
	case MeasurementConsumption:
		block = d.TotalConsumption
	case MeasurementProduction:
		block = d.TotalProduction
	case MeasurementNet:
		block = d.NetConsumption
	}
	if block == nil {
		return nil
	}
	return block.Lines
}

// InverterSample is one microinverter's last report as cached by the
// gateway.
type InverterSample struct {
	Serial     string    `json:"serial"`
	Timestamp  time.Time `json:"ts"`
	ReportTime int64     `json:"report_ts"`
	Watts      float64   `json:"watts"`
}

// InverterSet is a set of inverter samples keyed by serial.
type InverterSet map[string]InverterSample

// Serials returns the serials in the set in sorted order.
func (s InverterSet) Serials() []string {
	serials := make([]string, 0, len(s))
	for serial := range s {
		serials = append(serials, serial)
	}
	sort.Strings(serials)
	return serials
}
