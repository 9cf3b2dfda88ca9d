package sample

import (
	"encoding/json"
	"fmt"
	"time"

	"envoy-logger/internal/errors"
)

const (
	blockTypeEIM = "eim"

	netConsumption   = "net-consumption"
	totalConsumption = "total-consumption"
	totalProduction  = "production"
)

type productionResponse struct {
	Production  *[]measurement `json:"production"`
	Consumption *[]measurement `json:"consumption"`
}

type measurement struct {
	Type            string             `json:"type"`
	MeasurementType string             `json:"measurementType"`
	Lines           *[]json.RawMessage `json:"lines"`
}

type inverterReport struct {
	SerialNumber    string   `json:"serialNumber"`
	LastReportDate  *float64 `json:"lastReportDate"`
	LastReportWatts *float64 `json:"lastReportWatts"`
}

// lineKeys must be present and non-null on every EIM line.
var lineKeys = []string{
	"wNow", "rmsCurrent", "rmsVoltage", "reactPwr", "apprntPwr",
	"whToday", "vahToday", "varhLagToday", "varhLeadToday",
	"whLifetime", "vahLifetime", "varhLagLifetime", "varhLeadLifetime",
	"whLastSevenDays",
}

// ParseSampleData decodes a production.json?details=1 payload. Only EIM
// blocks are kept; the gateway's aggregate totals are discarded.
func ParseSampleData(raw []byte, ts time.Time) (SampleData, error) {
	var resp productionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return SampleData{}, errors.Wrap(errors.ErrMalformedPayload, fmt.Errorf("decode production: %w", err))
	}
	if resp.Production == nil && resp.Consumption == nil {
		return SampleData{}, errors.Newf(errors.ErrMalformedPayload, "production payload has neither production nor consumption")
	}

	data := SampleData{Timestamp: ts}

	if resp.Consumption != nil {
		for _, m := range *resp.Consumption {
			if m.Type != blockTypeEIM {
				continue
			}
			var err error
			switch m.MeasurementType {
			case netConsumption:
				data.NetConsumption, err = newEIMSample(m, ts)
			case totalConsumption:
				data.TotalConsumption, err = newEIMSample(m, ts)
			}
			if err != nil {
				return SampleData{}, err
			}
		}
	}

	if resp.Production != nil {
		for _, m := range *resp.Production {
			if m.Type != blockTypeEIM || m.MeasurementType != totalProduction {
				continue
			}
			eim, err := newEIMSample(m, ts)
			if err != nil {
				return SampleData{}, err
			}
			data.TotalProduction = eim
		}
	}

	return data, nil
}

func newEIMSample(m measurement, ts time.Time) (*EIMSample, error) {
	if m.Lines == nil {
		return nil, errors.Newf(errors.ErrMalformedPayload, "%s block has no lines", m.MeasurementType)
	}

	lines := make([]PowerSample, len(*m.Lines))
	for i, raw := range *m.Lines {
		line, err := parseLine(raw)
		if err != nil {
			return nil, errors.Wrap(errors.ErrMalformedPayload, fmt.Errorf("%s line %d: %w", m.MeasurementType, i, err))
		}
		line.Timestamp = ts
		lines[i] = line
	}
	return &EIMSample{Lines: lines}, nil
}

func parseLine(raw json.RawMessage) (PowerSample, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return PowerSample{}, err
	}
	for _, key := range lineKeys {
		v, ok := fields[key]
		if !ok || string(v) == "null" {
			return PowerSample{}, fmt.Errorf("missing %s", key)
		}
	}

	var line PowerSample
	if err := json.Unmarshal(raw, &line); err != nil {
		return PowerSample{}, err
	}
	return line, nil
}

// ParseInverters decodes an /api/v1/production/inverters payload.
func ParseInverters(raw []byte, ts time.Time) (InverterSet, error) {
	var reports []inverterReport
	if err := json.Unmarshal(raw, &reports); err != nil {
		return nil, errors.Wrap(errors.ErrMalformedPayload, fmt.Errorf("decode inverters: %w", err))
	}

	set := make(InverterSet, len(reports))
	for i, r := range reports {
		if r.SerialNumber == "" {
			return nil, errors.Newf(errors.ErrMalformedPayload, "inverter %d has no serialNumber", i)
		}
		if r.LastReportDate == nil {
			return nil, errors.Newf(errors.ErrMalformedPayload, "inverter %s has no lastReportDate", r.SerialNumber)
		}
		if r.LastReportWatts == nil {
			return nil, errors.Newf(errors.ErrMalformedPayload, "inverter %s has no lastReportWatts", r.SerialNumber)
		}
		set[r.SerialNumber] = InverterSample{
			Serial:     r.SerialNumber,
			Timestamp:  ts,
			ReportTime: int64(*r.LastReportDate),
			Watts:      *r.LastReportWatts,
		}
	}

	return set, nil
}
