package rollup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"envoy-logger/internal/errors"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/sample"
	"envoy-logger/internal/sink"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// Tracker emits the daily energy summary the first time it sees a sample
// from a new local calendar day.
type Tracker struct {
	source       string
	serials      []string
	inverterTags map[string]map[string]string
	integrator   sink.Integrator
	loc          *time.Location
	log          zerolog.Logger

	date string
}

type TrackerConfig struct {
	Source string
	// Serials are the configured inverters; each gets a summary record
	// every day, zero when it did not report.
	Serials      []string
	InverterTags map[string]map[string]string
	Integrator   sink.Integrator
	// Now sets the starting date. Defaults to time.Now.
	Now      func() time.Time
	Location *time.Location
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	serials := append([]string(nil), cfg.Serials...)
	sort.Strings(serials)

	return &Tracker{
		source:       cfg.Source,
		serials:      serials,
		inverterTags: cfg.InverterTags,
		integrator:   cfg.Integrator,
		loc:          cfg.Location,
		log:          logger.With("rollup"),
		date:         cfg.Now().In(cfg.Location).Format(dateLayout),
	}
}

// Date returns the local date of the last rollup, or of construction.
func (t *Tracker) Date() string {
	return t.date
}

// CheckAndMaybeAggregate returns nothing while data is from the current
// day. On the first sample of a new day it returns one record per
// integrated group, plus zero records for configured inverters and current
// lines the integrator had no data for.
func (t *Tracker) CheckAndMaybeAggregate(ctx context.Context, data sample.SampleData) ([]sink.Record, error) {
	today := data.Timestamp.In(t.loc).Format(dateLayout)
	if today == t.date {
		return nil, nil
	}

	t.log.Info().Str("from", t.date).Str("to", today).Msg("date changed, computing daily summary")
	t.date = today

	totals, err := t.integrator.QueryIntegral(ctx, sink.LastDay(data.Timestamp))
	if err != nil {
		if errors.CodeOf(err) == "" {
			err = errors.Wrap(errors.ErrSinkQuery, err)
		}
		return nil, fmt.Errorf("daily integral: %w", err)
	}

	return t.records(totals, data), nil
}

func (t *Tracker) records(totals []sink.GroupTotal, data sample.SampleData) []sink.Record {
	ts := data.Timestamp
	seen := make(map[sink.Group]bool, len(totals))
	records := make([]sink.Record, 0, len(totals)+len(t.serials))

	emit := func(g sink.Group, wh float64) {
		seen[g] = true
		var extra map[string]string
		if g.IsInverter() {
			extra = t.inverterTags[g.Serial]
		}
		records = append(records, sink.DailyRecord(t.source, g, wh, ts, extra))
	}

	for _, total := range totals {
		if seen[total.Group] {
			continue
		}
		emit(total.Group, total.Wh)
	}

	for _, serial := range t.serials {
		g := sink.Group{MeasurementType: sample.MeasurementInverter, Serial: serial}
		if !seen[g] {
			t.log.Debug().Str("serial", serial).Msg("inverter did not report, filling 0 Wh")
			emit(g, 0)
		}
	}

	for _, mt := range sample.LineTypes {
		for i := range data.Lines(mt) {
			g := sink.Group{MeasurementType: mt, LineIdx: i}
			if !seen[g] {
				emit(g, 0)
			}
		}
	}

	return records
}
