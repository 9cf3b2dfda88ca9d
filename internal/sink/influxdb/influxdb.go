package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"envoy-logger/internal/errors"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/sample"
	"envoy-logger/internal/sink"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

// Sink writes records to InfluxDB 2 and integrates stored power with Flux.
type Sink struct {
	client   influxdb2.Client
	highRate api.WriteAPIBlocking
	lowRate  api.WriteAPIBlocking
	query    api.QueryAPI
	bucket   string
	source   string
	log      zerolog.Logger
}

type Config struct {
	URL            string
	Token          string
	Org            string
	HighRateBucket string
	LowRateBucket  string
	// Source restricts integral queries to records tagged with it.
	Source string
}

func New(cfg Config) *Sink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client:   client,
		highRate: client.WriteAPIBlocking(cfg.Org, cfg.HighRateBucket),
		lowRate:  client.WriteAPIBlocking(cfg.Org, cfg.LowRateBucket),
		query:    client.QueryAPI(cfg.Org),
		bucket:   cfg.HighRateBucket,
		source:   cfg.Source,
		log:      logger.With("influxdb"),
	}
}

func (s *Sink) Name() string {
	return "influxdb"
}

func (s *Sink) WriteHighRate(ctx context.Context, records []sink.Record) error {
	return s.write(ctx, s.highRate, records)
}

func (s *Sink) WriteLowRate(ctx context.Context, records []sink.Record) error {
	return s.write(ctx, s.lowRate, records)
}

func (s *Sink) write(ctx context.Context, w api.WriteAPIBlocking, records []sink.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := w.WritePoint(ctx, Points(records)...); err != nil {
		return errors.Wrap(errors.ErrSinkWrite, fmt.Errorf("write %d points: %w", len(records), err))
	}
	s.log.Debug().Int("points", len(records)).Msg("points written")
	return nil
}

// QueryIntegral integrates the P field of every line and inverter series in
// the high-rate bucket over w.
func (s *Sink) QueryIntegral(ctx context.Context, w sink.Window) ([]sink.GroupTotal, error) {
	result, err := s.query.Query(ctx, IntegralQuery(s.bucket, s.source, w))
	if err != nil {
		return nil, errors.Wrap(errors.ErrSinkQuery, err)
	}
	defer result.Close()

	var totals []sink.GroupTotal
	for result.Next() {
		total, ok := TotalFromValues(result.Record().Values())
		if !ok {
			s.log.Warn().Interface("row", result.Record().Values()).Msg("skipping integral row")
			continue
		}
		totals = append(totals, total)
	}
	if result.Err() != nil {
		return nil, errors.Wrap(errors.ErrSinkQuery, result.Err())
	}
	return totals, nil
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

// Points converts records to InfluxDB points.
func Points(records []sink.Record) []*write.Point {
	points := make([]*write.Point, 0, len(records))
	for _, r := range records {
		fields := make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		points = append(points, influxdb2.NewPoint(r.Measurement, r.Tags, fields, r.Time))
	}
	return points
}

// IntegralQuery builds the Flux query for the per-series energy over w.
func IntegralQuery(bucket, source string, w sink.Window) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r[%q] == %q)
  |> filter(fn: (r) => r["_field"] == %q)
  |> integral(unit: 1h)
  |> keep(columns: ["_value", %q, %q, %q])`,
		bucket,
		w.Start.UTC().Format(time.RFC3339Nano),
		w.Stop.UTC().Format(time.RFC3339Nano),
		sink.TagSource, source,
		sink.FieldPower,
		sink.TagLineIdx, sink.TagMeasurementType, sink.TagSerial,
	)
}

// TotalFromValues reads one integral row. Rows without a measurement type
// or numeric value are rejected.
func TotalFromValues(values map[string]interface{}) (sink.GroupTotal, bool) {
	mt, _ := values[sink.TagMeasurementType].(string)
	if mt == "" {
		return sink.GroupTotal{}, false
	}

	var wh float64
	switch v := values["_value"].(type) {
	case float64:
		wh = v
	case int64:
		wh = float64(v)
	default:
		return sink.GroupTotal{}, false
	}

	g := sink.Group{MeasurementType: sample.MeasurementType(mt)}
	if g.IsInverter() {
		g.Serial, _ = values[sink.TagSerial].(string)
		if g.Serial == "" {
			return sink.GroupTotal{}, false
		}
	} else {
		idx, _ := values[sink.TagLineIdx].(string)
		n, err := strconv.Atoi(idx)
		if err != nil {
			return sink.GroupTotal{}, false
		}
		g.LineIdx = n
	}

	return sink.GroupTotal{Group: g, Wh: wh}, true
}
