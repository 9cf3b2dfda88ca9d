package prometheus

import (
	"context"
	"net/http"

	"envoy-logger/internal/sink"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "envoy"

// line gauges by record field
var lineFields = []struct {
	field string
	name  string
	help  string
}{
	{sink.FieldPower, "line_active_power_watts", "Active power per line"},
	{sink.FieldReactivePower, "line_reactive_power_var", "Reactive power per line"},
	{sink.FieldApparentPower, "line_apparent_power_va", "Apparent power per line"},
	{sink.FieldCurrent, "line_current_amperes", "RMS current per line"},
	{sink.FieldVoltage, "line_voltage_volts", "RMS voltage per line"},
	{sink.FieldPowerFactor, "line_power_factor", "Power factor per line"},
}

// Sink exposes the latest record values as gauges on its own registry.
type Sink struct {
	registry *prometheus.Registry

	line       map[string]*prometheus.GaugeVec
	inverter   *prometheus.GaugeVec
	daily      *prometheus.GaugeVec
	lastSample prometheus.Gauge
	writes     *prometheus.CounterVec
}

func New() *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		line:     make(map[string]*prometheus.GaugeVec, len(lineFields)),
		inverter: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inverter_power_watts",
				Help:      "Last reported power per inverter",
			},
			[]string{"source", "serial"},
		),
		daily: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "daily_energy_wh",
				Help:      "Energy over the last completed day per line or inverter",
			},
			[]string{"source", "type", "line", "serial"},
		),
		lastSample: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sample_timestamp_seconds",
			Help:      "Time of the newest written high-rate record",
		}),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_written_total",
				Help:      "Records written by rate",
			},
			[]string{"rate"},
		),
	}

	for _, f := range lineFields {
		s.line[f.field] = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: f.name, Help: f.help},
			[]string{"source", "type", "line"},
		)
		s.registry.MustRegister(s.line[f.field])
	}

	s.registry.MustRegister(
		s.inverter,
		s.daily,
		s.lastSample,
		s.writes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return s
}

func (s *Sink) Name() string {
	return "prometheus"
}

func (s *Sink) WriteHighRate(_ context.Context, records []sink.Record) error {
	for _, r := range records {
		g := r.Group()
		if g.IsInverter() {
			s.inverter.WithLabelValues(r.Tags[sink.TagSource], g.Serial).Set(r.Fields[sink.FieldPower])
		} else {
			for field, gauge := range s.line {
				v, ok := r.Fields[field]
				if !ok {
					continue
				}
				gauge.WithLabelValues(r.Tags[sink.TagSource], string(g.MeasurementType), r.Tags[sink.TagLineIdx]).Set(v)
			}
		}
		s.lastSample.Set(float64(r.Time.UnixNano()) / 1e9)
	}
	s.writes.WithLabelValues("high").Add(float64(len(records)))
	return nil
}

func (s *Sink) WriteLowRate(_ context.Context, records []sink.Record) error {
	for _, r := range records {
		g := r.Group()
		s.daily.WithLabelValues(
			r.Tags[sink.TagSource],
			string(g.MeasurementType),
			r.Tags[sink.TagLineIdx],
			g.Serial,
		).Set(r.Fields[sink.FieldEnergy])
	}
	s.writes.WithLabelValues("low").Add(float64(len(records)))
	return nil
}

func (s *Sink) Close() error {
	return nil
}

// Registry returns the registry holding the sink's collectors.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
