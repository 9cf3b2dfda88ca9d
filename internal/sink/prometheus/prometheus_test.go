package prometheus_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"envoy-logger/internal/sample"
	"envoy-logger/internal/sink"
	"envoy-logger/internal/sink/prometheus"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHighRateSetsGauges(t *testing.T) {
	s := prometheus.New()
	ts := time.Unix(1700000000, 0)

	data := sample.SampleData{
		Timestamp: ts,
		TotalProduction: &sample.EIMSample{Lines: []sample.PowerSample{
			{Timestamp: ts, WNow: 1500, ApprntPwr: 1600, RMSVoltage: 240.5, RMSCurrent: 6.7},
		}},
	}
	inverters := sample.InverterSet{"A": {Serial: "A", Timestamp: ts, Watts: 210}}

	require.NoError(t, s.WriteHighRate(context.Background(), sink.HighRateRecords("envoy", data, inverters, nil)))

	require.NoError(t, testutil.GatherAndCompare(s.Registry(), strings.NewReader(`
# HELP envoy_inverter_power_watts Last reported power per inverter
# TYPE envoy_inverter_power_watts gauge
envoy_inverter_power_watts{serial="A",source="envoy"} 210
`), "envoy_inverter_power_watts"))

	require.NoError(t, testutil.GatherAndCompare(s.Registry(), strings.NewReader(`
# HELP envoy_line_voltage_volts RMS voltage per line
# TYPE envoy_line_voltage_volts gauge
envoy_line_voltage_volts{line="0",source="envoy",type="production"} 240.5
`), "envoy_line_voltage_volts"))

	require.NoError(t, testutil.GatherAndCompare(s.Registry(), strings.NewReader(`
# HELP envoy_records_written_total Records written by rate
# TYPE envoy_records_written_total counter
envoy_records_written_total{rate="high"} 2
`), "envoy_records_written_total"))
}

func TestWriteLowRateSetsDailyEnergy(t *testing.T) {
	s := prometheus.New()
	ts := time.Unix(1700000000, 0)

	records := []sink.Record{
		sink.DailyRecord("envoy", sink.Group{MeasurementType: sample.MeasurementNet, LineIdx: 1}, 42, ts, nil),
		sink.DailyRecord("envoy", sink.Group{MeasurementType: sample.MeasurementInverter, Serial: "A"}, 1200, ts, nil),
	}
	require.NoError(t, s.WriteLowRate(context.Background(), records))

	require.NoError(t, testutil.GatherAndCompare(s.Registry(), strings.NewReader(`
# HELP envoy_daily_energy_wh Energy over the last completed day per line or inverter
# TYPE envoy_daily_energy_wh gauge
envoy_daily_energy_wh{line="",serial="A",source="envoy",type="inverter"} 1200
envoy_daily_energy_wh{line="1",serial="",source="envoy",type="net"} 42
`), "envoy_daily_energy_wh"))
}

func TestHandlerServesMetrics(t *testing.T) {
	s := prometheus.New()
	rec := sink.InverterRecord("envoy", sample.InverterSample{Serial: "B", Timestamp: time.Now(), Watts: 7}, nil)
	require.NoError(t, s.WriteHighRate(context.Background(), []sink.Record{rec}))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, string(body), `envoy_inverter_power_watts{serial="B",source="envoy"} 7`)
	assert.Contains(t, string(body), "go_goroutines")
}
