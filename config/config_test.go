package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"envoy-logger/config"
	"envoy-logger/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
enphaseenergy:
  email: user@example.com
  password: hunter2
envoy:
  serial: "122233344455"
  url: https://192.168.1.20
  tag: roof
collector:
  interval: 10s
  retries: 3
  retry_wait: 2s
influxdb:
  enabled: true
  url: http://influx:8086
  token: secret
  bucket: solar
  bucket_lr: solar-daily
inverters:
  "202200001111":
    tags:
      array: east
  "202200002222":
    tags:
      array: west
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "user@example.com", cfg.Enphase.Email)
	assert.Equal(t, "122233344455", cfg.Envoy.Serial)
	assert.Equal(t, "https://192.168.1.20", cfg.Envoy.URL)
	assert.Equal(t, "roof", cfg.Envoy.Tag)
	assert.Equal(t, 10*time.Second, cfg.Collector.Interval)
	assert.Equal(t, 3, cfg.Collector.Retries)
	assert.Equal(t, 2*time.Second, cfg.Collector.RetryWait)
	assert.Equal(t, "home", cfg.InfluxDB.Org)
	assert.Equal(t, "solar", cfg.InfluxDB.HighRateBucket())
	assert.Equal(t, "solar-daily", cfg.InfluxDB.LowRateBucket())
	assert.Equal(t, []string{"202200001111", "202200002222"}, cfg.InverterSerials())
	assert.Equal(t, "east", cfg.InverterTags()["202200001111"]["array"])
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "envoy:\n  serial: \"1\"\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://envoy.local", cfg.Envoy.URL)
	assert.Equal(t, "envoy", cfg.Envoy.Tag)
	assert.Equal(t, 30*time.Second, cfg.Envoy.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Collector.Interval)
	assert.Equal(t, 10, cfg.Collector.Retries)
	assert.Equal(t, 5*time.Second, cfg.Collector.RetryWait)
	assert.Equal(t, "https://enlighten.enphaseenergy.com", cfg.Enphase.LoginURL)
	assert.Equal(t, "https://entrez.enphaseenergy.com", cfg.Enphase.TokenURL)
	assert.Equal(t, 9090, cfg.Prometheus.ListeningPort)
	assert.Equal(t, 720*time.Hour, cfg.SQLite.Retention)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.InverterSerials())
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
enphaseenergy:
  email: user@example.com
envoy:
  serial: "1"
prometheus:
  enabled: true
`)
	t.Setenv("ENVOY_LOGGER_ENPHASEENERGY_PASSWORD", "from-env")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Enphase.Password)
	assert.NoError(t, cfg.Validate())
}

func TestLoadInvalidFile(t *testing.T) {
	path := writeConfig(t, "envoy: [unterminated\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Enphase:    config.EnphaseConfig{Email: "a@b.c", Password: "p"},
			Envoy:      config.EnvoyConfig{Serial: "1", URL: "https://envoy.local"},
			Collector:  config.CollectorConfig{Interval: 5 * time.Second, Retries: 10, RetryWait: 5 * time.Second},
			Prometheus: config.PrometheusConfig{Enabled: true},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		ok     bool
	}{
		{"valid", func(c *config.Config) {}, true},
		{"missing email", func(c *config.Config) { c.Enphase.Email = "" }, false},
		{"missing serial", func(c *config.Config) { c.Envoy.Serial = "" }, false},
		{"missing url", func(c *config.Config) { c.Envoy.URL = "" }, false},
		{"zero interval", func(c *config.Config) { c.Collector.Interval = 0 }, false},
		{"zero retries", func(c *config.Config) { c.Collector.Retries = 0 }, false},
		{"no sinks", func(c *config.Config) { c.Prometheus.Enabled = false }, false},
		{"influx without bucket", func(c *config.Config) {
			c.InfluxDB = config.InfluxDBConfig{Enabled: true, URL: "http://x", Token: "t"}
		}, false},
		{"influx with split buckets", func(c *config.Config) {
			c.InfluxDB = config.InfluxDBConfig{Enabled: true, URL: "http://x", Token: "t", BucketHR: "hr", BucketLR: "lr"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.ErrInvalidConfig, errors.CodeOf(err))
		})
	}
}

func TestValidateDevice(t *testing.T) {
	cfg := config.Config{
		Enphase:   config.EnphaseConfig{Email: "a@b.c", Password: "p"},
		Envoy:     config.EnvoyConfig{Serial: "1", URL: "https://envoy.local"},
		Collector: config.CollectorConfig{Interval: 5 * time.Second, Retries: 1},
	}
	// no sink enabled
	assert.NoError(t, cfg.ValidateDevice())
	assert.Error(t, cfg.Validate())

	cfg.Envoy.Serial = ""
	err := cfg.ValidateDevice()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidConfig, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "envoy.serial")
}

func TestRedacted(t *testing.T) {
	cfg := config.Config{
		Enphase:  config.EnphaseConfig{Email: "a@b.c", Password: "p"},
		InfluxDB: config.InfluxDBConfig{Token: "t"},
	}

	out := cfg.Redacted()
	assert.Equal(t, "a@b.c", out.Enphase.Email)
	assert.NotEqual(t, "p", out.Enphase.Password)
	assert.NotEqual(t, "t", out.InfluxDB.Token)
	assert.Equal(t, "p", cfg.Enphase.Password)
}
