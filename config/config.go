package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"envoy-logger/internal/errors"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "ENVOY_LOGGER"
	redacted  = "********"
)

type Config struct {
	Enphase    EnphaseConfig             `mapstructure:"enphaseenergy" yaml:"enphaseenergy"`
	Envoy      EnvoyConfig               `mapstructure:"envoy" yaml:"envoy"`
	Collector  CollectorConfig           `mapstructure:"collector" yaml:"collector"`
	InfluxDB   InfluxDBConfig            `mapstructure:"influxdb" yaml:"influxdb"`
	Prometheus PrometheusConfig          `mapstructure:"prometheus" yaml:"prometheus"`
	SQLite     SQLiteConfig              `mapstructure:"sqlite" yaml:"sqlite"`
	MQTT       MQTTConfig                `mapstructure:"mqtt" yaml:"mqtt"`
	API        APIConfig                 `mapstructure:"api" yaml:"api"`
	Log        LogConfig                 `mapstructure:"log" yaml:"log"`
	Inverters  map[string]InverterConfig `mapstructure:"inverters" yaml:"inverters"`
}

type EnphaseConfig struct {
	Email      string `mapstructure:"email" yaml:"email"`
	Password   string `mapstructure:"password" yaml:"password"`
	LoginURL   string `mapstructure:"login_url" yaml:"login_url"`
	TokenURL   string `mapstructure:"token_url" yaml:"token_url"`
	TokenCache string `mapstructure:"token_cache" yaml:"token_cache"`
}

type EnvoyConfig struct {
	Serial        string        `mapstructure:"serial" yaml:"serial"`
	URL           string        `mapstructure:"url" yaml:"url"`
	Tag           string        `mapstructure:"tag" yaml:"tag"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SessionMaxAge time.Duration `mapstructure:"session_max_age" yaml:"session_max_age"`
}

type CollectorConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Retries   int           `mapstructure:"retries" yaml:"retries"`
	RetryWait time.Duration `mapstructure:"retry_wait" yaml:"retry_wait"`
}

type InfluxDBConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	URL      string `mapstructure:"url" yaml:"url"`
	Token    string `mapstructure:"token" yaml:"token"`
	Org      string `mapstructure:"org" yaml:"org"`
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	BucketHR string `mapstructure:"bucket_hr" yaml:"bucket_hr"`
	BucketLR string `mapstructure:"bucket_lr" yaml:"bucket_lr"`
}

// HighRateBucket returns bucket_hr, falling back to bucket.
func (c InfluxDBConfig) HighRateBucket() string {
	if c.BucketHR != "" {
		return c.BucketHR
	}
	return c.Bucket
}

// LowRateBucket returns bucket_lr, falling back to bucket.
func (c InfluxDBConfig) LowRateBucket() string {
	if c.BucketLR != "" {
		return c.BucketLR
	}
	return c.Bucket
}

type PrometheusConfig struct {
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
	ListeningPort int  `mapstructure:"listening_port" yaml:"listening_port"`
}

type SQLiteConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Path      string        `mapstructure:"path" yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	// Discovery publishes Home Assistant discovery configs for new series.
	Discovery bool `mapstructure:"discovery" yaml:"discovery"`
}

type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// InverterConfig carries extra tags applied to one inverter's records.
type InverterConfig struct {
	Tags map[string]string `mapstructure:"tags" yaml:"tags"`
}

// Load reads configuration from configPath, or from config.yaml in the
// working directory or /etc/envoy-logger. A .env file in the working
// directory and ENVOY_LOGGER_* variables override file values.
func Load(configPath string) (*Config, error) {
	// a missing .env is the normal case
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/envoy-logger")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("enphaseenergy.email", "")
	v.SetDefault("enphaseenergy.password", "")
	v.SetDefault("enphaseenergy.login_url", "https://enlighten.enphaseenergy.com")
	v.SetDefault("enphaseenergy.token_url", "https://entrez.enphaseenergy.com")
	v.SetDefault("enphaseenergy.token_cache", defaultTokenCache())
	v.SetDefault("envoy.serial", "")
	v.SetDefault("envoy.url", "https://envoy.local")
	v.SetDefault("envoy.tag", "envoy")
	v.SetDefault("envoy.timeout", "30s")
	v.SetDefault("envoy.session_max_age", "12h")
	v.SetDefault("collector.interval", "5s")
	v.SetDefault("collector.retries", 10)
	v.SetDefault("collector.retry_wait", "5s")
	v.SetDefault("influxdb.enabled", false)
	v.SetDefault("influxdb.url", "")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.org", "home")
	v.SetDefault("influxdb.bucket", "")
	v.SetDefault("influxdb.bucket_hr", "")
	v.SetDefault("influxdb.bucket_lr", "")
	v.SetDefault("prometheus.enabled", false)
	v.SetDefault("prometheus.listening_port", 9090)
	v.SetDefault("sqlite.enabled", false)
	v.SetDefault("sqlite.path", "./envoy.db")
	v.SetDefault("sqlite.retention", "720h")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "envoy")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.discovery", false)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8046)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err)
	}

	return &cfg, nil
}

func defaultTokenCache() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "enphase-envoy")
}

// Validate checks that the settings needed to run the logger are present.
func (c *Config) Validate() error {
	if err := c.ValidateDevice(); err != nil {
		return err
	}

	if !c.InfluxDB.Enabled && !c.Prometheus.Enabled && !c.SQLite.Enabled && !c.MQTT.Enabled {
		return errors.Newf(errors.ErrInvalidConfig, "no sink enabled: enable at least one of influxdb, prometheus, sqlite, mqtt")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Token == "" {
			return errors.Newf(errors.ErrInvalidConfig, "influxdb.url and influxdb.token are required when influxdb is enabled")
		}
		if c.InfluxDB.HighRateBucket() == "" || c.InfluxDB.LowRateBucket() == "" {
			return errors.Newf(errors.ErrInvalidConfig, "influxdb.bucket (or bucket_hr and bucket_lr) is required when influxdb is enabled")
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.Newf(errors.ErrInvalidConfig, "mqtt.broker is required when mqtt is enabled")
	}

	return nil
}

// ValidateDevice checks only what is needed to talk to the cloud and the
// gateway. Sinks are not required.
func (c *Config) ValidateDevice() error {
	switch {
	case c.Enphase.Email == "":
		return errors.Newf(errors.ErrInvalidConfig, "missing required config key: enphaseenergy.email")
	case c.Enphase.Password == "":
		return errors.Newf(errors.ErrInvalidConfig, "missing required config key: enphaseenergy.password")
	case c.Envoy.Serial == "":
		return errors.Newf(errors.ErrInvalidConfig, "missing required config key: envoy.serial")
	case c.Envoy.URL == "":
		return errors.Newf(errors.ErrInvalidConfig, "missing required config key: envoy.url")
	case c.Collector.Interval <= 0:
		return errors.Newf(errors.ErrInvalidConfig, "collector.interval must be positive, got %s", c.Collector.Interval)
	case c.Collector.Retries < 1:
		return errors.Newf(errors.ErrInvalidConfig, "collector.retries must be at least 1, got %d", c.Collector.Retries)
	case c.Collector.RetryWait < 0:
		return errors.Newf(errors.ErrInvalidConfig, "collector.retry_wait must not be negative, got %s", c.Collector.RetryWait)
	}
	return nil
}

// InverterSerials returns the configured inverter serials in sorted order.
func (c *Config) InverterSerials() []string {
	serials := make([]string, 0, len(c.Inverters))
	for serial := range c.Inverters {
		serials = append(serials, serial)
	}
	sort.Strings(serials)
	return serials
}

// InverterTags returns the configured extra tags keyed by serial.
func (c *Config) InverterTags() map[string]map[string]string {
	tags := make(map[string]map[string]string, len(c.Inverters))
	for serial, inv := range c.Inverters {
		tags[serial] = inv.Tags
	}
	return tags
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	if out.Enphase.Password != "" {
		out.Enphase.Password = redacted
	}
	if out.InfluxDB.Token != "" {
		out.InfluxDB.Token = redacted
	}
	if out.MQTT.Password != "" {
		out.MQTT.Password = redacted
	}
	return out
}
