package main

import (
	"fmt"
	"net/http"

	"envoy-logger/config"
	"envoy-logger/internal/api"
	"envoy-logger/internal/collector"
	"envoy-logger/internal/engine"
	"envoy-logger/internal/enphase"
	"envoy-logger/internal/envoy"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/sink"
	"envoy-logger/internal/sink/influxdb"
	"envoy-logger/internal/sink/mqtt"
	"envoy-logger/internal/sink/prometheus"
	"envoy-logger/internal/sink/sqlite"
)

// sinkSet keeps the concrete sinks the HTTP servers need next to the
// combined sink the engine writes to.
type sinkSet struct {
	multi      *sink.Multi
	prometheus *prometheus.Sink
	sqlite     *sqlite.Database
}

func (s *sinkSet) Close() error {
	return s.multi.Close()
}

// buildSinks opens every enabled sink. InfluxDB comes first so it answers
// the daily integral when enabled.
func buildSinks(cfg *config.Config) (*sinkSet, error) {
	set := &sinkSet{}
	var sinks []sink.Sink

	if cfg.InfluxDB.Enabled {
		sinks = append(sinks, influxdb.New(influxdb.Config{
			URL:            cfg.InfluxDB.URL,
			Token:          cfg.InfluxDB.Token,
			Org:            cfg.InfluxDB.Org,
			HighRateBucket: cfg.InfluxDB.HighRateBucket(),
			LowRateBucket:  cfg.InfluxDB.LowRateBucket(),
			Source:         cfg.Envoy.Tag,
		}))
		logger.Info().Str("url", cfg.InfluxDB.URL).Str("bucket", cfg.InfluxDB.HighRateBucket()).Msg("InfluxDB sink enabled")
	}

	if cfg.SQLite.Enabled {
		db, err := sqlite.NewDatabase(cfg.SQLite.Path, cfg.SQLite.Retention)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		set.sqlite = db
		sinks = append(sinks, db)
		logger.Info().Str("path", cfg.SQLite.Path).Msg("Database opened")
	}

	if cfg.Prometheus.Enabled {
		set.prometheus = prometheus.New()
		sinks = append(sinks, set.prometheus)
	}

	if cfg.MQTT.Enabled {
		publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Discovery:   cfg.MQTT.Discovery,
		})
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, publisher)
	}

	set.multi = sink.NewMulti(sinks...)
	return set, nil
}

func closeAll(sinks []sink.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

func buildCredentials(cfg *config.Config) *enphase.CredentialManager {
	cc := enphase.CredentialConfig{
		Email:    cfg.Enphase.Email,
		Password: cfg.Enphase.Password,
		Serial:   cfg.Envoy.Serial,
		Identity: enphase.NewCloudClient(enphase.CloudConfig{
			LoginURL: cfg.Enphase.LoginURL,
			TokenURL: cfg.Enphase.TokenURL,
			Timeout:  cfg.Envoy.Timeout,
		}),
	}
	if cfg.Enphase.TokenCache != "" {
		cc.Cache = enphase.NewFileCache(cfg.Enphase.TokenCache)
	}
	return enphase.NewCredentialManager(cc)
}

func newEnvoyClient(cfg *config.Config, tokens envoy.TokenProvider) *envoy.Client {
	return envoy.NewClient(envoy.ClientConfig{
		URL:           cfg.Envoy.URL,
		Timeout:       cfg.Envoy.Timeout,
		Tokens:        tokens,
		SessionMaxAge: cfg.Envoy.SessionMaxAge,
	})
}

func buildEnvoyClient(cfg *config.Config) *envoy.Client {
	return newEnvoyClient(cfg, buildCredentials(cfg))
}

func buildCollector(cfg *config.Config, device collector.Device) *collector.Collector {
	return collector.NewCollector(collector.CollectorConfig{
		Device:    device,
		Retries:   cfg.Collector.Retries,
		RetryWait: cfg.Collector.RetryWait,
	})
}

// buildServers returns the API server, plus a metrics-only server when
// Prometheus listens on its own port.
func buildServers(cfg *config.Config, eng *engine.Engine, sinks *sinkSet) []*api.Server {
	var metrics http.Handler
	if sinks.prometheus != nil {
		metrics = sinks.prometheus.Handler()
	}

	var servers []*api.Server
	if cfg.API.Enabled {
		sc := api.ServerConfig{
			Port:   cfg.API.Port,
			Engine: eng,
			Config: cfg,
		}
		if sinks.sqlite != nil {
			sc.Store = sinks.sqlite
		}
		if metrics != nil && cfg.Prometheus.ListeningPort == cfg.API.Port {
			sc.Metrics = metrics
		}
		servers = append(servers, api.NewServer(sc))
	}

	if metrics != nil && (!cfg.API.Enabled || cfg.Prometheus.ListeningPort != cfg.API.Port) {
		servers = append(servers, api.NewServer(api.ServerConfig{
			Port:    cfg.Prometheus.ListeningPort,
			Engine:  eng,
			Metrics: metrics,
		}))
	}

	return servers
}
