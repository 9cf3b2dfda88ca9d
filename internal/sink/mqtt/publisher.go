package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"envoy-logger/internal/errors"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/sink"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const publishTimeout = 10 * time.Second

// Client is the part of the paho client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher sends every record field to its own topic and keeps a retained
// JSON status per measurement.
type Publisher struct {
	client      Client
	topicPrefix string
	discovery   bool
	log         zerolog.Logger

	mu         sync.Mutex
	discovered map[string]bool
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Discovery   bool
}

// NewPublisher connects to the broker. The client reconnects on its own
// after a lost connection.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "envoy-logger-" + uuid.NewString()
	}
	log := logger.With("mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return NewPublisherWithClient(client, cfg), nil
}

// NewPublisherWithClient wraps an already connected client.
func NewPublisherWithClient(client Client, cfg PublisherConfig) *Publisher {
	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		discovery:   cfg.Discovery,
		log:         logger.With("mqtt"),
		discovered:  make(map[string]bool),
	}
}

func (p *Publisher) Name() string {
	return "mqtt"
}

func (p *Publisher) WriteHighRate(_ context.Context, records []sink.Record) error {
	return p.publish(records)
}

func (p *Publisher) WriteLowRate(_ context.Context, records []sink.Record) error {
	return p.publish(records)
}

func (p *Publisher) publish(records []sink.Record) error {
	for _, r := range records {
		if p.discovery {
			p.publishDiscovery(r)
		}

		// Publish individual values
		for field, value := range r.Fields {
			topic := p.Topic(r.Measurement, field)
			payload := strconv.FormatFloat(value, 'f', -1, 64)
			if err := wait(p.client.Publish(topic, 0, false, payload)); err != nil {
				p.log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
			}
		}

		// Publish full record as JSON
		statusJSON, err := json.Marshal(statusPayload{
			Time:   r.Time.Unix(),
			Tags:   r.Tags,
			Fields: r.Fields,
		})
		if err != nil {
			return errors.Wrap(errors.ErrSinkWrite, fmt.Errorf("failed to marshal status: %w", err))
		}

		statusTopic := p.Topic(r.Measurement, "status")
		if err := wait(p.client.Publish(statusTopic, 0, true, statusJSON)); err != nil {
			return errors.Wrap(errors.ErrSinkWrite, fmt.Errorf("failed to publish status: %w", err))
		}
	}
	return nil
}

type statusPayload struct {
	Time   int64              `json:"time"`
	Tags   map[string]string  `json:"tags"`
	Fields map[string]float64 `json:"fields"`
}

// Topic returns the topic of one record field.
func (p *Publisher) Topic(measurement, field string) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, measurement, field)
}

var fieldUnits = map[string]struct {
	unit        string
	deviceClass string
}{
	sink.FieldPower:         {"W", "power"},
	sink.FieldReactivePower: {"var", "reactive_power"},
	sink.FieldApparentPower: {"VA", "apparent_power"},
	sink.FieldCurrent:       {"A", "current"},
	sink.FieldVoltage:       {"V", "voltage"},
	sink.FieldPowerFactor:   {"", "power_factor"},
	sink.FieldEnergy:        {"Wh", "energy"},
}

// publishDiscovery announces each field of a measurement to Home Assistant
// the first time the measurement is seen.
func (p *Publisher) publishDiscovery(r sink.Record) {
	p.mu.Lock()
	seen := p.discovered[r.Measurement]
	p.discovered[r.Measurement] = true
	p.mu.Unlock()
	if seen {
		return
	}

	source := r.Tags[sink.TagSource]
	for field := range r.Fields {
		id := fmt.Sprintf("%s_%s_%s", source, r.Measurement, field)
		discoveryTopic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", source, id)

		config := map[string]interface{}{
			"name":        fmt.Sprintf("%s %s", r.Measurement, field),
			"unique_id":   id,
			"state_topic": p.Topic(r.Measurement, field),
			"device": map[string]interface{}{
				"identifiers":  []string{source},
				"name":         fmt.Sprintf("Envoy %s", source),
				"manufacturer": "Enphase",
			},
		}
		if u, ok := fieldUnits[field]; ok {
			if u.unit != "" {
				config["unit_of_measurement"] = u.unit
			}
			config["device_class"] = u.deviceClass
		}

		payload, _ := json.Marshal(config)
		if err := wait(p.client.Publish(discoveryTopic, 0, true, payload)); err != nil {
			p.log.Warn().Err(err).Str("topic", discoveryTopic).Msg("failed to publish discovery")
		}
	}
}

func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}

func (p *Publisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timed out after %s", publishTimeout)
	}
	return token.Error()
}
