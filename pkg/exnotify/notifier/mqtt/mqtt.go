// Package mqtt publishes occurrences to an MQTT topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const (
	Kind = "mqtt"

	defaultProtocol       = "tcp"
	defaultPort           = 1883
	defaultConnectTimeout = 10 * time.Second
	disconnectQuiesce     = 250
	maxQoS                = 2
)

var (
	errHostnameNotProvided = errors.New("mqtt: hostname not provided")
	errTopicNotProvided    = errors.New("mqtt: topic not provided")
	errInvalidQoS          = errors.New("mqtt: qos must be 0, 1 or 2")
	errConnectTimeout      = errors.New("mqtt: timed out connecting")
)

type Config struct {
	Protocol       string        `mapstructure:"protocol"`
	Hostname       string        `mapstructure:"hostname"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"client_id"`
	Topic          string        `mapstructure:"topic"`
	QoS            int           `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type MQTT struct {
	client Client
	config Config
	logger notifier.Logger
}

// Constructor returns the constructor registered for the "mqtt" kind.
func Constructor(logger notifier.Logger) notifier.Constructor {
	return func(opts notifier.Options) (notifier.Notifier, error) {
		conf := Config{Protocol: defaultProtocol, Port: defaultPort, ConnectTimeout: defaultConnectTimeout}

		if err := notifier.Decode(opts, &conf); err != nil {
			return nil, fmt.Errorf("mqtt: decoding options: %w", err)
		}

		return New(conf, logger)
	}
}

// New connects to the broker. The client reconnects on its own once connected.
func New(conf Config, logger notifier.Logger) (*MQTT, error) {
	if err := validateConfigs(&conf); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Debugf("connecting to MQTT at '%v:%v' with clientID '%v'", conf.Hostname, conf.Port, conf.ClientID)
	}

	client := mqtt.NewClient(getMQTTClientOptions(&conf))

	token := client.Connect()
	if !token.WaitTimeout(conf.ConnectTimeout) {
		return nil, fmt.Errorf("%w to %s:%d", errConnectTimeout, conf.Hostname, conf.Port)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connecting to %s:%d: %w", conf.Hostname, conf.Port, err)
	}

	return NewWithClient(conf, client, logger), nil
}

func NewWithClient(conf Config, client Client, logger notifier.Logger) *MQTT {
	return &MQTT{client: client, config: conf, logger: logger}
}

func validateConfigs(conf *Config) error {
	if conf.Hostname == "" {
		return errHostnameNotProvided
	}

	if conf.Topic == "" {
		return errTopicNotProvided
	}

	if conf.QoS < 0 || conf.QoS > maxQoS {
		return errInvalidQoS
	}

	return nil
}

func getMQTTClientOptions(conf *Config) *mqtt.ClientOptions {
	options := mqtt.NewClientOptions()
	options.AddBroker(fmt.Sprintf("%s://%s:%d", conf.Protocol, conf.Hostname, conf.Port))
	options.SetClientID(getClientID(conf.ClientID))

	if conf.Username != "" {
		options.SetUsername(conf.Username)
	}

	if conf.Password != "" {
		options.SetPassword(conf.Password)
	}

	options.SetAutoReconnect(true)
	options.SetConnectTimeout(conf.ConnectTimeout)

	if conf.KeepAlive > 0 {
		options.SetKeepAlive(conf.KeepAlive)
	}

	return options
}

func getClientID(clientID string) string {
	if clientID != "" {
		clientID = "-" + clientID
	}

	return "exnotify-" + uuid.NewString() + clientID
}

func (m *MQTT) Notify(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options) error {
	ctx, span := otel.GetTracerProvider().Tracer("exnotify").Start(ctx, "mqtt-notify")
	defer span.End()

	p := notifier.NewPayload(o, opts)

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	start := time.Now()

	token := m.client.Publish(m.config.Topic, byte(m.config.QoS), m.config.Retained, data)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publishing to %s: %w", m.config.Topic, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publishing to %s: %w", m.config.Topic, err)
	}

	if m.logger != nil {
		m.logger.Debug(&notifier.PublishLog{
			Backend:       "MQTT",
			Topic:         m.config.Topic,
			Host:          m.config.Hostname,
			OccurrenceID:  p.ID,
			CorrelationID: span.SpanContext().TraceID().String(),
			Time:          time.Since(start).Microseconds(),
		})
	}

	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(disconnectQuiesce)

	return nil
}
