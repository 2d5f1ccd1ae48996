// Package kafka publishes occurrences to a Kafka topic. Messages are keyed by fingerprint,
// so the occurrences of one error land on one partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const (
	Kind = "kafka"

	DefaultBatchTimeout    = 10 * time.Millisecond
	MessageMultipleBrokers = "MULTIPLE_BROKERS"
)

var (
	errBrokerNotProvided = errors.New("kafka: broker address not provided")
	errTopicNotProvided  = errors.New("kafka: topic not provided")
	errRequiredAcks      = errors.New("kafka: required_acks must be -1, 0 or 1")
)

type Config struct {
	Broker       []string      `mapstructure:"broker"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

type Kafka struct {
	writer Writer
	config Config
	logger notifier.Logger
}

// Constructor returns the constructor registered for the "kafka" kind.
func Constructor(logger notifier.Logger) notifier.Constructor {
	return func(opts notifier.Options) (notifier.Notifier, error) {
		conf := Config{BatchTimeout: DefaultBatchTimeout, RequiredAcks: int(kafka.RequireOne)}

		if err := notifier.Decode(opts, &conf); err != nil {
			return nil, fmt.Errorf("kafka: decoding options: %w", err)
		}

		return New(conf, logger)
	}
}

// New returns a notifier writing through a kafka.Writer. Connections are opened lazily on
// the first message.
func New(conf Config, logger notifier.Logger) (*Kafka, error) {
	if err := validateConfigs(&conf); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Debugf("publishing exceptions to Kafka brokers '%v', topic '%s'", conf.Broker, conf.Topic)
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(conf.Broker...),
		Topic:                  conf.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           conf.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(conf.RequiredAcks),
		AllowAutoTopicCreation: true,
	}

	return NewWithWriter(conf, w, logger), nil
}

func NewWithWriter(conf Config, w Writer, logger notifier.Logger) *Kafka {
	return &Kafka{writer: w, config: conf, logger: logger}
}

func validateConfigs(conf *Config) error {
	if len(conf.Broker) == 0 || conf.Broker[0] == "" {
		return errBrokerNotProvided
	}

	if conf.Topic == "" {
		return errTopicNotProvided
	}

	switch kafka.RequiredAcks(conf.RequiredAcks) {
	case kafka.RequireAll, kafka.RequireNone, kafka.RequireOne:
	default:
		return errRequiredAcks
	}

	return nil
}

func (k *Kafka) Notify(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options) error {
	ctx, span := otel.GetTracerProvider().Tracer("exnotify").Start(ctx, "kafka-notify")
	defer span.End()

	p := notifier.NewPayload(o, opts)

	value, err := json.Marshal(p)
	if err != nil {
		return err
	}

	start := time.Now()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.Fingerprint),
		Value: value,
		Time:  p.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(p.Kind)},
			{Key: "occurrence-id", Value: []byte(p.ID)},
			{Key: "background", Value: []byte(strconv.FormatBool(p.Background))},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka: publishing to %s: %w", k.config.Topic, err)
	}

	hostName := MessageMultipleBrokers
	if len(k.config.Broker) == 1 {
		hostName = k.config.Broker[0]
	}

	if k.logger != nil {
		k.logger.Debug(&notifier.PublishLog{
			Backend:       "KAFKA",
			Topic:         k.config.Topic,
			Host:          hostName,
			OccurrenceID:  p.ID,
			CorrelationID: span.SpanContext().TraceID().String(),
			Time:          time.Since(start).Microseconds(),
		})
	}

	return nil
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("kafka: closing writer for %s: %w", strings.Join(k.config.Broker, ","), err)
	}

	return nil
}
