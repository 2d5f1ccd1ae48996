// Package nats publishes occurrences on a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const (
	Kind = "nats"

	defaultName = "exnotify"
)

var (
	ErrServerNotProvided  = errors.New("nats: server address not provided")
	ErrSubjectNotProvided = errors.New("nats: subject not provided")
)

type Config struct {
	Server  string `mapstructure:"server"`
	Subject string `mapstructure:"subject"`
	Name    string `mapstructure:"name"`
	// Flush waits for the server to acknowledge every published message.
	Flush bool `mapstructure:"flush"`
}

type NATS struct {
	conn   Conn
	config Config
	logger notifier.Logger
}

// Constructor returns the constructor registered for the "nats" kind. It connects eagerly
// so that an unreachable server is reported at registration.
func Constructor(logger notifier.Logger) notifier.Constructor {
	return func(opts notifier.Options) (notifier.Notifier, error) {
		conf := Config{Name: defaultName}

		if err := notifier.Decode(opts, &conf); err != nil {
			return nil, fmt.Errorf("nats: decoding options: %w", err)
		}

		return New(conf, logger)
	}
}

func New(conf Config, logger notifier.Logger) (*NATS, error) {
	if err := validateConfigs(&conf); err != nil {
		return nil, err
	}

	conn, err := nats.Connect(conf.Server, nats.Name(conf.Name))
	if err != nil {
		return nil, fmt.Errorf("nats: connecting to %s: %w", conf.Server, err)
	}

	if logger != nil {
		logger.Debugf("connected to NATS server '%s'", conf.Server)
	}

	return NewWithConn(conf, conn, logger), nil
}

func NewWithConn(conf Config, conn Conn, logger notifier.Logger) *NATS {
	return &NATS{conn: conn, config: conf, logger: logger}
}

func validateConfigs(conf *Config) error {
	if conf.Server == "" {
		return ErrServerNotProvided
	}

	if conf.Subject == "" {
		return ErrSubjectNotProvided
	}

	return nil
}

func (n *NATS) Notify(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options) error {
	ctx, span := otel.GetTracerProvider().Tracer("exnotify").Start(ctx, "nats-notify")
	defer span.End()

	p := notifier.NewPayload(o, opts)

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(n.config.Subject)
	msg.Data = data
	msg.Header.Set("Kind", p.Kind)
	msg.Header.Set("Fingerprint", p.Fingerprint)
	msg.Header.Set("Background", strconv.FormatBool(p.Background))
	msg.Header.Set(nats.MsgIdHdr, p.ID)

	start := time.Now()

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats: publishing to %s: %w", n.config.Subject, err)
	}

	if n.config.Flush {
		if err := n.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("nats: flushing %s: %w", n.config.Subject, err)
		}
	}

	if n.logger != nil {
		n.logger.Debug(&notifier.PublishLog{
			Backend:       "NATS",
			Topic:         n.config.Subject,
			Host:          n.config.Server,
			OccurrenceID:  p.ID,
			CorrelationID: span.SpanContext().TraceID().String(),
			Time:          time.Since(start).Microseconds(),
		})
	}

	return nil
}

// Close drains the connection: pending messages are flushed before it closes.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
