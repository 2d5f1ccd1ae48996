/*
Package sns publishes occurrences to an AWS Simple Notification Service topic. The message
is the JSON payload; kind, fingerprint and background are sent as message attributes so that
subscriptions can filter on them.
*/
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"go.opentelemetry.io/otel"

	"exnotify.dev/pkg/exnotify/notifier"
	"exnotify.dev/pkg/exnotify/occurrence"
)

const (
	Kind = "sns"

	// SNS rejects subjects longer than 100 characters.
	maxSubjectLength = 100
)

var (
	ErrMissingTopicArn = errors.New("sns: topic_arn not configured")
	ErrMissingRegion   = errors.New("sns: region not configured")
)

// Config represents the configuration for an AWS SNS notifier.
type Config struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	TopicArn        string `mapstructure:"topic_arn"`
	Endpoint        string `mapstructure:"endpoint"`
}

type SNS struct {
	sns    AWS
	cfg    Config
	logger notifier.Logger
}

// Constructor returns the constructor registered for the "sns" kind.
func Constructor(logger notifier.Logger) notifier.Constructor {
	return func(opts notifier.Options) (notifier.Notifier, error) {
		cfg, err := decode(opts)
		if err != nil {
			return nil, err
		}

		return New(cfg, logger)
	}
}

// New is a factory function that creates and configures an SNS notifier.
func New(cfg Config, logger notifier.Logger) (*SNS, error) {
	if cfg.Region == "" {
		return nil, ErrMissingRegion
	}

	sessionConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	if cfg.AccessKeyID != "" {
		sessionConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	if cfg.Endpoint != "" {
		sessionConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(sessionConfig)
	if err != nil {
		return nil, fmt.Errorf("sns: creating session: %w", err)
	}

	return NewWithClient(cfg, sns.New(sess), logger)
}

// NewWithClient returns an SNS notifier publishing through client.
func NewWithClient(cfg Config, client AWS, logger notifier.Logger) (*SNS, error) {
	if cfg.TopicArn == "" {
		return nil, ErrMissingTopicArn
	}

	return &SNS{sns: client, cfg: cfg, logger: logger}, nil
}

func decode(opts notifier.Options) (Config, error) {
	var cfg Config

	if err := notifier.Decode(opts, &cfg); err != nil {
		return Config{}, fmt.Errorf("sns: decoding options: %w", err)
	}

	if cfg.TopicArn == "" {
		return Config{}, ErrMissingTopicArn
	}

	return cfg, nil
}

// Notify publishes the occurrence payload to the configured topic.
func (s *SNS) Notify(ctx context.Context, o *occurrence.Occurrence, opts notifier.Options) error {
	ctx, span := otel.GetTracerProvider().Tracer("exnotify").Start(ctx, "sns-notify")
	defer span.End()

	p := notifier.NewPayload(o, opts)

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	start := time.Now()

	_, err = s.sns.PublishWithContext(ctx, &sns.PublishInput{
		Message:  aws.String(string(data)),
		Subject:  aws.String(subject(notifier.Title(o))),
		TopicArn: aws.String(s.cfg.TopicArn),
		MessageAttributes: getMessageAttributes(map[string]any{
			"kind":        p.Kind,
			"fingerprint": p.Fingerprint,
			"background":  p.Background,
		}),
	})
	if err != nil {
		return fmt.Errorf("sns: publishing to %s: %w", s.cfg.TopicArn, err)
	}

	if s.logger != nil {
		s.logger.Debug(&notifier.PublishLog{
			Backend:       "SNS",
			Topic:         s.cfg.TopicArn,
			Host:          s.cfg.Region,
			OccurrenceID:  p.ID,
			CorrelationID: span.SpanContext().TraceID().String(),
			Time:          time.Since(start).Microseconds(),
		})
	}

	return nil
}

// subject keeps the title within SNS limits: printable ASCII, at most 100 characters.
func subject(title string) string {
	b := make([]byte, 0, len(title))

	for i := 0; i < len(title) && len(b) < maxSubjectLength; i++ {
		c := title[i]
		if c < ' ' || c > '~' {
			c = '_'
		}

		b = append(b, c)
	}

	return string(b)
}

func getMessageAttributes(mp map[string]any) map[string]*sns.MessageAttributeValue {
	if mp == nil {
		return nil
	}

	values := make(map[string]*sns.MessageAttributeValue)

	for key, val := range mp {
		av := &sns.MessageAttributeValue{}

		var dataType, value string

		switch val.(type) {
		case int, int64, float64:
			dataType = "Number"
			value = fmt.Sprintf("%v", val)
		case []int64, []float64, []string, []any:
			dataType = "String.Array"

			data, _ := json.Marshal(val)

			value = string(data)
		default:
			dataType = "String"
			value = fmt.Sprintf("%v", val)
		}

		av.SetDataType(dataType)
		av.SetStringValue(value)

		values[key] = av
	}

	return values
}
