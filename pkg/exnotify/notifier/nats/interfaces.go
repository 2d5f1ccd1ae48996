package nats

import (
	"context"

	"github.com/nats-io/nats.go"
)

// Conn is the part of *nats.Conn the notifier uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}
