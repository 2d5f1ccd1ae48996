package redis

import (
	"context"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"exnotify.dev/pkg/exnotify/cache"
)

type QueryLog struct {
	Query    string `json:"query"`
	Duration int64  `json:"duration"`
	Args     []any  `json:"args,omitempty"`
}

// queryLogger logs every command at DEBUG level with its duration in microseconds.
type queryLogger struct {
	logger cache.Logger
}

func (q *queryLogger) log(start time.Time, query string, args []any) {
	q.logger.Debugf("%v", QueryLog{
		Query:    query,
		Duration: time.Since(start).Microseconds(),
		Args:     args,
	})
}

func (*queryLogger) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (q *queryLogger) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		q.log(start, cmd.Name(), cmd.Args())

		return err
	}
}

func (q *queryLogger) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)

		names := make([]any, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, cmd.Name())
		}

		q.log(start, "pipeline", names)

		return err
	}
}
