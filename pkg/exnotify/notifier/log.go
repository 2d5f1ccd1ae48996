package notifier

import (
	"fmt"
	"io"
)

// Logger is the logging surface the built-in notifiers need. logging.Logger satisfies it.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

// PublishLog is logged at DEBUG by the broker notifiers for every message they publish.
type PublishLog struct {
	Backend       string `json:"backend"`
	Topic         string `json:"topic"`
	Host          string `json:"host"`
	OccurrenceID  string `json:"occurrenceID"`
	CorrelationID string `json:"correlationID"`
	Time          int64  `json:"duration"`
}

func (l *PublishLog) PrettyPrint(writer io.Writer) {
	fmt.Fprintf(writer, "\u001B[38;5;8m%-32s \u001B[38;5;24m%-5s\u001B[0m %8d\u001B[38;5;8mµs\u001B[0m PUB %s \u001B[38;5;101m%s\u001B[0m\n",
		l.CorrelationID, l.Backend, l.Time, l.Topic, l.OccurrenceID)
}
