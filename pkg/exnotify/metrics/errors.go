package metrics

import (
	"errors"
	"fmt"
)

var errLabelPairs = errors.New("labels must be key/value pairs")

type metricsAlreadyRegistered struct {
	metricsName string
	err         error
}

type metricsNotRegistered struct {
	metricsName string
}

func (e metricsAlreadyRegistered) Error() string {
	return fmt.Sprintf("Metrics %v could not be registered: %v", e.metricsName, e.err)
}

func (e metricsNotRegistered) Error() string {
	return fmt.Sprintf("Metrics %v is not registered", e.metricsName)
}

// labelValues orders the key/value pairs in pairs by the label names the metric was
// registered with. Missing labels are recorded as empty strings.
func labelValues(name string, names, pairs []string) ([]string, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("metric %v: %w", name, errLabelPairs)
	}

	values := make([]string, len(names))

	for i := 0; i < len(pairs); i += 2 {
		for j, n := range names {
			if n == pairs[i] {
				values[j] = pairs[i+1]
			}
		}
	}

	return values, nil
}
