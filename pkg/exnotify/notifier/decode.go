package notifier

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Decode fills the struct pointed to by out from opts. Values are weakly typed: "3" decodes
// into an int, "10s" into a time.Duration, "a, b" into a []string and "k=v, k2=v2" into a
// map[string]string.
func Decode(opts Options, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			splitList,
			splitMap,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}

	return dec.Decode(map[string]any(opts))
}

// splitList splits comma separated strings into string slices.
func splitList(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
		return data, nil
	}

	s, _ := data.(string)
	if strings.TrimSpace(s) == "" {
		return []string{}, nil
	}

	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts, nil
}

// splitMap parses "k=v, k2=v2" into a map[string]string. Pairs without "=" are skipped.
func splitMap(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Map ||
		to.Key().Kind() != reflect.String || to.Elem().Kind() != reflect.String {
		return data, nil
	}

	s, _ := data.(string)
	m := make(map[string]string)

	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}

		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return m, nil
}
