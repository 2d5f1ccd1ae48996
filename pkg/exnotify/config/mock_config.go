package config

type mockConfig struct {
	conf map[string]string
}

func NewMockConfig(configMap map[string]string) Config {
	if configMap == nil {
		configMap = make(map[string]string)
	}

	return &mockConfig{
		conf: configMap,
	}
}

func (m *mockConfig) Get(s string) string {
	return m.conf[s]
}

func (m *mockConfig) GetOrDefault(s, d string) string {
	res, ok := m.conf[s]
	if !ok || res == "" {
		res = d
	}

	return res
}

func (m *mockConfig) Keys() []string {
	keys := make([]string, 0, len(m.conf))
	for k := range m.conf {
		keys = append(keys, k)
	}

	return keys
}
