package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exnotify.dev/pkg/exnotify/logging"
)

func TestNewEnvFile_LoadsAndRespectsPrecedence(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("EXNOTIFY_TEST_BASE=base\nEXNOTIFY_TEST_OVERRIDE=base\nEXNOTIFY_TEST_SYSTEM=file\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".local.env"),
		[]byte("EXNOTIFY_TEST_OVERRIDE=local\n"), 0600))

	t.Setenv("EXNOTIFY_TEST_SYSTEM", "system")

	t.Cleanup(func() {
		os.Unsetenv("EXNOTIFY_TEST_BASE")
		os.Unsetenv("EXNOTIFY_TEST_OVERRIDE")
	})

	conf := NewEnvFile(dir, logging.NewMockLogger(logging.FATAL))

	assert.Equal(t, "base", conf.Get("EXNOTIFY_TEST_BASE"))
	assert.Equal(t, "local", conf.Get("EXNOTIFY_TEST_OVERRIDE"))
	assert.Equal(t, "system", conf.Get("EXNOTIFY_TEST_SYSTEM"))
}

func TestNewEnvFile_AppEnvFile(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".staging.env"),
		[]byte("EXNOTIFY_TEST_STAGE=staging\n"), 0600))

	t.Setenv("APP_ENV", "staging")
	t.Cleanup(func() { os.Unsetenv("EXNOTIFY_TEST_STAGE") })

	conf := NewEnvFile(dir, logging.NewMockLogger(logging.FATAL))

	assert.Equal(t, "staging", conf.Get("EXNOTIFY_TEST_STAGE"))
}

func TestEnvLoader_GetOrDefault(t *testing.T) {
	var (
		key   = "random123"
		value = "value123"
		f     = new(EnvLoader)
	)

	t.Setenv(key, value)

	tests := []struct {
		desc  string
		key   string
		value string
	}{
		{"success case", key, value},
		{"key doesn't exists", "someKeyThatDoesntExist", "default"},
	}

	for i, tc := range tests {
		resp := f.GetOrDefault(tc.key, "default")

		assert.Equal(t, tc.value, resp, "TEST[%d], Failed.\n%s", i, tc.desc)
	}
}

func TestMockConfig(t *testing.T) {
	conf := NewMockConfig(map[string]string{"A": "1", "EMPTY": ""})

	assert.Equal(t, "1", conf.Get("A"))
	assert.Equal(t, "fallback", conf.GetOrDefault("EMPTY", "fallback"))
	assert.Equal(t, "fallback", conf.GetOrDefault("MISSING", "fallback"))
}
