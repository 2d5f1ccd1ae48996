package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultFileName         = "/.env"
	defaultOverrideFileName = "/.local.env"
)

type EnvLoader struct {
	logger logger
}

type logger interface {
	Warnf(format string, a ...any)
	Infof(format string, a ...any)
	Debugf(format string, a ...any)
	Fatalf(format string, a ...any)
}

// NewEnvFile loads <folder>/.env, then <folder>/.local.env, then <folder>/.<APP_ENV>.env.
// Values already present in the process environment are never overridden.
func NewEnvFile(configFolder string, logger logger) Config {
	conf := &EnvLoader{logger: logger}
	conf.read(configFolder)

	return conf
}

func (e *EnvLoader) read(folder string) {
	initialEnv := e.captureInitialEnv()

	appEnv := os.Getenv("APP_ENV")

	envMap := make(map[string]string)

	e.loadFile(folder+defaultFileName, envMap, true)
	e.loadFile(folder+defaultOverrideFileName, envMap, false)

	if appEnv != "" {
		e.loadFile(fmt.Sprintf("%s/.%s.env", folder, appEnv), envMap, true)
	}

	for key, value := range envMap {
		if !initialEnv[key] {
			os.Setenv(key, value)
		}
	}
}

func (*EnvLoader) captureInitialEnv() map[string]bool {
	initialEnv := make(map[string]bool)

	for _, envVar := range os.Environ() {
		key, _, _ := strings.Cut(envVar, "=")
		initialEnv[key] = true
	}

	return initialEnv
}

// loadFile merges the file into envMap. A missing file is fine; any other read error is
// fatal when strict is set, since a half-read config is worse than none.
func (e *EnvLoader) loadFile(path string, envMap map[string]string, strict bool) {
	content, err := godotenv.Read(path)
	if err != nil {
		if strict && !errors.Is(err, fs.ErrNotExist) {
			e.logger.Fatalf("Failed to load config from file: %v, Err: %v", path, err)
		}

		return
	}

	for k, v := range content {
		envMap[k] = v
	}

	e.logger.Infof("Loaded config from file: %v", path)
}

func (*EnvLoader) Get(key string) string {
	return os.Getenv(key)
}

func (*EnvLoader) GetOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return defaultValue
}

// Keys returns the names of all environment variables, .env values included.
func (*EnvLoader) Keys() []string {
	env := os.Environ()
	keys := make([]string, 0, len(env))

	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		keys = append(keys, key)
	}

	return keys
}
