package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultModel = "anthropic:claude-sonnet-4-5"

// config is the resolved CLI configuration. Flags win over CORTEX_*
// environment variables, which win over defaults.
type config struct {
	LogLevel     string
	LogFormat    string
	Model        string
	InferenceURL string
	TemplatesDir string
	Attempts     int
}

// loadDotEnv reads .env from the working directory, or the named files,
// when present. Variables already set in the environment are left alone.
// A missing file is not an error; a malformed one is.
func loadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

func envDefaults() config {
	return config{
		LogLevel:     getEnv("CORTEX_LOG_LEVEL", "info"),
		LogFormat:    getEnv("CORTEX_LOG_FORMAT", "text"),
		Model:        getEnv("CORTEX_MODEL", defaultModel),
		InferenceURL: getEnv("CORTEX_INFERENCE_URL", ""),
		TemplatesDir: getEnv("CORTEX_TEMPLATES_DIR", ""),
		Attempts:     getEnvInt("CORTEX_ATTEMPTS", 1),
	}
}

// resolve overlays the flags that were set explicitly onto the environment
// defaults.
func resolve(changed func(name string) bool, env, set config) config {
	out := env
	if changed("log-level") {
		out.LogLevel = set.LogLevel
	}
	if changed("log-format") {
		out.LogFormat = set.LogFormat
	}
	if changed("model") {
		out.Model = set.Model
	}
	if changed("inference-url") {
		out.InferenceURL = set.InferenceURL
	}
	if changed("templates-dir") {
		out.TemplatesDir = set.TemplatesDir
	}
	if changed("attempts") {
		out.Attempts = set.Attempts
	}
	return out
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return def
	}
	return v
}
