package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mcdev12/typerace/go/internal/texts"
)

type Config struct {
	Port               string
	CORSAllowedOrigins []string

	RaceTextsFile string
	RaceTextMode  texts.Mode

	EventsPerSecond float64
	EventBurst      int

	NATS NATSConfig

	LogLevel  string
	LogFormat string
}

type NATSConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
}

// Enabled reports whether round results should be published
func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

func loadConfig() (*Config, error) {
	mode, err := texts.ParseMode(getEnv("RACE_TEXT_MODE", string(texts.ModeConcat)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               getEnv("PORT", "3333"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		RaceTextsFile:      getEnv("RACE_TEXTS_FILE", ""),
		RaceTextMode:       mode,
		EventsPerSecond:    getEnvAsFloat("WS_EVENTS_PER_SECOND", 40),
		EventBurst:         getEnvAsInt("WS_EVENT_BURST", 80),
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			StreamName:    getEnv("NATS_STREAM", "TYPERACE_EVENTS"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "typerace.events"),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if cfg.EventsPerSecond <= 0 || cfg.EventBurst <= 0 {
		return nil, fmt.Errorf("WS_EVENTS_PER_SECOND and WS_EVENT_BURST must be positive")
	}
	return cfg, nil
}

// loadPassages reads the passages file if one is configured
func (c *Config) loadPassages() (texts.Passages, error) {
	if c.RaceTextsFile == "" {
		return texts.Default(), nil
	}
	return texts.LoadFile(c.RaceTextsFile)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
