package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreModeMongo  = "mongo"
	StoreModeMemory = "memory"
)

// Config aggregates application configuration loaded from environment
// variables.
type Config struct {
	Env      string
	HTTPAddr string

	StoreMode string
	MongoURI  string
	MongoDB   string

	KafkaBrokers []string
	KafkaTopic   string
	InstanceID   string

	IdentityBaseURL string

	BrevoAPIKey     string
	BrevoEndpoint   string
	EmailSender     string
	EmailSenderName string

	NotifyInterval    time.Duration
	NotifyBatchSize   int
	NotifyBackoff     time.Duration
	NotifyMaxAttempts int
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		StoreMode:       strings.ToLower(getEnv("STORE_MODE", StoreModeMongo)),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDB:         getEnv("MONGO_DB", "huddle"),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "huddle.chat.events.v1"),
		InstanceID:      getEnv("INSTANCE_ID", hostnameOrDefault()),
		IdentityBaseURL: strings.TrimRight(os.Getenv("IDENTITY_BASE_URL"), "/"),
		BrevoAPIKey:     os.Getenv("BREVO_API_KEY"),
		BrevoEndpoint:   os.Getenv("BREVO_ENDPOINT"),
		EmailSender:     getEnv("EMAIL_SENDER", "no-reply@huddle.local"),
		EmailSenderName: getEnv("EMAIL_SENDER_NAME", "Huddle"),
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	interval, err := parseDurationEnv("NOTIFY_POLL_INTERVAL", time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg.NotifyInterval = interval

	backoff, err := parseDurationEnv("NOTIFY_RETRY_BACKOFF", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg.NotifyBackoff = backoff

	batch, err := parseIntEnv("NOTIFY_BATCH_SIZE", 50)
	if err != nil {
		return Config{}, err
	}
	cfg.NotifyBatchSize = batch

	maxAttempts, err := parseIntEnv("NOTIFY_MAX_ATTEMPTS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.NotifyMaxAttempts = maxAttempts

	switch cfg.StoreMode {
	case StoreModeMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required when STORE_MODE=%s", StoreModeMongo)
		}
	case StoreModeMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_MODE: %q", cfg.StoreMode)
	}
	if cfg.IdentityBaseURL == "" {
		return Config{}, fmt.Errorf("IDENTITY_BASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}

func hostnameOrDefault() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "huddle-1"
}
