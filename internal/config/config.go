package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SinkStream = "stream"
	SinkKafka  = "kafka"
)

// AppConfig holds runtime settings, read from the environment with defaults.
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka brokers (comma separated), topic, and the receipt consumer group
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox; the relay forwards it to Kafka
	EventStream   string
	EventGroup    string
	EventConsumer string
	// EventSink is "stream" (outbox + relay) or "kafka" (direct)
	EventSink string

	ScanRateLimit  int
	ScanRateWindow time.Duration
	ScanClaimTTL   time.Duration

	// RiskScanInterval of zero disables the background scheduler
	RiskScanInterval time.Duration
	RiskScanLimit    int
	RiskScanLockTTL  time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads and validates the configuration.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		DBPath:        getEnv("DB_PATH", "kanban.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:  splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "kanban-lifecycle-events"),
		KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "kanban-event-receipts"),
		EventStream:   getEnv("EVENT_STREAM", "kanban:lifecycle_events"),
		EventGroup:    getEnv("EVENT_GROUP", "kanban-relay-group"),
		EventConsumer: getEnv("EVENT_CONSUMER", "kanban-relay-1"),
		EventSink:     strings.ToLower(getEnv("EVENT_SINK", SinkStream)),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	if cfg.ScanRateLimit, err = positiveInt("SCAN_RATE_LIMIT", 30); err != nil {
		return AppConfig{}, err
	}
	if cfg.ScanRateWindow, err = positiveSeconds("SCAN_RATE_WINDOW_SEC", 60); err != nil {
		return AppConfig{}, err
	}
	if cfg.ScanClaimTTL, err = positiveSeconds("SCAN_CLAIM_TTL_SEC", 86400); err != nil {
		return AppConfig{}, err
	}

	interval, err := getEnvInt("RISK_SCAN_INTERVAL_SEC", 900)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RISK_SCAN_INTERVAL_SEC: %w", err)
	}
	if interval < 0 {
		return AppConfig{}, fmt.Errorf("RISK_SCAN_INTERVAL_SEC must be >= 0")
	}
	cfg.RiskScanInterval = time.Duration(interval) * time.Second
	if cfg.RiskScanLimit, err = positiveInt("RISK_SCAN_LIMIT", 50); err != nil {
		return AppConfig{}, err
	}
	if cfg.RiskScanLockTTL, err = positiveSeconds("RISK_SCAN_LOCK_TTL_SEC", 120); err != nil {
		return AppConfig{}, err
	}
	// the scheduler holds the lock until it expires, so it must lapse before the next tick
	if cfg.RiskScanInterval > 0 && cfg.RiskScanLockTTL >= cfg.RiskScanInterval {
		return AppConfig{}, fmt.Errorf("RISK_SCAN_LOCK_TTL_SEC must be below RISK_SCAN_INTERVAL_SEC")
	}

	if cfg.EventSink != SinkStream && cfg.EventSink != SinkKafka {
		return AppConfig{}, fmt.Errorf("EVENT_SINK must be %q or %q", SinkStream, SinkKafka)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.EventSink == SinkStream {
		if cfg.EventStream == "" || cfg.EventGroup == "" || cfg.EventConsumer == "" {
			return AppConfig{}, fmt.Errorf("EVENT_STREAM, EVENT_GROUP and EVENT_CONSUMER are required for the stream sink")
		}
	}

	return cfg, nil
}

func positiveInt(key string, fallback int) (int, error) {
	v, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return v, nil
}

func positiveSeconds(key string, fallback int) (time.Duration, error) {
	v, err := positiveInt(key, fallback)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

// getEnv returns the trimmed value of key, or fallback when empty.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV splits a comma separated list, dropping blanks.
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
