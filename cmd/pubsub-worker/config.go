package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type config struct {
	ServiceName         string
	ProjectID           string
	CredentialsFile     string
	Endpoint            string
	DefaultTopic        string
	DefaultSubscription string
	AckAfterHandler     bool
	EnableLogger        bool
	Concurrency         int
	NackDelay           time.Duration
	DedupeRedisAddr     string
	DedupeTTL           time.Duration
	HTTPPort            int64
	OTLPEndpoint        string
}

// loadConfig reads envFile when present, then the process environment.
// Variables already set in the environment win over the file.
func loadConfig(envFile string) (*config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &config{
		ServiceName:         getEnv("SERVICE_NAME", "pubsub-worker"),
		ProjectID:           os.Getenv("PUBSUB_PROJECT_ID"),
		CredentialsFile:     os.Getenv("PUBSUB_CREDENTIALS_FILE"),
		Endpoint:            os.Getenv("PUBSUB_ENDPOINT"),
		DefaultTopic:        os.Getenv("PUBSUB_DEFAULT_TOPIC"),
		DefaultSubscription: os.Getenv("PUBSUB_DEFAULT_SUBSCRIPTION"),
		DedupeRedisAddr:     os.Getenv("PUBSUB_DEDUPE_REDIS_ADDR"),
		OTLPEndpoint:        os.Getenv("OTLP_ENDPOINT"),
	}

	var err error
	if cfg.AckAfterHandler, err = getBool("PUBSUB_ACK_AFTER_HANDLER", false); err != nil {
		return nil, err
	}
	if cfg.EnableLogger, err = getBool("PUBSUB_ENABLE_LOGGER", true); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = getInt("PUBSUB_CONCURRENCY", 10); err != nil {
		return nil, err
	}
	if cfg.NackDelay, err = getDuration("PUBSUB_NACK_DELAY", 0); err != nil {
		return nil, err
	}
	if cfg.DedupeTTL, err = getDuration("PUBSUB_DEDUPE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	port, err := getInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.HTTPPort = int64(port)

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PUBSUB_PROJECT_ID is required")
	}
	if cfg.DefaultSubscription != "" && cfg.DefaultTopic == "" {
		return nil, fmt.Errorf("PUBSUB_DEFAULT_SUBSCRIPTION requires PUBSUB_DEFAULT_TOPIC")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
