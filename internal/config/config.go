package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultSourceURL is the ministry page carrying the daily situation table.
const DefaultSourceURL = "https://www.sozialministerium.at/Informationen-zum-Coronavirus/Neuartiges-Coronavirus-(2019-nCov).html"

// Config holds all service settings, populated from environment variables.
type Config struct {
	SourceURL        string
	SourceTableClass string
	FetchTimeout     time.Duration
	FetchMaxBytes    int64
	UserAgent        string

	DataDir           string
	StrictRows        bool
	MetricParallelism int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Optional sinks; each is disabled when its key setting is empty.
	RunLogPath     string
	KafkaBrokers   []string
	KafkaTopic     string
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3PathStyle    bool
	PushgatewayURL string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("FETCH_TIMEOUT", "30s"))
	if err != nil || fetchTimeout <= 0 {
		return nil, errors.New("invalid FETCH_TIMEOUT")
	}

	maxBytes, err := strconv.ParseInt(sharedcfg.EnvOrDefault("FETCH_MAX_BYTES", "5242880"), 10, 64)
	if err != nil || maxBytes <= 0 {
		return nil, errors.New("invalid FETCH_MAX_BYTES")
	}

	parallelism, err := strconv.Atoi(sharedcfg.EnvOrDefault("METRIC_PARALLELISM", "5"))
	if err != nil || parallelism < 1 || parallelism > 5 {
		return nil, errors.New("invalid METRIC_PARALLELISM: must be between 1 and 5")
	}

	strict, err := parseBool("STRICT_ROWS", false)
	if err != nil {
		return nil, err
	}
	pathStyle, err := parseBool("S3_PATH_STYLE", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SourceURL:        sharedcfg.EnvOrDefault("SOURCE_URL", DefaultSourceURL),
		SourceTableClass: sharedcfg.EnvOrDefault("SOURCE_TABLE_CLASS", "table-responsive"),
		FetchTimeout:     fetchTimeout,
		FetchMaxBytes:    maxBytes,
		UserAgent:        sharedcfg.EnvOrDefault("USER_AGENT", "covid-at-etl/1.0"),

		DataDir:           sharedcfg.EnvOrDefault("DATA_DIR", "data_AT"),
		StrictRows:        strict,
		MetricParallelism: parallelism,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		RunLogPath:     os.Getenv("RUN_LOG_PATH"),
		KafkaBrokers:   parseList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     sharedcfg.EnvOrDefault("KAFKA_TOPIC", "covid-at-daily-figures"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Prefix:       os.Getenv("S3_PREFIX"),
		S3Region:       sharedcfg.EnvOrDefault("S3_REGION", "eu-central-1"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3PathStyle:    pathStyle,
		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
	}

	if u, err := url.Parse(cfg.SourceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("invalid SOURCE_URL: must be an absolute http(s) URL")
	}
	if cfg.SourceTableClass == "" {
		return nil, errors.New("SOURCE_TABLE_CLASS is required")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_BROKERS is set but KAFKA_TOPIC is empty")
	}

	return cfg, nil
}

// KafkaEnabled reports whether daily figures are published to Kafka.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// S3Enabled reports whether store files are mirrored to S3.
func (c *Config) S3Enabled() bool { return c.S3Bucket != "" }

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
