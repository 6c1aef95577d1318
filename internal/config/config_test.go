package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSourceURL = "http://localhost:8081/report.html"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultSourceURL, cfg.SourceURL)
	assert.Equal(t, "table-responsive", cfg.SourceTableClass)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, int64(5<<20), cfg.FetchMaxBytes)
	assert.Equal(t, "covid-at-etl/1.0", cfg.UserAgent)
	assert.Equal(t, "data_AT", cfg.DataDir)
	assert.False(t, cfg.StrictRows)
	assert.Equal(t, 5, cfg.MetricParallelism)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	assert.Empty(t, cfg.RunLogPath)
	assert.False(t, cfg.KafkaEnabled())
	assert.Equal(t, "covid-at-daily-figures", cfg.KafkaTopic)
	assert.False(t, cfg.S3Enabled())
	assert.Equal(t, "eu-central-1", cfg.S3Region)
	assert.Empty(t, cfg.PushgatewayURL)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("SOURCE_URL", testSourceURL)
	t.Setenv("SOURCE_TABLE_CLASS", "data-table")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("FETCH_MAX_BYTES", "1024")
	t.Setenv("USER_AGENT", "test-agent")
	t.Setenv("DATA_DIR", "/var/lib/covid")
	t.Setenv("STRICT_ROWS", "true")
	t.Setenv("METRIC_PARALLELISM", "2")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("RUN_LOG_PATH", "/var/lib/covid/runs.db")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_TOPIC", "figures")
	t.Setenv("S3_BUCKET", "covid-at")
	t.Setenv("S3_PREFIX", "stores/")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("PUSHGATEWAY_URL", "http://pushgateway:9091")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, testSourceURL, cfg.SourceURL)
	assert.Equal(t, "data-table", cfg.SourceTableClass)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, int64(1024), cfg.FetchMaxBytes)
	assert.Equal(t, "test-agent", cfg.UserAgent)
	assert.Equal(t, "/var/lib/covid", cfg.DataDir)
	assert.True(t, cfg.StrictRows)
	assert.Equal(t, 2, cfg.MetricParallelism)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/var/lib/covid/runs.db", cfg.RunLogPath)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, "figures", cfg.KafkaTopic)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "stores/", cfg.S3Prefix)
	assert.Equal(t, "http://minio:9000", cfg.S3Endpoint)
	assert.True(t, cfg.S3PathStyle)
	assert.Equal(t, "http://pushgateway:9091", cfg.PushgatewayURL)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidFetchTimeout(t *testing.T) {
	for _, v := range []string{"bad", "0s", "-1s"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("FETCH_TIMEOUT", v)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "FETCH_TIMEOUT")
		})
	}
}

func TestLoad_InvalidFetchMaxBytes(t *testing.T) {
	t.Setenv("FETCH_MAX_BYTES", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_MAX_BYTES")
}

func TestLoad_InvalidParallelism(t *testing.T) {
	for _, v := range []string{"0", "6", "many"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("METRIC_PARALLELISM", v)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "METRIC_PARALLELISM")
		})
	}
}

func TestLoad_InvalidStrictRows(t *testing.T) {
	t.Setenv("STRICT_ROWS", "sometimes")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRICT_ROWS")
}

func TestLoad_InvalidSourceURL(t *testing.T) {
	for _, v := range []string{"ftp://example.com/report", "/relative/path", "http://"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("SOURCE_URL", v)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "SOURCE_URL")
		})
	}
}
