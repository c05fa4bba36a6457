package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergioferragut/from-kafka-to-polaris/batcher"
)

func setRequired(t *testing.T) {
	t.Setenv("ORGNAME", "acme")
	t.Setenv("CLIENT_ID", "id")
	t.Setenv("CLIENT_SECRET", "secret")
	t.Setenv("TABLE_ID", "table")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Polaris.Org)
	assert.Equal(t, "api.imply.io", cfg.Polaris.APIHost)
	assert.Equal(t, 750000, cfg.Push.MaxBatchBytes)
	assert.Equal(t, 5, cfg.Push.MaxConcurrency)
	assert.Equal(t, batcher.StrategyCount, cfg.Push.Strategy)
	assert.Equal(t, 30*time.Second, cfg.Push.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Agent.MicroBatchInterval)
}

func TestLoadFileThenEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
polaris:
  org: from-file
  api_host: api.eu.imply.io
push:
  max_batch_bytes: 1000
  strategy: greedy
  request_timeout: 10s
kafka:
  brokers: [b1:9092, b2:9092]
  topic: meetup_events
agent:
  micro_batch_interval: 2s
`), 0o600))

	t.Setenv("MAX_CONCURRENCY", "8")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Polaris.Org, "env overrides the file")
	assert.Equal(t, "api.eu.imply.io", cfg.Polaris.APIHost)
	assert.Equal(t, 1000, cfg.Push.MaxBatchBytes)
	assert.Equal(t, 8, cfg.Push.MaxConcurrency)
	assert.Equal(t, batcher.StrategyGreedy, cfg.Push.Strategy)
	assert.Equal(t, 10*time.Second, cfg.Push.RequestTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "meetup_events", cfg.Kafka.Topic)
	assert.Equal(t, 2*time.Second, cfg.Agent.MicroBatchInterval)
}

func TestLoadMissingFile(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Push.MaxBatchBytes = 0
	cfg.Push.Strategy = "random"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"ORGNAME", "CLIENT_ID", "CLIENT_SECRET", "TABLE_ID", "max batch bytes", "random"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestApplyEnvBadValues(t *testing.T) {
	env := map[string]string{
		"MAX_BATCH_BYTES":      "lots",
		"REQUEST_TIMEOUT":      "soon",
		"COMPRESS":             "maybe",
		"REQUESTS_PER_SECOND":  "fast",
		"MICRO_BATCH_INTERVAL": "1m",
	}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.ErrorIs(t, err, ErrInvalid)
	for _, key := range []string{"MAX_BATCH_BYTES", "REQUEST_TIMEOUT", "COMPRESS", "REQUESTS_PER_SECOND"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.Equal(t, time.Minute, cfg.Agent.MicroBatchInterval)
}
