package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 8000
scheduler:
  max_concurrency: 8
  task_timeout: "5m"
rate_limit:
  default:
    capacity: 4
    refill_per_second: 1
  domains:
    "example.com":
      capacity: 2
      refill_per_second: 0.5
escalation:
  backoff_base: "500ms"
  max_retries_per_strategy: 3
validation:
  confidence_threshold: 0.7
storage:
  job_store:
    type: memory
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.API.Port)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, "5m", cfg.Scheduler.TaskTimeout)
	assert.Equal(t, 2, cfg.RateLimit.Domains["example.com"].Capacity)
	assert.InDelta(t, 0.5, cfg.RateLimit.Domains["example.com"].RefillPerSecond, 1e-9)
	assert.Equal(t, 3, cfg.Escalation.MaxRetriesPerStrategy)
	assert.InDelta(t, 0.7, cfg.Validation.ConfidenceThreshold, 1e-9)
	assert.Equal(t, "memory", cfg.Storage.JobStore.Type)
}

func TestLoadConfigEnvSubstitution(t *testing.T) {
	t.Setenv("CITATION_API_KEY", "key-from-env")
	path := writeConfig(t, `
delivery:
  endpoint: "http://localhost:9000"
  api_key: "${CITATION_API_KEY}"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.Delivery.APIKey)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 15*time.Second, ParseDuration("", 15*time.Second))
	assert.Equal(t, 2*time.Second, ParseDuration("2s", time.Second))
	assert.Equal(t, time.Second, ParseDuration("not-a-duration", time.Second))
	assert.Equal(t, time.Second, ParseDuration("-1s", time.Second))
}
