package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	// Queue defaults
	assert.NotEmpty(t, cfg.Queue.BaseDir)
	assert.Equal(t, 5*time.Second, cfg.Queue.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.Queue.HeartbeatTimeout)
	assert.Equal(t, 5*time.Second, cfg.Queue.BusyTimeout)

	// Scheduler defaults
	assert.Equal(t, 2*time.Second, cfg.Scheduler.Timestep)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.IdleGrace)
	assert.Equal(t, 4, cfg.Scheduler.MaxWorkers)

	// Provider defaults
	assert.Equal(t, "local", cfg.Provider.Type)
	assert.Equal(t, "desipipe-worker", cfg.Provider.WorkerBinary)
	assert.Equal(t, "sbatch", cfg.Provider.SubmitCommand)
	assert.Equal(t, "squeue", cfg.Provider.QueryCommand)
	assert.False(t, cfg.Provider.KilledAtTimeout)

	// Redis defaults — empty addr means the events bus is disabled
	assert.Equal(t, "", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.MaxRetries)

	// Metrics defaults
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	// Admin defaults
	assert.False(t, cfg.Admin.Enabled)
	assert.Equal(t, "127.0.0.1:8081", cfg.Admin.Addr)
	assert.False(t, cfg.Admin.Auth.Enabled)

	// Logging defaults
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_QueueDirEnvOverride(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	t.Setenv("DESIPIPE_QUEUE_DIR", "/custom/queues")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/custom/queues", cfg.Queue.BaseDir)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
queue:
  basedir: "/data/queues"

scheduler:
  timestep: 1s
  maxworkers: 8

provider:
  type: "batch"
  submitcommand: "my-sbatch"

loglevel: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/queues", cfg.Queue.BaseDir)
	assert.Equal(t, 1*time.Second, cfg.Scheduler.Timestep)
	assert.Equal(t, 8, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, "batch", cfg.Provider.Type)
	assert.Equal(t, "my-sbatch", cfg.Provider.SubmitCommand)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestSchedulerConfig_Fields(t *testing.T) {
	cfg := SchedulerConfig{
		Timestep:   2 * time.Second,
		IdleGrace:  30 * time.Second,
		MaxWorkers: 4,
	}

	assert.Equal(t, 2*time.Second, cfg.Timestep)
	assert.Equal(t, 4, cfg.MaxWorkers)
}

func TestProviderConfig_Fields(t *testing.T) {
	cfg := ProviderConfig{
		Type:            "local",
		WorkerBinary:    "desipipe-worker",
		KilledAtTimeout: true,
	}

	assert.Equal(t, "local", cfg.Type)
	assert.True(t, cfg.KilledAtTimeout)
}

func TestQueueConfig_Fields(t *testing.T) {
	cfg := QueueConfig{
		BaseDir:           "/tmp/queues",
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		BusyTimeout:       5 * time.Second,
	}

	assert.Equal(t, "/tmp/queues", cfg.BaseDir)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatTimeout)
}
