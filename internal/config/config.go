package config

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Provider  ProviderConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
	Admin     AdminConfig
	LogLevel  string
}

// QueueConfig controls where queue files live and how stale a RUNNING
// task's heartbeat may get before it is swept to UNKNOWN.
type QueueConfig struct {
	BaseDir           string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BusyTimeout       time.Duration
}

// SchedulerConfig controls the spawn loop's cadence.
type SchedulerConfig struct {
	Timestep          time.Duration
	IdleGrace         time.Duration
	MaxWorkers        int
	WorkerIdleTimeout time.Duration
}

// ProviderConfig selects and configures the local or batch provider
// (spec.md §4.6).
type ProviderConfig struct {
	Type              string // "local" or "batch"
	WorkerBinary      string // path to desipipe-worker, for the local provider
	SubmitCommand     string // e.g. "sbatch", for the batch provider
	QueryCommand      string // e.g. "squeue", for the batch provider
	KilledAtTimeout   bool
	SubmitRetryJitter float64
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// AdminConfig controls the optional chi-based HTTP surface (SPEC_FULL §6).
type AdminConfig struct {
	Enabled bool
	Addr    string
	Auth    AuthConfig
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

// Load reads config.yaml from the usual search paths, applies
// DESIPIPE_*-prefixed environment overrides, and falls back to
// defaults for everything unset.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/desipipe")

	setDefaults()

	viper.SetEnvPrefix("DESIPIPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// DESIPIPE_QUEUE_DIR (spec.md §6) overrides queue.basedir directly,
	// bypassing viper's dotted-path env binding so the literal env var
	// name from the spec always works regardless of config file content.
	if dir := os.Getenv("DESIPIPE_QUEUE_DIR"); dir != "" {
		cfg.Queue.BaseDir = dir
	}

	return &cfg, nil
}

func defaultQueueDir() string {
	if u, err := user.Current(); err == nil {
		home, herr := os.UserHomeDir()
		if herr == nil {
			return filepath.Join(home, ".desipipe", "queues", u.Username)
		}
	}
	return filepath.Join(".", ".desipipe", "queues")
}

func setDefaults() {
	// Queue defaults
	viper.SetDefault("queue.basedir", defaultQueueDir())
	viper.SetDefault("queue.heartbeatinterval", 5*time.Second)
	viper.SetDefault("queue.heartbeattimeout", 15*time.Second)
	viper.SetDefault("queue.busytimeout", 5*time.Second)

	// Scheduler defaults
	viper.SetDefault("scheduler.timestep", 2*time.Second)
	viper.SetDefault("scheduler.idlegrace", 30*time.Second)
	viper.SetDefault("scheduler.maxworkers", 4)

	// Provider defaults
	viper.SetDefault("provider.type", "local")
	viper.SetDefault("provider.workerbinary", "desipipe-worker")
	viper.SetDefault("provider.submitcommand", "sbatch")
	viper.SetDefault("provider.querycommand", "squeue")
	viper.SetDefault("provider.killedattimeout", false)
	viper.SetDefault("provider.submitretryjitter", 0.1)

	// Redis defaults (optional events bus — see internal/events)
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 10)
	viper.SetDefault("redis.minidleconns", 2)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Admin defaults
	viper.SetDefault("admin.enabled", false)
	viper.SetDefault("admin.addr", "127.0.0.1:8081")
	viper.SetDefault("admin.auth.enabled", false)
	viper.SetDefault("admin.auth.jwtsecret", "")
	viper.SetDefault("admin.auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
