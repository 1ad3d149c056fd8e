package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/desipipe/desipipe/internal/config"
	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/provider"
	"github.com/desipipe/desipipe/internal/scheduler"
	"github.com/desipipe/desipipe/internal/store"
)

var (
	spawnDaemonFlag bool
	spawnTimestep   float64
)

var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Run the spawn loop for a queue (spec.md §4.5)",
	Run: func(cmd *cobra.Command, args []string) {
		runSpawn()
	},
}

func init() {
	spawnCmd.Flags().BoolVar(&spawnDaemonFlag, "spawn", false, "daemonize: detach and run the spawn loop in the background")
	spawnCmd.Flags().Float64Var(&spawnTimestep, "timestep", 0, "scan interval in seconds, overriding scheduler.timestep")
}

func runSpawn() {
	name := requireQueueFlag()

	if spawnDaemonFlag {
		pid, err := daemonizeSpawn(name, spawnTimestep)
		if err != nil {
			exitInternal("failed to daemonize spawn loop", err)
		}
		fmt.Printf("spawn loop launched for %q, pid %d\n", name, pid)
		return
	}

	runSpawnForeground(name, spawnTimestep)
}

// runSpawnForeground opens the queue, assembles a Provider from config,
// and runs the scheduler loop until SIGINT/SIGTERM or the loop's own
// idle-grace exit condition (spec.md §4.5 step 1).
func runSpawnForeground(name string, timestepOverride float64) {
	cfg := loadConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := queuePath(cfg, name)
	st, err := store.Open(ctx, path)
	if err != nil {
		exitInternal(fmt.Sprintf("failed to open queue %q", name), err)
	}
	defer st.Close()

	pub := buildPublisher(cfg.Redis)
	defer pub.Close()

	prov, err := buildProvider(cfg.Provider)
	if err != nil {
		exitInternal("failed to build provider", err)
	}

	timestep := cfg.Scheduler.Timestep
	if timestepOverride > 0 {
		timestep = time.Duration(timestepOverride * float64(time.Second))
	}

	sched := scheduler.New(st, pub, prov, scheduler.Config{
		Timestep:          timestep,
		IdleGrace:         cfg.Scheduler.IdleGrace,
		HeartbeatTimeout:  cfg.Queue.HeartbeatTimeout,
		MaxWorkers:        cfg.Scheduler.MaxWorkers,
		QueuePath:         path,
		WorkerBinary:      cfg.Provider.WorkerBinary,
		HeartbeatInterval: cfg.Queue.HeartbeatInterval,
		WorkerIdleTimeout: cfg.Scheduler.IdleGrace,
		Env:               map[string]string{"DESIPIPE_QUEUE_DIR": cfg.Queue.BaseDir},
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	if err := sched.Run(ctx); err != nil {
		exitInternal("spawn loop failed", err)
	}
}

// daemonizeSpawn re-execs the current binary as `desipipe spawn -q name
// --timestep ...` (without --spawn, so the child runs in the foreground
// of its own detached session), redirecting its output to a per-queue
// log file. timestepSeconds <= 0 means "use config default".
func daemonizeSpawn(name string, timestepSeconds float64) (int, error) {
	cfg := loadConfig()
	if err := os.MkdirAll(cfg.Queue.BaseDir, 0o755); err != nil {
		return 0, fmt.Errorf("create queue dir: %w", err)
	}

	logPath := filepath.Join(cfg.Queue.BaseDir, name+".spawn.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open spawn log %s: %w", logPath, err)
	}
	defer logFile.Close()

	args := []string{"spawn", "-q", name}
	if timestepSeconds > 0 {
		args = append(args, "--timestep", fmt.Sprintf("%g", timestepSeconds))
	}

	cmd := exec.Command(os.Args[0], args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start detached spawn loop: %w", err)
	}
	return cmd.Process.Pid, nil
}

func buildPublisher(cfg config.RedisConfig) events.Publisher {
	if cfg.Addr == "" {
		return events.NoopPublisher{}
	}
	return events.NewFromConfig(cfg)
}

func buildProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Type {
	case "batch":
		return provider.NewBatchProvider(cfg.SubmitCommand, cfg.QueryCommand, cfg.KilledAtTimeout, cfg.SubmitRetryJitter), nil
	case "local", "":
		return provider.NewLocalProvider(cfg.KilledAtTimeout), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
