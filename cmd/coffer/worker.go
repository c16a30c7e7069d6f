package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cofferhq/coffer/pkg/approval"
	"github.com/cofferhq/coffer/pkg/events"
	"github.com/cofferhq/coffer/pkg/health"
	"github.com/cofferhq/coffer/pkg/keystore"
	"github.com/cofferhq/coffer/pkg/log"
	"github.com/cofferhq/coffer/pkg/metrics"
	"github.com/cofferhq/coffer/pkg/queue"
	"github.com/cofferhq/coffer/pkg/reconciler"
	"github.com/cofferhq/coffer/pkg/replication"
	"github.com/cofferhq/coffer/pkg/storage"
	"github.com/cofferhq/coffer/pkg/syncer"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the replication worker",
	Long: `Run the replication worker process.

The worker consumes replication jobs from redis streams, applies secret
changes to subscribed folders, sweeps failed imports back into the queue,
and serves metrics and health endpoints.`,
	RunE: runWorker,
}

func init() {
	defaults := DefaultConfig()

	workerCmd.Flags().String("config", "", "Path to YAML config file")
	workerCmd.Flags().String("data-dir", defaults.DataDir, "Data directory for the secrets store")
	workerCmd.Flags().String("redis-addr", defaults.Redis.Addr, "Redis address")
	workerCmd.Flags().String("listen", defaults.Listen, "Address for metrics and health endpoints")
	workerCmd.Flags().Int("workers", defaults.Queue.Workers, "Consumers per queue")
	workerCmd.Flags().Duration("reconcile-interval", time.Duration(defaults.Reconciler.Interval), "Failed-import sweep interval (0 disables)")
	workerCmd.Flags().String("log-level", defaults.Log.Level, "Log level (debug, info, warn, error)")
}

// applyWorkerFlags lets explicitly-set flags win over the config file
func applyWorkerFlags(cmd *cobra.Command, cfg *Config) {
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("redis-addr") {
		cfg.Redis.Addr, _ = cmd.Flags().GetString("redis-addr")
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen, _ = cmd.Flags().GetString("listen")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Queue.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("reconcile-interval") {
		interval, _ := cmd.Flags().GetDuration("reconcile-interval")
		cfg.Reconciler.Interval = Duration(interval)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	applyWorkerFlags(cmd, &cfg)

	log.Init(cfg.logConfig())
	metrics.SetVersion(Version)

	fmt.Println("Starting Coffer replication worker...")
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Printf("  Redis: %s\n", cfg.Redis.Addr)
	fmt.Printf("  Listen: %s\n", cfg.Listen)
	fmt.Printf("  Queue Workers: %d\n", cfg.Queue.Workers)
	fmt.Println()

	// Store
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "")
	fmt.Println("✓ Store opened")

	// Keystore
	rdb, err := openRedis(cfg.Redis)
	if err != nil {
		return err
	}
	keys := keystore.NewClient(rdb)
	defer keys.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = keys.Ping(pingCtx)
	cancelPing()
	if err != nil {
		return fmt.Errorf("failed to reach keystore: %v", err)
	}
	metrics.RegisterComponent("keystore", true, "")
	fmt.Println("✓ Keystore connected")

	// Event broker
	broker := events.NewBroker()
	broker.Start()

	// Queue runtime and replication worker
	rt := queue.NewRuntime(rdb, broker, cfg.queueConfig())
	enqueuer := syncer.NewEnqueuer(store, rt)
	worker := replication.NewWorker(store, keys, approval.NewStoreOracle(store), enqueuer, broker)
	worker.Attach(rt)

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue runtime: %v", err)
	}
	metrics.RegisterComponent("queue", true, "")
	fmt.Println("✓ Queue runtime started")

	// Reconciler
	recon := reconciler.NewReconciler(store, worker, time.Duration(cfg.Reconciler.Interval))
	recon.Start()
	fmt.Println("✓ Reconciler started")

	// Metrics collector and health monitor
	collector := metrics.NewCollector(store)
	collector.Start()

	monitor := health.NewMonitor(health.DefaultConfig(),
		health.NewKeystoreChecker(keys),
		health.NewStoreChecker(store),
	)
	monitor.Start()
	fmt.Println("✓ Health monitor started")

	// Metrics and health endpoints
	srv := newHTTPServer(cfg.Listen)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %v", err)
		}
	}()
	fmt.Printf("✓ Metrics and health endpoints on %s\n", cfg.Listen)

	fmt.Println()
	fmt.Println("Worker is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	// Shutdown
	monitor.Stop()
	collector.Stop()
	recon.Stop()
	rt.Stop()
	worker.Stop()
	broker.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	fmt.Println("✓ Shutdown complete")
	return nil
}

func newHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
