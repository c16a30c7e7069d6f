package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cofferhq/coffer/pkg/approval"
	"github.com/cofferhq/coffer/pkg/events"
	"github.com/cofferhq/coffer/pkg/keystore"
	"github.com/cofferhq/coffer/pkg/queue"
	"github.com/cofferhq/coffer/pkg/replication"
	"github.com/cofferhq/coffer/pkg/storage"
	"github.com/cofferhq/coffer/pkg/syncer"
)

var resyncCmd = &cobra.Command{
	Use:   "resync IMPORT_ID",
	Short: "Re-enqueue a full replication of one import",
	Long: `Re-enqueue a replication job covering every secret the given
import subscribes to.

Use this to repair a destination folder after a failed replication or to
backfill a destination that was subscribed before its source had secrets.
The job is picked up by a running worker; this command only enqueues it.

Note: the command reads the secrets store directly, so it must run
against a data directory no worker process currently holds open.`,
	Args: cobra.ExactArgs(1),
	RunE: runResync,
}

func init() {
	resyncCmd.Flags().String("config", "", "Path to YAML config file")
	resyncCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	resyncCmd.Flags().String("redis-addr", "", "Redis address (overrides config)")
}

func runResync(cmd *cobra.Command, args []string) error {
	importID := args[0]
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("redis-addr") {
		cfg.Redis.Addr, _ = cmd.Flags().GetString("redis-addr")
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()

	rdb, err := openRedis(cfg.Redis)
	if err != nil {
		return err
	}
	keys := keystore.NewClient(rdb)
	defer keys.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	rt := queue.NewRuntime(rdb, broker, cfg.queueConfig())

	worker := replication.NewWorker(store, keys, approval.NewStoreOracle(store), syncer.NewEnqueuer(store, rt), broker)
	worker.Attach(rt)
	defer worker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := worker.Resync(ctx, importID); err != nil {
		return fmt.Errorf("failed to resync import: %v", err)
	}

	fmt.Printf("✓ Resync enqueued for import %s\n", importID)
	return nil
}
