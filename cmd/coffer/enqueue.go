package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cofferhq/coffer/pkg/events"
	"github.com/cofferhq/coffer/pkg/queue"
	"github.com/cofferhq/coffer/pkg/security"
	"github.com/cofferhq/coffer/pkg/types"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a replication job from a YAML file",
	Long: `Enqueue a replication job described by a YAML file.

Examples:
  # Replicate two changed secrets from a source folder
  coffer enqueue -f job.yaml

A job file looks like:

  folderId: folder-src
  secretPath: /app
  environmentId: env-prod
  projectId: proj-1
  actor: platform
  secrets:
    - id: sec-db-url
      operation: update`,
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringP("file", "f", "", "YAML job file (required)")
	enqueueCmd.Flags().String("config", "", "Path to YAML config file")
	enqueueCmd.Flags().String("redis-addr", "", "Redis address (overrides config)")
	_ = enqueueCmd.MarkFlagRequired("file")
}

// jobFile is the on-disk shape of a replication job
type jobFile struct {
	FolderID          string          `yaml:"folderId"`
	SecretPath        string          `yaml:"secretPath"`
	EnvironmentID     string          `yaml:"environmentId"`
	ProjectID         string          `yaml:"projectId"`
	Actor             string          `yaml:"actor"`
	ActorID           string          `yaml:"actorId"`
	Secrets           []jobFileSecret `yaml:"secrets"`
	PickOnlyImportIDs []string        `yaml:"pickOnlyImportIds"`
}

type jobFileSecret struct {
	ID        string `yaml:"id"`
	Operation string `yaml:"operation"`
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("redis-addr") {
		cfg.Redis.Addr, _ = cmd.Flags().GetString("redis-addr")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var spec jobFile
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	job, err := buildJob(&spec)
	if err != nil {
		return err
	}

	rdb, err := openRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %v", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	rt := queue.NewRuntime(rdb, broker, cfg.queueConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rt.Enqueue(ctx, queue.QueueSecretReplication, job.ID, payload); err != nil {
		return fmt.Errorf("failed to enqueue job: %v", err)
	}

	fmt.Printf("✓ Replication job enqueued: %s (%d secrets)\n", job.ID, len(job.Secrets))
	return nil
}

// buildJob validates the file spec and converts it to a queue payload
func buildJob(spec *jobFile) (*types.ReplicationJob, error) {
	if spec.FolderID == "" {
		return nil, fmt.Errorf("folderId is required")
	}
	if spec.SecretPath == "" {
		return nil, fmt.Errorf("secretPath is required")
	}
	if spec.EnvironmentID == "" {
		return nil, fmt.Errorf("environmentId is required")
	}
	if spec.ProjectID == "" {
		return nil, fmt.Errorf("projectId is required")
	}
	if len(spec.Secrets) == 0 {
		return nil, fmt.Errorf("at least one secret is required")
	}

	actor := types.ActorType(spec.Actor)
	if spec.Actor == "" {
		actor = types.ActorPlatform
	}
	switch actor {
	case types.ActorUser, types.ActorService, types.ActorPlatform:
	default:
		return nil, fmt.Errorf("unsupported actor: %s", spec.Actor)
	}
	if actor == types.ActorUser && spec.ActorID == "" {
		return nil, fmt.Errorf("actorId is required for user actors")
	}

	secrets := make([]types.JobSecret, 0, len(spec.Secrets))
	for _, s := range spec.Secrets {
		if s.ID == "" {
			return nil, fmt.Errorf("secret id is required")
		}
		op := types.SecretOperation(s.Operation)
		switch op {
		case types.OperationCreate, types.OperationUpdate, types.OperationDelete:
		default:
			return nil, fmt.Errorf("unsupported operation for secret %s: %s", s.ID, s.Operation)
		}
		secrets = append(secrets, types.JobSecret{ID: s.ID, Operation: op})
	}

	jobID, err := security.NewJobID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job id: %v", err)
	}

	return &types.ReplicationJob{
		ID:                jobID,
		Secrets:           secrets,
		FolderID:          spec.FolderID,
		SecretPath:        spec.SecretPath,
		EnvironmentID:     spec.EnvironmentID,
		ProjectID:         spec.ProjectID,
		Actor:             actor,
		ActorID:           spec.ActorID,
		PickOnlyImportIDs: spec.PickOnlyImportIDs,
	}, nil
}
