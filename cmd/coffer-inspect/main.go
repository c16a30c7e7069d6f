package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cofferhq/coffer/pkg/types"
)

var (
	dataDir    = flag.String("data-dir", "/var/lib/coffer", "Coffer data directory")
	jsonOutput = flag.Bool("json", false, "Emit the report as JSON")
	onlyFailed = flag.Bool("failed", false, "List only imports whose last replication failed")
)

// Report summarizes the state of a coffer store
type Report struct {
	Database  string           `json:"database"`
	Buckets   map[string]int   `json:"buckets"`
	Imports   []ImportReport   `json:"imports"`
	Approvals []ApprovalReport `json:"openApprovals,omitempty"`
}

// ImportReport describes one replication import
type ImportReport struct {
	ID             string    `json:"id"`
	FolderID       string    `json:"folderId"`
	Source         string    `json:"source"`
	Success        bool      `json:"success"`
	Status         string    `json:"status,omitempty"`
	LastReplicated time.Time `json:"lastReplicated,omitempty"`
}

// ApprovalReport describes one open approval request
type ApprovalReport struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	FolderID  string    `json:"folderId"`
	CreatedAt time.Time `json:"createdAt"`
}

var countedBuckets = []string{
	"environments",
	"folders",
	"secrets",
	"secret_versions",
	"secret_imports",
	"approval_policies",
	"approval_requests",
	"memberships",
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	dbPath := filepath.Join(*dataDir, "coffer.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	// Read-only with a short lock timeout so a running worker produces a
	// clear error instead of a hang
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		log.Fatalf("Failed to open database (is a worker running?): %v", err)
	}
	defer db.Close()

	report, err := inspect(db, dbPath)
	if err != nil {
		log.Fatalf("Inspection failed: %v", err)
	}

	if *jsonOutput {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode report: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	printReport(report)
}

func inspect(db *bolt.DB, dbPath string) (*Report, error) {
	report := &Report{
		Database: dbPath,
		Buckets:  make(map[string]int),
	}

	err := db.View(func(tx *bolt.Tx) error {
		for _, name := range countedBuckets {
			bucket := tx.Bucket([]byte(name))
			if bucket == nil {
				continue
			}
			count := 0
			_ = bucket.ForEach(func(k, v []byte) error {
				count++
				return nil
			})
			report.Buckets[name] = count
		}

		if imports := tx.Bucket([]byte("secret_imports")); imports != nil {
			err := imports.ForEach(func(k, v []byte) error {
				var imp types.SecretImport
				if err := json.Unmarshal(v, &imp); err != nil {
					log.Printf("⚠ Warning: skipping invalid import record %s: %v", k, err)
					return nil
				}
				if !imp.IsReplication {
					return nil
				}
				if *onlyFailed && (imp.IsReplicationSuccess || imp.LastReplicated.IsZero()) {
					return nil
				}

				report.Imports = append(report.Imports, ImportReport{
					ID:             imp.ID,
					FolderID:       imp.FolderID,
					Source:         imp.ImportEnvID + ":" + imp.ImportPath,
					Success:        imp.IsReplicationSuccess,
					Status:         imp.ReplicationStatus,
					LastReplicated: imp.LastReplicated,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}

		if requests := tx.Bucket([]byte("approval_requests")); requests != nil {
			err := requests.ForEach(func(k, v []byte) error {
				var req types.ApprovalRequest
				if err := json.Unmarshal(v, &req); err != nil {
					log.Printf("⚠ Warning: skipping invalid approval record %s: %v", k, err)
					return nil
				}
				if req.Status != types.ApprovalStatusOpen {
					return nil
				}

				report.Approvals = append(report.Approvals, ApprovalReport{
					ID:        req.ID,
					Slug:      req.Slug,
					FolderID:  req.FolderID,
					CreatedAt: req.CreatedAt,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

func printReport(report *Report) {
	log.Println("Coffer Store Inspector")
	log.Println("======================")
	log.Printf("Database: %s", report.Database)
	log.Println()

	log.Println("Buckets:")
	for _, name := range countedBuckets {
		if count, ok := report.Buckets[name]; ok {
			log.Printf("  %-25s %d", name, count)
		}
	}
	log.Println()

	failing := 0
	for _, imp := range report.Imports {
		if !imp.Success && !imp.LastReplicated.IsZero() {
			failing++
		}
	}
	log.Printf("Replication imports: %d (%d failing)", len(report.Imports), failing)

	for _, imp := range report.Imports {
		switch {
		case imp.LastReplicated.IsZero():
			log.Printf("  - %s  %s  <- %s  never ran", imp.ID, imp.FolderID, imp.Source)
		case imp.Success:
			log.Printf("  ✓ %s  %s  <- %s  ok (last run %s)",
				imp.ID, imp.FolderID, imp.Source, imp.LastReplicated.Format(time.RFC3339))
		default:
			log.Printf("  ⚠ %s  %s  <- %s  failed: %s (last run %s)",
				imp.ID, imp.FolderID, imp.Source, imp.Status, imp.LastReplicated.Format(time.RFC3339))
		}
	}
	log.Println()

	log.Printf("Open approval requests: %d", len(report.Approvals))
	for _, req := range report.Approvals {
		log.Printf("  %s  slug=%s  folder=%s  created %s",
			req.ID, req.Slug, req.FolderID, req.CreatedAt.Format(time.RFC3339))
	}
}
