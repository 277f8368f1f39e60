// Command seed provisions a demo workflow run against the configured
// database so a fresh deployment has something to click on.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"pipeline-cloud/backend/internal/config"
	"pipeline-cloud/backend/internal/logging"
	"pipeline-cloud/backend/internal/repository"
	"pipeline-cloud/backend/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.Environment)

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	store := repository.NewPostgresRunStore(pool)

	count, err := store.Count(ctx)
	if err != nil {
		log.Fatalf("Failed to count runs: %v", err)
	}
	if count > 0 {
		logger.Info("runs already present, nothing to seed", "count", count)
		return
	}

	// Seed one run per configured definition, arguments left unresolved.
	for name, def := range cfg.Workflows {
		args := make(map[string]models.Argument, len(def.Arguments))
		for argName, spec := range def.Arguments {
			args[argName] = models.Argument{Type: spec.Type, Label: spec.Label}
		}

		now := time.Now().UTC()
		run := &models.WorkflowRun{
			ID:              uuid.New().String(),
			Name:            "Demo: " + name,
			RunnerReference: name,
			Arguments:       args,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := store.Create(ctx, run); err != nil {
			log.Fatalf("Failed to seed run for %q: %v", name, err)
		}

		pretty, _ := json.Marshal(run.Arguments)
		logger.Info("seeded demo run",
			"run_id", run.ID,
			"definition", name,
			"arguments", string(pretty),
		)
	}
}
