// Package app assembles the full orchestration stack from a workspace:
// database, migrations, config, registry seeding, and the coordinator
// with its collaborators. The CLI and tests both boot through here so
// they wire the system identically.
package app

import (
	"context"
	"database/sql"
	"log"
	"time"

	"hireline/internal/config"
	"hireline/internal/coordinator"
	"hireline/internal/db"
	"hireline/internal/domain"
	"hireline/internal/events"
	"hireline/internal/ledger"
	"hireline/internal/llm"
	"hireline/internal/migrate"
	"hireline/internal/planner"
	"hireline/internal/registry"
	"hireline/internal/repo"
	"hireline/internal/settle"
	"hireline/internal/synth"
	"hireline/internal/worker"
)

// Runtime is a fully wired instance bound to one workspace.
type Runtime struct {
	DB          *sql.DB
	Config      *config.Config
	Repo        repo.Repo
	Registry    *registry.Registry
	Ledger      *ledger.Ledger
	Broker      *events.Broker
	Coordinator *coordinator.Coordinator
}

// Build opens the workspace database, migrates it, seeds the worker
// catalog, and wires the coordinator. The Anthropic collaborator is
// optional: without an API key the planner and synthesizer use their
// deterministic fallbacks.
func Build(ctx context.Context, workspace string) (*Runtime, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	rt, err := BuildWithDB(ctx, conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return rt, nil
}

// BuildWithDB wires a runtime onto an already-open migrated database.
func BuildWithDB(ctx context.Context, conn *sql.DB, cfg *config.Config) (*Runtime, error) {
	r := repo.Repo{DB: conn}

	reg, err := registry.New(r, registry.Options{
		Epsilon:           cfg.Selection.Epsilon,
		ReputationReward:  cfg.Selection.ReputationReward,
		ReputationPenalty: cfg.Selection.ReputationPenalty,
	})
	if err != nil {
		return nil, err
	}
	if err := reg.Seed(ctx, catalogEntries(cfg.Workers)); err != nil {
		return nil, err
	}

	broker := events.NewBroker()
	led, err := ledger.New(r, broker)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(llm.ClientConfig{
		Model:     cfg.Collaborators.Anthropic.Model,
		MaxTokens: cfg.Collaborators.Anthropic.MaxTokens,
	})
	if err != nil {
		log.Printf("app: collaborator disabled: %v", err)
		client = nil
	}

	coord := &coordinator.Coordinator{
		Registry: reg,
		Ledger:   led,
		Planner:  planner.New(client, cfg),
		Synth:    synth.New(client),
		Invoker:  worker.NewHTTPInvoker(time.Duration(cfg.Collaborators.Worker.TimeoutMS) * time.Millisecond),
		Settler: settle.NewMockChain(
			time.Duration(cfg.Collaborators.Settle.TimeoutMS)*time.Millisecond,
			time.Duration(cfg.Collaborators.Settle.LatencyMS)*time.Millisecond,
			cfg.Collaborators.Settle.FailureRate,
		),
		Broker:     broker,
		Repo:       r,
		Builtin:    worker.NewBuiltin(),
		MaxRetries: cfg.Healing.MaxRetries,
	}

	return &Runtime{
		DB:          conn,
		Config:      cfg,
		Repo:        r,
		Registry:    reg,
		Ledger:      led,
		Broker:      broker,
		Coordinator: coord,
	}, nil
}

// Close releases the runtime's database handle.
func (rt *Runtime) Close() error {
	return rt.DB.Close()
}

func catalogEntries(seeds []config.WorkerSeed) []domain.WorkerEntry {
	entries := make([]domain.WorkerEntry, 0, len(seeds))
	for _, s := range seeds {
		active := true
		if s.Active != nil {
			active = *s.Active
		}
		entries = append(entries, domain.WorkerEntry{
			ID:         s.ID,
			Name:       s.Name,
			Category:   s.Category,
			Endpoint:   s.Endpoint,
			PriceUnits: s.PriceUnits,
			Reputation: s.Reputation,
			IsActive:   active,
		})
	}
	return entries
}
