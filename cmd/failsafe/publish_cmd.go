package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/Mindburn-Labs/failsafe/pkg/config"
	"github.com/Mindburn-Labs/failsafe/pkg/contractloader"
	"github.com/Mindburn-Labs/failsafe/pkg/registry"
)

// runPublishCmd implements `failsafe publish`: it validates a contracts
// directory and upserts it into the Postgres registry named by
// FAILSAFE_REGISTRY_DSN.
func runPublishCmd(args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("publish", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var contractsDir string
	cmd.StringVar(&contractsDir, "contracts", cfg.ContractsDir, "Directory of contract documents")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cfg.RegistryDSN == "" {
		_, _ = fmt.Fprintln(stderr, "Error: FAILSAFE_REGISTRY_DSN is required")
		return 2
	}

	loader, err := contractloader.New(contractloader.WithLogger(logger.With("component", "contractloader")))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	doc, err := loader.LoadDir(contractsDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	// Register into a scratch registry so invalid documents never reach
	// the database.
	if err := loader.Register(registry.New(), doc); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", cfg.RegistryDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	if err := publish(ctx, registry.NewPostgresStore(db), doc); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Published %d agents and %d contracts\n", len(doc.Agents), len(doc.Contracts))
	return 0
}

func publish(ctx context.Context, store *registry.PostgresStore, doc *contractloader.Document) error {
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init registry schema: %w", err)
	}
	for _, a := range doc.Agents {
		if err := store.SaveAgent(ctx, a); err != nil {
			return err
		}
	}
	for _, c := range doc.Contracts {
		if err := store.SaveContract(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
