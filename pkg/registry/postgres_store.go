package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

// PostgresStore persists agents and contract versions so a registry can be
// rebuilt on start-up.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgRegistrySchema = `
CREATE TABLE IF NOT EXISTS failsafe_agents (
	name TEXT PRIMARY KEY,
	agent_json JSONB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS failsafe_contracts (
	contract_id TEXT NOT NULL,
	version TEXT NOT NULL,
	consumer_agent TEXT NOT NULL,
	provider_agent TEXT NOT NULL,
	contract_json JSONB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (contract_id, version)
);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgRegistrySchema)
	return err
}

func (s *PostgresStore) SaveAgent(ctx context.Context, a *contracts.AgentIdentity) error {
	agentJSON, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	query := `
		INSERT INTO failsafe_agents (name, agent_json, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET agent_json = $2, updated_at = $3
	`
	_, err = s.db.ExecContext(ctx, query, a.Name, agentJSON, time.Now().UTC())
	return err
}

// SaveContract upserts one version of a contract. Contracts without a
// version are stored as 0.0.0.
func (s *PostgresStore) SaveContract(ctx context.Context, c *contracts.HandoffContract) error {
	contractJSON, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contract: %w", err)
	}
	version := c.Version
	if version == "" {
		version = "0.0.0"
	}
	query := `
		INSERT INTO failsafe_contracts (contract_id, version, consumer_agent, provider_agent, contract_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contract_id, version) DO UPDATE
		SET consumer_agent = $3, provider_agent = $4, contract_json = $5, created_at = $6
	`
	_, err = s.db.ExecContext(ctx, query, c.ContractID, version, c.ConsumerAgent, c.ProviderAgent, contractJSON, time.Now().UTC())
	return err
}

// Load registers every stored agent and, per contract id, the highest
// semver version into r.
func (s *PostgresStore) Load(ctx context.Context, r *Registry) error {
	if err := s.loadAgents(ctx, r); err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT contract_id, version, contract_json FROM failsafe_contracts")
	if err != nil {
		return fmt.Errorf("query contracts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type versioned struct {
		v *semver.Version
		b []byte
	}
	latest := make(map[string]versioned)
	for rows.Next() {
		var id, verStr string
		var cJSON []byte
		if err := rows.Scan(&id, &verStr, &cJSON); err != nil {
			return fmt.Errorf("scan contract: %w", err)
		}
		v, err := semver.NewVersion(verStr)
		if err != nil {
			r.logger.Warn("skipping contract with invalid version", "contract_id", id, "version", verStr)
			continue
		}
		if cur, ok := latest[id]; !ok || v.GreaterThan(cur.v) {
			latest[id] = versioned{v: v, b: cJSON}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		var c contracts.HandoffContract
		if err := json.Unmarshal(latest[id].b, &c); err != nil {
			return fmt.Errorf("decode contract %s: %w", id, err)
		}
		if _, err := r.RegisterContract(&c); err != nil {
			return fmt.Errorf("register contract %s: %w", id, err)
		}
	}
	return nil
}

func (s *PostgresStore) loadAgents(ctx context.Context, r *Registry) error {
	rows, err := s.db.QueryContext(ctx, "SELECT agent_json FROM failsafe_agents ORDER BY name")
	if err != nil {
		return fmt.Errorf("query agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var aJSON []byte
		if err := rows.Scan(&aJSON); err != nil {
			return fmt.Errorf("scan agent: %w", err)
		}
		var a contracts.AgentIdentity
		if err := json.Unmarshal(aJSON, &a); err != nil {
			return fmt.Errorf("decode agent: %w", err)
		}
		if err := r.RegisterAgent(&a); err != nil {
			return err
		}
	}
	return rows.Err()
}
