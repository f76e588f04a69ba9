package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

// PostgresStore persists records in a shared "handoffs" table so several
// processes can write one audit trail.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgAuditSchema = `
CREATE TABLE IF NOT EXISTS handoffs (
	seq BIGSERIAL PRIMARY KEY,
	handoff_id TEXT NOT NULL UNIQUE,
	timestamp TIMESTAMPTZ NOT NULL,
	contract_id TEXT,
	consumer TEXT NOT NULL,
	provider TEXT NOT NULL,
	direction TEXT NOT NULL,
	result TEXT NOT NULL,
	blocked BOOLEAN NOT NULL,
	total_violations INT NOT NULL,
	duration_ms DOUBLE PRECISION,
	violations_json JSONB NOT NULL,
	payload_json JSONB,
	metadata_json JSONB
);
CREATE INDEX IF NOT EXISTS idx_handoffs_consumer ON handoffs(consumer);
CREATE INDEX IF NOT EXISTS idx_handoffs_provider ON handoffs(provider);
CREATE INDEX IF NOT EXISTS idx_handoffs_timestamp ON handoffs(timestamp);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgAuditSchema)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, rec contracts.Record) error {
	violations, payload, metadata, err := encodeBlobs(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO handoffs (handoff_id, timestamp, contract_id, consumer, provider, direction, result, blocked, total_violations, duration_ms, violations_json, payload_json, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.HandoffID, rec.Timestamp.UTC(), rec.ContractID, rec.Consumer, rec.Provider,
		string(rec.Direction), string(rec.Result), rec.Blocked, rec.TotalViolations, rec.ValidationDurationMs,
		string(violations), nullableJSON(payload), nullableJSON(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert handoff %s: %w", rec.HandoffID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, handoffID string) (contracts.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM handoffs WHERE handoff_id = $1`, handoffID)
	if err != nil {
		return contracts.Record{}, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return contracts.Record{}, err
		}
		return contracts.Record{}, ErrRecordNotFound
	}
	return scanPostgresRecord(rows)
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]contracts.Record, error) {
	where, args := f.where(func(n int) string { return fmt.Sprintf("$%d", n) }, func(t time.Time) any { return t.UTC() })
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM handoffs`+where+` ORDER BY seq`+limitClause(f.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.Record, 0)
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanPostgresRecord(rows *sql.Rows) (contracts.Record, error) {
	var (
		rec        contracts.Record
		contractID sql.NullString
		direction  string
		result     string
		duration   sql.NullFloat64
		violations []byte
		payload    []byte
		metadata   []byte
	)
	err := rows.Scan(&rec.HandoffID, &rec.Timestamp, &contractID, &rec.Consumer, &rec.Provider, &direction, &result,
		&rec.Blocked, &rec.TotalViolations, &duration, &violations, &payload, &metadata)
	if err != nil {
		return rec, err
	}
	rec.ContractID = contractID.String
	rec.Direction = contracts.Direction(direction)
	rec.Result = contracts.Outcome(result)
	rec.ValidationDurationMs = duration.Float64
	return rec, decodeBlobs(&rec, violations, payload, metadata)
}
