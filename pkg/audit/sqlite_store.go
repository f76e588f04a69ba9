package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

// Fixed-width UTC layout so text timestamps sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists records in a local "handoffs" table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) a database file with the pure-Go driver.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer keeps appends ordered.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS handoffs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		handoff_id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		contract_id TEXT,
		consumer TEXT NOT NULL,
		provider TEXT NOT NULL,
		direction TEXT NOT NULL,
		result TEXT NOT NULL,
		blocked INTEGER NOT NULL,
		total_violations INTEGER NOT NULL,
		duration_ms REAL,
		violations_json TEXT NOT NULL,
		payload_json TEXT,
		metadata_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_handoffs_consumer ON handoffs(consumer);
	CREATE INDEX IF NOT EXISTS idx_handoffs_provider ON handoffs(provider);
	CREATE INDEX IF NOT EXISTS idx_handoffs_timestamp ON handoffs(timestamp);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, rec contracts.Record) error {
	violations, payload, metadata, err := encodeBlobs(rec)
	if err != nil {
		return err
	}
	query := `INSERT INTO handoffs (
		handoff_id, timestamp, contract_id, consumer, provider, direction, result, blocked, total_violations, duration_ms, violations_json, payload_json, metadata_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.HandoffID, rec.Timestamp.UTC().Format(sqliteTimeLayout), rec.ContractID, rec.Consumer, rec.Provider,
		string(rec.Direction), string(rec.Result), rec.Blocked, rec.TotalViolations, rec.ValidationDurationMs,
		string(violations), nullableJSON(payload), nullableJSON(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert handoff %s: %w", rec.HandoffID, err)
	}
	return nil
}

const recordColumns = `handoff_id, timestamp, contract_id, consumer, provider, direction, result, blocked, total_violations, duration_ms, violations_json, payload_json, metadata_json`

func (s *SQLiteStore) Get(ctx context.Context, handoffID string) (contracts.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM handoffs WHERE handoff_id = ?`, handoffID)
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
	return scanSQLiteRecord(rows)
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]contracts.Record, error) {
	where, args := f.where(func(int) string { return "?" }, func(t time.Time) any {
		return t.UTC().Format(sqliteTimeLayout)
	})
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM handoffs`+where+` ORDER BY seq`+limitClause(f.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.Record, 0)
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSQLiteRecord(rows *sql.Rows) (contracts.Record, error) {
	var (
		rec        contracts.Record
		ts         string
		contractID sql.NullString
		direction  string
		result     string
		duration   sql.NullFloat64
		violations string
		payload    sql.NullString
		metadata   sql.NullString
	)
	err := rows.Scan(&rec.HandoffID, &ts, &contractID, &rec.Consumer, &rec.Provider, &direction, &result,
		&rec.Blocked, &rec.TotalViolations, &duration, &violations, &payload, &metadata)
	if err != nil {
		return rec, err
	}
	if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return rec, fmt.Errorf("bad timestamp on %s: %w", rec.HandoffID, err)
	}
	rec.ContractID = contractID.String
	rec.Direction = contracts.Direction(direction)
	rec.Result = contracts.Outcome(result)
	rec.ValidationDurationMs = duration.Float64
	return rec, decodeBlobs(&rec, []byte(violations), []byte(payload.String), []byte(metadata.String))
}

func encodeBlobs(rec contracts.Record) (violations, payload, metadata []byte, err error) {
	if violations, err = json.Marshal(rec.Violations); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode violations: %w", err)
	}
	if rec.Payload != nil {
		if payload, err = json.Marshal(rec.Payload); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode payload: %w", err)
		}
	}
	if rec.Metadata != nil {
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}
	return violations, payload, metadata, nil
}

func decodeBlobs(rec *contracts.Record, violations, payload, metadata []byte) error {
	var errs []error
	if len(violations) > 0 {
		errs = append(errs, json.Unmarshal(violations, &rec.Violations))
	}
	if len(payload) > 0 {
		errs = append(errs, json.Unmarshal(payload, &rec.Payload))
	}
	if len(metadata) > 0 {
		errs = append(errs, json.Unmarshal(metadata, &rec.Metadata))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", rec.HandoffID, err)
	}
	return nil
}

func nullableJSON(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}
