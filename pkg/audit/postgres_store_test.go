package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

func TestPostgresStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	rec := result("h1", "research", "trader", 0, crit()).Record()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO handoffs")).
		WithArgs("h1", rec.Timestamp, "research-trader", "research", "trader", "request", "fail", true, 1, 1.5,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Append(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByAgent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := result("h1", "research", "trader", 0, crit()).Record()
	violations, _ := json.Marshal(rec.Violations)
	payload, _ := json.Marshal(rec.Payload)

	rows := sqlmock.NewRows([]string{
		"handoff_id", "timestamp", "contract_id", "consumer", "provider", "direction", "result", "blocked",
		"total_violations", "duration_ms", "violations_json", "payload_json", "metadata_json",
	}).AddRow("h1", rec.Timestamp, "research-trader", "research", "trader", "request", "fail", true, 1, 1.5, violations, payload, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM handoffs WHERE (consumer = $1 OR provider = $2) ORDER BY seq LIMIT 5")).
		WithArgs("research", "research").
		WillReturnRows(rows)

	out, err := NewPostgresStore(db).List(context.Background(), Filter{Agent: "research", Limit: 5})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "h1", out[0].HandoffID)
	assert.Equal(t, contracts.OutcomeFail, out[0].Result)
	assert.True(t, out[0].Blocked)
	assert.Equal(t, rec.Violations.Policy, out[0].Violations.Policy)
	assert.Equal(t, "AAPL", out[0].Payload["symbol"])
	assert.Nil(t, out[0].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE handoff_id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"handoff_id"}))

	_, err = NewPostgresStore(db).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestFilterWhere_Placeholders(t *testing.T) {
	blocked := true
	f := Filter{Agent: "a", Result: contracts.OutcomeFail, Blocked: &blocked, Since: t0}
	where, args := f.where(func(n int) string { return fmt.Sprintf("$%d", n) }, func(ts time.Time) any { return ts })

	assert.Equal(t, " WHERE (consumer = $1 OR provider = $2) AND result = $3 AND blocked = $4 AND timestamp >= $5", where)
	assert.Equal(t, []any{"a", "a", "fail", true, t0}, args)

	where, args = Filter{}.where(func(int) string { return "?" }, func(ts time.Time) any { return ts })
	assert.Empty(t, where)
	assert.Nil(t, args)
}
