package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreNewestFirstAndFilters(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()
	require.NoError(t, m.RecordOutcome(ctx, Outcome{ActionID: "a", Status: OutcomeRetrying, Timestamp: 1}))
	require.NoError(t, m.RecordOutcome(ctx, Outcome{ActionID: "a", Status: OutcomeFailed, Timestamp: 2}))
	require.NoError(t, m.RecordOutcome(ctx, Outcome{ActionID: "b", Status: OutcomeCompleted, Timestamp: 3}))

	all, err := m.Recent(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].ActionID)

	failed, err := m.Recent(ctx, 10, OutcomeFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, int64(2), failed[0].Timestamp)

	forA, err := m.History(ctx, HistoryFilter{ActionID: "a", Offset: 1})
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Equal(t, OutcomeRetrying, forA[0].Status)
}

func TestMemoryStoreIsBounded(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, m.RecordOutcome(ctx, Outcome{ActionID: id, Status: OutcomeCompleted}))
	}
	got, err := m.Recent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].ActionID)
	assert.Equal(t, "2", got[1].ActionID)
	assert.NotZero(t, got[0].Timestamp)
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(HistoryFilter{ActionID: "x", Status: "failed", FromTs: 5})
	assert.Equal(t, "WHERE action_id = $1 AND status = $2 AND ts >= $3", where)
	assert.Equal(t, []any{"x", "failed", int64(5)}, args)

	where, args = buildWhere(HistoryFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, dsn, false)
	require.NoError(t, err)
	defer p.Close()

	id := "pg-test-action"
	require.NoError(t, p.RecordOutcome(ctx, Outcome{
		ActionID: id, Type: "buy_now", Status: OutcomeFailed, Message: "not found",
		Metadata: map[string]any{"selector": "#buy-now-button"},
	}))
	got, err := p.History(ctx, HistoryFilter{ActionID: id, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "not found", got[0].Message)
	assert.Equal(t, "#buy-now-button", got[0].Metadata["selector"])
}
