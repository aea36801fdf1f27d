package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordValidates(t *testing.T) {
	r := NewRecorder(nil, NewMemoryStore())
	ctx := context.Background()

	_, err := r.Record(ctx, AgentRun{Intent: "CREATE_BOT", Status: StatusSuccess})
	assert.ErrorIs(t, err, ErrInvalidRun)
	_, err = r.Record(ctx, AgentRun{TraceID: "t", Intent: "CREATE_BOT", Status: "DONE"})
	assert.ErrorIs(t, err, ErrInvalidRun)

	saved, err := r.Record(ctx, AgentRun{TraceID: "t", Intent: "CREATE_BOT", Status: StatusSuccess})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
}

func TestListFiltersNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(nil, store)
	ctx := context.Background()
	for _, run := range []AgentRun{
		{TraceID: "a", UserID: "u1", Intent: "CREATE_BOT", Status: StatusSuccess},
		{TraceID: "b", UserID: "u2", Intent: IntentBlocked, Status: StatusFailed},
		{TraceID: "c", UserID: "u1", Intent: "EDIT_BOT", Status: StatusFailed},
	} {
		_, err := r.Record(ctx, run)
		require.NoError(t, err)
	}

	runs, err := r.List(ctx, Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].TraceID)

	failed, err := r.List(ctx, Filter{Status: StatusFailed, Limit: 1})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "c", failed[0].TraceID)

	assert.Len(t, store.All(), 3)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "مرح", Truncate("مرحبا", 3))
}
