package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/hellologin/internal/observability/logger"
)

func observed(t *testing.T) (context.Context, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.ToContext(context.Background(), zap.New(core)), logs
}

func TestMemory_FindBySubject_DuplicateReturnsOldest(t *testing.T) {
	ctx, logs := observed(t)
	dir := NewMemoryDirectory()

	clock := time.Unix(1700000000, 0)
	dir.now = func() time.Time { return clock }
	older, err := dir.Create(ctx, CreateInput{Login: "older"})
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	newer, err := dir.Create(ctx, CreateInput{Login: "newer"})
	require.NoError(t, err)

	require.NoError(t, dir.SetMeta(ctx, newer.ID, MetaSubject, "sub-x"))
	require.NoError(t, dir.SetMeta(ctx, older.ID, MetaSubject, "sub-x"))

	u, err := dir.FindBySubject(ctx, "sub-x")
	require.NoError(t, err)
	assert.Equal(t, older.ID, u.ID)

	entries := logs.FilterField(zap.String("category", "get_user_by_identity")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, int64(2), entries[0].ContextMap()["count"])
}

func TestMemory_FindBySubject_SingleMatchLogsNothing(t *testing.T) {
	ctx, logs := observed(t)
	dir := NewMemoryDirectory()
	u, err := dir.Create(ctx, CreateInput{Login: "solo"})
	require.NoError(t, err)
	require.NoError(t, dir.SetMeta(ctx, u.ID, MetaSubject, "sub-1"))

	_, err = dir.FindBySubject(ctx, "sub-1")
	require.NoError(t, err)
	assert.Zero(t, logs.Len())
}
