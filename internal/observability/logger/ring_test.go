package logger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestRing_RecordsOnlyCategorizedEntries(t *testing.T) {
	ring := NewRing(10)
	l := Config{Env: "prod", Level: "error", Ring: ring}.build()

	l.Error("no category")
	l.Error("user created", Category("success"))
	l.With(Category("events")).Error("unknown event type")

	entries := ring.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "user created", entries[0].Message)
	assert.Equal(t, "success", entries[0].Category)
	assert.Equal(t, "events", entries[1].Category)
}

func TestRing_EvictsOldest(t *testing.T) {
	ring := NewRing(3)
	for i := 0; i < 5; i++ {
		ring.Append(Entry{Message: fmt.Sprintf("m%d", i), Category: "c"})
	}

	entries := ring.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", entries[0].Message)
	assert.Equal(t, "m4", entries[2].Message)
	assert.Equal(t, 3, ring.Limit())
}

func TestRing_DefaultLimit(t *testing.T) {
	assert.Equal(t, 1000, NewRing(0).Limit())
}

func TestFrom_FallsBackToSingleton(t *testing.T) {
	assert.NotNil(t, From(context.Background()))

	l := Config{Env: "dev", Level: "debug"}.build()
	ctx := ToContext(context.Background(), l)
	assert.Same(t, l, From(ctx))
}

func TestState_Truncates(t *testing.T) {
	f := State("0123456789abcdef")
	assert.Equal(t, "01234567...", f.String)
}

func TestLevelOf(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, levelOf(""))
	assert.Equal(t, zapcore.DebugLevel, levelOf(" DEBUG "))
	assert.Equal(t, zapcore.WarnLevel, levelOf("warn"))
	assert.Equal(t, zapcore.InfoLevel, levelOf("fatal"))
	assert.Equal(t, zapcore.InfoLevel, levelOf("loud"))
}
