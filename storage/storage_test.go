package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	connString := os.Getenv("TEST_POSTGRES_CONN")
	if connString == "" {
		t.Skip("Skipping test: TEST_POSTGRES_CONN not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, connString)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "DELETE FROM power")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "DELETE FROM key_value_store")
	require.NoError(t, err)

	return db, func() { db.Close() }
}

func TestRunTimeTracker_RanToday(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()
	ctx := context.Background()
	log := NewPowerLog(db)

	now := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, log.Record(ctx, "pool_pump", now.Add(time.Duration(i)*time.Minute), 1.2))
	}
	require.NoError(t, log.Record(ctx, "pool_pump", now.Add(10*time.Minute), 0.05))

	tracker := NewRunTimeTracker(log, "pool_pump")
	require.Equal(t, 10*time.Minute, tracker.RanToday(0.5))
}

func TestKeyValueStore_SetGet(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()
	ctx := context.Background()
	store := NewKeyValueStore(db)

	_, ok, err := store.Get(ctx, "warmup_priority")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "warmup_priority", "3"))
	value, ok, err := store.Get(ctx, "warmup_priority")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3", value)
}
