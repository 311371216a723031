package task

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/devskill-org/home-scheduler/storage"
	"github.com/stretchr/testify/require"
)

// newTestPoolPump builds a PoolPump with a nil run-time tracker: tests that
// need remainingRuntime/targetTime set them directly rather than going
// through ConfigureCycle, which would otherwise touch Postgres.
func newTestPoolPump() (*PoolPump, *fakeActuator) {
	act := &fakeActuator{}
	pp := NewPoolPump("pump", act, nil, 1.2, 2*time.Minute)
	return pp, act
}

func TestRuntimeMinutesForTemperature_ClampsBelowLowEnd(t *testing.T) {
	require.Equal(t, 60*time.Minute, RuntimeMinutesForTemperature(40))
	require.Equal(t, 60*time.Minute, RuntimeMinutesForTemperature(52))
}

func TestRuntimeMinutesForTemperature_ClampsAboveHighEnd(t *testing.T) {
	require.Equal(t, 300*time.Minute, RuntimeMinutesForTemperature(75))
	require.Equal(t, 300*time.Minute, RuntimeMinutesForTemperature(90))
}

func TestRuntimeMinutesForTemperature_InterpolatesLinearly(t *testing.T) {
	// Midpoint of [52, 75] -> midpoint of [60, 300] minutes.
	got := RuntimeMinutesForTemperature(63.5)
	require.InDelta(t, 180*time.Minute, got, float64(time.Minute))
}

// TestPoolPump_ConfigureCycle_SubtractsAlreadyRanToday exercises the real
// ConfigureCycle/RanToday path against Postgres, following
// storage_test.go's env-gated skip convention rather than mocking database/sql.
func TestPoolPump_ConfigureCycle_SubtractsAlreadyRanToday(t *testing.T) {
	connString := os.Getenv("TEST_POSTGRES_CONN")
	if connString == "" {
		t.Skip("Skipping test: TEST_POSTGRES_CONN not set")
	}
	ctx := context.Background()
	db, err := storage.Open(ctx, connString)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, "DELETE FROM power")
	require.NoError(t, err)

	log := storage.NewPowerLog(db)
	now := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, log.Record(ctx, "pump", now.Add(time.Duration(i)*time.Minute), 1.2))
	}

	act := &fakeActuator{}
	pp := NewPoolPump("pump", act, storage.NewRunTimeTracker(log, "pump"), 1.2, 2*time.Minute)
	target := time.Now().Add(time.Hour)
	pp.ConfigureCycle(target, 90*time.Minute)

	require.Equal(t, 80*time.Minute, pp.remainingRuntime)
	require.Equal(t, target, pp.targetTime)
}

func TestPoolPump_RefreshPriority_LowWellBeforeDeadline(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.remainingRuntime = time.Hour
	pp.targetTime = time.Now().Add(10 * time.Hour)
	pp.RefreshPriority()
	require.Equal(t, Low, pp.Priority())
}

func TestPoolPump_RefreshPriority_LowWhenNothingRemaining(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.remainingRuntime = 0
	pp.targetTime = time.Now().Add(time.Hour)
	pp.RefreshPriority()
	require.Equal(t, Low, pp.Priority())
}

func TestPoolPump_RefreshPriority_HighPastDeadlineBuffer(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.remainingRuntime = time.Hour
	pp.targetTime = time.Now().Add(-time.Minute)
	pp.RefreshPriority()
	require.Equal(t, High, pp.Priority())
}

func TestPoolPump_RefreshPriority_MediumInBetween(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.remainingRuntime = time.Hour
	pp.targetTime = time.Now().Add(90 * time.Minute)
	pp.RefreshPriority()
	require.Equal(t, Medium, pp.Priority())
}

func TestPoolPump_IsRunnable_FalseWhenNoRuntimeRemains(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.remainingRuntime = 0
	require.False(t, pp.IsRunnable())
}

func TestPoolPump_IsStoppable_OnlyAfterMinRunTime(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.running = true
	pp.startedAt = time.Now()
	require.False(t, pp.IsStoppable())

	pp.startedAt = time.Now().Add(-3 * time.Minute)
	require.True(t, pp.IsStoppable())
}

func TestPoolPump_MeetRunningCriteria_RequiresNinetyPercentCoverage(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.remainingRuntime = time.Hour
	require.True(t, pp.MeetRunningCriteria(0.9, 1.2))
	require.False(t, pp.MeetRunningCriteria(0.89, 1.2))
}

func TestPoolPump_MeetRunningCriteria_FalseWhenNothingRemaining(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.remainingRuntime = 0
	require.False(t, pp.MeetRunningCriteria(1, 1.2))
}

func TestPoolPump_MeetRunningCriteria_RecordsObservedPowerAfterTwoMinutes(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.remainingRuntime = time.Hour
	pp.running = true
	pp.startedAt = time.Now().Add(-3 * time.Minute)
	pp.MeetRunningCriteria(0.9, 1.1)
	require.Equal(t, []float64{1.1}, pp.observedPowers)
}

func TestPoolPump_StartAndStop(t *testing.T) {
	pp, act := newTestPoolPump()
	require.NoError(t, pp.Start())
	require.True(t, pp.IsRunning())
	require.Equal(t, 1, act.startCalls)

	require.NoError(t, pp.Stop())
	require.False(t, pp.IsRunning())
	require.Equal(t, 1, act.stopCalls)
}

func TestPoolPump_StartPropagatesActuatorError(t *testing.T) {
	pp, act := newTestPoolPump()
	act.startErr = errFakeActuator
	require.Error(t, pp.Start())
	require.False(t, pp.IsRunning())
}

func TestPoolPump_DescIncludesCostHintOnlyAfterSet(t *testing.T) {
	pp, _ := newTestPoolPump()
	pp.remainingRuntime = 45 * time.Minute
	require.NotContains(t, pp.Desc(), "/kWh")

	pp.SetCostHint(0.12)
	require.Contains(t, pp.Desc(), "0.120/kWh")
}
