package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWaterHeater() (*WaterHeater, *fakeActuator) {
	act := &fakeActuator{}
	wh := NewWaterHeater("wh", act, 4.5, 5*time.Minute, 30*time.Second, 130)
	return wh, act
}

func TestWaterHeater_RefreshPriority_WalksThresholdsFromUrgentToBackground(t *testing.T) {
	wh, _ := newTestWaterHeater()

	wh.UpdateState(10, 90)
	wh.RefreshPriority()
	require.Equal(t, Urgent, wh.Priority())

	wh.UpdateState(60, 115)
	wh.RefreshPriority()
	require.Equal(t, High, wh.Priority())

	wh.UpdateState(80, 125)
	wh.RefreshPriority()
	require.Equal(t, Medium, wh.Priority())

	wh.UpdateState(95, wh.desiredTemp)
	wh.RefreshPriority()
	require.Equal(t, Low, wh.Priority())

	wh.UpdateState(100, wh.desiredTemp)
	wh.RefreshPriority()
	require.Equal(t, Background, wh.Priority())
}

func TestWaterHeater_RefreshPriority_EscalatesWhenCloseToTargetTime(t *testing.T) {
	wh, _ := newTestWaterHeater()
	wh.UpdateState(95, wh.desiredTemp) // would be LOW on its own
	wh.SetTargetTime(time.Now().Add(time.Minute))
	wh.RefreshPriority()
	require.Equal(t, Medium, wh.Priority())
}

func TestWaterHeater_MeetRunningCriteria_DetectsStuckTankAfterNoDraw(t *testing.T) {
	wh, _ := newTestWaterHeater()
	wh.running = true
	wh.startedAt = time.Now().Add(-2 * time.Minute)
	wh.available = 50 // not yet "full", so the shorter 90s/0W grace applies

	require.False(t, wh.MeetRunningCriteria(0, 0))
	require.False(t, wh.notRunnableUntil.IsZero())
}

func TestWaterHeater_MeetRunningCriteria_TreatsLongRunWithNoPowerAsLikelyFull(t *testing.T) {
	wh, _ := newTestWaterHeater()
	wh.running = true
	wh.startedAt = time.Now().Add(-4 * time.Minute)
	wh.available = 50

	require.False(t, wh.MeetRunningCriteria(0, 0))
	require.Greater(t, wh.notRunnableUntil.Sub(time.Now()), wh.noPowerDelay)
}

func TestWaterHeater_MeetRunningCriteria_UrgentNearDeadlineOverridesCoverage(t *testing.T) {
	wh, _ := newTestWaterHeater()
	wh.priority = Urgent
	wh.UpdateState(10, 90)
	wh.SetTargetTime(time.Now().Add(time.Minute))

	require.True(t, wh.MeetRunningCriteria(0, wh.nominalPower))
}

func TestWaterHeater_MeetRunningCriteria_RequiresFullCoverageOtherwise(t *testing.T) {
	wh, _ := newTestWaterHeater()
	wh.priority = Low
	require.True(t, wh.MeetRunningCriteria(1, wh.nominalPower))
	require.False(t, wh.MeetRunningCriteria(0.99, wh.nominalPower))
}

func TestWaterHeater_IsRunnable_LockedOutAfterStuckDetection(t *testing.T) {
	wh, _ := newTestWaterHeater()
	wh.priority = Low
	require.True(t, wh.IsRunnable())

	wh.notRunnableUntil = time.Now().Add(time.Minute)
	require.False(t, wh.IsRunnable())
}

func TestWaterHeater_IsRunnable_FalseWhenBackground(t *testing.T) {
	wh, _ := newTestWaterHeater()
	wh.priority = Background
	require.False(t, wh.IsRunnable())
}

func TestWaterHeater_IsStoppable_LockoutKeepsItStoppableEvenBeforeMinRunTime(t *testing.T) {
	wh, _ := newTestWaterHeater()
	wh.running = true
	wh.startedAt = time.Now()
	wh.notRunnableUntil = time.Now().Add(time.Minute)
	require.True(t, wh.IsStoppable())
}

func TestWaterHeater_StartAndStop(t *testing.T) {
	wh, act := newTestWaterHeater()
	require.NoError(t, wh.Start())
	require.True(t, wh.IsRunning())
	require.Equal(t, 1, act.startCalls)

	require.NoError(t, wh.Stop())
	require.False(t, wh.IsRunning())
	require.Equal(t, 1, act.stopCalls)
}

func TestWaterHeater_StopPropagatesActuatorError(t *testing.T) {
	wh, act := newTestWaterHeater()
	require.NoError(t, wh.Start())
	act.stopErr = errFakeActuator
	require.Error(t, wh.Stop())
	require.True(t, wh.IsRunning(), "failed stop should leave running state unchanged")
}

func TestWaterHeater_DescIncludesCostHintOnlyAfterSet(t *testing.T) {
	wh, _ := newTestWaterHeater()
	wh.UpdateState(80, 120)
	require.NotContains(t, wh.Desc(), "/kWh")

	wh.SetCostHint(0.18)
	require.Contains(t, wh.Desc(), "0.180/kWh")
}
