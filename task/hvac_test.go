package task

import (
	"testing"
	"time"

	"github.com/devskill-org/home-scheduler/thermal"
	"github.com/stretchr/testify/require"
)

func testHVACModel(t *testing.T) *thermal.HVACModel {
	t.Helper()
	model, err := thermal.NewHVACModel(
		[]thermal.Point{{Temperature: 0, Value: 3}, {Temperature: 30, Value: 3}},
		[]thermal.Point{{Temperature: 0, Value: 2}, {Temperature: 30, Value: 2}},
	)
	require.NoError(t, err)
	return model
}

func newTestHVAC(t *testing.T) (*HVAC, *fakeActuator) {
	t.Helper()
	act := &fakeActuator{}
	h := NewHVAC("hvac", act, testHVACModel(t), 5*time.Minute, time.Minute, 1.0)
	return h, act
}

func TestScaledThreshold_NonPositivePowerRequiresFullCoverage(t *testing.T) {
	require.Equal(t, 1.0, scaledThreshold(0.95, 2.0, 0))
	require.Equal(t, 1.0, scaledThreshold(0.95, 2.0, -1))
}

func TestScaledThreshold_ClampsAboveOne(t *testing.T) {
	// max_available_power far exceeds power: the raw ratio would be >1.
	require.Equal(t, 1.0, scaledThreshold(0.95, 100.0, 1.0))
}

func TestScaledThreshold_ScalesDownForSmallAvailablePower(t *testing.T) {
	got := scaledThreshold(0.95, 1.0, 2.0)
	require.InDelta(t, 0.475, got, 1e-9)
}

func TestHVAC_MeetRunningCriteria_UrgentAlwaysRuns(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.priority = Urgent
	require.True(t, h.MeetRunningCriteria(0, 0))
}

func TestHVAC_MeetRunningCriteria_IdleRequiresScaledCoverageOfNominalPower(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.UpdateReadings(60, 10, ModeAuto)
	h.SetMaxAvailablePower(2) // small PV array relative to nominal (3kW)
	h.priority = Low
	h.running = false

	// nominal power is 3kW; scaledThreshold(0.95, 2, 3) = 0.6333...
	nominal := h.model.Power(10)
	want := scaledThreshold(0.95, 2, nominal)
	require.Less(t, want, 1.0, "small max_available_power should relax the idle coverage requirement")
	require.True(t, h.MeetRunningCriteria(want, 0))
	require.False(t, h.MeetRunningCriteria(want-0.01, 0))
}

func TestHVAC_MeetRunningCriteria_RunningPastMinRunTimeScalesAgainstOwnDraw(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.UpdateReadings(60, 10, ModeAuto)
	h.SetMaxAvailablePower(1.5)
	h.priority = Low
	h.running = true
	h.mode = ModeHeat
	h.targetTemp = 70 // still below target, deviation*mode <= 0
	h.startedAt = time.Now().Add(-10 * time.Minute)

	power := 3.0
	want := scaledThreshold(0.9, 1.5, power)
	require.True(t, h.MeetRunningCriteria(want, power))
	require.False(t, h.MeetRunningCriteria(want-0.01, power))
}

func TestHVAC_MeetRunningCriteria_RunningPastMinRunTimeRejectsZeroPower(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.UpdateReadings(60, 10, ModeAuto)
	h.priority = Low
	h.running = true
	h.mode = ModeHeat
	h.targetTemp = 70
	h.startedAt = time.Now().Add(-10 * time.Minute)

	require.False(t, h.MeetRunningCriteria(1, 0))
}

func TestHVAC_MeetRunningCriteria_RunningBelowMinRunTimeAlwaysContinues(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.UpdateReadings(60, 10, ModeAuto)
	h.priority = Low
	h.running = true
	h.mode = ModeHeat
	h.targetTemp = 70
	h.startedAt = time.Now()

	require.True(t, h.MeetRunningCriteria(0, 0))
}

func TestHVAC_MeetRunningCriteria_StopsWhenDeviationFlipsPastTarget(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.UpdateReadings(71, 10, ModeAuto)
	h.priority = Low
	h.running = true
	h.mode = ModeHeat
	h.targetTemp = 70 // indoor already above target while heating: deviation*mode > 0
	h.startedAt = time.Now().Add(-10 * time.Minute)

	require.False(t, h.MeetRunningCriteria(1, 10))
}

func TestHVAC_UpdateReadingsAndDeadline(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.UpdateReadings(68, 20, ModeHeat)
	deadline := time.Now().Add(time.Hour)
	h.SetDeadline(deadline, 72)

	require.Equal(t, 68.0, h.indoorTemp)
	require.Equal(t, 20.0, h.outdoorTemp)
	require.Equal(t, ModeHeat, h.mode)
	require.Equal(t, deadline, h.targetTime)
	require.Equal(t, 72.0, h.targetTemp)
}

func TestHVAC_StartSetsPointToTargetPlusOffset(t *testing.T) {
	h, act := newTestHVAC(t)
	h.UpdateReadings(68, 20, ModeHeat)
	h.SetDeadline(time.Now().Add(time.Hour), 72)

	require.NoError(t, h.Start())
	require.True(t, h.IsRunning())
	require.Len(t, act.setPoints, 1)
	require.Equal(t, 73.0, act.setPoints[0]) // heating: target + offset
}

func TestHVAC_StopClearsRunningState(t *testing.T) {
	h, act := newTestHVAC(t)
	require.NoError(t, h.Start())
	require.NoError(t, h.Stop())
	require.False(t, h.IsRunning())
	require.Equal(t, 1, act.stopCalls)
}

func TestHVAC_StartPropagatesActuatorError(t *testing.T) {
	h, act := newTestHVAC(t)
	act.setErr = errFakeActuator
	require.Error(t, h.Start())
	require.False(t, h.IsRunning())
}

func TestHVAC_DescIncludesCostHintOnlyAfterSet(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.UpdateReadings(68, 20, ModeAuto)
	require.NotContains(t, h.Desc(), "/kWh")

	h.SetCostHint(0.21)
	require.Contains(t, h.Desc(), "0.210/kWh")
}

func TestHVAC_RefreshPriority_BackgroundWhenRunTimeBelowMinimum(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.UpdateReadings(70, 10, ModeAuto)
	h.targetTemp = 70 // zero deviation: nothing to do
	h.RefreshPriority()
	require.Equal(t, Background, h.Priority())
}

func TestHVAC_RefreshPriority_UrgentNearDeadline(t *testing.T) {
	h, _ := newTestHVAC(t)
	h.UpdateReadings(60, 10, ModeHeat)
	h.targetTemp = 70
	h.SetDeadline(time.Now().Add(h.minRunTime), 70)
	h.RefreshPriority()
	require.Equal(t, Urgent, h.Priority())
}
