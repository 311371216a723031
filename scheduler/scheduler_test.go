package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/devskill-org/home-scheduler/record"
	"github.com/devskill-org/home-scheduler/task"
	"github.com/stretchr/testify/require"
)

// fakeTask is a minimal task.Task for exercising the tick state machine
// without a real device behind it, following the fakeTask convention in
// window_test.go.
type fakeTask struct {
	id            string
	keys          []string
	nominal       float64
	priority      task.Priority
	autoAdjust    bool
	runnable      bool
	running       bool
	stoppable     bool
	meetThreshold float64
	panics        bool

	startCalls int
	stopCalls  int
}

func (t *fakeTask) ID() string              { return t.id }
func (t *fakeTask) Keys() []string          { return t.keys }
func (t *fakeTask) NominalPower() float64   { return t.nominal }
func (t *fakeTask) Priority() task.Priority { return t.priority }
func (t *fakeTask) AutoAdjust() bool        { return t.autoAdjust }
func (t *fakeTask) IsRunnable() bool {
	if t.panics {
		panic("fakeTask: simulated unreachable adapter")
	}
	return t.runnable
}
func (t *fakeTask) IsRunning() bool   { return t.running }
func (t *fakeTask) IsStoppable() bool { return t.stoppable }
func (t *fakeTask) MeetRunningCriteria(ratio, power float64) bool {
	return ratio >= t.meetThreshold
}
func (t *fakeTask) Start() error {
	t.startCalls++
	t.running = true
	return nil
}
func (t *fakeTask) Stop() error {
	t.stopCalls++
	t.running = false
	return nil
}
func (t *fakeTask) Usage(r record.PowerRecord) float64 {
	var total float64
	for _, k := range t.keys {
		total += r.Get(k)
	}
	return total
}
func (t *fakeTask) Desc() string     { return fmt.Sprintf("fakeTask(%s)", t.id) }
func (t *fakeTask) RefreshPriority() {}

func testConfig() *Config {
	return &Config{WindowSize: 10}
}

func pushRecord(t *testing.T, s *Scheduler, production, consumption float64, extra map[string]float64) {
	t.Helper()
	values := map[string]float64{record.Production: production, record.Consumption: consumption}
	for k, v := range extra {
		values[k] = v
	}
	s.window.Push(record.New(time.Now(), values))
}

func TestScheduler_StartsRunnableTaskWhenProductionCovers(t *testing.T) {
	s := New(testConfig(), nil, nil, nil)
	ev := &fakeTask{id: "ev", keys: []string{"ev"}, nominal: 1.4, priority: task.High, runnable: true, meetThreshold: 0}
	require.NoError(t, s.RegisterTask(ev))

	pushRecord(t, s, 6.0, 0.0, nil)
	s.Tick(context.Background())

	require.True(t, ev.running)
	require.Equal(t, 1, ev.startCalls)
}

func TestScheduler_PriorityPreemptsLowerPriorityRunningTask(t *testing.T) {
	s := New(testConfig(), nil, nil, nil)
	wh := &fakeTask{id: "water_heater", keys: []string{"wh"}, nominal: 4.5, priority: task.Medium, running: true, stoppable: true, meetThreshold: 0.5}
	ev := &fakeTask{id: "ev", keys: []string{"ev"}, nominal: 1.4, priority: task.Urgent, runnable: true, meetThreshold: 0}
	require.NoError(t, s.RegisterTask(wh))
	require.NoError(t, s.RegisterTask(ev))

	// wh alone draws 4.5kW against 3kW production: well enough covered to
	// survive its own stop decision (ratio ~0.67 > its 0.5 threshold), but
	// the EV's higher priority still preempts it in the start decision.
	pushRecord(t, s, 3.0, 4.5, map[string]float64{"wh": 4.5, "ev": 0})
	s.Tick(context.Background())

	require.False(t, wh.running, "water heater should be preempted")
	require.Equal(t, 1, wh.stopCalls)
	require.True(t, ev.running, "EV should start")
	require.Equal(t, 1, ev.startCalls)
}

func TestScheduler_StopsUndercoveredRunningTask(t *testing.T) {
	s := New(testConfig(), nil, nil, nil)
	pump := &fakeTask{id: "pool_pump", keys: []string{"pump"}, nominal: 1.2, priority: task.Low, running: true, stoppable: true, meetThreshold: 0.9}
	require.NoError(t, s.RegisterTask(pump))

	pushRecord(t, s, 0.2, 1.2, map[string]float64{"pump": 1.2})
	s.Tick(context.Background())

	require.False(t, pump.running)
	require.Equal(t, 1, pump.stopCalls)
}

func TestScheduler_RegisterTaskRejectsOverlappingKeys(t *testing.T) {
	s := New(testConfig(), nil, nil, nil)
	a := &fakeTask{id: "a", keys: []string{"shared"}}
	b := &fakeTask{id: "b", keys: []string{"shared"}}
	require.NoError(t, s.RegisterTask(a))
	require.Error(t, s.RegisterTask(b))
}

func TestScheduler_PauseDisablesStartDecisions(t *testing.T) {
	s := New(testConfig(), nil, nil, nil)
	ev := &fakeTask{id: "ev", keys: []string{"ev"}, nominal: 1.4, priority: task.High, runnable: true, meetThreshold: 0}
	require.NoError(t, s.RegisterTask(ev))
	s.Pause()

	pushRecord(t, s, 6.0, 0.0, nil)
	s.Tick(context.Background())

	require.False(t, ev.running)
	require.Equal(t, 0, ev.startCalls)
}

func TestScheduler_SanitisesTaskAfterThreeConsecutiveFailures(t *testing.T) {
	s := New(testConfig(), nil, nil, nil)
	broken := &fakeTask{id: "broken", keys: []string{"broken"}, runnable: true, panics: true}
	require.NoError(t, s.RegisterTask(broken))

	pushRecord(t, s, 1.0, 0.0, nil)
	s.Tick(context.Background())
	s.Tick(context.Background())
	s.Tick(context.Background())

	require.Empty(t, s.Tasks())
}

func TestScheduler_StopAllBypassesStoppableLockout(t *testing.T) {
	s := New(testConfig(), nil, nil, nil)
	locked := &fakeTask{id: "locked", keys: []string{"locked"}, running: true, stoppable: false}
	require.NoError(t, s.RegisterTask(locked))

	s.StopAll()

	require.False(t, locked.running)
	require.Equal(t, 1, locked.stopCalls)
}
