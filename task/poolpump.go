package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devskill-org/home-scheduler/actuator"
	"github.com/devskill-org/home-scheduler/record"
	"github.com/devskill-org/home-scheduler/storage"
	"github.com/devskill-org/home-scheduler/transport"
)

// PoolPump adapts an MQTT-controlled pump switch into a Task. Its required
// daily run time is looked up from water temperature (pool_pump.py's
// interp1d([52, 75], [60, 5*60]) curve: 1 hour at 52F, 5 hours at 75F,
// clamped outside that range) and reduced by however long it already ran
// today, tracked in storage.RunTimeTracker (generalising
// already_ran_today_for's power-table scan).
type PoolPump struct {
	key          string
	actuator     actuator.Actuator
	runTimes     *storage.RunTimeTracker
	nominalPower float64
	minRunTime   time.Duration

	mu               sync.Mutex
	priority         Priority
	remainingRuntime time.Duration
	targetTime       time.Time
	startedAt        time.Time
	lastUpdate       time.Time
	running          bool
	observedPowers   []float64
	costPerKWh       float64
	hasCostHint      bool
}

// SetCostHint records the current grid price (currency/kWh) for the status
// string only; it is never consulted by scheduling decisions (DESIGN.md:
// cost annotation, not a scheduling input).
func (t *PoolPump) SetCostHint(costPerKWh float64) {
	t.mu.Lock()
	t.costPerKWh = costPerKWh
	t.hasCostHint = true
	t.mu.Unlock()
}

// NewPoolPump builds a PoolPump task.
func NewPoolPump(powerSensorKey string, act actuator.Actuator, runTimes *storage.RunTimeTracker, nominalPower float64, minRunTime time.Duration) *PoolPump {
	return &PoolPump{
		key:          powerSensorKey,
		actuator:     act,
		runTimes:     runTimes,
		nominalPower: nominalPower,
		minRunTime:   minRunTime,
		priority:     Low,
		lastUpdate:   time.Now(),
	}
}

func (t *PoolPump) ID() string            { return "pool_pump" }
func (t *PoolPump) Keys() []string        { return []string{t.key} }
func (t *PoolPump) AutoAdjust() bool      { return false }
func (t *PoolPump) NominalPower() float64 { return t.nominalPower }

func (t *PoolPump) Priority() Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// RuntimeMinutesForTemperature implements pool_pump.py's configure_cycle
// lookup table: piecewise-linear between 60 minutes at 52F and 300 minutes
// at 75F, clamped outside that range.
func RuntimeMinutesForTemperature(waterTempF float64) time.Duration {
	const (
		lowTemp, lowMinutes   = 52.0, 60.0
		highTemp, highMinutes = 75.0, 300.0
	)
	if waterTempF <= lowTemp {
		return time.Duration(lowMinutes) * time.Minute
	}
	if waterTempF >= highTemp {
		return time.Duration(highMinutes) * time.Minute
	}
	frac := (waterTempF - lowTemp) / (highTemp - lowTemp)
	minutes := lowMinutes + frac*(highMinutes-lowMinutes)
	return time.Duration(minutes) * time.Minute
}

// ConfigureCycle sets the day's remaining runtime from a required total,
// subtracting whatever the pump already ran today (configure_cycle).
func (t *PoolPump) ConfigureCycle(targetTime time.Time, required time.Duration) {
	already := t.runTimes.RanToday(t.nominalPower / 4)
	remaining := required - already
	if remaining < 0 {
		remaining = 0
	}
	t.mu.Lock()
	t.targetTime = targetTime
	t.remainingRuntime = remaining
	t.mu.Unlock()
}

// updateRemainingRuntimeLocked drains the remaining-runtime counter while
// running (pool_pump.py update_remaining_runtime).
func (t *PoolPump) updateRemainingRuntimeLocked() {
	now := time.Now()
	if t.running {
		if t.startedAt.IsZero() {
			t.startedAt = now
		}
		since := t.lastUpdate
		if t.startedAt.After(since) {
			since = t.startedAt
		}
		t.remainingRuntime -= now.Sub(since)
	}
	if t.remainingRuntime < 0 {
		t.remainingRuntime = 0
	}
	t.lastUpdate = now
}

// RefreshPriority mirrors adjust_priority's three-tier mapping of remaining
// runtime against the target deadline.
func (t *PoolPump) RefreshPriority() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateRemainingRuntimeLocked()

	now := time.Now()
	switch {
	case t.remainingRuntime == 0 || now.Before(t.targetTime.Add(-time.Duration(float64(t.remainingRuntime)*1.5))):
		t.priority = Low
	case now.Before(t.targetTime.Add(-t.remainingRuntime)):
		t.priority = Medium
	default:
		t.priority = High
	}
}

func (t *PoolPump) IsRunnable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingRuntime > 0
}

func (t *PoolPump) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *PoolPump) hasBeenRunningForLocked() time.Duration {
	if !t.running {
		return 0
	}
	if t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
	return time.Since(t.startedAt)
}

func (t *PoolPump) IsStoppable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasBeenRunningForLocked() > t.minRunTime
}

// MeetRunningCriteria records each observed power in observedPowers once
// the pump has run for more than two minutes (no health status is derived
// from them), then requires 90% power coverage like pool_pump.py.
func (t *PoolPump) MeetRunningCriteria(ratio, power float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasBeenRunningForLocked() > 2*time.Minute {
		t.observedPowers = append(t.observedPowers, power)
	}
	return t.remainingRuntime > 0 && ratio >= 0.9
}

func (t *PoolPump) Start() error {
	res := t.actuator.Start(context.Background())
	if res.Outcome != transport.OutcomeOK {
		return fmt.Errorf("task: pool pump start: %w", res.Err)
	}
	t.mu.Lock()
	t.running = true
	t.startedAt = time.Now()
	t.observedPowers = nil
	t.mu.Unlock()
	return nil
}

func (t *PoolPump) Stop() error {
	res := t.actuator.Stop(context.Background())
	if res.Outcome != transport.OutcomeOK {
		return fmt.Errorf("task: pool pump stop: %w", res.Err)
	}
	t.mu.Lock()
	t.running = false
	t.startedAt = time.Time{}
	t.mu.Unlock()
	return nil
}

func (t *PoolPump) Usage(r record.PowerRecord) float64 {
	return r.Get(t.key)
}

func (t *PoolPump) Desc() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasCostHint {
		return fmt.Sprintf("PoolPump(%s, %s remaining, %.3f/kWh)", t.priority, t.remainingRuntime.Round(time.Minute), t.costPerKWh)
	}
	return fmt.Sprintf("PoolPump(%s, %s remaining)", t.priority, t.remainingRuntime.Round(time.Minute))
}
