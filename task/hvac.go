package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devskill-org/home-scheduler/actuator"
	"github.com/devskill-org/home-scheduler/record"
	"github.com/devskill-org/home-scheduler/thermal"
	"github.com/devskill-org/home-scheduler/transport"
)

// Mode mirrors hvac.py's Mode IntEnum: -1 cooling moves the temperature
// down, +1 heating moves it up, 0 means no thermostat mode is engaged.
type Mode int

const (
	ModeCool Mode = -1
	ModeAuto Mode = 0
	ModeHeat Mode = 1
)

// HVAC adapts an Ecobee-style hold-based thermostat into a Task. Priority is
// derived from how much running time remains before the deadline computed
// by the planner package, generalising hvac.py's HVACTask.adjust_priority.
type HVAC struct {
	key          string
	actuator     actuator.Actuator
	model        *thermal.HVACModel
	minRunTime   time.Duration
	minPause     time.Duration
	tempOffset   float64

	mu                sync.Mutex
	priority          Priority
	mode              Mode
	indoorTemp        float64
	outdoorTemp       float64
	targetTemp        float64
	targetTime        time.Time
	maxAvailablePower float64
	startedAt         time.Time
	stoppedAt         time.Time
	running           bool
	costPerKWh        float64
	hasCostHint       bool
}

// SetCostHint records the current grid price (currency/kWh) for the status
// string only; it is never consulted by scheduling decisions (DESIGN.md:
// cost annotation, not a scheduling input).
func (t *HVAC) SetCostHint(costPerKWh float64) {
	t.mu.Lock()
	t.costPerKWh = costPerKWh
	t.hasCostHint = true
	t.mu.Unlock()
}

// NewHVAC builds an HVAC task.
func NewHVAC(powerSensorKey string, act actuator.Actuator, model *thermal.HVACModel, minRunTime, minPause time.Duration, tempOffset float64) *HVAC {
	return &HVAC{
		key:        powerSensorKey,
		actuator:   act,
		model:      model,
		minRunTime: minRunTime,
		minPause:   minPause,
		tempOffset: tempOffset,
		mode:       ModeAuto,
		priority:   Low,
	}
}

func (t *HVAC) ID() string            { return "hvac" }
func (t *HVAC) Keys() []string        { return []string{t.key} }
func (t *HVAC) AutoAdjust() bool      { return false }
func (t *HVAC) NominalPower() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.model.Power(t.outdoorTemp)
}

func (t *HVAC) Priority() Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// UpdateReadings feeds fresh indoor/outdoor temperature and thermostat mode.
func (t *HVAC) UpdateReadings(indoorTemp, outdoorTemp float64, mode Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indoorTemp = indoorTemp
	t.outdoorTemp = outdoorTemp
	t.mode = mode
}

// SetDeadline records the planner's target time/temperature for the
// current cycle.
func (t *HVAC) SetDeadline(targetTime time.Time, targetTemp float64) {
	t.mu.Lock()
	t.targetTime = targetTime
	t.targetTemp = targetTemp
	t.mu.Unlock()
}

// SetMaxAvailablePower records the planner's power ceiling for the current
// cycle (hvac.py HVACParam.max_available_power), the binding constraint
// MeetRunningCriteria scales its coverage requirement against.
func (t *HVAC) SetMaxAvailablePower(power float64) {
	t.mu.Lock()
	t.maxAvailablePower = power
	t.mu.Unlock()
}

// deviation is positive when the home is warmer than the target, negative
// when colder (hvac.py HVACTask._deviation).
func (t *HVAC) deviationLocked() float64 {
	return t.indoorTemp - t.targetTemp
}

// nextHelpfulMode returns which mode would move indoorTemp toward
// targetTemp, or ModeAuto if neither heating nor cooling would help (the
// deviation is zero, or the thermostat mode forbids it).
func (t *HVAC) nextHelpfulModeLocked() Mode {
	deviation := t.deviationLocked()
	if deviation == 0 {
		return ModeAuto
	}
	for _, mode := range []Mode{ModeHeat, ModeCool} {
		if t.mode != ModeAuto && t.mode != mode {
			continue
		}
		if deviation*float64(mode) < 0 {
			return mode
		}
	}
	return ModeAuto
}

func (t *HVAC) estimateRunTimeLocked() time.Duration {
	mode := t.nextHelpfulModeLocked()
	if mode == ModeAuto {
		return 0
	}
	deviation := t.deviationLocked()
	if deviation < 0 {
		deviation = -deviation
	}
	minutesPerDegree := t.model.MinutesPerDegree(t.outdoorTemp)
	return time.Duration(minutesPerDegree*deviation) * time.Minute
}

// EstimateRunTime returns the time needed to close the current temperature
// deviation against the target (hvac.py _estimate_runtime).
func (t *HVAC) EstimateRunTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.estimateRunTimeLocked()
}

// RefreshPriority mirrors adjust_priority's proportional mapping of
// remaining-time-to-deadline onto the priority scale: BACKGROUND when the
// run time needed is below the minimum run time (nothing useful to do yet
// or ever), scaling up to URGENT as the deadline approaches.
func (t *HVAC) RefreshPriority() {
	t.mu.Lock()
	defer t.mu.Unlock()

	runTime := t.estimateRunTimeLocked()
	if runTime < t.minRunTime {
		t.priority = Background
		return
	}
	if t.targetTime.IsZero() {
		t.priority = Background
		return
	}
	remaining := t.targetTime.Sub(time.Now())
	count := float64(remaining) / float64(runTime)
	const levels = 4 // LOW..URGENT; BACKGROUND is reserved for "nothing to do"
	if count > levels || count < 0 {
		t.priority = Background
		return
	}
	t.priority = Priority(Urgent) - Priority(count)
	if t.priority < Low {
		t.priority = Low
	}
}

func (t *HVAC) IsRunnable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	runnableAt := t.stoppedAt.Add(t.minPause)
	if time.Now().Before(runnableAt) {
		return false
	}
	if t.mode == ModeAuto && t.nextHelpfulModeLocked() == ModeAuto {
		return false
	}
	return t.estimateRunTimeLocked() >= t.minRunTime
}

func (t *HVAC) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *HVAC) hasBeenRunningForLocked() time.Duration {
	if !t.running {
		return 0
	}
	if t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
	return time.Since(t.startedAt)
}

func (t *HVAC) IsStoppable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasBeenRunningForLocked() > t.minRunTime
}

// MeetRunningCriteria matches hvac.py: URGENT always runs; once running, it
// keeps running until the deviation flips sign (target reached) or, after
// the minimum run time, coverage drops too far; while idle it requires near
// full coverage of its own nominal power before starting. Both coverage
// checks are scaled down by how much of max_available_power the device's
// own draw would consume, so a small PV array doesn't get held to a
// coverage ratio it can never reach (meet_running_criteria).
func (t *HVAC) MeetRunningCriteria(ratio, power float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.priority == Urgent {
		return true
	}
	nominal := t.model.Power(t.outdoorTemp)
	if t.running {
		if t.deviationLocked()*float64(t.mode) > 0 {
			return false
		}
		if t.hasBeenRunningForLocked() > t.minRunTime {
			return power > 0 && ratio >= scaledThreshold(0.9, t.maxAvailablePower, power) && power > nominal/3
		}
		return true
	}
	return ratio >= scaledThreshold(0.95, t.maxAvailablePower, nominal)
}

// scaledThreshold implements hvac.py's `min(1, coefficient * max_available_power / power)`,
// treating a non-positive power (nothing to scale against) as requiring
// full coverage.
func scaledThreshold(coefficient, maxAvailablePower, power float64) float64 {
	if power <= 0 {
		return 1
	}
	threshold := coefficient * maxAvailablePower / power
	if threshold > 1 {
		return 1
	}
	return threshold
}

func (t *HVAC) Start() error {
	t.mu.Lock()
	mode := t.nextHelpfulModeLocked()
	target := t.targetTemp + float64(mode)*t.tempOffset
	t.mu.Unlock()

	res := t.actuator.SetPoint(context.Background(), target)
	if res.Outcome != transport.OutcomeOK {
		return fmt.Errorf("task: hvac start: %w", res.Err)
	}
	t.mu.Lock()
	t.running = true
	t.startedAt = time.Now()
	t.mu.Unlock()
	return nil
}

func (t *HVAC) Stop() error {
	res := t.actuator.Stop(context.Background())
	if res.Outcome != transport.OutcomeOK {
		return fmt.Errorf("task: hvac stop: %w", res.Err)
	}
	t.mu.Lock()
	t.running = false
	t.stoppedAt = time.Now()
	t.mu.Unlock()
	return nil
}

func (t *HVAC) Usage(r record.PowerRecord) float64 {
	return r.Get(t.key)
}

func (t *HVAC) Desc() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasCostHint {
		return fmt.Sprintf("HVAC(%s, %.1f, %.3f/kWh)", t.priority, t.indoorTemp, t.costPerKWh)
	}
	return fmt.Sprintf("HVAC(%s, %.1f)", t.priority, t.indoorTemp)
}
