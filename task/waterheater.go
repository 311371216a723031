package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devskill-org/home-scheduler/actuator"
	"github.com/devskill-org/home-scheduler/record"
	"github.com/devskill-org/home-scheduler/transport"
)

// waterHeaterThreshold is one level of WaterHeater.adjust_priority's nested
// (available%, temperature) thresholds from water_heater.py, walked from
// URGENT down to LOW; the first satisfied level short-circuits the loop
// there and is used verbatim here.
type waterHeaterThreshold struct {
	priority    Priority
	available   float64
	temperature float64
}

// WaterHeater adapts a deadline-driven water heater into a Task. Tank level
// and temperature come from UpdateState, fed by a sensor the caller owns;
// power draw is only used in MeetRunningCriteria to catch a tank that
// reports full/hot readings while actually still drawing power
// (water_heater.py: "the Aquanta sensors are unreliable and sometimes give
// the false impression that the tank is full").
type WaterHeater struct {
	key           string
	actuator      actuator.Actuator
	nominalPower  float64
	minRunTime    time.Duration
	noPowerDelay  time.Duration
	desiredTemp   float64

	mu               sync.Mutex
	priority         Priority
	available        float64 // tank level, percent
	temperature      float64 // degrees F
	targetTime       time.Time
	startedAt        time.Time
	running          bool
	notRunnableUntil time.Time
	costPerKWh       float64
	hasCostHint      bool
}

// SetCostHint records the current grid price (currency/kWh) for the status
// string only; it is never consulted by scheduling decisions (DESIGN.md:
// cost annotation, not a scheduling input).
func (t *WaterHeater) SetCostHint(costPerKWh float64) {
	t.mu.Lock()
	t.costPerKWh = costPerKWh
	t.hasCostHint = true
	t.mu.Unlock()
}

// NewWaterHeater builds a WaterHeater task.
func NewWaterHeater(powerSensorKey string, act actuator.Actuator, nominalPower float64, minRunTime, noPowerDelay time.Duration, desiredTemp float64) *WaterHeater {
	return &WaterHeater{
		key:          powerSensorKey,
		actuator:     act,
		nominalPower: nominalPower,
		minRunTime:   minRunTime,
		noPowerDelay: noPowerDelay,
		desiredTemp:  desiredTemp,
		priority:     Low,
	}
}

func (t *WaterHeater) ID() string            { return "water_heater" }
func (t *WaterHeater) Keys() []string        { return []string{t.key} }
func (t *WaterHeater) AutoAdjust() bool      { return false }
func (t *WaterHeater) NominalPower() float64 { return t.nominalPower }

func (t *WaterHeater) Priority() Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// UpdateState feeds fresh level/temperature readings in (water_heater.py's
// WaterHeaterState proxy, simplified: staleness/unreliability filtering is
// the caller's job via sensor.Reader, not this type's).
func (t *WaterHeater) UpdateState(available, temperature float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.available = available
	t.temperature = temperature
}

// EstimateRunTime mirrors estimate_run_time's blended linear model: assume
// the unfilled fraction of the tank starts at 60F and the filled fraction
// is already at the current reading, then two minutes per degree of
// deviation from the desired temperature.
func (t *WaterHeater) EstimateRunTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.estimateRunTimeLocked()
}

func (t *WaterHeater) estimateRunTimeLocked() time.Duration {
	blended := 60*(100-t.available)/100 + t.temperature*t.available/100
	deviation := t.desiredTemp - blended
	if deviation < 0 {
		deviation = 0
	}
	return time.Duration(deviation*2) * time.Minute
}

// RefreshPriority mirrors adjust_priority's threshold walk and the "raise
// by one level when close to target_time" escalation.
func (t *WaterHeater) RefreshPriority() {
	thresholds := []waterHeaterThreshold{
		{Urgent, 50, 110},
		{High, 70, 120},
		{Medium, 90, t.desiredTemp},
		{Low, 100, t.desiredTemp},
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, th := range thresholds {
		if t.available >= th.available && t.temperature >= th.temperature {
			continue
		}
		priority := th.priority
		now := time.Now()
		if priority < Urgent && !t.targetTime.IsZero() && t.targetTime.After(now) &&
			t.targetTime.Sub(now) < t.estimateRunTimeLocked() {
			priority++
		}
		t.priority = priority
		return
	}
	t.priority = Background
}

// SetTargetTime records the deadline computed by a planner.Plan call.
func (t *WaterHeater) SetTargetTime(target time.Time) {
	t.mu.Lock()
	t.targetTime = target
	t.mu.Unlock()
}

func (t *WaterHeater) IsRunnable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Now().After(t.notRunnableUntil) && t.priority != Background
}

func (t *WaterHeater) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *WaterHeater) hasBeenRunningFor() time.Duration {
	if !t.running {
		return 0
	}
	if t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
	return time.Since(t.startedAt)
}

func (t *WaterHeater) IsStoppable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Now().Before(t.notRunnableUntil) {
		return true
	}
	return t.hasBeenRunningFor() > t.minRunTime
}

// MeetRunningCriteria implements water_heater.py's power-based tank-full
// detection: no meaningful draw for long enough after starting makes the
// task unrunnable for a while (four times as long once it ran for a few
// minutes, since that more likely means the tank is genuinely full).
func (t *WaterHeater) MeetRunningCriteria(ratio, power float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	duration := t.hasBeenRunningFor()
	if duration > 0 {
		var minTime time.Duration
		var minPower float64
		if t.available >= 100 || duration >= 4*time.Minute {
			minTime = 30 * time.Second
			minPower = t.nominalPower / 2
		} else {
			minTime = 90 * time.Second
			minPower = 0
		}
		if duration > minTime && power <= minPower {
			delay := t.noPowerDelay
			if duration > 3*time.Minute {
				delay *= 4
			}
			t.notRunnableUntil = time.Now().Add(delay)
			return false
		}
	}
	if t.priority == Urgent && !t.targetTime.IsZero() &&
		t.targetTime.Sub(time.Now()) < t.estimateRunTimeLocked() {
		return true
	}
	return ratio >= 1
}

func (t *WaterHeater) Start() error {
	res := t.actuator.Start(context.Background())
	if res.Outcome != transport.OutcomeOK {
		return fmt.Errorf("task: water heater start: %w", res.Err)
	}
	t.mu.Lock()
	t.running = true
	t.startedAt = time.Now()
	t.mu.Unlock()
	return nil
}

func (t *WaterHeater) Stop() error {
	res := t.actuator.Stop(context.Background())
	if res.Outcome != transport.OutcomeOK {
		return fmt.Errorf("task: water heater stop: %w", res.Err)
	}
	t.mu.Lock()
	t.running = false
	t.startedAt = time.Time{}
	t.mu.Unlock()
	return nil
}

func (t *WaterHeater) Usage(r record.PowerRecord) float64 {
	return r.Get(t.key)
}

func (t *WaterHeater) Desc() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasCostHint {
		return fmt.Sprintf("WaterHeater(%s, %.0f%%, %.1fF, %.3f/kWh)", t.priority, t.available, t.temperature, t.costPerKWh)
	}
	return fmt.Sprintf("WaterHeater(%s, %.0f%%, %.1fF)", t.priority, t.available, t.temperature)
}
