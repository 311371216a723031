package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/devskill-org/home-scheduler/actuator"
	"github.com/devskill-org/home-scheduler/record"
	"github.com/devskill-org/home-scheduler/sensor"
	"github.com/devskill-org/home-scheduler/transport"
)

// socPriorityLadder mirrors CarCharger.adjust_priority's thresholds
// (car_charger.py), reinterpreted onto the five-level Priority scale: below
// 40% is URGENT, below 55% HIGH, below 70% MEDIUM, below 100% LOW, at 100%
// BACKGROUND (fully charged, see DESIGN.md resolution #1).
var socPriorityLadder = []struct {
	below    float64
	priority Priority
}{
	{40, Urgent},
	{55, High},
	{70, Medium},
	{100, Low},
}

// voltsToKWPerAmp is the single-phase 240V conversion car_charger.py uses
// (`power = min_available_current * .24`).
const voltsToKWPerAmp = 0.24

// CarCharger adapts a Sigenergy AC-charger into a Task. It auto-adjusts its
// charging current every tick to absorb whatever surplus production the
// scheduler judges available, generalising CarCharger.adjust_charge_rate.
type CarCharger struct {
	id          string
	key         string
	actuator    *actuator.EVCharger
	soc         *sensor.Reader[float64]
	minAmps     float64
	maxAmps     float64
	maxSoC      float64

	mu          sync.Mutex
	priority    Priority
	soCValue    float64
	running     bool
	costPerKWh  float64
	hasCostHint bool
}

// SetCostHint records the current grid price (currency/kWh) for the status
// string only; it is never consulted by scheduling decisions (DESIGN.md:
// cost annotation, not a scheduling input).
func (t *CarCharger) SetCostHint(costPerKWh float64) {
	t.mu.Lock()
	t.costPerKWh = costPerKWh
	t.hasCostHint = true
	t.mu.Unlock()
}

// NewCarCharger builds a CarCharger task bound to powerSensorKey, with
// current clamped to [minAmps, maxAmps].
func NewCarCharger(id, powerSensorKey string, act *actuator.EVCharger, soc *sensor.Reader[float64], minAmps, maxAmps, maxSoC float64) *CarCharger {
	return &CarCharger{
		id:       id,
		key:      powerSensorKey,
		actuator: act,
		soc:      soc,
		minAmps:  minAmps,
		maxAmps:  maxAmps,
		maxSoC:   maxSoC,
		priority: Low,
	}
}

func (t *CarCharger) ID() string            { return t.id }
func (t *CarCharger) Keys() []string        { return []string{t.key} }
func (t *CarCharger) AutoAdjust() bool      { return true }
func (t *CarCharger) NominalPower() float64 { return t.minAmps * voltsToKWPerAmp }

func (t *CarCharger) Priority() Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// RefreshPriority recomputes priority from the most recently read state of
// charge (car_charger.py adjust_priority).
func (t *CarCharger) RefreshPriority() {
	reading, _, ok := t.soc.LastGood()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.soCValue = reading.Value
	for _, step := range socPriorityLadder {
		if t.soCValue < step.below {
			t.priority = step.priority
			return
		}
	}
	t.priority = Background
}

func (t *CarCharger) IsRunnable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.soCValue < t.maxSoC
}

func (t *CarCharger) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *CarCharger) IsStoppable() bool { return true }

// MeetRunningCriteria matches car_charger.py's stance: stricter while idle
// (need full coverage to start) than while already running (tolerate an
// 80% coverage dip before giving the charger up).
func (t *CarCharger) MeetRunningCriteria(ratio, power float64) bool {
	if !t.IsRunnable() {
		return false
	}
	if t.IsRunning() {
		return ratio >= 0.8
	}
	return ratio >= 1
}

func (t *CarCharger) Start() error {
	res := t.actuator.Start(context.Background())
	if res.Outcome != transport.OutcomeOK {
		return fmt.Errorf("task: car charger start: %w", res.Err)
	}
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	return nil
}

func (t *CarCharger) Stop() error {
	res := t.actuator.Stop(context.Background())
	if res.Outcome != transport.OutcomeOK {
		return fmt.Errorf("task: car charger stop: %w", res.Err)
	}
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	return nil
}

// AdjustChargeRate converts available power into a current set point and
// pushes it to the charger, generalising adjust_charge_rate's
// current_rate_for (floor at minAmps, ceiling at maxAmps).
func (t *CarCharger) AdjustChargeRate(ctx context.Context, available float64) error {
	amps := available / voltsToKWPerAmp
	if amps < t.minAmps {
		amps = t.minAmps
	}
	if amps > t.maxAmps {
		amps = t.maxAmps
	}
	res := t.actuator.SetPoint(ctx, amps)
	if res.Outcome != transport.OutcomeOK {
		return fmt.Errorf("task: adjust charge rate: %w", res.Err)
	}
	return nil
}

func (t *CarCharger) Usage(r record.PowerRecord) float64 {
	return r.Get(t.key)
}

func (t *CarCharger) Desc() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasCostHint {
		return fmt.Sprintf("CarCharger(%s, %.1f%%, %.3f/kWh)", t.priority, t.soCValue, t.costPerKWh)
	}
	return fmt.Sprintf("CarCharger(%s, %.1f%%)", t.priority, t.soCValue)
}
