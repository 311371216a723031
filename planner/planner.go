// Package planner implements the deadline planner shared by every task that
// needs to be ready by a point in time rather than simply "whenever power
// allows" (C8): HVAC, water heater, pool pump. It generalises hvac.py's
// HVACParam background thread, which runs the same three-step algorithm
// (max available power -> target time -> target value) specific to the
// HVAC/HomeModel curves, into model-agnostic steps any deadline-driven task
// can plug its own curves into.
package planner

import (
	"fmt"
	"time"
)

// PowerWindow answers how much power will be available and when a given
// power level will next be sustainable, the questions the pv package (C4)
// answers. Kept as a narrow interface here to avoid planner depending on
// pv's adapter wiring.
type PowerWindow interface {
	MaxAvailablePowerAt(t time.Time) float64
	NextPowerWindow(power float64) (start, end time.Time)
}

// Curve answers "how much power does running at this external condition
// cost" and "how fast does the controlled quantity drift while not
// running", the two curves thermal.HVACModel/HomeModel (or an equivalent
// model for another task) provide.
type Curve struct {
	// PowerAt returns the power (kW) the device draws when running against
	// externalAt(t).
	PowerAt func(external float64) float64
	// PassiveDriftAt returns the per-minute change of the controlled value
	// while the device is off, given the current estimate of the
	// controlled value itself and the external condition (thermal.HomeModel's
	// degree_per_minute(T_in, T_out), a function of both). Signed: positive
	// moves the value up, negative moves it down.
	PassiveDriftAt func(value, external float64) float64
}

// Deadline is the planner's computed answer for one task at one point in
// time: the time by which the task should next reassess
// (hvac.py's 4-field `_data`).
type Deadline struct {
	MaxAvailablePower float64
	TargetTime        time.Time
	TargetValue       float64
}

// Plan runs the three-step algorithm (spec.md §4.5):
//
//  1. max_available_power: the power ceiling expected to hold from tomorrow
//     midnight onward (power_simulator.max_available_power_at(tomorrow) in
//     hvac.py, minus a small epsilon to avoid floating-point edge
//     oscillation).
//  2. target_time: the latest time (the power window's end) at which that
//     ceiling (iteratively raised to the power the device would itself
//     need at that time's external condition) is still forecast to hold,
//     found by repeatedly calling NextPowerWindow until the device's own
//     power need at the returned time no longer exceeds the power on offer.
//  3. target_value: integrating curve.PassiveDriftAt backward from goalTime
//     to targetTime, so that if the device is idle for that whole span the
//     controlled value will land on goalValue exactly at goalTime. Clamped
//     to [minValue, maxValue] (hvac.py's comfort_zone clamp).
func Plan(pw PowerWindow, curve Curve, externalAt func(t time.Time) float64,
	now, tomorrowMidnight, goalTime time.Time, goalValue, minValue, maxValue float64) (Deadline, error) {

	maxPower := pw.MaxAvailablePowerAt(tomorrowMidnight) - 0.0001
	if maxPower < 0 {
		maxPower = 0
	}

	targetTime, err := convergeTargetTime(pw, curve, externalAt, maxPower)
	if err != nil {
		return Deadline{}, err
	}

	targetValue := goalValue
	if targetTime.Before(goalTime) {
		for t := targetTime; t.Before(goalTime); t = t.Add(time.Minute) {
			targetValue -= curve.PassiveDriftAt(targetValue, externalAt(t))
		}
	}
	if targetValue > maxValue {
		targetValue = maxValue
	} else if targetValue < minValue {
		targetValue = minValue
	}

	return Deadline{
		MaxAvailablePower: maxPower,
		TargetTime:        targetTime,
		TargetValue:       targetValue,
	}, nil
}

// convergeTargetTime repeatedly narrows the candidate power level: the
// window that satisfies `power` may end at a time when the device itself
// would need more than `power` to run (e.g. a colder night means the HVAC
// draws more); in that case hvac.py retries with the device's own need at
// that candidate time, which can only be satisfied later. The target time
// is the window's end, the latest instant the ceiling is still forecast to
// hold (hvac.py's `_, target_time = next_power_window(power)` keeps the
// second value).
func convergeTargetTime(pw PowerWindow, curve Curve, externalAt func(t time.Time) float64, power float64) (time.Time, error) {
	const maxIterations = 64
	for i := 0; i < maxIterations; i++ {
		windowStart, windowEnd := pw.NextPowerWindow(power)
		if windowEnd.Equal(windowStart) {
			return time.Time{}, fmt.Errorf("planner: no power window satisfies %.3fkW", power)
		}
		need := curve.PowerAt(externalAt(windowEnd))
		if need <= power {
			return windowEnd, nil
		}
		power = need
	}
	return time.Time{}, fmt.Errorf("planner: target time did not converge after %d iterations", maxIterations)
}
