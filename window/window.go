// Package window implements the sliding-window power-coverage estimator
// (C6): a bounded ring buffer of recent PowerRecords plus the two ratio
// functions the scheduler consults on every tick, available_for and
// covered_by_production.
//
// Both ratio functions are pure functions of window state (spec.md §4.3
// invariant); neither performs I/O or depends on wall-clock time.
package window

import (
	"math"

	"github.com/devskill-org/home-scheduler/record"
)

// PowerConsumer is the narrow view of a task the window needs: enough to
// attribute power draw to it without depending on the task package (which
// would create an import cycle, since tasks are scheduled using window
// ratios).
type PowerConsumer interface {
	ID() string
	Keys() []string
	NominalPower() float64
}

// Window is a bounded, strictly time-ordered sequence of PowerRecords.
// Mutated only by the scheduler tick (spec.md §5 "Shared mutable window");
// safe to read concurrently once a tick has finished mutating it.
type Window struct {
	size       int
	records    []record.PowerRecord
	thresholds map[string]float64
}

// New returns an empty Window holding at most size records, applying
// thresholds (per-channel ignore-power noise floor) to every pushed record.
func New(size int, thresholds map[string]float64) *Window {
	if size <= 0 {
		size = 1
	}
	if thresholds == nil {
		thresholds = map[string]float64{}
	}
	return &Window{size: size, thresholds: thresholds}
}

// Push appends a new record, evicting the oldest when full. O(1) amortised.
func (w *Window) Push(r record.PowerRecord) {
	r = r.Sanitised(w.thresholds)
	w.records = append(w.records, r)
	if len(w.records) > w.size {
		w.records = w.records[len(w.records)-w.size:]
	}
}

// Len returns the number of records currently held.
func (w *Window) Len() int {
	return len(w.records)
}

// Latest returns the most recently pushed record and true, or the zero
// value and false if the window is empty.
func (w *Window) Latest() (record.PowerRecord, bool) {
	if len(w.records) == 0 {
		return record.PowerRecord{}, false
	}
	return w.records[len(w.records)-1], true
}

// Snapshot returns a read-only copy of the records, oldest first, for
// observers (spec.md §9 "expose snapshots via copy").
func (w *Window) Snapshot() []record.PowerRecord {
	out := make([]record.PowerRecord, len(w.records))
	copy(out, w.records)
	return out
}

// usage sums r's readings over task's channel keys.
func usage(r record.PowerRecord, task PowerConsumer) float64 {
	var total float64
	for _, key := range task.Keys() {
		total += r.Get(key)
	}
	return total
}

// PowerUsedBy returns the latest record's combined reading across task's
// channel keys, clipped to zero (readings are already threshold-clamped by
// Push, so this can only be non-negative, but we clip defensively per
// spec.md §8's invariant `0 ≤ power_used_by(task)`).
func (w *Window) PowerUsedBy(task PowerConsumer) float64 {
	latest, ok := w.Latest()
	if !ok {
		return 0
	}
	return math.Max(0, usage(latest, task))
}

// AvailableFor estimates, from the latest record alone, what fraction of
// task's nominal power would be covered by production if task started
// right now.
//
// available := production − (consumption − Σ power_used_by(t) for t in
// ignore − Σ max(power_used_by(t) − t.NominalPower(), 0) for t in minimum)
//
// minimum's excess-over-nominal is freed up (a running auto-adjust task's
// guaranteed floor stays charged against consumption; only its surplus
// draw above its own nominal power is treated as reclaimable). ignore's
// entire draw is removed from consumption, as if it weren't running at all.
// This fixes the spec.md §9 "minimise vs ignore" ambiguity: see DESIGN.md
// resolution #5.
func (w *Window) AvailableFor(task PowerConsumer, minimum, ignore []PowerConsumer) float64 {
	latest, ok := w.Latest()
	if !ok {
		return 0
	}

	production := latest.Get(record.Production)
	consumption := latest.Get(record.Consumption)

	for _, t := range ignore {
		consumption -= usage(latest, t)
	}
	for _, t := range minimum {
		excess := usage(latest, t) - t.NominalPower()
		if excess > 0 {
			consumption -= excess
		}
	}

	available := production - consumption
	nominal := task.NominalPower()
	if nominal <= 0 {
		return 0
	}

	ratio := available / nominal
	if ratio < 0 {
		return 0
	}
	return ratio
}

// CoveredByProduction sums, over the whole window, the task's actual power
// draw and the production simultaneously attributable to it:
//
// ratio := Σ min(task_power_i, max(production_i − other_consumption_i, 0))
//           / Σ task_power_i
//
// minimize's usage is subtracted from the "other consumption" term for
// every record (never from the task's own usage), so a minimised task's
// whole draw, floor included, is treated as not competing for production,
// exactly like ignore's. Returns 0 when the task drew no energy in the
// window at all.
func (w *Window) CoveredByProduction(task PowerConsumer, minimize, ignore []PowerConsumer) float64 {
	var coveredSum, usedSum float64

	for _, r := range w.records {
		taskPower := usage(r, task)
		if taskPower <= 0 {
			continue
		}
		usedSum += taskPower

		otherConsumption := r.Get(record.Consumption) - taskPower
		for _, t := range ignore {
			otherConsumption -= usage(r, t)
		}
		for _, t := range minimize {
			otherConsumption -= usage(r, t)
		}
		if otherConsumption < 0 {
			otherConsumption = 0
		}

		available := r.Get(record.Production) - otherConsumption
		if available < 0 {
			available = 0
		}

		coveredSum += math.Min(taskPower, available)
	}

	if usedSum <= 0 {
		return 0
	}
	return coveredSum / usedSum
}
