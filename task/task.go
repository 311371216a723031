// Package task defines the uniform contract every appliance adapter
// implements (C7) and the total order the scheduler uses to pick which
// task starts or stops first (§4.7). Concrete adapters (CarCharger,
// WaterHeater, HVAC, PoolPump) live alongside this file in the same
// package, following the teacher's flat per-concern package layout.
package task

import (
	"github.com/devskill-org/home-scheduler/record"
	"github.com/devskill-org/home-scheduler/window"
)

// Task is the interface every appliance adapter implements (spec.md §4.4).
// Tasks are borrowed by the scheduler through this interface — they are
// never owned by it (spec.md §3 "Ownership").
type Task interface {
	// ID is the stable registration identifier.
	ID() string

	// Priority is the task's current priority; may change every tick.
	Priority() Priority

	// NominalPower is the smallest continuous draw (kW) the task needs to
	// make useful progress.
	NominalPower() float64

	// Keys lists the channel keys this task owns in the PowerRecord.
	Keys() []string

	// AutoAdjust reports whether the task voluntarily scales its draw up
	// to absorb surplus production, up to a device-specific maximum.
	AutoAdjust() bool

	// IsRunnable reports whether a Start() now could actually cause device
	// consumption: false when unreachable, already at goal, or locked out.
	IsRunnable() bool

	// IsRunning reflects the actual device state, never a cached intent.
	IsRunning() bool

	// IsStoppable reports whether a Stop() would currently be honoured;
	// false while a minimum-run-time or safety lock-out holds.
	IsStoppable() bool

	// MeetRunningCriteria is the task-local policy answering "is this
	// power-coverage ratio acceptable for starting or continuing to run".
	MeetRunningCriteria(ratio, power float64) bool

	// Start is idempotent and returns quickly; device effect may be async.
	Start() error

	// Stop is idempotent and returns quickly; device effect may be async.
	Stop() error

	// Usage sums this task's channel keys in record r.
	Usage(r record.PowerRecord) float64

	// Desc is a one-line status string for dashboards.
	Desc() string

	// RefreshPriority gives the task a chance to recompute Priority() for
	// the coming tick (step 3, "Refresh priorities").
	RefreshPriority()
}

// AsPowerConsumer adapts any Task to window.PowerConsumer.
func AsPowerConsumer(t Task) window.PowerConsumer {
	return powerConsumerAdapter{t}
}

type powerConsumerAdapter struct {
	Task
}

func (a powerConsumerAdapter) ID() string            { return a.Task.ID() }
func (a powerConsumerAdapter) Keys() []string        { return a.Task.Keys() }
func (a powerConsumerAdapter) NominalPower() float64 { return a.Task.NominalPower() }

// Less implements the total order from spec.md §4.7:
// (priority desc, auto_adjust asc, identity). Used to sort tasks into
// "importance order" for the stop/start phases of the scheduler loop.
func Less(a, b Task) bool {
	if a.Priority() != b.Priority() {
		return a.Priority() > b.Priority()
	}
	if a.AutoAdjust() != b.AutoAdjust() {
		return !a.AutoAdjust()
	}
	return a.ID() < b.ID()
}
