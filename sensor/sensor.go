// Package sensor implements the per-call-timeout, staleness-tracked data
// source boundary (C2). Every concrete source (grid meter, weather, car
// state of charge) implements Sensor and is read exclusively through
// transport.Call so a hung serial line or HTTP request degrades to a
// timeout instead of blocking the scheduler tick, generalising the cached
// Sensor.read() base class from sensor.py.
package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/devskill-org/home-scheduler/transport"
)

// Reading is a generic sensor value with the time it was produced.
type Reading[T any] struct {
	Value T
	At    time.Time
}

// Sensor reads a value of type T from some external source.
type Sensor[T any] interface {
	Read(ctx context.Context) (T, error)
}

// Reader wraps a Sensor with a timeout and a staleness-tracked last-good
// cache, mirroring sensor.py's per-instance TTLCache pattern but surfacing
// staleness to the caller instead of silently returning an old value.
type Reader[T any] struct {
	sensor  Sensor[T]
	timeout time.Duration

	mu   sync.Mutex
	last Reading[T]
	has  bool
}

// NewReader wraps sensor with a per-call timeout.
func NewReader[T any](sensor Sensor[T], timeout time.Duration) *Reader[T] {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Reader[T]{sensor: sensor, timeout: timeout}
}

// Read performs a fresh, timeout-bounded read and updates the cache on
// success. The transport.Result always reflects this call, never the cache.
func (r *Reader[T]) Read(ctx context.Context) transport.Result[T] {
	res := transport.Call(ctx, r.timeout, r.sensor.Read)
	if res.Outcome == transport.OutcomeOK {
		r.mu.Lock()
		r.last = Reading[T]{Value: res.Value, At: time.Now()}
		r.has = true
		r.mu.Unlock()
	}
	return res
}

// LastGood returns the most recent successful reading and how long ago it
// was taken, or false if no read has ever succeeded. Callers decide for
// themselves whether an age is tolerable (spec.md §5 "staleness is a policy
// question, not a sensor one").
func (r *Reader[T]) LastGood() (Reading[T], time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.has {
		return Reading[T]{}, 0, false
	}
	return r.last, time.Since(r.last.At), true
}
