// Package actuator implements the idempotent start/stop/set-point boundary
// (C3) that task adapters drive instead of talking to Modbus or MQTT
// directly. Every call goes through transport.Call so a stuck device looks
// identical to the scheduler regardless of wire protocol.
package actuator

import (
	"context"
	"errors"
	"time"

	"github.com/devskill-org/home-scheduler/transport"
)

// ErrUnsupported is returned by SetPoint on actuators with no continuous
// control value.
var ErrUnsupported = errors.New("actuator: set point not supported")

// Actuator is the narrow contract a task needs to drive a physical device.
// Start and Stop must be safe to call when already in the target state.
type Actuator interface {
	Start(ctx context.Context) transport.Result[struct{}]
	Stop(ctx context.Context) transport.Result[struct{}]
	// SetPoint adjusts a continuous control value (charging current, duty
	// cycle, target temperature); actuators that only support on/off return
	// ErrResult with ErrUnsupported.
	SetPoint(ctx context.Context, value float64) transport.Result[struct{}]
}

var unit = struct{}{}

// DefaultTimeout bounds every actuator call absent a more specific one,
// matching spec.md §6's adapter_timeout default.
const DefaultTimeout = 3 * time.Second
