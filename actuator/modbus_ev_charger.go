package actuator

import (
	"context"
	"fmt"
	"time"

	"github.com/devskill-org/home-scheduler/sigenergy"
	"github.com/devskill-org/home-scheduler/transport"
)

// EVCharger drives a Sigenergy AC-charger over Modbus, grounded in
// sigenergy.ACChargerInfo / StartACCharger / StopACCharger /
// SetACChargerOutputCurrent, generalising car_charger.py's Wallbox calls
// (resumeChargingSession / pauseChargingSession / setMaxChargingCurrent) to
// the Modbus register set this repo already exposes.
type EVCharger struct {
	client  *sigenergy.SigenModbusClient
	slaveID byte
	timeout time.Duration
}

// NewEVCharger returns an EVCharger bound to slaveID on client.
func NewEVCharger(client *sigenergy.SigenModbusClient, slaveID byte, timeout time.Duration) *EVCharger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EVCharger{client: client, slaveID: slaveID, timeout: timeout}
}

func (a *EVCharger) Start(ctx context.Context) transport.Result[struct{}] {
	return transport.Call(ctx, a.timeout, func(context.Context) (struct{}, error) {
		return unit, a.client.StartACCharger(a.slaveID)
	})
}

func (a *EVCharger) Stop(ctx context.Context) transport.Result[struct{}] {
	return transport.Call(ctx, a.timeout, func(context.Context) (struct{}, error) {
		return unit, a.client.StopACCharger(a.slaveID)
	})
}

// SetPoint sets the charging current in Amperes.
func (a *EVCharger) SetPoint(ctx context.Context, amps float64) transport.Result[struct{}] {
	if amps < 0 {
		return transport.ErrResult[struct{}](fmt.Errorf("actuator: negative current %.1fA", amps))
	}
	return transport.Call(ctx, a.timeout, func(context.Context) (struct{}, error) {
		return unit, a.client.SetACChargerOutputCurrent(a.slaveID, amps)
	})
}

// Info returns the charger's current status, used by task.CarCharger to
// derive IsRunning/IsRunnable without a second round-trip per call site.
func (a *EVCharger) Info(ctx context.Context) transport.Result[*sigenergy.ACChargerInfo] {
	return transport.Call(ctx, a.timeout, func(context.Context) (*sigenergy.ACChargerInfo, error) {
		return a.client.ReadACChargerInfo(a.slaveID)
	})
}
