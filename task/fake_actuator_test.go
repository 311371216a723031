package task

import (
	"context"
	"errors"

	"github.com/devskill-org/home-scheduler/transport"
)

// fakeActuator is a minimal actuator.Actuator for exercising task adapters
// without a real device behind them, following the fakeTask convention in
// scheduler/scheduler_test.go.
type fakeActuator struct {
	startErr error
	stopErr  error
	setErr   error

	startCalls int
	stopCalls  int
	setPoints  []float64
}

func (a *fakeActuator) Start(ctx context.Context) transport.Result[struct{}] {
	a.startCalls++
	if a.startErr != nil {
		return transport.ErrResult[struct{}](a.startErr)
	}
	return transport.Ok(struct{}{})
}

func (a *fakeActuator) Stop(ctx context.Context) transport.Result[struct{}] {
	a.stopCalls++
	if a.stopErr != nil {
		return transport.ErrResult[struct{}](a.stopErr)
	}
	return transport.Ok(struct{}{})
}

func (a *fakeActuator) SetPoint(ctx context.Context, value float64) transport.Result[struct{}] {
	a.setPoints = append(a.setPoints, value)
	if a.setErr != nil {
		return transport.ErrResult[struct{}](a.setErr)
	}
	return transport.Ok(struct{}{})
}

var errFakeActuator = errors.New("fake actuator: simulated failure")
