package task

import "context"

// AutoAdjuster is implemented by tasks that report AutoAdjust() == true.
// It lets the scheduler drive a continuous set-point generically (step 7,
// "Adjust") without a type switch per concrete adapter. CarCharger is the
// only adapter that currently implements it.
type AutoAdjuster interface {
	Task

	// AdjustChargeRate recomputes and pushes the task's set-point given the
	// power currently available to it.
	AdjustChargeRate(ctx context.Context, available float64) error
}
