package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRejectedExecution is returned when a task could not be submitted,
	// either because the strategy was stopped or because the pool refused it.
	ErrRejectedExecution = errors.New("rejected execution")

	// ErrSchedulerShutdown marks rejections caused by a shutdown request.
	// Such rejections are reported as ignored tests rather than failures.
	ErrSchedulerShutdown = errors.New("scheduler shut down")

	// ErrInterrupted is returned when a wait was cut short by cancellation.
	ErrInterrupted = errors.New("interrupted")

	// ErrStoppedByUser is returned by FireTestStarted after PleaseStop.
	ErrStoppedByUser = errors.New("stopped by user")

	// ErrIllegalState is returned for configuration changes after the
	// allocation plan was finalized and for mutations of started containers.
	ErrIllegalState = errors.New("illegal state")

	// ErrAssumptionViolated marks a test that could not run meaningfully.
	ErrAssumptionViolated = errors.New("assumption violated")

	// ErrTestTimedOut is reported for tests exceeding their timeout.
	ErrTestTimedOut = errors.New("test timed out")
)

// AssumptionViolated returns an error reported through
// FireTestAssumptionFailed instead of FireTestFailure.
func AssumptionViolated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAssumptionViolated, fmt.Sprintf(format, args...))
}
