// Package saga runs an ordered list of steps against services that share
// no transaction, unwinding completed steps in reverse order on failure.
package saga

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Step is one action with its compensation. Irreversible marks a step
// whose effect cannot be undone by this process (for example a credential
// created at the identity provider); Compensate is ignored for it.
type Step struct {
	Name         string
	Action       func(ctx context.Context) error
	Compensate   func(ctx context.Context) error
	Irreversible bool
}

// Error describes a failed run.
type Error struct {
	Saga string
	// Step is the step whose action failed.
	Step string
	Err  error
	// Compensated lists steps undone, in the order they were undone.
	Compensated []string
	// Stranded lists completed irreversible steps left in place.
	Stranded []string
	// Compensation holds every compensation failure, combined.
	Compensation error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("saga %s: step %s: %v", e.Saga, e.Step, e.Err)
	if e.Compensation != nil {
		msg += fmt.Sprintf("; compensation failed: %v", e.Compensation)
	}
	return msg
}

// Unwrap exposes both the step failure and any compensation failures.
func (e *Error) Unwrap() []error {
	errs := []error{e.Err}
	errs = append(errs, multierr.Errors(e.Compensation)...)
	return errs
}

// Partial reports whether a completed step could not be undone, either
// because it is irreversible or because its compensation failed.
func (e *Error) Partial() bool {
	return len(e.Stranded) > 0 || e.Compensation != nil
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Run executes steps sequentially. When an action fails, compensations of
// the completed steps run in reverse order; a failing compensation does not
// stop the unwind.
func Run(ctx context.Context, name string, steps []Step, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	done := make([]Step, 0, len(steps))
	for _, step := range steps {
		logger.Debug("saga step", zap.String("saga", name), zap.String("step", step.Name))
		if err := step.Action(ctx); err != nil {
			failure := &Error{Saga: name, Step: step.Name, Err: err}
			unwind(ctx, failure, done, logger)
			return failure
		}
		done = append(done, step)
	}
	return nil
}

func unwind(ctx context.Context, failure *Error, done []Step, logger *zap.Logger) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		switch {
		case step.Irreversible:
			failure.Stranded = append(failure.Stranded, step.Name)
			logger.Error("saga step cannot be compensated",
				zap.String("saga", failure.Saga), zap.String("step", step.Name), zap.NamedError("cause", failure.Err))
		case step.Compensate == nil:
		default:
			logger.Warn("saga compensating", zap.String("saga", failure.Saga), zap.String("step", step.Name))
			if err := step.Compensate(ctx); err != nil {
				failure.Compensation = multierr.Append(failure.Compensation, fmt.Errorf("compensate %s: %w", step.Name, err))
				logger.Error("saga compensation failed",
					zap.String("saga", failure.Saga), zap.String("step", step.Name), zap.Error(err))
				continue
			}
			failure.Compensated = append(failure.Compensated, step.Name)
		}
	}
}
