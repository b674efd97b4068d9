package saga

import (
	"context"
	"fmt"
	"log/slog"
)

// Step is one forward action of a cross-service operation and its inverse.
// Compensate may be nil for steps with no remote effect.
type Step struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga executes steps in order. When a step fails, the compensations of the
// steps that already ran are executed in reverse order, best effort, and the
// original error is returned. Compensation failures are logged, never
// retried: reconciliation of a half-compensated operation is a manual task.
type Saga struct {
	log   *slog.Logger
	name  string
	steps []Step
}

func New(log *slog.Logger, name string) *Saga {
	return &Saga{log: log, name: name}
}

func (s *Saga) Then(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Run(ctx); err != nil {
			s.compensate(ctx, i-1)
			return fmt.Errorf("saga %s: step %s: %w", s.name, step.Name, err)
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, from int) {
	for i := from; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.log.Error("saga compensation failed, manual reconciliation required",
				"saga", s.name, "step", step.Name, "err", err)
		}
	}
}
