package scheduler

import "context"

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/strata/internal/scheduler Runner

// Runner performs one pipeline run. The scheduler never calls it concurrently.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}
