package recurring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the runner triggers a sweep pass.
const DefaultSweepInterval = 15 * time.Minute

// Runner drives periodic sweeps until its context is cancelled. It runs one
// pass immediately on start so a restart never waits a full interval.
type Runner struct {
	processor *Processor
	interval  time.Duration
	logger    *zap.Logger
}

// NewRunner wires a Runner.
func NewRunner(processor *Processor, interval time.Duration, logger *zap.Logger) (*Runner, error) {
	if processor == nil {
		return nil, fmt.Errorf("%w: processor dependency is nil", ErrInvalidProcessorConfig)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger dependency is nil", ErrInvalidProcessorConfig)
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Runner{processor: processor, interval: interval, logger: logger}, nil
}

// Run blocks until ctx is cancelled. Sweep failures are logged and the next
// tick retries; they never stop the loop.
func (runner *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(runner.interval)
	defer ticker.Stop()
	runner.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runner.sweep(ctx)
		}
	}
}

func (runner *Runner) sweep(ctx context.Context) {
	report, err := runner.processor.Sweep(ctx)
	if err != nil {
		runner.logger.Error("recurring sweep failed",
			zap.Int("materialized", report.Materialized),
			zap.Int("skipped", report.Skipped),
			zap.Int("paused", report.Paused),
			zap.Error(err))
		return
	}
	if report == (SweepReport{}) {
		return
	}
	runner.logger.Info("recurring sweep completed",
		zap.Int("materialized", report.Materialized),
		zap.Int("skipped", report.Skipped),
		zap.Int("paused", report.Paused))
}
