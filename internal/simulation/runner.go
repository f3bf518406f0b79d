package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/q2s/internal/logging"
	"github.com/nvandessel/q2s/internal/scenario"
	"github.com/nvandessel/q2s/internal/strategy"
)

// Sink receives results in scenario ID order.
type Sink interface {
	Write(Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Result) error

// Write calls f.
func (f SinkFunc) Write(r Result) error { return f(r) }

// Collect is a Sink that keeps every result in memory.
type Collect struct {
	Results []Result
}

// Write appends r.
func (c *Collect) Write(r Result) error {
	c.Results = append(c.Results, r)
	return nil
}

// Stats summarizes a run.
type Stats struct {
	Total      int // scenarios in the space
	Evaluated  int
	Infeasible int
	Degenerate int // strategy choices settled by tie-break
	Survived   [4]int
	Elapsed    time.Duration
}

// SuccessRate returns the share of feasible scenarios in which strategy k's
// choice survived.
func (s Stats) SuccessRate(k strategy.Kind) float64 {
	feasible := s.Evaluated - s.Infeasible
	if feasible == 0 {
		return 0
	}
	return float64(s.Survived[k]) / float64(feasible)
}

func (s *Stats) add(r Result) {
	s.Evaluated++
	if r.Infeasible() {
		s.Infeasible++
		return
	}
	for _, k := range strategy.Kinds {
		sr := r.Strategies[k]
		if sr.Success {
			s.Survived[k]++
		}
		if sr.Ties > 1 {
			s.Degenerate++
		}
	}
}

// Runner evaluates a scenario space on a bounded worker pool.
type Runner struct {
	sim          *Simulator
	workers      int
	maxScenarios int
	batchSize    int
	logger       *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers sets the number of concurrent evaluations. Zero or less means
// one per CPU.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) { r.workers = n }
}

// WithMaxScenarios stops the run after n scenarios. Zero means no limit.
func WithMaxScenarios(n int) RunnerOption {
	return func(r *Runner) { r.maxScenarios = n }
}

// WithBatchSize sets how many scenarios are evaluated between ordered
// flushes to the sink.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) { r.batchSize = n }
}

// WithRunLogger sets the progress logger.
func WithRunLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a Runner around sim.
func NewRunner(sim *Simulator, opts ...RunnerOption) *Runner {
	r := &Runner{sim: sim, logger: logging.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = runtime.NumCPU()
	}
	if r.batchSize <= 0 {
		r.batchSize = r.workers * 64
	}
	return r
}

// Workers returns the effective worker count.
func (r *Runner) Workers() int { return r.workers }

// Run checks space against the simulator, then evaluates every scenario (up
// to the configured maximum) and hands results to sink in ID order. A
// configuration error is returned before any scenario is evaluated.
func (r *Runner) Run(ctx context.Context, space scenario.Space, sink Sink) (Stats, error) {
	start := time.Now()
	var stats Stats

	if err := r.sim.Check(space); err != nil {
		return stats, err
	}
	total, err := space.Count()
	if err != nil {
		return stats, err
	}
	stats.Total = total
	planned := total
	if r.maxScenarios > 0 && r.maxScenarios < planned {
		planned = r.maxScenarios
		r.logger.Warn("scenario space truncated",
			"scenarios", total,
			"max_scenarios", r.maxScenarios,
			"skipped", total-planned)
	}

	r.logger.Info("simulation started",
		"scenarios", total,
		"planned", planned,
		"workers", r.workers,
		"mode", string(r.sim.Mode()),
		"seed", r.sim.Seed())

	batch := make([]scenario.Scenario, 0, r.batchSize)
	results := make([]Result, r.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		for i, sc := range batch {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := r.sim.Simulate(sc)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, res := range results[:len(batch)] {
			if err := sink.Write(res); err != nil {
				return fmt.Errorf("sink: scenario %d: %w", res.Scenario.ID, err)
			}
			stats.add(res)
		}
		batch = batch[:0]
		r.logger.Debug("simulation progress", "evaluated", stats.Evaluated, "planned", planned)
		return nil
	}

	err = space.Enumerate(ctx, r.maxScenarios, func(sc scenario.Scenario) error {
		batch = append(batch, sc)
		if len(batch) == r.batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	stats.Elapsed = time.Since(start)
	if err != nil {
		return stats, err
	}

	r.logger.Info("simulation finished",
		"evaluated", stats.Evaluated,
		"infeasible", stats.Infeasible,
		"degenerate", stats.Degenerate,
		"elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}
