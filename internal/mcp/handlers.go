package mcp

import (
	"context"
	"fmt"
	"math"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/q2s/internal/report"
	"github.com/nvandessel/q2s/internal/satisfaction"
	"github.com/nvandessel/q2s/internal/simulation"
	"github.com/nvandessel/q2s/internal/strategy"
)

const (
	toolCount    = "q2s_count"
	toolSimulate = "q2s_simulate"
	toolMatrix   = "q2s_matrix"
)

// registerTools registers all q2s MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolCount,
		Description: "Count the scenarios of the loaded experiment without generating them",
	}, s.handleCount)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolSimulate,
		Description: "Run the experiment and report how often each strategy's plan survives perturbation",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolMatrix,
		Description: "Show the pre- and post-perturbation satisfaction matrices and every strategy's choice for one scenario",
	}, s.handleMatrix)
}

// handleCount implements the q2s_count tool.
func (s *Server) handleCount(ctx context.Context, req *sdk.CallToolRequest, args CountInput) (_ *sdk.CallToolResult, _ CountOutput, retErr error) {
	start := time.Now()
	defer func() { s.auditTool(toolCount, start, retErr, nil) }()

	if err := s.limiters.check(toolCount); err != nil {
		return nil, CountOutput{}, err
	}

	space := s.experiment.Space
	n, err := space.Count()
	if err != nil {
		return nil, CountOutput{}, err
	}

	out := CountOutput{
		Scenarios: n,
		Alphas:    append([]float64(nil), space.Alphas...),
		Mode:      string(s.experiment.Mode),
	}
	for _, opt := range space.Options {
		d := Dimension{Column: opt.Column, Baselines: append([]float64(nil), opt.Baselines...)}
		for _, p := range opt.Perturbations {
			d.Perturbations = append(d.Perturbations, p.Label())
		}
		out.Dimensions = append(out.Dimensions, d)
	}
	return nil, out, nil
}

// handleSimulate implements the q2s_simulate tool.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolSimulate, start, retErr, map[string]any{
			"max_scenarios": args.MaxScenarios, "seed": args.Seed, "mode": args.Mode,
		})
	}()

	if err := s.limiters.check(toolSimulate); err != nil {
		return nil, SimulateOutput{}, err
	}
	if args.MaxScenarios < 0 {
		return nil, SimulateOutput{}, fmt.Errorf("max_scenarios must be non-negative, got %d", args.MaxScenarios)
	}

	var opts []simulation.Option
	if args.Mode != "" {
		mode, err := simulation.ParseMode(args.Mode)
		if err != nil {
			return nil, SimulateOutput{}, err
		}
		opts = append(opts, simulation.WithMode(mode))
	}
	if args.Seed != nil {
		opts = append(opts, simulation.WithSeed(*args.Seed))
	}
	sim, err := s.experiment.NewSimulator(append(opts, simulation.WithLogger(s.logger))...)
	if err != nil {
		return nil, SimulateOutput{}, err
	}

	limit := s.experiment.MaxScenarios
	if args.MaxScenarios > 0 {
		limit = args.MaxScenarios
	}
	runner := simulation.NewRunner(sim,
		simulation.WithWorkers(s.experiment.Workers),
		simulation.WithMaxScenarios(limit),
		simulation.WithRunLogger(s.logger),
	)

	cols := s.experiment.Columns()
	var records []simulation.Record
	stats, err := runner.Run(ctx, s.experiment.Space, simulation.SinkFunc(func(r simulation.Result) error {
		records = append(records, r.Record(cols))
		return nil
	}))
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", err)
	}

	out := SimulateOutput{
		Total:      stats.Total,
		Evaluated:  stats.Evaluated,
		Infeasible: stats.Infeasible,
		Degenerate: stats.Degenerate,
		ElapsedMs:  stats.Elapsed.Milliseconds(),
		Seed:       sim.Seed(),
		Mode:       string(sim.Mode()),
	}
	for _, k := range strategy.Kinds {
		out.Strategies = append(out.Strategies, StrategyRate{
			Strategy:    k.String(),
			Survived:    stats.Survived[k],
			SuccessRate: 100 * stats.SuccessRate(k),
		})
	}

	multi := report.MultiPerturbation(records)
	for _, row := range multi.Rows {
		sr := SeverityRow{Score: row.Score, Scenarios: row.Scenarios}
		for i, st := range row.Stats {
			sr.Series = append(sr.Series, SeriesStats{
				Name:        multi.Series[i].Name(),
				SuccessRate: st.Rate,
				MeanMargin:  finite(st.Mean),
			})
		}
		out.BySeverity = append(out.BySeverity, sr)
	}
	return nil, out, nil
}

// handleMatrix implements the q2s_matrix tool.
func (s *Server) handleMatrix(ctx context.Context, req *sdk.CallToolRequest, args MatrixInput) (_ *sdk.CallToolResult, _ MatrixOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolMatrix, start, retErr, map[string]any{"scenario": args.Scenario})
	}()

	if err := s.limiters.check(toolMatrix); err != nil {
		return nil, MatrixOutput{}, err
	}

	sc, err := s.experiment.Space.At(args.Scenario)
	if err != nil {
		return nil, MatrixOutput{}, err
	}
	sim, err := s.experiment.NewSimulator(simulation.WithLogger(s.logger))
	if err != nil {
		return nil, MatrixOutput{}, err
	}
	tr, err := sim.Explain(sc)
	if err != nil {
		return nil, MatrixOutput{}, err
	}

	return nil, NewMatrixOutput(tr, s.experiment.Columns()), nil
}

// NewMatrixOutput describes an explained scenario.
func NewMatrixOutput(tr simulation.Trace, columns []string) MatrixOutput {
	sc := tr.Result.Scenario
	out := MatrixOutput{
		Scenario:          sc.ID,
		Alpha:             sc.Alpha,
		Columns:           columns,
		PerturbationScore: sc.PerturbationScore(),
		ValidPlans:        tr.Result.ValidPlans,
		Pre:               matrixView(tr.Pre, sc.Alpha),
		Post:              matrixView(tr.Post, sc.Alpha),
	}
	for _, p := range sc.Perturbations {
		out.Perturbations = append(out.Perturbations, p.Label())
	}
	for _, k := range strategy.Kinds {
		r := tr.Result.Get(k)
		c := ChoiceOutput{
			Strategy: k.String(),
			PlanID:   r.PlanID,
			Ties:     r.Ties,
			Success:  r.Success,
			Margin:   finite(r.Margin),
			Outcome:  string(r.Outcome),
		}
		if r.Selected() {
			c.Objective = finite(r.Objective)
		}
		out.Choices = append(out.Choices, c)
	}
	return out
}

func matrixView(m *satisfaction.Matrix, alpha float64) MatrixView {
	v := MatrixView{}
	for j := 0; j < m.Cols(); j++ {
		v.Thresholds = append(v.Thresholds, m.Threshold(j))
	}
	for i := 0; i < m.Rows(); i++ {
		v.Rows = append(v.Rows, MatrixRow{
			PlanID:    m.PlanID(i),
			Distances: m.Row(i),
			AvgSat:    m.AvgSat(i),
			MinSat:    m.MinSat(i),
			Score:     m.Score(i, alpha),
			Valid:     m.Valid(i),
		})
	}
	return v
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
