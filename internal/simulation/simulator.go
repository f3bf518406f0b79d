package simulation

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/nvandessel/q2s/internal/impact"
	"github.com/nvandessel/q2s/internal/logging"
	"github.com/nvandessel/q2s/internal/models"
	"github.com/nvandessel/q2s/internal/satisfaction"
	"github.com/nvandessel/q2s/internal/scenario"
	"github.com/nvandessel/q2s/internal/strategy"
)

// Mode selects what a perturbation shifts.
type Mode string

const (
	// ModeThreshold adds each delta to its quality goal's threshold.
	ModeThreshold Mode = "threshold"
	// ModeImpact leaves thresholds at baseline and subtracts each delta from
	// every plan's actual value of the constrained variable, so a negative
	// delta degrades plans the way it tightens a threshold.
	ModeImpact Mode = "impact"
)

// ParseMode maps a configuration value to a Mode. Empty means ModeThreshold.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeThreshold:
		return ModeThreshold, nil
	case ModeImpact:
		return ModeImpact, nil
	}
	return "", models.Configf(models.ErrConfiguration, "unknown perturbation mode %q", s)
}

// Outcome classifies one strategy's fate in a scenario.
type Outcome string

const (
	// OutcomeSurvived means the chosen plan is still valid after perturbation.
	OutcomeSurvived Outcome = "survived"
	// OutcomeViolated means the chosen plan breaks a constraint after perturbation.
	OutcomeViolated Outcome = "violated"
	// OutcomeInfeasible means no plan was valid before perturbation.
	OutcomeInfeasible Outcome = "infeasible"
)

// StrategyResult is one strategy's pick and how it fared.
type StrategyResult struct {
	Kind   strategy.Kind
	PlanID string // empty when nothing was selected
	// Objective is the strategy's objective on the pre-perturbation matrix.
	Objective float64
	Ties      int
	Success   bool
	// Margin is MinSat of the chosen plan on the post-perturbation matrix,
	// NaN when nothing was selected.
	Margin  float64
	Outcome Outcome
}

// Selected reports whether the strategy chose a plan.
func (r StrategyResult) Selected() bool { return r.Outcome != OutcomeInfeasible }

// Result is the evaluation of one scenario.
type Result struct {
	Scenario   scenario.Scenario
	ValidPlans int
	Strategies [4]StrategyResult
}

// Get returns strategy k's result.
func (r Result) Get(k strategy.Kind) StrategyResult { return r.Strategies[k] }

// Infeasible reports whether no plan was valid before perturbation.
func (r Result) Infeasible() bool { return r.ValidPlans == 0 }

// Trace is a fully expanded evaluation, including both matrices.
type Trace struct {
	Result    Result
	Pre       *satisfaction.Matrix
	Post      *satisfaction.Matrix
	Selection strategy.Selection
}

// Simulator evaluates scenarios against a fixed catalog. It is safe for
// concurrent use once constructed.
type Simulator struct {
	goals     []models.QualityGoal
	table     *impact.Table
	mode      Mode
	seed      uint64
	logger    *slog.Logger
	decisions *logging.DecisionLogger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithMode sets the perturbation mode.
func WithMode(m Mode) Option {
	return func(s *Simulator) { s.mode = m }
}

// WithSeed sets the run seed mixed into every scenario's random source.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) { s.seed = seed }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDecisionLogger sets the JSONL decision trace.
func WithDecisionLogger(dl *logging.DecisionLogger) Option {
	return func(s *Simulator) { s.decisions = dl }
}

// New validates catalog and precomputes every plan's impacts through model.
// A nil model means the catalog's contributions, unscaled.
func New(catalog models.Catalog, model *impact.Model, opts ...Option) (*Simulator, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		goals:  append([]models.QualityGoal(nil), catalog.QualityGoals...),
		mode:   ModeThreshold,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := ParseMode(string(s.mode)); err != nil {
		return nil, err
	}

	if model == nil {
		model = impact.NewModel(catalog.Contributions)
	}
	vars := make([]models.DomainVariable, len(s.goals))
	for j, qg := range s.goals {
		vars[j] = qg.Variable
	}
	s.table = model.Tabulate(catalog.Plans, vars)
	return s, nil
}

// Mode returns the perturbation mode.
func (s *Simulator) Mode() Mode { return s.mode }

// Seed returns the run seed.
func (s *Simulator) Seed() uint64 { return s.seed }

// Goals returns the quality goals in column order.
func (s *Simulator) Goals() []models.QualityGoal {
	return append([]models.QualityGoal(nil), s.goals...)
}

// Check verifies that space validates and lists exactly one option set per
// quality goal, in quality goal order. In threshold mode every perturbed
// threshold must also stay positive.
func (s *Simulator) Check(space scenario.Space) error {
	if err := space.Validate(); err != nil {
		return err
	}
	if s.mode != ModeImpact {
		for _, o := range space.Options {
			if err := o.ValidatePerturbed(); err != nil {
				return err
			}
		}
	}
	if len(space.Options) != len(s.goals) {
		return models.Configf(models.ErrMissingOptions, "%d quality goals but %d constraint option sets", len(s.goals), len(space.Options))
	}
	for j, qg := range s.goals {
		if space.Options[j].Column != qg.Column {
			return models.Configf(models.ErrMissingOptions, "quality goal %s expects column %q at position %d, got %q",
				qg.ID, qg.Column, j, space.Options[j].Column)
		}
	}
	return nil
}

// Rand returns the random source for scenario id.
func (s *Simulator) Rand(id int) *rand.Rand {
	return rand.New(rand.NewPCG(s.seed, uint64(id)))
}

// Simulate evaluates one scenario.
func (s *Simulator) Simulate(sc scenario.Scenario) (Result, error) {
	tr, err := s.Explain(sc)
	if err != nil {
		return Result{}, err
	}
	return tr.Result, nil
}

// Explain evaluates one scenario and keeps both matrices.
func (s *Simulator) Explain(sc scenario.Scenario) (Trace, error) {
	if len(sc.Baselines) != len(s.goals) || len(sc.Perturbations) != len(s.goals) {
		return Trace{}, fmt.Errorf("scenario %d: %w", sc.ID, satisfaction.ErrShape)
	}

	pre, err := satisfaction.Build(s.table, s.goals, sc.Thresholds(false))
	if err != nil {
		return Trace{}, fmt.Errorf("scenario %d: pre-perturbation matrix: %w", sc.ID, err)
	}
	sel := strategy.New(sc.Alpha, s.Rand(sc.ID)).Select(pre)

	post, err := s.perturbed(sc)
	if err != nil {
		return Trace{}, fmt.Errorf("scenario %d: post-perturbation matrix: %w", sc.ID, err)
	}

	res := Result{Scenario: sc, ValidPlans: sel.ValidPlans}
	for _, k := range strategy.Kinds {
		res.Strategies[k] = assess(sel.Get(k), post)
	}
	s.audit(sc, sel)

	return Trace{Result: res, Pre: pre, Post: post, Selection: sel}, nil
}

func (s *Simulator) perturbed(sc scenario.Scenario) (*satisfaction.Matrix, error) {
	if s.mode == ModeImpact {
		shift := make(map[models.DomainVariable]float64, len(s.goals))
		for j, qg := range s.goals {
			shift[qg.Variable] = -sc.Perturbations[j].Delta
		}
		return satisfaction.Build(s.table.Shifted(shift), s.goals, sc.Thresholds(false))
	}
	return satisfaction.Build(s.table, s.goals, sc.Thresholds(true))
}

// assess reads the chosen plan's row on the post-perturbation matrix. Both
// matrices share plan order, so the pre row index addresses the post row.
func assess(c strategy.Choice, post *satisfaction.Matrix) StrategyResult {
	r := StrategyResult{
		Kind:      c.Kind,
		PlanID:    c.PlanID,
		Objective: c.Objective,
		Ties:      c.Ties,
	}
	if !c.Selected() {
		r.Margin = math.NaN()
		r.Objective = math.NaN()
		r.Outcome = OutcomeInfeasible
		return r
	}
	r.Margin = post.MinSat(c.Row)
	r.Success = r.Margin >= 0
	r.Outcome = OutcomeViolated
	if r.Success {
		r.Outcome = OutcomeSurvived
	}
	return r
}

func (s *Simulator) audit(sc scenario.Scenario, sel strategy.Selection) {
	if sel.Infeasible() {
		s.logger.Debug("infeasible scenario", "scenario", sc.ID, "alpha", sc.Alpha)
		s.decisions.LogInfeasible(sc.ID, sc.Alpha, sc.Thresholds(false))
		return
	}
	for _, k := range strategy.Kinds {
		c := sel.Get(k)
		if c.Degenerate() {
			s.decisions.LogTieBreak(sc.ID, k.String(), c.PlanID, c.Ties, c.Objective)
		}
	}
	if s.decisions.Tracing() {
		picks := make(map[string]string, len(strategy.Kinds))
		for _, k := range strategy.Kinds {
			picks[k.String()] = sel.Get(k).PlanID
		}
		s.decisions.Log(map[string]any{
			"event":       logging.EventSelection,
			"scenario":    sc.ID,
			"alpha":       sc.Alpha,
			"valid_plans": sel.ValidPlans,
			"picks":       picks,
		})
	}
}
