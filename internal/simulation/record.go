package simulation

import (
	"math"

	"github.com/nvandessel/q2s/internal/models"
	"github.com/nvandessel/q2s/internal/strategy"
)

// ColumnSetting is one quality goal column's baseline and perturbation in a
// scenario.
type ColumnSetting struct {
	Column   string  `json:"column"`
	Baseline float64 `json:"baseline"`
	Level    string  `json:"level"`
	Delta    float64 `json:"delta"`
	Score    int     `json:"score"`
}

// StrategyRecord is the exported form of a StrategyResult. Margin is nil when
// no plan was selected.
type StrategyRecord struct {
	Strategy string   `json:"strategy"`
	PlanID   string   `json:"plan_id,omitempty"`
	Success  bool     `json:"success"`
	Margin   *float64 `json:"margin"`
	Outcome  Outcome  `json:"outcome"`
	Ties     int      `json:"ties,omitempty"`
}

// MarginValue returns the margin, or NaN when absent.
func (s StrategyRecord) MarginValue() float64 {
	if s.Margin == nil {
		return math.NaN()
	}
	return *s.Margin
}

// Record is the flat per-scenario hand-off consumed by exporters, the results
// store, and summaries.
type Record struct {
	ID                int              `json:"id"`
	Alpha             float64          `json:"alpha"`
	Settings          []ColumnSetting  `json:"settings"`
	PerturbationScore int              `json:"perturbation_score"`
	ValidPlans        int              `json:"valid_plans"`
	Strategies        []StrategyRecord `json:"strategies"`
}

// Infeasible reports whether no plan was valid before perturbation.
func (r Record) Infeasible() bool { return r.ValidPlans == 0 }

// Strategy returns the record of strategy k, or false when absent.
func (r Record) Strategy(k strategy.Kind) (StrategyRecord, bool) {
	for _, s := range r.Strategies {
		if s.Strategy == k.String() {
			return s, true
		}
	}
	return StrategyRecord{}, false
}

// Setting returns the setting of column, or false when absent.
func (r Record) Setting(column string) (ColumnSetting, bool) {
	for _, s := range r.Settings {
		if s.Column == column {
			return s, true
		}
	}
	return ColumnSetting{}, false
}

// Columns returns the column labels in record order.
func (r Record) Columns() []string {
	cols := make([]string, len(r.Settings))
	for j, s := range r.Settings {
		cols[j] = s.Column
	}
	return cols
}

// Record flattens r, labelling each setting with columns[j].
func (r Result) Record(columns []string) Record {
	sc := r.Scenario
	rec := Record{
		ID:                sc.ID,
		Alpha:             sc.Alpha,
		Settings:          make([]ColumnSetting, len(sc.Baselines)),
		PerturbationScore: sc.PerturbationScore(),
		ValidPlans:        r.ValidPlans,
		Strategies:        make([]StrategyRecord, 0, len(strategy.Kinds)),
	}
	for j, b := range sc.Baselines {
		p := sc.Perturbations[j]
		col := ""
		if j < len(columns) {
			col = columns[j]
		}
		rec.Settings[j] = ColumnSetting{Column: col, Baseline: b, Level: p.Label(), Delta: p.Delta, Score: p.Score}
	}
	for _, k := range strategy.Kinds {
		sr := r.Strategies[k]
		out := StrategyRecord{
			Strategy: k.String(),
			PlanID:   sr.PlanID,
			Success:  sr.Success,
			Outcome:  sr.Outcome,
			Ties:     sr.Ties,
		}
		if !math.IsNaN(sr.Margin) {
			m := sr.Margin
			out.Margin = &m
		}
		rec.Strategies = append(rec.Strategies, out)
	}
	return rec
}

// Perturbation returns column j's perturbation as a models.Perturbation.
func (s ColumnSetting) Perturbation() models.Perturbation {
	return models.Perturbation{Level: s.Level, Delta: s.Delta, Score: s.Score}
}
