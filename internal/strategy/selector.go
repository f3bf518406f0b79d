// Package strategy picks one plan per decision strategy from a satisfaction
// matrix. Only valid rows (MinSat ≥ 0) are candidates.
//
// The three deterministic strategies break exact ties at the maximum by
// choosing the lexicographically lowest plan identifier, and report how many
// rows were tied so callers can audit degenerate selections.
package strategy

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/nvandessel/q2s/internal/satisfaction"
)

// Kind identifies a decision strategy.
type Kind int

const (
	// Q2S maximizes alpha·AvgSat + (1-alpha)·MinSat.
	Q2S Kind = iota
	// AvgSat maximizes the mean distance.
	AvgSat
	// MinSat maximizes the worst-case distance.
	MinSat
	// Random draws uniformly among valid plans.
	Random
)

// Kinds lists every strategy in export order.
var Kinds = []Kind{Q2S, AvgSat, MinSat, Random}

var kindNames = [...]string{"q2s", "avgsat", "minsat", "random"}

// shortNames prefix export columns (ScorePlan_ID, AvgPlan_ID, ...).
var shortNames = [...]string{"score", "avg", "min", "rnd"}

var columnPrefixes = [...]string{"Score", "Avg", "Min", "Rnd"}

func (k Kind) valid() bool { return k >= Q2S && k <= Random }

// String returns the strategy name.
func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Short returns the short name used in tabular exports.
func (k Kind) Short() string {
	if !k.valid() {
		return ""
	}
	return shortNames[k]
}

// ColumnPrefix returns the prefix of the strategy's export columns.
func (k Kind) ColumnPrefix() string {
	if !k.valid() {
		return ""
	}
	return columnPrefixes[k]
}

// ParseKind accepts either the long or the short strategy name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if s == k.String() || s == k.Short() {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}

// Objective evaluates strategy k's objective on row i. Random has no
// objective of its own and reports the Q2S score of the row.
func Objective(k Kind, m *satisfaction.Matrix, i int, alpha float64) float64 {
	switch k {
	case AvgSat:
		return m.AvgSat(i)
	case MinSat:
		return m.MinSat(i)
	default:
		return m.Score(i, alpha)
	}
}

// Choice is one strategy's pick.
type Choice struct {
	Kind      Kind
	Row       int // -1 when nothing was selectable
	PlanID    string
	Objective float64
	// Ties is the number of valid rows sharing the maximum objective.
	// Always 0 or 1 for Random.
	Ties int
}

// Selected reports whether a plan was chosen.
func (c Choice) Selected() bool { return c.Row >= 0 }

// Degenerate reports whether the tie-break rule decided the choice.
func (c Choice) Degenerate() bool { return c.Ties > 1 }

// Selection holds the picks of every strategy for one matrix.
type Selection struct {
	ValidPlans int
	Choices    [len(kindNames)]Choice
}

// Get returns the choice made by strategy k.
func (s Selection) Get(k Kind) Choice { return s.Choices[k] }

// Infeasible reports whether no plan was valid, so no strategy could choose.
func (s Selection) Infeasible() bool { return s.ValidPlans == 0 }

// Selector runs all strategies against a matrix.
type Selector struct {
	Alpha float64
	// Rand drives the Random strategy. A nil source falls back to a fixed
	// PCG seed so selection stays deterministic.
	Rand *rand.Rand
}

// New returns a Selector for alpha drawing randomness from rng.
func New(alpha float64, rng *rand.Rand) Selector {
	return Selector{Alpha: alpha, Rand: rng}
}

// Select picks one plan per strategy from m's valid rows.
func (s Selector) Select(m *satisfaction.Matrix) Selection {
	valid := m.ValidRows()
	sel := Selection{ValidPlans: len(valid)}
	for _, k := range Kinds {
		sel.Choices[k] = Choice{Kind: k, Row: -1}
	}
	if len(valid) == 0 {
		return sel
	}

	for _, k := range []Kind{Q2S, AvgSat, MinSat} {
		sel.Choices[k] = s.argmax(k, m, valid)
	}
	sel.Choices[Random] = s.draw(m, valid)
	return sel
}

// argmax returns the best row for k, ties going to the lowest plan ID.
func (s Selector) argmax(k Kind, m *satisfaction.Matrix, rows []int) Choice {
	best := Choice{Kind: k, Row: -1}
	for _, i := range rows {
		v := Objective(k, m, i, s.Alpha)
		switch {
		case best.Row < 0 || v > best.Objective:
			best.Row, best.Objective, best.Ties = i, v, 1
		case v == best.Objective:
			best.Ties++
			if m.PlanID(i) < m.PlanID(best.Row) {
				best.Row = i
			}
		}
	}
	best.PlanID = m.PlanID(best.Row)
	return best
}

func (s Selector) draw(m *satisfaction.Matrix, rows []int) Choice {
	ordered := append([]int(nil), rows...)
	sort.SliceStable(ordered, func(a, b int) bool {
		return m.PlanID(ordered[a]) < m.PlanID(ordered[b])
	})

	rng := s.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}
	row := ordered[rng.IntN(len(ordered))]
	return Choice{
		Kind:      Random,
		Row:       row,
		PlanID:    m.PlanID(row),
		Objective: m.Score(row, s.Alpha),
		Ties:      1,
	}
}
