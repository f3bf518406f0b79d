// Package impact computes how much each plan contributes to each domain
// variable. Totals are a pure function of the plan's goals and the
// contribution table; an optional Scaler multiplies each raw contribution
// before summation.
package impact

import (
	"github.com/nvandessel/q2s/internal/models"
)

// Scaler returns the multiplicative factor applied to goal g's raw
// contribution to variable v.
type Scaler interface {
	Factor(g models.GoalID, v models.DomainVariable) float64
}

// Identity leaves every contribution unchanged.
type Identity struct{}

// Factor always returns 1.
func (Identity) Factor(models.GoalID, models.DomainVariable) float64 { return 1 }

// Model computes plan impacts from a contribution table.
type Model struct {
	contributions models.Contributions
	scaler        Scaler
}

// Option configures a Model.
type Option func(*Model)

// WithScaler installs a contribution scaler.
func WithScaler(s Scaler) Option {
	return func(m *Model) {
		if s != nil {
			m.scaler = s
		}
	}
}

// NewModel creates a Model over contributions.
func NewModel(contributions models.Contributions, opts ...Option) *Model {
	m := &Model{contributions: contributions, scaler: Identity{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Impact returns the total contribution of plan to variable: the sum, over
// the plan's goals, of each (scaled) contribution. Missing entries count as 0.
func (m *Model) Impact(plan models.Plan, v models.DomainVariable) float64 {
	byGoal := m.contributions[v]
	if len(byGoal) == 0 {
		return 0
	}
	var total float64
	for _, g := range plan.Goals {
		amount, ok := byGoal[g]
		if !ok {
			continue
		}
		total += amount * m.scaler.Factor(g, v)
	}
	return total
}

// Table holds precomputed plan × variable totals. It is read-only after
// construction and safe to share across goroutines.
type Table struct {
	planIDs   []string
	variables []models.DomainVariable
	colOf     map[models.DomainVariable]int
	values    [][]float64
}

// Tabulate precomputes the impact of every plan on every variable.
func (m *Model) Tabulate(plans []models.Plan, variables []models.DomainVariable) *Table {
	t := &Table{
		planIDs:   make([]string, len(plans)),
		variables: append([]models.DomainVariable(nil), variables...),
		colOf:     make(map[models.DomainVariable]int, len(variables)),
		values:    make([][]float64, len(plans)),
	}
	for j, v := range variables {
		t.colOf[v] = j
	}
	for i, p := range plans {
		t.planIDs[i] = p.ID
		row := make([]float64, len(variables))
		for j, v := range variables {
			row[j] = m.Impact(p, v)
		}
		t.values[i] = row
	}
	return t
}

// Plans returns the number of plan rows.
func (t *Table) Plans() int { return len(t.planIDs) }

// PlanID returns the identifier of row i.
func (t *Table) PlanID(i int) string { return t.planIDs[i] }

// Value returns the impact of plan row i on variable v and whether v is tabulated.
func (t *Table) Value(i int, v models.DomainVariable) (float64, bool) {
	j, ok := t.colOf[v]
	if !ok {
		return 0, false
	}
	return t.values[i][j], true
}

// Shifted returns a copy of t with shift[v] added to every plan's value for
// variable v. It backs impact perturbation, where a disturbance changes
// what plans cost rather than what the constraint allows.
func (t *Table) Shifted(shift map[models.DomainVariable]float64) *Table {
	out := &Table{
		planIDs:   t.planIDs,
		variables: t.variables,
		colOf:     t.colOf,
		values:    make([][]float64, len(t.values)),
	}
	for i, row := range t.values {
		next := append([]float64(nil), row...)
		for v, delta := range shift {
			if j, ok := t.colOf[v]; ok {
				next[j] += delta
			}
		}
		out.values[i] = next
	}
	return out
}
