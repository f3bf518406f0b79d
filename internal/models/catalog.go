package models

import (
	"math"
	"sort"
)

// GoalID identifies a functional goal a plan may include
type GoalID string

// DomainVariable names an aggregated quantity such as total cost or time spent
type DomainVariable string

// Plan is one candidate way to accomplish the task: an identifier plus the
// goals it includes. Plans are immutable once loaded.
type Plan struct {
	ID    string   `json:"id" yaml:"id"`
	Goals []GoalID `json:"goals" yaml:"goals"`
}

// Has reports whether the plan includes goal g.
func (p Plan) Has(g GoalID) bool {
	for _, goal := range p.Goals {
		if goal == g {
			return true
		}
	}
	return false
}

// Contributions maps a domain variable to each goal's contribution.
// Missing entries contribute zero.
type Contributions map[DomainVariable]map[GoalID]float64

// Of returns the contribution of goal g to variable v (0 when absent).
func (c Contributions) Of(v DomainVariable, g GoalID) float64 {
	return c[v][g]
}

// Variables returns the domain variables in sorted order.
func (c Contributions) Variables() []DomainVariable {
	vars := make([]DomainVariable, 0, len(c))
	for v := range c {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
	return vars
}

// Relation is the comparison a quality goal enforces
type Relation string

const (
	// RelationMax requires the actual value not to exceed the threshold
	RelationMax Relation = "max"
)

// Valid returns true if the relation is supported.
func (r Relation) Valid() bool {
	return r == RelationMax
}

// QualityGoal constrains one domain variable. Column is the label of the
// threshold column in scenario definitions and exported records.
type QualityGoal struct {
	ID       string         `json:"id" yaml:"id"`
	Variable DomainVariable `json:"domain_variable" yaml:"domain_variable"`
	Relation Relation       `json:"relation_type" yaml:"relation_type"`
	Column   string         `json:"column_name" yaml:"column_name"`
}

// Catalog is the read-only input shared by every scenario of a run.
type Catalog struct {
	Plans         []Plan
	Contributions Contributions
	QualityGoals  []QualityGoal
}

// PlanIndex maps plan identifiers to their position in Plans.
func (c *Catalog) PlanIndex() map[string]int {
	idx := make(map[string]int, len(c.Plans))
	for i, p := range c.Plans {
		idx[p.ID] = i
	}
	return idx
}

// Columns returns the threshold column label of every quality goal, in order.
func (c *Catalog) Columns() []string {
	cols := make([]string, len(c.QualityGoals))
	for i, qg := range c.QualityGoals {
		cols[i] = qg.Column
	}
	return cols
}

// Validate enforces the catalog invariants: unique plan and quality goal
// identifiers, supported relations, and a one-to-one mapping between
// contributed domain variables and quality goals.
func (c *Catalog) Validate() error {
	if len(c.Plans) == 0 {
		return Configf(ErrNoPlans, "catalog")
	}
	if len(c.QualityGoals) == 0 {
		return Configf(ErrNoQualityGoals, "catalog")
	}

	seenPlans := make(map[string]bool, len(c.Plans))
	for _, p := range c.Plans {
		if p.ID == "" {
			return Configf(ErrDuplicateID, "plan with empty id")
		}
		if seenPlans[p.ID] {
			return Configf(ErrDuplicateID, "plan %s", p.ID)
		}
		seenPlans[p.ID] = true
	}

	for v, byGoal := range c.Contributions {
		for g, amount := range byGoal {
			if math.IsNaN(amount) || math.IsInf(amount, 0) {
				return Configf(ErrNonFinite, "contribution %s/%s", v, g)
			}
		}
	}

	seenGoals := make(map[string]bool, len(c.QualityGoals))
	seenColumns := make(map[string]bool, len(c.QualityGoals))
	constrained := make(map[DomainVariable]int, len(c.QualityGoals))
	for _, qg := range c.QualityGoals {
		if qg.ID == "" || seenGoals[qg.ID] {
			return Configf(ErrDuplicateID, "quality goal %q", qg.ID)
		}
		seenGoals[qg.ID] = true
		if qg.Column == "" || seenColumns[qg.Column] {
			return Configf(ErrDuplicateID, "quality goal %s column %q", qg.ID, qg.Column)
		}
		seenColumns[qg.Column] = true
		if !qg.Relation.Valid() {
			return Configf(ErrUnsupportedRelation, "quality goal %s relation %q", qg.ID, qg.Relation)
		}
		if _, ok := c.Contributions[qg.Variable]; !ok {
			return Configf(ErrUnknownVariable, "quality goal %s variable %s", qg.ID, qg.Variable)
		}
		constrained[qg.Variable]++
	}

	// Every contributed variable must be constrained by exactly one goal.
	for _, v := range c.Contributions.Variables() {
		switch n := constrained[v]; {
		case n == 0:
			return Configf(ErrUncoveredVariable, "variable %s", v)
		case n > 1:
			return Configf(ErrDuplicateID, "variable %s constrained by %d quality goals", v, n)
		}
	}

	return nil
}
