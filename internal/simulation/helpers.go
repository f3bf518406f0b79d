package simulation

import (
	"github.com/nvandessel/q2s/internal/models"
	"github.com/nvandessel/q2s/internal/scenario"
)

// PlanSpec is a flat builder for a plan and the goals it includes.
type PlanSpec struct {
	ID    string
	Goals []string
}

// ToPlan converts a PlanSpec into a models.Plan.
func (p PlanSpec) ToPlan() models.Plan {
	goals := make([]models.GoalID, len(p.Goals))
	for i, g := range p.Goals {
		goals[i] = models.GoalID(g)
	}
	return models.Plan{ID: p.ID, Goals: goals}
}

// NewCatalog assembles a catalog from plan specs, a contribution table, and
// quality goals.
func NewCatalog(plans []PlanSpec, contributions models.Contributions, goals ...models.QualityGoal) models.Catalog {
	out := models.Catalog{
		Plans:         make([]models.Plan, len(plans)),
		Contributions: contributions,
		QualityGoals:  goals,
	}
	for i, p := range plans {
		out.Plans[i] = p.ToPlan()
	}
	return out
}

// Level builds a perturbation option.
func Level(name string, delta float64, score int) models.Perturbation {
	return models.Perturbation{Level: name, Delta: delta, Score: score}
}

// MeetingCatalog is a small meeting-scheduler catalog: five plans over six
// goals, constrained on cost, effort, and time.
//
//	Plan0: cost 200, effort 4, time 7
//	Plan1: cost  50, effort 5, time 6
//	Plan2: cost 210, effort 1, time 3
//	Plan3: cost 140, effort 1, time 3
//	Plan4: cost  90, effort 2, time 3
func MeetingCatalog() models.Catalog {
	return NewCatalog(
		[]PlanSpec{
			{ID: "Plan0", Goals: []string{"G1", "G5", "G8", "G11", "G13"}},
			{ID: "Plan1", Goals: []string{"G1", "G7", "G11", "G13"}},
			{ID: "Plan2", Goals: []string{"G5", "G7", "G8"}},
			{ID: "Plan3", Goals: []string{"G1", "G5", "G7"}},
			{ID: "Plan4", Goals: []string{"G8", "G13"}},
		},
		models.Contributions{
			"TotalCost":   {"G1": 10, "G5": 100, "G7": 30, "G8": 80, "G11": 0, "G13": 10},
			"TotalEffort": {"G7": 1, "G11": 2, "G13": 2},
			"TimeSpent":   {"G1": 1, "G5": 1, "G7": 1, "G8": 1, "G11": 2, "G13": 2},
		},
		models.QualityGoal{ID: "QG0", Variable: "TotalCost", Relation: models.RelationMax, Column: "cost_constraint"},
		models.QualityGoal{ID: "QG1", Variable: "TotalEffort", Relation: models.RelationMax, Column: "effort_constraint"},
		models.QualityGoal{ID: "QG2", Variable: "TimeSpent", Relation: models.RelationMax, Column: "time_constraint"},
	)
}

// MeetingSpace is a 432-scenario space over MeetingCatalog's columns. A cost
// baseline of 60 with effort 3 leaves no valid plan.
func MeetingSpace() scenario.Space {
	return scenario.Space{
		Alphas: []float64{0.3, 0.5, 0.7},
		Options: []models.ConstraintOptions{
			{
				Column:        "cost_constraint",
				Baselines:     []float64{60, 150, 220},
				Perturbations: []models.Perturbation{models.NoChange, Level("low", -10, 1), Level("high", -50, 2)},
			},
			{
				Column:        "effort_constraint",
				Baselines:     []float64{3, 6},
				Perturbations: []models.Perturbation{models.NoChange, Level("low", -1, 1)},
			},
			{
				Column:        "time_constraint",
				Baselines:     []float64{5, 8},
				Perturbations: []models.Perturbation{models.NoChange, Level("low", -2, 1)},
			},
		},
	}
}
