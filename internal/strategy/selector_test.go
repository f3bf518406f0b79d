package strategy

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/q2s/internal/impact"
	"github.com/nvandessel/q2s/internal/models"
	"github.com/nvandessel/q2s/internal/satisfaction"
)

// matrixOf builds a matrix with unit thresholds, so each row's distances are
// 1 - actual. Plans appear in the given order.
func matrixOf(t *testing.T, order []string, actuals map[string][]float64) *satisfaction.Matrix {
	t.Helper()
	n := len(actuals[order[0]])
	goals := make([]models.QualityGoal, n)
	vars := make([]models.DomainVariable, n)
	contrib := models.Contributions{}
	thresholds := make([]float64, n)
	for j := range goals {
		v := models.DomainVariable("V" + string(rune('0'+j)))
		vars[j] = v
		goals[j] = models.QualityGoal{ID: "QG" + string(rune('0'+j)), Variable: v, Relation: models.RelationMax, Column: string(v)}
		contrib[v] = map[models.GoalID]float64{}
		thresholds[j] = 1
	}
	plans := make([]models.Plan, len(order))
	for i, id := range order {
		g := models.GoalID("g-" + id)
		for j, v := range vars {
			contrib[v][g] = actuals[id][j]
		}
		plans[i] = models.Plan{ID: id, Goals: []models.GoalID{g}}
	}
	m, err := satisfaction.Build(impact.NewModel(contrib).Tabulate(plans, vars), goals, thresholds)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestSelect_HurwiczPrefersBalancedPlan(t *testing.T) {
	// A has d=[0.5,0.5], B has d=[0.9,0.1].
	m := matrixOf(t, []string{"A", "B"}, map[string][]float64{
		"A": {0.5, 0.5},
		"B": {0.1, 0.9},
	})

	sel := New(0.5, rand.New(rand.NewPCG(1, 1))).Select(m)

	q2s := sel.Get(Q2S)
	if q2s.PlanID != "A" {
		t.Errorf("Q2S selected %q, want A", q2s.PlanID)
	}
	if math.Abs(q2s.Objective-0.5) > 1e-12 {
		t.Errorf("Q2S objective = %v, want 0.5", q2s.Objective)
	}
	if got := sel.Get(MinSat).PlanID; got != "A" {
		t.Errorf("MinSat selected %q, want A", got)
	}
	if sel.ValidPlans != 2 || sel.Infeasible() {
		t.Errorf("ValidPlans = %d, Infeasible = %v", sel.ValidPlans, sel.Infeasible())
	}
}

func TestSelect_AlphaExtremesCollapse(t *testing.T) {
	m := matrixOf(t, []string{"P1", "P2", "P3", "P4"}, map[string][]float64{
		"P1": {0.10, 0.80, 0.30},
		"P2": {0.40, 0.40, 0.40},
		"P3": {0.00, 0.95, 0.05},
		"P4": {0.60, 0.20, 0.50},
	})

	one := New(1, nil).Select(m)
	if one.Get(Q2S).PlanID != one.Get(AvgSat).PlanID {
		t.Errorf("alpha=1: Q2S %q != AvgSat %q", one.Get(Q2S).PlanID, one.Get(AvgSat).PlanID)
	}
	zero := New(0, nil).Select(m)
	if zero.Get(Q2S).PlanID != zero.Get(MinSat).PlanID {
		t.Errorf("alpha=0: Q2S %q != MinSat %q", zero.Get(Q2S).PlanID, zero.Get(MinSat).PlanID)
	}
	if zero.Get(MinSat).PlanID != "P2" {
		t.Errorf("MinSat selected %q, want P2", zero.Get(MinSat).PlanID)
	}
}

func TestSelect_NoValidPlans(t *testing.T) {
	m := matrixOf(t, []string{"A", "B"}, map[string][]float64{
		"A": {1.5, 0.1},
		"B": {0.1, 2.0},
	})

	sel := New(0.5, rand.New(rand.NewPCG(7, 7))).Select(m)
	if !sel.Infeasible() {
		t.Fatal("expected infeasible selection")
	}
	for _, k := range Kinds {
		c := sel.Get(k)
		if c.Selected() || c.PlanID != "" || c.Row != -1 {
			t.Errorf("%s: got %+v, want no selection", k, c)
		}
	}
}

func TestSelect_TieBreaksOnLowestPlanID(t *testing.T) {
	m := matrixOf(t, []string{"Plan9", "Plan10", "Plan2"}, map[string][]float64{
		"Plan9":  {0.2, 0.2},
		"Plan10": {0.2, 0.2},
		"Plan2":  {0.2, 0.2},
	})

	sel := New(0.3, nil).Select(m)
	for _, k := range []Kind{Q2S, AvgSat, MinSat} {
		c := sel.Get(k)
		if c.PlanID != "Plan10" {
			t.Errorf("%s selected %q, want Plan10 (lexicographically lowest)", k, c.PlanID)
		}
		if !c.Degenerate() || c.Ties != 3 {
			t.Errorf("%s: Ties = %d, want 3", k, c.Ties)
		}
	}
}

func TestSelect_InvalidRowsNeverChosen(t *testing.T) {
	// C would dominate on AvgSat but violates the second goal.
	m := matrixOf(t, []string{"A", "C"}, map[string][]float64{
		"A": {0.6, 0.6},
		"C": {0.0, 1.01},
	})

	for seed := uint64(0); seed < 20; seed++ {
		sel := New(1, rand.New(rand.NewPCG(seed, 0))).Select(m)
		for _, k := range Kinds {
			if got := sel.Get(k).PlanID; got != "A" {
				t.Fatalf("seed %d: %s selected %q, want A", seed, k, got)
			}
		}
	}
}

func TestSelect_RandomIsReproducibleAndOrderIndependent(t *testing.T) {
	actuals := map[string][]float64{
		"A": {0.1}, "B": {0.2}, "C": {0.3}, "D": {0.4}, "E": {0.5},
	}
	m1 := matrixOf(t, []string{"A", "B", "C", "D", "E"}, actuals)
	m2 := matrixOf(t, []string{"E", "C", "A", "D", "B"}, actuals)

	seen := map[string]bool{}
	for seed := uint64(0); seed < 50; seed++ {
		a := New(0.5, rand.New(rand.NewPCG(seed, 3))).Select(m1).Get(Random)
		b := New(0.5, rand.New(rand.NewPCG(seed, 3))).Select(m2).Get(Random)
		if a.PlanID != b.PlanID {
			t.Fatalf("seed %d: draw depends on catalog order: %q vs %q", seed, a.PlanID, b.PlanID)
		}
		seen[a.PlanID] = true
	}
	if len(seen) < 2 {
		t.Errorf("random strategy drew only %v across 50 seeds", seen)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"q2s", Q2S, false},
		{"score", Q2S, false},
		{"avg", AvgSat, false},
		{"minsat", MinSat, false},
		{"rnd", Random, false},
		{"best", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if Kind(9).String() != "Kind(9)" || Kind(9).Short() != "" {
		t.Error("out-of-range kind should format defensively")
	}
}
