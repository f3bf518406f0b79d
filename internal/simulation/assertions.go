package simulation

import (
	"math"
	"testing"

	"github.com/nvandessel/q2s/internal/strategy"
)

// AssertCollapse asserts that Q2S picks the AvgSat plan whenever alpha is 1
// and the MinSat plan whenever alpha is 0.
func AssertCollapse(t *testing.T, results []Result) {
	t.Helper()
	for _, r := range results {
		if r.Infeasible() {
			continue
		}
		q2s := r.Get(strategy.Q2S).PlanID
		switch r.Scenario.Alpha {
		case 1:
			if avg := r.Get(strategy.AvgSat).PlanID; q2s != avg {
				t.Errorf("AssertCollapse: scenario %d: alpha=1 Q2S chose %s, AvgSat chose %s", r.Scenario.ID, q2s, avg)
			}
		case 0:
			if lo := r.Get(strategy.MinSat).PlanID; q2s != lo {
				t.Errorf("AssertCollapse: scenario %d: alpha=0 Q2S chose %s, MinSat chose %s", r.Scenario.ID, q2s, lo)
			}
		}
	}
}

// AssertInfeasibleReported asserts that every scenario without valid plans
// reports no selection, no success, and a NaN margin for every strategy, and
// that feasible scenarios never report OutcomeInfeasible.
func AssertInfeasibleReported(t *testing.T, results []Result) {
	t.Helper()
	for _, r := range results {
		for _, k := range strategy.Kinds {
			sr := r.Get(k)
			if r.Infeasible() {
				if sr.PlanID != "" || sr.Success || !math.IsNaN(sr.Margin) || sr.Outcome != OutcomeInfeasible {
					t.Errorf("AssertInfeasibleReported: scenario %d: %s = %+v, want no selection", r.Scenario.ID, k, sr)
				}
				continue
			}
			if sr.Outcome == OutcomeInfeasible || sr.PlanID == "" {
				t.Errorf("AssertInfeasibleReported: scenario %d: feasible scenario but %s reports %+v", r.Scenario.ID, k, sr)
			}
		}
	}
}

// AssertMarginConsistent asserts success ⇔ margin ≥ 0 and that the outcome
// label agrees with the success flag.
func AssertMarginConsistent(t *testing.T, results []Result) {
	t.Helper()
	for _, r := range results {
		if r.Infeasible() {
			continue
		}
		for _, k := range strategy.Kinds {
			sr := r.Get(k)
			if sr.Success != (sr.Margin >= 0) {
				t.Errorf("AssertMarginConsistent: scenario %d: %s success=%v margin=%.6f", r.Scenario.ID, k, sr.Success, sr.Margin)
			}
			want := OutcomeViolated
			if sr.Success {
				want = OutcomeSurvived
			}
			if sr.Outcome != want {
				t.Errorf("AssertMarginConsistent: scenario %d: %s outcome=%s, want %s", r.Scenario.ID, k, sr.Outcome, want)
			}
		}
	}
}

// AssertUnperturbedSurvive asserts that in every feasible scenario without
// any perturbation each chosen plan survives with its pre-perturbation MinSat.
func AssertUnperturbedSurvive(t *testing.T, results []Result) {
	t.Helper()
	for _, r := range results {
		if r.Infeasible() || len(r.Scenario.PerturbedColumns()) > 0 {
			continue
		}
		for _, k := range strategy.Kinds {
			if sr := r.Get(k); !sr.Success {
				t.Errorf("AssertUnperturbedSurvive: scenario %d: %s chose %s which failed with margin %.6f", r.Scenario.ID, k, sr.PlanID, sr.Margin)
			}
		}
		if m := r.Get(strategy.MinSat); m.Margin != m.Objective {
			t.Errorf("AssertUnperturbedSurvive: scenario %d: MinSat margin %.6f != objective %.6f", r.Scenario.ID, m.Margin, m.Objective)
		}
	}
}

// AssertOrdered asserts that results arrive with strictly increasing,
// gap-free scenario IDs starting at 1.
func AssertOrdered(t *testing.T, results []Result) {
	t.Helper()
	for i, r := range results {
		if r.Scenario.ID != i+1 {
			t.Fatalf("AssertOrdered: result %d has scenario ID %d", i, r.Scenario.ID)
		}
	}
}

// AssertSameResults asserts that two runs agree on every pick, success flag,
// and margin (NaN margins compare equal).
func AssertSameResults(t *testing.T, a, b []Result) {
	t.Helper()
	if len(a) != len(b) {
		t.Fatalf("AssertSameResults: %d results vs %d", len(a), len(b))
	}
	for i := range a {
		for _, k := range strategy.Kinds {
			x, y := a[i].Get(k), b[i].Get(k)
			sameMargin := x.Margin == y.Margin || (math.IsNaN(x.Margin) && math.IsNaN(y.Margin))
			if x.PlanID != y.PlanID || x.Success != y.Success || !sameMargin {
				t.Errorf("AssertSameResults: scenario %d %s: %+v vs %+v", a[i].Scenario.ID, k, x, y)
			}
		}
	}
}

// CountInfeasible counts scenarios without valid plans.
func CountInfeasible(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Infeasible() {
			n++
		}
	}
	return n
}

// SuccessCount counts scenarios where strategy k's choice survived.
func SuccessCount(results []Result, k strategy.Kind) int {
	n := 0
	for _, r := range results {
		if r.Get(k).Success {
			n++
		}
	}
	return n
}
