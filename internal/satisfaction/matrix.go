// Package satisfaction builds the plan × quality-goal matrix of normalized
// satisfaction distances. For a "max" goal with threshold T and actual value
// a, the distance is (T - a) / T: non-negative exactly when a ≤ T.
//
// A Matrix is immutable. Any change to thresholds or impacts means building
// a new one; pre- and post-perturbation views are always two matrices.
package satisfaction

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/q2s/internal/impact"
	"github.com/nvandessel/q2s/internal/models"
)

// ErrShape is returned when thresholds and quality goals disagree in length
// or the impact table has no plan rows.
var ErrShape = errors.New("satisfaction: threshold count does not match quality goals")

// Matrix holds distances in row-major order, one row per plan and one
// column per quality goal.
type Matrix struct {
	planIDs    []string
	goalIDs    []string
	thresholds []float64
	data       []float64
}

// Build computes the distance matrix for every plan in table against goals
// with the given thresholds (thresholds[j] belongs to goals[j]).
// A non-positive or non-finite threshold is a configuration error; the builder never
// leaves an entry unset and never filters rows.
func Build(table *impact.Table, goals []models.QualityGoal, thresholds []float64) (*Matrix, error) {
	if len(goals) != len(thresholds) {
		return nil, fmt.Errorf("%w: %d goals, %d thresholds", ErrShape, len(goals), len(thresholds))
	}
	for j, qg := range goals {
		if !qg.Relation.Valid() {
			return nil, models.Configf(models.ErrUnsupportedRelation, "quality goal %s relation %q", qg.ID, qg.Relation)
		}
		t := thresholds[j]
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, models.Configf(models.ErrNonFinite, "quality goal %s threshold", qg.ID)
		}
		if t <= 0 {
			return nil, models.Configf(models.ErrNonPositiveThreshold, "quality goal %s threshold %g", qg.ID, t)
		}
	}

	rows, cols := table.Plans(), len(goals)
	m := &Matrix{
		planIDs:    make([]string, rows),
		goalIDs:    make([]string, cols),
		thresholds: append([]float64(nil), thresholds...),
		data:       make([]float64, rows*cols),
	}
	for j, qg := range goals {
		m.goalIDs[j] = qg.ID
	}

	for i := 0; i < rows; i++ {
		m.planIDs[i] = table.PlanID(i)
		for j, qg := range goals {
			actual, ok := table.Value(i, qg.Variable)
			if !ok {
				return nil, models.Configf(models.ErrUnknownVariable, "quality goal %s variable %s", qg.ID, qg.Variable)
			}
			m.data[i*cols+j] = Distance(thresholds[j], actual)
		}
	}
	return m, nil
}

// Distance is the normalized signed margin of actual under a "max" threshold.
func Distance(threshold, actual float64) float64 {
	return (threshold - actual) / threshold
}

// Rows returns the number of plan rows.
func (m *Matrix) Rows() int { return len(m.planIDs) }

// Cols returns the number of quality-goal columns.
func (m *Matrix) Cols() int { return len(m.goalIDs) }

// At returns d[i,j]. It panics on out-of-range indices like a slice access.
func (m *Matrix) At(i, j int) float64 { return m.data[i*len(m.goalIDs)+j] }

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float64 {
	c := len(m.goalIDs)
	return append([]float64(nil), m.data[i*c:(i+1)*c]...)
}

// PlanID returns the plan identifier of row i.
func (m *Matrix) PlanID(i int) string { return m.planIDs[i] }

// GoalID returns the quality goal identifier of column j.
func (m *Matrix) GoalID(j int) string { return m.goalIDs[j] }

// Threshold returns the threshold used for column j.
func (m *Matrix) Threshold(j int) float64 { return m.thresholds[j] }

// RowOf returns the row index of planID, or -1 when absent.
func (m *Matrix) RowOf(planID string) int {
	for i, id := range m.planIDs {
		if id == planID {
			return i
		}
	}
	return -1
}

// AvgSat is the mean distance across row i.
func (m *Matrix) AvgSat(i int) float64 {
	c := len(m.goalIDs)
	if c == 0 {
		return 0
	}
	var sum float64
	for _, d := range m.data[i*c : (i+1)*c] {
		sum += d
	}
	return sum / float64(c)
}

// MinSat is the minimum distance across row i.
func (m *Matrix) MinSat(i int) float64 {
	c := len(m.goalIDs)
	if c == 0 {
		return 0
	}
	row := m.data[i*c : (i+1)*c]
	lo := row[0]
	for _, d := range row[1:] {
		if d < lo {
			lo = d
		}
	}
	return lo
}

// Score is the Hurwicz combination alpha·AvgSat + (1-alpha)·MinSat.
func (m *Matrix) Score(i int, alpha float64) float64 {
	return alpha*m.AvgSat(i) + (1-alpha)*m.MinSat(i)
}

// Valid reports whether row i satisfies every quality goal.
func (m *Matrix) Valid(i int) bool {
	return m.MinSat(i) >= 0
}

// ValidRows returns the indices of valid rows in row order.
func (m *Matrix) ValidRows() []int {
	var rows []int
	for i := range m.planIDs {
		if m.Valid(i) {
			rows = append(rows, i)
		}
	}
	return rows
}

// Equal reports whether both matrices have the same plans, goals, and
// bit-identical distances.
func (m *Matrix) Equal(other *Matrix) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.planIDs) != len(other.planIDs) || len(m.goalIDs) != len(other.goalIDs) {
		return false
	}
	for i := range m.planIDs {
		if m.planIDs[i] != other.planIDs[i] {
			return false
		}
	}
	for j := range m.goalIDs {
		if m.goalIDs[j] != other.goalIDs[j] {
			return false
		}
	}
	for k := range m.data {
		if m.data[k] != other.data[k] {
			return false
		}
	}
	return true
}
