// Package scenario enumerates the full cross-product of alpha values,
// baseline threshold combinations, and perturbation combinations.
//
// The nesting is alpha (outermost), then baselines, then perturbations
// (innermost); within each group the first constraint column varies slowest.
// Identifiers are sequential from 1 in that order, so any scenario can be
// decoded straight from its ID without generating the ones before it.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/nvandessel/q2s/internal/models"
)

// ErrTooManyScenarios is returned when the cross-product overflows an int.
// A configured scenario maximum only truncates a run; see simulation.Runner.
var ErrTooManyScenarios = errors.New("q2s: scenario count overflows")

// ErrOutOfRange is returned by At for identifiers outside [1, Count].
var ErrOutOfRange = errors.New("q2s: scenario id out of range")

// checkEvery is how many scenarios Enumerate visits between context checks.
const checkEvery = 256

// Space describes the scenario cross-product. Options[j] belongs to the
// j-th quality goal's threshold column.
type Space struct {
	Alphas  []float64
	Options []models.ConstraintOptions
}

// Scenario is one fully specified combination. Baselines[j] and
// Perturbations[j] belong to Space.Options[j].
type Scenario struct {
	ID            int
	Alpha         float64
	Baselines     []float64
	Perturbations []models.Perturbation
}

// Thresholds returns the baseline thresholds, or baseline+delta when
// perturbed is true. The result is a fresh slice.
func (s Scenario) Thresholds(perturbed bool) []float64 {
	out := make([]float64, len(s.Baselines))
	for j, b := range s.Baselines {
		out[j] = b
		if perturbed {
			out[j] += s.Perturbations[j].Delta
		}
	}
	return out
}

// Deltas returns each column's perturbation delta.
func (s Scenario) Deltas() []float64 {
	out := make([]float64, len(s.Perturbations))
	for j, p := range s.Perturbations {
		out[j] = p.Delta
	}
	return out
}

// PerturbationScore is the sum of severity scores across columns.
func (s Scenario) PerturbationScore() int {
	total := 0
	for _, p := range s.Perturbations {
		total += p.Score
	}
	return total
}

// PerturbedColumns returns the indices of columns whose perturbation is not
// the no-change option.
func (s Scenario) PerturbedColumns() []int {
	var cols []int
	for j, p := range s.Perturbations {
		if !p.IsNoChange() {
			cols = append(cols, j)
		}
	}
	return cols
}

// Validate checks the alpha list and every column's options.
func (sp Space) Validate() error {
	if len(sp.Alphas) == 0 {
		return models.Configf(models.ErrNoAlphas, "alpha_options is empty")
	}
	for _, a := range sp.Alphas {
		if math.IsNaN(a) || a < 0 || a > 1 {
			return models.Configf(models.ErrAlphaRange, "alpha %v", a)
		}
	}
	if len(sp.Options) == 0 {
		return models.Configf(models.ErrMissingOptions, "constraint_options is empty")
	}
	seen := make(map[string]bool, len(sp.Options))
	for _, o := range sp.Options {
		if seen[o.Column] {
			return models.Configf(models.ErrDuplicateID, "constraint column %q listed twice", o.Column)
		}
		seen[o.Column] = true
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Columns returns the threshold column labels in option order.
func (sp Space) Columns() []string {
	cols := make([]string, len(sp.Options))
	for j, o := range sp.Options {
		cols[j] = o.Column
	}
	return cols
}

// radices lists each digit's base, most significant first.
func (sp Space) radices() []int {
	r := make([]int, 0, 1+2*len(sp.Options))
	r = append(r, len(sp.Alphas))
	for _, o := range sp.Options {
		r = append(r, len(o.Baselines))
	}
	for _, o := range sp.Options {
		r = append(r, len(o.Perturbations))
	}
	return r
}

// Count is the exact cardinality of the space, computed without generating
// anything. An empty option list yields 0.
func (sp Space) Count() (int, error) {
	total := uint64(1)
	for _, n := range sp.radices() {
		if n == 0 {
			return 0, nil
		}
		hi, lo := bits.Mul64(total, uint64(n))
		if hi != 0 || lo > math.MaxInt {
			return 0, fmt.Errorf("%w: more than %d combinations", ErrTooManyScenarios, math.MaxInt)
		}
		total = lo
	}
	return int(total), nil
}

// At decodes the scenario with the given sequential identifier.
func (sp Space) At(id int) (Scenario, error) {
	n, err := sp.Count()
	if err != nil {
		return Scenario{}, err
	}
	if id < 1 || id > n {
		return Scenario{}, fmt.Errorf("%w: %d not in [1, %d]", ErrOutOfRange, id, n)
	}

	radices := sp.radices()
	digits := make([]int, len(radices))
	rem := id - 1
	for k := len(radices) - 1; k >= 0; k-- {
		digits[k] = rem % radices[k]
		rem /= radices[k]
	}
	return sp.compose(id, digits), nil
}

// Enumerate calls fn for every scenario in identifier order. A limit > 0
// stops after that many scenarios. Enumeration stops at the first error
// returned by fn or when ctx is done.
func (sp Space) Enumerate(ctx context.Context, limit int, fn func(Scenario) error) error {
	n, err := sp.Count()
	if err != nil {
		return err
	}
	if limit > 0 && limit < n {
		n = limit
	}

	radices := sp.radices()
	digits := make([]int, len(radices))
	for id := 1; id <= n; id++ {
		if id%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(sp.compose(id, digits)); err != nil {
			return err
		}
		// Odometer increment, least significant digit last.
		for k := len(digits) - 1; k >= 0; k-- {
			digits[k]++
			if digits[k] < radices[k] {
				break
			}
			digits[k] = 0
		}
	}
	return ctx.Err()
}

// All returns every scenario in identifier order.
func (sp Space) All() ([]Scenario, error) {
	n, err := sp.Count()
	if err != nil {
		return nil, err
	}
	out := make([]Scenario, 0, n)
	err = sp.Enumerate(context.Background(), 0, func(s Scenario) error {
		out = append(out, s)
		return nil
	})
	return out, err
}

func (sp Space) compose(id int, digits []int) Scenario {
	cols := len(sp.Options)
	s := Scenario{
		ID:            id,
		Alpha:         sp.Alphas[digits[0]],
		Baselines:     make([]float64, cols),
		Perturbations: make([]models.Perturbation, cols),
	}
	for j, o := range sp.Options {
		s.Baselines[j] = o.Baselines[digits[1+j]]
		s.Perturbations[j] = o.Perturbations[digits[1+cols+j]]
	}
	return s
}
