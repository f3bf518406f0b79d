package models

import (
	"math"
	"strconv"
)

// Perturbation is a named severity level applied to one quality goal after
// selection. Delta is added to the threshold; a negative delta tightens a
// "max" constraint. Score 0 is reserved for "no change".
type Perturbation struct {
	Level string  `json:"level" yaml:"level"`
	Delta float64 `json:"value" yaml:"value"`
	Score int     `json:"score" yaml:"score"`
}

// NoChange is the identity perturbation.
var NoChange = Perturbation{Level: "no", Delta: 0, Score: 0}

// Label returns Level, falling back to the formatted delta when unnamed.
func (p Perturbation) Label() string {
	if p.Level != "" {
		return p.Level
	}
	return strconv.FormatFloat(p.Delta, 'g', -1, 64)
}

// IsNoChange reports whether applying p leaves a threshold unchanged.
func (p Perturbation) IsNoChange() bool {
	return p.Score == 0 && p.Delta == 0
}

// Validate checks the severity invariants: non-negative score, finite delta,
// and score 0 only for a zero delta.
func (p Perturbation) Validate() error {
	if math.IsNaN(p.Delta) || math.IsInf(p.Delta, 0) {
		return Configf(ErrNonFinite, "perturbation %s delta", p.Label())
	}
	if p.Score < 0 {
		return Configf(ErrBadSeverity, "perturbation %s score %d", p.Label(), p.Score)
	}
	if p.Score == 0 && p.Delta != 0 {
		return Configf(ErrBadSeverity, "perturbation %s has score 0 but delta %g", p.Label(), p.Delta)
	}
	return nil
}

// ConstraintOptions lists the candidate baselines and perturbations for the
// quality goal whose threshold column is Column.
type ConstraintOptions struct {
	Column        string         `json:"column" yaml:"column"`
	Baselines     []float64      `json:"baselines" yaml:"baselines"`
	Perturbations []Perturbation `json:"perturbations" yaml:"perturbations"`
}

// Validate checks that both option lists are non-empty, baselines are finite
// and positive, and every perturbation is well formed.
func (o ConstraintOptions) Validate() error {
	if len(o.Baselines) == 0 {
		return Configf(ErrNoBaselines, "column %s", o.Column)
	}
	if len(o.Perturbations) == 0 {
		return Configf(ErrNoPerturbations, "column %s", o.Column)
	}
	for _, b := range o.Baselines {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return Configf(ErrNonFinite, "column %s baseline", o.Column)
		}
		if b <= 0 {
			return Configf(ErrNonPositiveThreshold, "column %s baseline %g", o.Column, b)
		}
	}
	for _, p := range o.Perturbations {
		if err := p.Validate(); err != nil {
			return Configf(err, "column %s", o.Column)
		}
	}
	return nil
}

// ValidatePerturbed checks that every baseline stays positive after every
// perturbation. It applies when perturbations move thresholds.
func (o ConstraintOptions) ValidatePerturbed() error {
	for _, p := range o.Perturbations {
		for _, b := range o.Baselines {
			if b+p.Delta <= 0 {
				return Configf(ErrNonPositiveThreshold, "column %s baseline %g with perturbation %s", o.Column, b, p.Label())
			}
		}
	}
	return nil
}
