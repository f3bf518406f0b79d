package impact

import (
	"fmt"
	"sort"

	"github.com/nvandessel/q2s/internal/models"
)

// TierScaler multiplies contributions by a per-variable factor chosen by a
// named scale tier, with optional per-goal overrides layered on top.
type TierScaler struct {
	Tier      string
	Variables map[models.DomainVariable]float64
	Goals     map[models.GoalID]map[models.DomainVariable]float64
}

// Factor returns the variable factor times any goal-specific factor.
// Unlisted entries default to 1. Safe to call on nil receiver.
func (s *TierScaler) Factor(g models.GoalID, v models.DomainVariable) float64 {
	f := 1.0
	if s == nil {
		return f
	}
	if vf, ok := s.Variables[v]; ok {
		f = vf
	}
	if byVar, ok := s.Goals[g]; ok {
		if gf, ok := byVar[v]; ok {
			f *= gf
		}
	}
	return f
}

// ScaleGoal sets an extra factor for goal g on variable v.
func (s *TierScaler) ScaleGoal(g models.GoalID, v models.DomainVariable, factor float64) {
	if s.Goals == nil {
		s.Goals = make(map[models.GoalID]map[models.DomainVariable]float64)
	}
	if s.Goals[g] == nil {
		s.Goals[g] = make(map[models.DomainVariable]float64)
	}
	s.Goals[g][v] = factor
}

// EventSizeTiers returns the event-size multipliers used by the meeting
// scheduler experiments.
func EventSizeTiers() map[string]map[models.DomainVariable]float64 {
	return map[string]map[models.DomainVariable]float64{
		"small":  {"TotalCost": 1.0, "TimeSpent": 1.0, "TotalEffort": 1.0},
		"medium": {"TotalCost": 2.0, "TimeSpent": 1.5, "TotalEffort": 2.0},
		"big":    {"TotalCost": 3.0, "TimeSpent": 2.0, "TotalEffort": 3.0},
	}
}

// NewTierScaler looks tier up in tiers. An empty tier yields nil, meaning no scaling.
func NewTierScaler(tier string, tiers map[string]map[models.DomainVariable]float64) (*TierScaler, error) {
	if tier == "" {
		return nil, nil
	}
	factors, ok := tiers[tier]
	if !ok {
		names := make([]string, 0, len(tiers))
		for name := range tiers {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, models.Configf(models.ErrConfiguration, "unknown scale tier %q (valid: %v)", tier, names)
	}
	vars := make(map[models.DomainVariable]float64, len(factors))
	for v, f := range factors {
		vars[v] = f
	}
	return &TierScaler{Tier: tier, Variables: vars}, nil
}

// String implements fmt.Stringer.
func (s *TierScaler) String() string {
	return fmt.Sprintf("TierScaler{Tier:%s, Variables:%d, Goals:%d}", s.Tier, len(s.Variables), len(s.Goals))
}
