// Package report aggregates scenario records into robustness summaries.
//
// Summaries skip infeasible scenarios, since no strategy had a plan to lose.
// Each summary reports one series per strategy, with Q2S split by alpha.
package report

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/nvandessel/q2s/internal/simulation"
	"github.com/nvandessel/q2s/internal/strategy"
)

// Series is one column group of a summary: a strategy, and for Q2S one alpha.
type Series struct {
	Kind  strategy.Kind
	Alpha float64 // only meaningful for strategy.Q2S
}

// Name returns the series label, e.g. "Min" or "Score_05".
func (s Series) Name() string {
	switch s.Kind {
	case strategy.Q2S:
		a := strconv.FormatFloat(s.Alpha, 'f', -1, 64)
		return "Score_" + strings.ReplaceAll(a, ".", "")
	case strategy.AvgSat:
		return "Avg"
	case strategy.MinSat:
		return "Min"
	default:
		return "Rnd"
	}
}

// MarshalJSON encodes the series as its name.
func (s Series) MarshalJSON() ([]byte, error) { return json.Marshal(s.Name()) }

func (s Series) matches(rec simulation.Record) bool {
	return s.Kind != strategy.Q2S || rec.Alpha == s.Alpha
}

// SeriesFor lists the series of records: Min, one Score series per distinct
// alpha in ascending order, Avg, then Rnd.
func SeriesFor(records []simulation.Record) []Series {
	var alphas []float64
	for _, r := range records {
		if !slices.Contains(alphas, r.Alpha) {
			alphas = append(alphas, r.Alpha)
		}
	}
	slices.Sort(alphas)

	out := []Series{{Kind: strategy.MinSat}}
	for _, a := range alphas {
		out = append(out, Series{Kind: strategy.Q2S, Alpha: a})
	}
	return append(out, Series{Kind: strategy.AvgSat}, Series{Kind: strategy.Random})
}

// Stat aggregates one series over a group of scenarios.
type Stat struct {
	N         int     `json:"n"`
	Successes int     `json:"successes"`
	Rate      float64 `json:"success_rate"` // percent
	Mean      float64 `json:"mean_margin"`
	Variance  float64 `json:"variance_margin"` // sample variance; NaN below two margins
}

// MarshalJSON writes undefined means and variances as null.
func (s Stat) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		N         int      `json:"n"`
		Successes int      `json:"successes"`
		Rate      float64  `json:"success_rate"`
		Mean      *float64 `json:"mean_margin"`
		Variance  *float64 `json:"variance_margin"`
	}{s.N, s.Successes, s.Rate, finite(s.Mean), finite(s.Variance)})
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

type accumulator struct {
	n, successes int
	margins      []float64
}

func (a *accumulator) add(sr simulation.StrategyRecord) {
	a.n++
	if sr.Success {
		a.successes++
	}
	if sr.Margin != nil {
		a.margins = append(a.margins, *sr.Margin)
	}
}

func (a *accumulator) stat() Stat {
	s := Stat{N: a.n, Successes: a.successes, Mean: math.NaN(), Variance: math.NaN()}
	if a.n > 0 {
		s.Rate = 100 * float64(a.successes) / float64(a.n)
	}
	s.Mean, s.Variance = meanVariance(a.margins)
	return s
}

// meanVariance returns the mean and sample variance of xs.
func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, math.NaN()
	}
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	return mean, variance / float64(len(xs)-1)
}

// group accumulates one stat per series.
type group struct {
	series []Series
	accs   []accumulator
	n      int
}

func newGroup(series []Series) *group {
	return &group{series: series, accs: make([]accumulator, len(series))}
}

func (g *group) add(rec simulation.Record) {
	g.n++
	for i, s := range g.series {
		if !s.matches(rec) {
			continue
		}
		if sr, ok := rec.Strategy(s.Kind); ok {
			g.accs[i].add(sr)
		}
	}
}

func (g *group) stats() []Stat {
	out := make([]Stat, len(g.accs))
	for i := range g.accs {
		out[i] = g.accs[i].stat()
	}
	return out
}

func feasible(records []simulation.Record) []simulation.Record {
	out := make([]simulation.Record, 0, len(records))
	for _, r := range records {
		if !r.Infeasible() {
			out = append(out, r)
		}
	}
	return out
}
