package report

import (
	"cmp"
	"slices"

	"github.com/nvandessel/q2s/internal/simulation"
)

// SingleRow is one perturbation level of a single-perturbation table.
type SingleRow struct {
	Level     string  `json:"level"`
	Delta     float64 `json:"delta"`
	Severity  int     `json:"severity"`
	Scenarios int     `json:"scenarios"`
	Stats     []Stat  `json:"stats"`
}

// SingleTable summarizes the scenarios in which only Column is perturbed,
// grouped by that column's perturbation level. The no-change level is the
// unperturbed reference row.
type SingleTable struct {
	Column string      `json:"column"`
	Series []Series    `json:"series"`
	Rows   []SingleRow `json:"rows"`
}

// SinglePerturbation builds one table per column. A record belongs to a
// column's table when every other column has severity 0.
func SinglePerturbation(records []simulation.Record, columns []string) []SingleTable {
	records = feasible(records)
	series := SeriesFor(records)

	tables := make([]SingleTable, 0, len(columns))
	for _, col := range columns {
		type key struct {
			level    string
			delta    float64
			severity int
		}
		groups := make(map[key]*group)
		var keys []key
		for _, rec := range records {
			if !onlyPerturbed(rec, col) {
				continue
			}
			s, ok := rec.Setting(col)
			if !ok {
				continue
			}
			k := key{s.Level, s.Delta, s.Score}
			g, ok := groups[k]
			if !ok {
				g = newGroup(series)
				groups[k] = g
				keys = append(keys, k)
			}
			g.add(rec)
		}

		slices.SortFunc(keys, func(a, b key) int {
			if c := cmp.Compare(a.severity, b.severity); c != 0 {
				return c
			}
			// Larger deltas are milder for the same severity.
			if c := cmp.Compare(b.delta, a.delta); c != 0 {
				return c
			}
			return cmp.Compare(a.level, b.level)
		})

		t := SingleTable{Column: col, Series: series}
		for _, k := range keys {
			g := groups[k]
			t.Rows = append(t.Rows, SingleRow{
				Level:     k.level,
				Delta:     k.delta,
				Severity:  k.severity,
				Scenarios: g.n,
				Stats:     g.stats(),
			})
		}
		tables = append(tables, t)
	}
	return tables
}

func onlyPerturbed(rec simulation.Record, column string) bool {
	for _, s := range rec.Settings {
		if s.Column != column && s.Score != 0 {
			return false
		}
	}
	return true
}

// MultiRow aggregates the scenarios sharing one total perturbation score.
type MultiRow struct {
	Score     int    `json:"perturbation_score"`
	Scenarios int    `json:"scenarios"`
	Stats     []Stat `json:"stats"`
}

// MultiTable summarizes scenarios by total perturbation score.
type MultiTable struct {
	Series []Series   `json:"series"`
	Rows   []MultiRow `json:"rows"`
}

// MultiPerturbation groups feasible records by perturbation score, ascending.
func MultiPerturbation(records []simulation.Record) MultiTable {
	records = feasible(records)
	series := SeriesFor(records)

	groups := make(map[int]*group)
	var scores []int
	for _, rec := range records {
		g, ok := groups[rec.PerturbationScore]
		if !ok {
			g = newGroup(series)
			groups[rec.PerturbationScore] = g
			scores = append(scores, rec.PerturbationScore)
		}
		g.add(rec)
	}
	slices.Sort(scores)

	t := MultiTable{Series: series}
	for _, s := range scores {
		g := groups[s]
		t.Rows = append(t.Rows, MultiRow{Score: s, Scenarios: g.n, Stats: g.stats()})
	}
	return t
}

// BySeverity returns the feasible records ordered by perturbation score,
// then alpha, then scenario ID.
func BySeverity(records []simulation.Record) []simulation.Record {
	out := feasible(records)
	slices.SortStableFunc(out, func(a, b simulation.Record) int {
		if c := cmp.Compare(a.PerturbationScore, b.PerturbationScore); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Alpha, b.Alpha); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
