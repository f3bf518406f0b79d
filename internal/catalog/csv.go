// Package catalog loads plans and contribution tables from CSV files.
//
// Plans are a membership matrix with a header of goal identifiers:
//
//	PLANS,G1,G5,G7
//	Plan0,1,1,0
//
// Contributions list one domain variable per row; an empty cell means the
// goal does not contribute to that variable:
//
//	DomainVariable,G1,G5,G7
//	TotalCost,10,100,30
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/q2s/internal/models"
)

// ErrMalformed is wrapped by every ParseError.
var ErrMalformed = errors.New("q2s: malformed catalog file")

// ParseError locates a problem inside a catalog file. Row and Column are
// 1-based; zero means the whole file or row.
type ParseError struct {
	File   string
	Row    int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	loc := e.File
	if loc == "" {
		loc = "<input>"
	}
	if e.Row > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Row)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

// Unwrap lets errors.Is match ErrMalformed and ErrConfiguration.
func (e *ParseError) Unwrap() []error { return []error{ErrMalformed, models.ErrConfiguration} }

func readAll(r io.Reader, name string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, &ParseError{File: name, Msg: err.Error()}
	}
	if len(records) == 0 {
		return nil, &ParseError{File: name, Msg: "empty file"}
	}
	width := len(records[0])
	if width < 2 {
		return nil, &ParseError{File: name, Row: 1, Msg: "header needs an id column and at least one goal"}
	}
	for i, rec := range records[1:] {
		if len(rec) != width {
			return nil, &ParseError{File: name, Row: i + 2, Msg: fmt.Sprintf("%d fields, header has %d", len(rec), width)}
		}
	}
	return records, nil
}

func goalHeader(header []string, name string) ([]models.GoalID, error) {
	goals := make([]models.GoalID, len(header)-1)
	seen := make(map[string]bool, len(goals))
	for i, h := range header[1:] {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			return nil, &ParseError{File: name, Row: 1, Column: i + 2, Msg: fmt.Sprintf("empty or duplicate goal %q", h)}
		}
		seen[h] = true
		goals[i] = models.GoalID(h)
	}
	return goals, nil
}

// LoadPlans parses a plan membership matrix. A cell counts as membership
// when its numeric value is non-zero.
func LoadPlans(r io.Reader, name string) ([]models.Plan, error) {
	records, err := readAll(r, name)
	if err != nil {
		return nil, err
	}
	goals, err := goalHeader(records[0], name)
	if err != nil {
		return nil, err
	}

	plans := make([]models.Plan, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := i + 2
		id := strings.TrimSpace(rec[0])
		if id == "" {
			return nil, &ParseError{File: name, Row: row, Column: 1, Msg: "empty plan id"}
		}
		p := models.Plan{ID: id}
		for j, cell := range rec[1:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, &ParseError{File: name, Row: row, Column: j + 2, Msg: fmt.Sprintf("membership %q is not a number", cell)}
			}
			if v != 0 {
				p.Goals = append(p.Goals, goals[j])
			}
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// LoadContributions parses a contribution table.
func LoadContributions(r io.Reader, name string) (models.Contributions, error) {
	records, err := readAll(r, name)
	if err != nil {
		return nil, err
	}
	goals, err := goalHeader(records[0], name)
	if err != nil {
		return nil, err
	}

	out := make(models.Contributions, len(records)-1)
	for i, rec := range records[1:] {
		row := i + 2
		v := models.DomainVariable(strings.TrimSpace(rec[0]))
		if v == "" {
			return nil, &ParseError{File: name, Row: row, Column: 1, Msg: "empty domain variable"}
		}
		if _, dup := out[v]; dup {
			return nil, &ParseError{File: name, Row: row, Column: 1, Msg: fmt.Sprintf("duplicate domain variable %s", v)}
		}
		byGoal := make(map[models.GoalID]float64, len(goals))
		for j, cell := range rec[1:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			amount, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, &ParseError{File: name, Row: row, Column: j + 2, Msg: fmt.Sprintf("contribution %q is not a number", cell)}
			}
			byGoal[goals[j]] = amount
		}
		out[v] = byGoal
	}
	return out, nil
}

// LoadFiles reads both catalog files.
func LoadFiles(plansPath, contributionsPath string) ([]models.Plan, models.Contributions, error) {
	pf, err := os.Open(plansPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening plans: %w", err)
	}
	defer pf.Close()
	plans, err := LoadPlans(pf, plansPath)
	if err != nil {
		return nil, nil, err
	}

	cf, err := os.Open(contributionsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening contributions: %w", err)
	}
	defer cf.Close()
	contributions, err := LoadContributions(cf, contributionsPath)
	if err != nil {
		return nil, nil, err
	}
	return plans, contributions, nil
}
