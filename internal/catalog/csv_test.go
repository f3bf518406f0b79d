package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/q2s/internal/models"
)

const plansCSV = `PLANS,G1,G5,G7,G8
Plan0,1,1,0,1
Plan1,0,0,1,0
Plan2,0,0,0,0
`

const contributionsCSV = `DomainVariable,G1,G5,G7,G8
TotalCost,10,100,30,80
TotalEffort,,,1,
TimeSpent,1,1,1,1
`

func TestLoadPlans(t *testing.T) {
	plans, err := LoadPlans(strings.NewReader(plansCSV), "plans.csv")
	if err != nil {
		t.Fatalf("LoadPlans: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("got %d plans, want 3", len(plans))
	}
	if plans[0].ID != "Plan0" || len(plans[0].Goals) != 3 || !plans[0].Has("G8") || plans[0].Has("G7") {
		t.Errorf("Plan0 = %+v", plans[0])
	}
	if len(plans[2].Goals) != 0 {
		t.Errorf("Plan2 should include no goals, got %v", plans[2].Goals)
	}
}

func TestLoadContributions(t *testing.T) {
	c, err := LoadContributions(strings.NewReader(contributionsCSV), "contributions.csv")
	if err != nil {
		t.Fatalf("LoadContributions: %v", err)
	}
	if got := c.Of("TotalCost", "G5"); got != 100 {
		t.Errorf("TotalCost/G5 = %v, want 100", got)
	}
	if _, ok := c["TotalEffort"]["G1"]; ok {
		t.Error("empty cell should leave the contribution absent")
	}
	if got := c.Of("TotalEffort", "G7"); got != 1 {
		t.Errorf("TotalEffort/G7 = %v, want 1", got)
	}
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		load    func(string) error
		input   string
		wantRow int
		wantCol int
	}{
		{
			name:  "plan membership not numeric",
			load:  func(s string) error { _, err := LoadPlans(strings.NewReader(s), "p.csv"); return err },
			input: "PLANS,G1\nPlan0,yes\n", wantRow: 2, wantCol: 2,
		},
		{
			name:  "ragged row",
			load:  func(s string) error { _, err := LoadPlans(strings.NewReader(s), "p.csv"); return err },
			input: "PLANS,G1,G2\nPlan0,1\n", wantRow: 2,
		},
		{
			name:  "duplicate goal header",
			load:  func(s string) error { _, err := LoadPlans(strings.NewReader(s), "p.csv"); return err },
			input: "PLANS,G1,G1\nPlan0,1,0\n", wantRow: 1, wantCol: 3,
		},
		{
			name:  "empty file",
			load:  func(s string) error { _, err := LoadContributions(strings.NewReader(s), "c.csv"); return err },
			input: "",
		},
		{
			name:  "duplicate variable",
			load:  func(s string) error { _, err := LoadContributions(strings.NewReader(s), "c.csv"); return err },
			input: "DomainVariable,G1\nCost,1\nCost,2\n", wantRow: 3, wantCol: 1,
		},
		{
			name:  "contribution not numeric",
			load:  func(s string) error { _, err := LoadContributions(strings.NewReader(s), "c.csv"); return err },
			input: "DomainVariable,G1\nCost,ten\n", wantRow: 2, wantCol: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.load(tt.input)
			if !errors.Is(err, ErrMalformed) || !errors.Is(err, models.ErrConfiguration) {
				t.Fatalf("error = %v, want ErrMalformed", err)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not a *ParseError", err)
			}
			if pe.Row != tt.wantRow || pe.Column != tt.wantCol {
				t.Errorf("location = %d:%d, want %d:%d", pe.Row, pe.Column, tt.wantRow, tt.wantCol)
			}
		})
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	pp := filepath.Join(dir, "plans.csv")
	cp := filepath.Join(dir, "contributions.csv")
	if err := os.WriteFile(pp, []byte(plansCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cp, []byte(contributionsCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	plans, contrib, err := LoadFiles(pp, cp)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if len(plans) != 3 || len(contrib) != 3 {
		t.Errorf("got %d plans, %d variables", len(plans), len(contrib))
	}

	if _, _, err := LoadFiles(filepath.Join(dir, "missing.csv"), cp); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadFiles(missing) = %v, want not-exist", err)
	}
}
