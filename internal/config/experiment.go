package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/q2s/internal/catalog"
	"github.com/nvandessel/q2s/internal/impact"
	"github.com/nvandessel/q2s/internal/models"
	"github.com/nvandessel/q2s/internal/scenario"
	"github.com/nvandessel/q2s/internal/simulation"
)

// Experiment is one experiment definition. JSON files parse too, since the
// field names are shared.
type Experiment struct {
	FilePaths         FilePaths            `json:"file_paths" yaml:"file_paths"`
	QualityGoals      []models.QualityGoal `json:"quality_goals" yaml:"quality_goals"`
	ScenarioGenerator ScenarioGenerator    `json:"scenario_generator" yaml:"scenario_generator"`
	Simulation        SimulationSettings   `json:"simulation_settings" yaml:"simulation_settings"`

	// dir resolves relative paths; set by LoadExperiment.
	dir string
}

// FilePaths locates the catalog files, relative to the experiment file.
type FilePaths struct {
	Plans         string `json:"plans" yaml:"plans"`
	Contributions string `json:"contributions" yaml:"contributions"`
}

// ScenarioGenerator lists the values crossed into scenarios.
type ScenarioGenerator struct {
	AlphaOptions      []float64        `json:"alpha_options" yaml:"alpha_options"`
	ConstraintOptions []ConstraintSpec `json:"constraint_options" yaml:"constraint_options"`
}

// ConstraintSpec is the options of one threshold column. The column label is
// stored under domain_variable for compatibility with existing experiment
// files.
type ConstraintSpec struct {
	Column        string                `json:"domain_variable" yaml:"domain_variable"`
	Values        []float64             `json:"values" yaml:"values"`
	Perturbations []models.Perturbation `json:"perturbation" yaml:"perturbation"`
}

// SimulationSettings controls one run of the experiment.
type SimulationSettings struct {
	OutputDirectory   string `json:"output_directory" yaml:"output_directory"`
	ScenariosFilename string `json:"scenarios_filename" yaml:"scenarios_filename"`
	Seed              uint64 `json:"seed" yaml:"seed"`
	Workers           int    `json:"workers" yaml:"workers"`
	MaxScenarios      int    `json:"max_scenarios" yaml:"max_scenarios"`
	Mode              string `json:"mode" yaml:"mode"`
	EventSize         string `json:"event_size" yaml:"event_size"`
}

// Resolved is a validated experiment, ready to simulate.
type Resolved struct {
	Catalog      models.Catalog
	Space        scenario.Space
	Model        *impact.Model
	Mode         simulation.Mode
	Seed         uint64
	Workers      int
	MaxScenarios int
	OutputPath   string
}

// Columns returns the threshold column labels in quality goal order.
func (r *Resolved) Columns() []string { return r.Catalog.Columns() }

// NewSimulator builds a Simulator for the resolved experiment.
func (r *Resolved) NewSimulator(opts ...simulation.Option) (*simulation.Simulator, error) {
	base := []simulation.Option{simulation.WithMode(r.Mode), simulation.WithSeed(r.Seed)}
	return simulation.New(r.Catalog, r.Model, append(base, opts...)...)
}

// LoadExperiment reads an experiment file.
func LoadExperiment(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading experiment: %w", err)
	}
	exp, err := ParseExperiment(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	exp.dir = filepath.Dir(path)
	return exp, nil
}

// ParseExperiment decodes an experiment from YAML or JSON bytes. Relative
// paths resolve against the working directory.
func ParseExperiment(data []byte) (*Experiment, error) {
	exp := &Experiment{}
	if err := yaml.Unmarshal(data, exp); err != nil {
		return nil, models.Configf(models.ErrConfiguration, "parsing experiment: %v", err)
	}
	return exp, nil
}

// Dir returns the directory relative paths resolve against.
func (e *Experiment) Dir() string { return e.dir }

func (e *Experiment) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || e.dir == "" {
		return p
	}
	return filepath.Join(e.dir, p)
}

// Space orders the constraint options to follow the quality goals. Every
// quality goal column needs exactly one option set and no option set may
// name an unknown column.
func (e *Experiment) Space() (scenario.Space, error) {
	byColumn := make(map[string]ConstraintSpec, len(e.ScenarioGenerator.ConstraintOptions))
	for _, c := range e.ScenarioGenerator.ConstraintOptions {
		if _, dup := byColumn[c.Column]; dup {
			return scenario.Space{}, models.Configf(models.ErrDuplicateID, "constraint options for column %q listed twice", c.Column)
		}
		byColumn[c.Column] = c
	}

	space := scenario.Space{
		Alphas:  append([]float64(nil), e.ScenarioGenerator.AlphaOptions...),
		Options: make([]models.ConstraintOptions, 0, len(e.QualityGoals)),
	}
	for _, qg := range e.QualityGoals {
		c, ok := byColumn[qg.Column]
		if !ok {
			return scenario.Space{}, models.Configf(models.ErrMissingOptions, "quality goal %s column %q", qg.ID, qg.Column)
		}
		delete(byColumn, qg.Column)
		space.Options = append(space.Options, models.ConstraintOptions{
			Column:        c.Column,
			Baselines:     c.Values,
			Perturbations: c.Perturbations,
		})
	}
	for col := range byColumn {
		return scenario.Space{}, models.Configf(models.ErrUnknownVariable, "constraint options for column %q match no quality goal", col)
	}

	if err := space.Validate(); err != nil {
		return scenario.Space{}, err
	}
	return space, nil
}

// Validate checks everything that does not need the catalog files.
func (e *Experiment) Validate() error {
	if e.FilePaths.Plans == "" || e.FilePaths.Contributions == "" {
		return models.Configf(models.ErrConfiguration, "file_paths needs both plans and contributions")
	}
	if len(e.QualityGoals) == 0 {
		return models.Configf(models.ErrNoQualityGoals, "experiment")
	}
	for _, qg := range e.QualityGoals {
		if !qg.Relation.Valid() {
			return models.Configf(models.ErrUnsupportedRelation, "quality goal %s relation %q", qg.ID, qg.Relation)
		}
	}
	space, err := e.Space()
	if err != nil {
		return err
	}
	mode, err := simulation.ParseMode(e.Simulation.Mode)
	if err != nil {
		return err
	}
	if mode == simulation.ModeThreshold {
		for _, o := range space.Options {
			if err := o.ValidatePerturbed(); err != nil {
				return err
			}
		}
	}
	if _, err := impact.NewTierScaler(e.Simulation.EventSize, impact.EventSizeTiers()); err != nil {
		return err
	}
	if e.Simulation.Workers < 0 || e.Simulation.MaxScenarios < 0 {
		return models.Configf(models.ErrConfiguration, "workers and max_scenarios must be non-negative")
	}
	return nil
}

// Build validates the experiment, loads the catalog files, and applies
// settings as fallbacks for unset simulation values. It fails before any
// scenario could be evaluated.
func (e *Experiment) Build(settings *Settings) (*Resolved, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if settings == nil {
		settings = Default()
	}

	plans, contributions, err := catalog.LoadFiles(e.resolve(e.FilePaths.Plans), e.resolve(e.FilePaths.Contributions))
	if err != nil {
		return nil, err
	}
	cat := models.Catalog{
		Plans:         plans,
		Contributions: contributions,
		QualityGoals:  append([]models.QualityGoal(nil), e.QualityGoals...),
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}

	space, err := e.Space()
	if err != nil {
		return nil, err
	}
	mode, _ := simulation.ParseMode(e.Simulation.Mode)

	var opts []impact.Option
	scaler, err := impact.NewTierScaler(e.Simulation.EventSize, impact.EventSizeTiers())
	if err != nil {
		return nil, err
	}
	if scaler != nil {
		opts = append(opts, impact.WithScaler(scaler))
	}

	r := &Resolved{
		Catalog:      cat,
		Space:        space,
		Model:        impact.NewModel(contributions, opts...),
		Mode:         mode,
		Seed:         e.Simulation.Seed,
		Workers:      e.Simulation.Workers,
		MaxScenarios: e.Simulation.MaxScenarios,
	}
	if r.Workers == 0 {
		r.Workers = settings.Simulation.Workers
	}
	if r.MaxScenarios == 0 {
		r.MaxScenarios = settings.Simulation.MaxScenarios
	}
	if e.Simulation.ScenariosFilename != "" {
		r.OutputPath = e.resolve(filepath.Join(e.Simulation.OutputDirectory, e.Simulation.ScenariosFilename))
	}
	return r, nil
}
