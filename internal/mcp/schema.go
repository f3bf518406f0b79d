package mcp

// CountInput defines the input for the q2s_count tool.
type CountInput struct{}

// CountOutput defines the output for the q2s_count tool.
type CountOutput struct {
	Scenarios  int         `json:"scenarios" jsonschema:"Number of scenarios in the experiment's space"`
	Alphas     []float64   `json:"alphas" jsonschema:"Q2S alpha values crossed into the space"`
	Dimensions []Dimension `json:"dimensions" jsonschema:"Option counts per threshold column, in quality goal order"`
	Mode       string      `json:"mode" jsonschema:"Perturbation mode: threshold or impact"`
}

// Dimension is one threshold column of the scenario space.
type Dimension struct {
	Column        string    `json:"column"`
	Baselines     []float64 `json:"baselines"`
	Perturbations []string  `json:"perturbations"`
}

// SimulateInput defines the input for the q2s_simulate tool.
type SimulateInput struct {
	MaxScenarios int     `json:"max_scenarios,omitempty" jsonschema:"Evaluate at most this many scenarios (default: the experiment's setting, 0 = all)"`
	Seed         *uint64 `json:"seed,omitempty" jsonschema:"Override the random strategy seed"`
	Mode         string  `json:"mode,omitempty" jsonschema:"Override the perturbation mode: threshold or impact"`
}

// SimulateOutput defines the output for the q2s_simulate tool.
type SimulateOutput struct {
	Total      int            `json:"total" jsonschema:"Scenarios in the space"`
	Evaluated  int            `json:"evaluated" jsonschema:"Scenarios evaluated"`
	Infeasible int            `json:"infeasible" jsonschema:"Scenarios with no valid plan before perturbation"`
	Degenerate int            `json:"degenerate" jsonschema:"Strategy choices settled by the tie-break rule"`
	ElapsedMs  int64          `json:"elapsed_ms"`
	Seed       uint64         `json:"seed"`
	Mode       string         `json:"mode"`
	Strategies []StrategyRate `json:"strategies" jsonschema:"Survival per strategy over feasible scenarios"`
	BySeverity []SeverityRow  `json:"by_severity" jsonschema:"Survival grouped by total perturbation score"`
}

// StrategyRate is one strategy's survival count over feasible scenarios.
type StrategyRate struct {
	Strategy    string  `json:"strategy"`
	Survived    int     `json:"survived"`
	SuccessRate float64 `json:"success_rate" jsonschema:"Percent of feasible scenarios in which the choice survived"`
}

// SeverityRow is one perturbation score of the multi-perturbation summary.
type SeverityRow struct {
	Score     int           `json:"perturbation_score"`
	Scenarios int           `json:"scenarios"`
	Series    []SeriesStats `json:"series"`
}

// SeriesStats summarizes one strategy series. Q2S has one series per alpha.
type SeriesStats struct {
	Name        string   `json:"name"`
	SuccessRate float64  `json:"success_rate"`
	MeanMargin  *float64 `json:"mean_margin,omitempty"`
}

// MatrixInput defines the input for the q2s_matrix tool.
type MatrixInput struct {
	Scenario int `json:"scenario" jsonschema:"Scenario ID, starting at 1"`
}

// MatrixOutput defines the output for the q2s_matrix tool.
type MatrixOutput struct {
	Scenario          int            `json:"scenario"`
	Alpha             float64        `json:"alpha"`
	Columns           []string       `json:"columns"`
	Perturbations     []string       `json:"perturbations"`
	PerturbationScore int            `json:"perturbation_score"`
	ValidPlans        int            `json:"valid_plans"`
	Pre               MatrixView     `json:"pre" jsonschema:"Satisfaction distances against baseline thresholds"`
	Post              MatrixView     `json:"post" jsonschema:"Satisfaction distances after perturbation"`
	Choices           []ChoiceOutput `json:"choices"`
}

// MatrixView is one satisfaction matrix.
type MatrixView struct {
	Thresholds []float64   `json:"thresholds"`
	Rows       []MatrixRow `json:"rows"`
}

// MatrixRow is one plan's distances and aggregates.
type MatrixRow struct {
	PlanID    string    `json:"plan_id"`
	Distances []float64 `json:"distances"`
	AvgSat    float64   `json:"avg_sat"`
	MinSat    float64   `json:"min_sat"`
	Score     float64   `json:"score"`
	Valid     bool      `json:"valid"`
}

// ChoiceOutput is one strategy's pick and its fate.
type ChoiceOutput struct {
	Strategy  string   `json:"strategy"`
	PlanID    string   `json:"plan_id,omitempty"`
	Objective *float64 `json:"objective,omitempty"`
	Ties      int      `json:"ties"`
	Success   bool     `json:"success"`
	Margin    *float64 `json:"margin,omitempty"`
	Outcome   string   `json:"outcome"`
}
