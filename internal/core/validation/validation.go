// Package validation runs advisory plausibility checks over transformed
// cycler data. No check blocks persistence; results are compiled into a
// Report for the caller.
package validation

import (
	"sort"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// Thresholds parameterize every check. There are no built-in constants in
// the checks themselves.
type Thresholds struct {
	SOCTolerance         float64 `toml:"soc_tolerance" yaml:"soc_tolerance" split_words:"true" validate:"gte=0"`
	MaxCRate             float64 `toml:"max_c_rate" yaml:"max_c_rate" split_words:"true" validate:"gt=0"`
	MaxGapSeconds        float64 `toml:"max_gap_seconds" yaml:"max_gap_seconds" split_words:"true" validate:"gt=0"`
	JumpMultiple         float64 `toml:"jump_multiple" yaml:"jump_multiple" split_words:"true" validate:"gt=1"`
	AnomalyWindow        int     `toml:"anomaly_window" yaml:"anomaly_window" split_words:"true" validate:"gte=2"`
	AnomalyZ             float64 `toml:"anomaly_z" yaml:"anomaly_z" split_words:"true" validate:"gt=0"`
	CapacityMaxChangePct float64 `toml:"capacity_max_change_pct" yaml:"capacity_max_change_pct" split_words:"true" validate:"gt=0"`
}

// DefaultThresholds returns the shipped defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		SOCTolerance:         3,
		MaxCRate:             10,
		MaxGapSeconds:        10,
		JumpMultiple:         10,
		AnomalyWindow:        5,
		AnomalyZ:             3,
		CapacityMaxChangePct: 20,
	}
}

// Scope says what AffectedRows index into
type Scope string

const (
	ScopeStep        Scope = "step"
	ScopeMeasurement Scope = "measurement"
)

// Input is the data a check inspects
type Input struct {
	Steps        []models.Step
	Measurements []models.Measurement // grouped by step, ordered by execution time
	Warnings     []string             // parser and transform warnings
}

// CheckResult is the outcome of one check
type CheckResult struct {
	Passed       bool   `json:"passed" yaml:"passed"`
	Message      string `json:"message" yaml:"message"`
	Scope        Scope  `json:"scope" yaml:"scope"`
	AffectedRows []int  `json:"affected_rows,omitempty" yaml:"affected_rows,omitempty"`
}

// Check is one independent plausibility check
type Check interface {
	Name() string
	Run(in Input) CheckResult
}

// Report maps check name to its result
type Report struct {
	Checks map[string]CheckResult `json:"checks" yaml:"checks"`
}

// Passed reports whether every check passed
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the sorted names of failing checks
func (r *Report) Failed() []string {
	var names []string
	for name, c := range r.Checks {
		if !c.Passed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Names returns all check names, sorted
func (r *Report) Names() []string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Engine composes checks
type Engine struct {
	checks []Check
}

// NewEngine returns an engine running the standard checks with th
func NewEngine(th Thresholds) *Engine {
	return &Engine{checks: []Check{
		SOCRange{Tolerance: th.SOCTolerance},
		CRateRange{Max: th.MaxCRate},
		Continuity{MaxGap: th.MaxGapSeconds},
		Jump{Field: FieldVoltage, Multiple: th.JumpMultiple},
		Jump{Field: FieldCurrent, Multiple: th.JumpMultiple},
		Jump{Field: FieldTemperature, Multiple: th.JumpMultiple},
		Anomaly{Field: FieldVoltage, Window: th.AnomalyWindow, Z: th.AnomalyZ},
		Anomaly{Field: FieldCurrent, Window: th.AnomalyWindow, Z: th.AnomalyZ},
		Anomaly{Field: FieldTemperature, Window: th.AnomalyWindow, Z: th.AnomalyZ},
		CapacityConsistency{MaxChangePct: th.CapacityMaxChangePct},
		StepOrder{},
	}}
}

// With appends extra checks
func (e *Engine) With(checks ...Check) *Engine {
	e.checks = append(e.checks, checks...)
	return e
}

// Run executes every check
func (e *Engine) Run(in Input) *Report {
	r := &Report{Checks: make(map[string]CheckResult, len(e.checks))}
	for _, c := range e.checks {
		r.Checks[c.Name()] = c.Run(in)
	}
	return r
}
