package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// SOCRange flags SOC outside [0-Tolerance, 100+Tolerance]
type SOCRange struct {
	Tolerance float64
}

func (SOCRange) Name() string { return "soc_range" }

func (c SOCRange) Run(in Input) CheckResult {
	out := func(v *float64) bool {
		return v != nil && (*v < -c.Tolerance || *v > 100+c.Tolerance)
	}

	var rows []int
	seen := 0
	for i, m := range in.Measurements {
		if m.SOC == nil {
			continue
		}
		seen++
		if out(m.SOC) {
			rows = append(rows, i)
		}
	}
	if seen > 0 {
		return result(ScopeMeasurement, rows, len(in.Measurements),
			"SOC within 0-100%% (±%.1f)", "samples with SOC outside 0-100%% (±%.1f)", c.Tolerance)
	}

	rows = nil
	for i, s := range in.Steps {
		if out(s.SOCStart) || out(s.SOCEnd) {
			rows = append(rows, i)
		}
	}
	return result(ScopeStep, rows, len(in.Steps),
		"SOC within 0-100%% (±%.1f)", "steps with SOC outside 0-100%% (±%.1f)", c.Tolerance)
}

// CRateRange flags negative C-rates and C-rates above Max
type CRateRange struct {
	Max float64
}

func (CRateRange) Name() string { return "c_rate" }

func (c CRateRange) Run(in Input) CheckResult {
	bad := func(v float64) bool { return v < 0 || v > c.Max || math.IsNaN(v) }
	if len(in.Measurements) > 0 {
		var rows []int
		for i, m := range in.Measurements {
			if bad(m.CRate) {
				rows = append(rows, i)
			}
		}
		return result(ScopeMeasurement, rows, len(in.Measurements),
			"C-rate within 0-%.1fC", "samples with C-rate outside 0-%.1fC", c.Max)
	}
	var rows []int
	for i, s := range in.Steps {
		if bad(s.CRate) {
			rows = append(rows, i)
		}
	}
	return result(ScopeStep, rows, len(in.Steps),
		"C-rate within 0-%.1fC", "steps with C-rate outside 0-%.1fC", c.Max)
}

// Continuity flags samples following a gap in execution time larger than MaxGap
type Continuity struct {
	MaxGap float64
}

func (Continuity) Name() string { return "data_continuity" }

func (c Continuity) Run(in Input) CheckResult {
	var rows []int
	ms := in.Measurements
	for i := 1; i < len(ms); i++ {
		if ms[i].StepNumber != ms[i-1].StepNumber {
			continue
		}
		if ms[i].ExecutionTime-ms[i-1].ExecutionTime > c.MaxGap {
			rows = append(rows, i)
		}
	}
	return result(ScopeMeasurement, rows, len(ms),
		"no gaps over %.0fs", "samples after a gap over %.0fs", c.MaxGap)
}

// CapacityConsistency flags steps whose capacity differs by more than
// MaxChangePct from the previous step of the same type.
type CapacityConsistency struct {
	MaxChangePct float64
}

func (CapacityConsistency) Name() string { return "capacity_consistency" }

func (c CapacityConsistency) Run(in Input) CheckResult {
	var rows []int
	last := make(map[models.StepType]float64)
	for i, s := range in.Steps {
		if s.StepType != models.StepTypeCharge && s.StepType != models.StepTypeDischarge {
			continue
		}
		capacity := math.Abs(s.Capacity)
		if prev, ok := last[s.StepType]; ok && prev > 0 {
			if math.Abs(capacity-prev)/prev*100 > c.MaxChangePct {
				rows = append(rows, i)
			}
		}
		last[s.StepType] = capacity
	}
	return result(ScopeStep, rows, len(in.Steps),
		"capacity stable within %.0f%% between steps", "steps with capacity change over %.0f%%", c.MaxChangePct)
}

// StepOrder surfaces warnings raised while parsing and transforming
type StepOrder struct{}

func (StepOrder) Name() string { return "step_order" }

func (StepOrder) Run(in Input) CheckResult {
	if len(in.Warnings) == 0 {
		return CheckResult{Passed: true, Scope: ScopeStep, Message: "no ordering or parsing warnings"}
	}
	return CheckResult{
		Passed:  false,
		Scope:   ScopeStep,
		Message: fmt.Sprintf("%d warnings: %s", len(in.Warnings), strings.Join(in.Warnings, "; ")),
	}
}

// result builds a CheckResult; okFmt and failFmt share the trailing args
func result(scope Scope, rows []int, total int, okFmt, failFmt string, args ...any) CheckResult {
	if len(rows) == 0 {
		return CheckResult{Passed: true, Scope: scope, Message: fmt.Sprintf(okFmt, args...)}
	}
	sort.Ints(rows)
	return CheckResult{
		Passed:       false,
		Scope:        scope,
		Message:      fmt.Sprintf("%d of %d ", len(rows), total) + fmt.Sprintf(failFmt, args...),
		AffectedRows: rows,
	}
}
