// Package transform derives per-step and per-sample analytics from parsed
// cycler data. Every function here is pure: inputs are copied, never mutated.
package transform

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

var (
	ErrInvalidCapacity       = errors.New("nominal capacity must be positive")
	ErrReferenceStepNotFound = errors.New("reference step not found")
	ErrInvalidReferenceStep  = errors.New("reference step must be a charge or discharge step")
)

// Options are the inputs of a transformation besides the data itself
type Options struct {
	NominalCapacity float64 // Ah
	// ReferenceStep is the step number anchoring SOC. Zero selects the
	// second discharge step, or the first when there is only one.
	ReferenceStep int
	OCV           OCVCriterion
}

// Result holds the transformed copies of the input
type Result struct {
	Steps         []models.Step
	Measurements  []models.Measurement
	ReferenceStep int // resolved anchor, 0 when SOC could not be computed
	Warnings      []string
	Summary       Summary
}

// Apply computes C-rate, temperature aggregates, OCV, pre-test rest time
// and SOC for one experiment.
func Apply(steps []models.Step, measurements []models.Measurement, opts Options) (*Result, error) {
	if opts.NominalCapacity <= 0 || math.IsNaN(opts.NominalCapacity) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidCapacity, opts.NominalCapacity)
	}

	res := &Result{
		Steps:        append([]models.Step(nil), steps...),
		Measurements: append([]models.Measurement(nil), measurements...),
	}
	sort.SliceStable(res.Steps, func(i, j int) bool {
		return res.Steps[i].StepNumber < res.Steps[j].StepNumber
	})
	sort.SliceStable(res.Measurements, func(i, j int) bool {
		a, b := res.Measurements[i], res.Measurements[j]
		if a.StepNumber != b.StepNumber {
			return a.StepNumber < b.StepNumber
		}
		return a.ExecutionTime < b.ExecutionTime
	})

	series := groupSeries(res.Measurements)

	for i := range res.Steps {
		res.Steps[i].CRate = CRate(res.Steps[i].Current, opts.NominalCapacity)
	}
	for i := range res.Measurements {
		res.Measurements[i].CRate = CRate(res.Measurements[i].Current, opts.NominalCapacity)
	}

	applyTemperature(res.Steps, res.Measurements, series)
	applyOCV(res.Steps, res.Measurements, series, opts.OCV)
	ApplyPreTestRestTime(res.Steps)

	ref, warn, err := resolveReference(res.Steps, opts.ReferenceStep)
	if err != nil {
		return nil, err
	}
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	} else {
		res.ReferenceStep = ref
		res.Warnings = append(res.Warnings, applySOC(res.Steps, res.Measurements, series, ref, opts.NominalCapacity)...)
	}

	res.Summary = summarize(res.Steps, res.Measurements)
	return res, nil
}

// CRate is |current| / nominal capacity
func CRate(current, nominalCapacity float64) float64 {
	if nominalCapacity <= 0 {
		return 0
	}
	return math.Abs(current) / nominalCapacity
}

// ApplyPreTestRestTime sets each step's pre-test rest time to the duration of
// the step before it in order. The first step gets nil. Steps must be sorted.
func ApplyPreTestRestTime(steps []models.Step) {
	for i := range steps {
		if i == 0 {
			steps[i].PreTestRestTime = nil
			continue
		}
		steps[i].PreTestRestTime = models.Float(steps[i-1].Duration)
	}
}

// Select keeps the listed step numbers and their measurements. The result
// must be passed through Apply again so that derived values are recomputed.
func Select(steps []models.Step, measurements []models.Measurement, stepNumbers []int) ([]models.Step, []models.Measurement) {
	keep := make(map[int]bool, len(stepNumbers))
	for _, n := range stepNumbers {
		keep[n] = true
	}
	var outSteps []models.Step
	for _, s := range steps {
		if keep[s.StepNumber] {
			outSteps = append(outSteps, s)
		}
	}
	var outMeas []models.Measurement
	for _, m := range measurements {
		if keep[m.StepNumber] {
			outMeas = append(outMeas, m)
		}
	}
	return outSteps, outMeas
}

// span is the half-open index range of one step's samples in the sorted
// measurement slice
type span struct{ from, to int }

func groupSeries(ms []models.Measurement) map[int]span {
	out := make(map[int]span)
	for i := 0; i < len(ms); {
		j := i
		for j < len(ms) && ms[j].StepNumber == ms[i].StepNumber {
			j++
		}
		out[ms[i].StepNumber] = span{i, j}
		i = j
	}
	return out
}
