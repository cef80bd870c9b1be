package transform

import (
	"fmt"
	"math"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// resolveReference returns the anchor step number. When no anchor is
// configured and no discharge step exists it returns a warning instead.
func resolveReference(steps []models.Step, requested int) (int, string, error) {
	if requested == 0 {
		var discharges []int
		for _, s := range steps {
			if s.StepType == models.StepTypeDischarge {
				discharges = append(discharges, s.StepNumber)
			}
		}
		switch len(discharges) {
		case 0:
			return 0, "no discharge step found; SOC not computed", nil
		case 1:
			return discharges[0], "", nil
		default:
			return discharges[1], "", nil
		}
	}

	for _, s := range steps {
		if s.StepNumber != requested {
			continue
		}
		if s.StepType != models.StepTypeDischarge && s.StepType != models.StepTypeCharge {
			return 0, "", fmt.Errorf("%w: step %d is %s", ErrInvalidReferenceStep, requested, s.StepType)
		}
		return requested, "", nil
	}
	return 0, "", fmt.Errorf("%w: step %d", ErrReferenceStepNotFound, requested)
}

// direction is +1 when a step adds charge, -1 when it removes it, 0 at rest
func direction(s models.Step) float64 {
	switch s.StepType {
	case models.StepTypeCharge:
		return 1
	case models.StepTypeDischarge:
		return -1
	case models.StepTypeRest:
		return 0
	}
	switch {
	case s.Current > 0:
		return 1
	case s.Current < 0:
		return -1
	}
	return 0
}

// cumulativeAh integrates |I| over execution time (trapezoid) and returns
// the running total in Ah at each sample.
func cumulativeAh(ms []models.Measurement) []float64 {
	out := make([]float64, len(ms))
	for k := 1; k < len(ms); k++ {
		dt := ms[k].ExecutionTime - ms[k-1].ExecutionTime
		avg := (math.Abs(ms[k].Current) + math.Abs(ms[k-1].Current)) / 2
		out[k] = out[k-1] + avg*dt/3600
	}
	return out
}

// throughput is the charge moved by a step in Ah. The detail series is used
// when it has at least two samples, otherwise the step summary.
func throughput(s models.Step, ms []models.Measurement) float64 {
	if len(ms) >= 2 {
		c := cumulativeAh(ms)
		return c[len(c)-1]
	}
	return math.Abs(s.Current) * s.Duration / 3600
}

// applySOC anchors the reference step at 100%->0% (discharge) or 0%->100%
// (charge) and propagates forward and backward through the ordered steps.
// SOC change is normalized by the charge moved during the reference step,
// falling back to the nominal capacity when that is zero.
func applySOC(steps []models.Step, ms []models.Measurement, series map[int]span, ref int, nominal float64) []string {
	var warnings []string

	refIdx := -1
	for i, s := range steps {
		if s.StepNumber == ref {
			refIdx = i
			break
		}
	}

	q := make([]float64, len(steps))
	for i, s := range steps {
		sp := series[s.StepNumber]
		q[i] = throughput(s, ms[sp.from:sp.to])
	}

	capacity := q[refIdx]
	if capacity <= 0 {
		capacity = nominal
		warnings = append(warnings, fmt.Sprintf("reference step %d moved no charge; SOC normalized by nominal capacity", ref))
	}

	start := make([]float64, len(steps))
	end := make([]float64, len(steps))
	delta := func(i int) float64 {
		return direction(steps[i]) * q[i] / capacity * 100
	}

	if steps[refIdx].StepType == models.StepTypeDischarge {
		start[refIdx], end[refIdx] = 100, 0
	} else {
		start[refIdx], end[refIdx] = 0, 100
	}
	for i := refIdx + 1; i < len(steps); i++ {
		start[i] = end[i-1]
		end[i] = start[i] + delta(i)
	}
	for i := refIdx - 1; i >= 0; i-- {
		end[i] = start[i+1]
		start[i] = end[i] - delta(i)
	}

	for i := range steps {
		steps[i].SOCStart = models.Float(start[i])
		steps[i].SOCEnd = models.Float(end[i])

		sp := series[steps[i].StepNumber]
		if sp.to <= sp.from {
			continue
		}
		samples := ms[sp.from:sp.to]
		cum := cumulativeAh(samples)
		scale := end[i] - start[i]
		total := cum[len(cum)-1]
		for k := range samples {
			soc := start[i]
			if total > 0 {
				soc += scale * cum[k] / total
			}
			ms[sp.from+k].SOC = models.Float(soc)
		}
	}
	return warnings
}
