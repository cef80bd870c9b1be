package transform

import (
	"github.com/neilberkman/batteryetl/internal/core/models"
)

// OCVMode selects how the open-circuit voltage of a rest step is read
type OCVMode string

const (
	// OCVTerminal takes the last sample of the rest step
	OCVTerminal OCVMode = "terminal"
	// OCVStabilized takes the first sample after which the voltage stayed
	// within MaxDelta for Window seconds
	OCVStabilized OCVMode = "stabilized"
)

// OCVCriterion configures OCV extraction
type OCVCriterion struct {
	Mode     OCVMode
	Window   float64 // seconds
	MaxDelta float64 // volts
}

// ExtractOCV returns the OCV of one rest step's samples, or nil without samples
func ExtractOCV(samples []models.Measurement, c OCVCriterion) *float64 {
	if len(samples) == 0 {
		return nil
	}
	if c.Mode == OCVStabilized && c.Window > 0 {
		lo := 0
		for k := range samples {
			for samples[k].ExecutionTime-samples[lo].ExecutionTime > c.Window {
				lo++
			}
			if samples[k].ExecutionTime-samples[0].ExecutionTime < c.Window {
				continue
			}
			minV, maxV := samples[lo].Voltage, samples[lo].Voltage
			for _, s := range samples[lo : k+1] {
				minV = min(minV, s.Voltage)
				maxV = max(maxV, s.Voltage)
			}
			if maxV-minV <= c.MaxDelta {
				return models.Float(samples[k].Voltage)
			}
		}
	}
	return models.Float(samples[len(samples)-1].Voltage)
}

// applyOCV sets OCV on rest steps, then copies each rest step's OCV onto the
// non-rest steps preceding it up to the previous rest step.
func applyOCV(steps []models.Step, ms []models.Measurement, series map[int]span, c OCVCriterion) {
	for i := range steps {
		steps[i].OCV = nil
		if steps[i].StepType != models.StepTypeRest {
			continue
		}
		sp := series[steps[i].StepNumber]
		steps[i].OCV = ExtractOCV(ms[sp.from:sp.to], c)
	}

	var next *float64
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].StepType == models.StepTypeRest {
			next = steps[i].OCV
			continue
		}
		if next != nil {
			steps[i].OCV = models.Float(*next)
		}
	}
}
