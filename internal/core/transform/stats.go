package transform

import (
	"math"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// Summary aggregates an experiment for its metadata record
type Summary struct {
	StepCount        int                     `json:"step_count" yaml:"step_count"`
	MeasurementCount int                     `json:"measurement_count" yaml:"measurement_count"`
	StepTypes        map[models.StepType]int `json:"step_types" yaml:"step_types"`
	SOCMin           *float64                `json:"soc_min,omitempty" yaml:"soc_min,omitempty"`
	SOCMax           *float64                `json:"soc_max,omitempty" yaml:"soc_max,omitempty"`
	CRateMin         float64                 `json:"c_rate_min" yaml:"c_rate_min"`
	CRateMax         float64                 `json:"c_rate_max" yaml:"c_rate_max"`
	CRateAvg         float64                 `json:"c_rate_avg" yaml:"c_rate_avg"`
	TemperatureMin   *float64                `json:"temperature_min,omitempty" yaml:"temperature_min,omitempty"`
	TemperatureMax   *float64                `json:"temperature_max,omitempty" yaml:"temperature_max,omitempty"`
	TemperatureAvg   *float64                `json:"temperature_avg,omitempty" yaml:"temperature_avg,omitempty"`
}

// applyTemperature sets min/max/avg per step from the detail series. A step
// without temperature samples falls back to the mean of its start and end
// temperature for all three.
func applyTemperature(steps []models.Step, ms []models.Measurement, series map[int]span) {
	for i := range steps {
		sp := series[steps[i].StepNumber]
		var agg aggregate
		for _, m := range ms[sp.from:sp.to] {
			if m.Temperature != nil {
				agg.add(*m.Temperature)
			}
		}
		if agg.n > 0 {
			steps[i].TemperatureMin = models.Float(agg.min)
			steps[i].TemperatureMax = models.Float(agg.max)
			steps[i].TemperatureAvg = models.Float(agg.mean())
			continue
		}

		fallback := stepTemperature(steps[i])
		steps[i].TemperatureMin = fallback
		steps[i].TemperatureMax = fallback
		steps[i].TemperatureAvg = fallback
	}
}

func stepTemperature(s models.Step) *float64 {
	switch {
	case s.TemperatureStart != nil && s.TemperatureEnd != nil:
		return models.Float((*s.TemperatureStart + *s.TemperatureEnd) / 2)
	case s.TemperatureStart != nil:
		return models.Float(*s.TemperatureStart)
	case s.TemperatureEnd != nil:
		return models.Float(*s.TemperatureEnd)
	}
	return nil
}

func summarize(steps []models.Step, ms []models.Measurement) Summary {
	sum := Summary{
		StepCount:        len(steps),
		MeasurementCount: len(ms),
		StepTypes:        make(map[models.StepType]int),
	}

	var soc, crate, temp aggregate
	for _, s := range steps {
		sum.StepTypes[s.StepType]++
		crate.add(s.CRate)
		if s.SOCEnd != nil {
			soc.add(*s.SOCEnd)
		}
		if s.SOCStart != nil {
			soc.add(*s.SOCStart)
		}
	}
	for _, m := range ms {
		if m.Temperature != nil {
			temp.add(*m.Temperature)
		}
	}
	if temp.n == 0 {
		for _, s := range steps {
			if s.TemperatureAvg != nil {
				temp.add(*s.TemperatureAvg)
			}
		}
	}

	if crate.n > 0 {
		sum.CRateMin, sum.CRateMax, sum.CRateAvg = crate.min, crate.max, crate.mean()
	}
	if soc.n > 0 {
		sum.SOCMin, sum.SOCMax = models.Float(soc.min), models.Float(soc.max)
	}
	if temp.n > 0 {
		sum.TemperatureMin = models.Float(temp.min)
		sum.TemperatureMax = models.Float(temp.max)
		sum.TemperatureAvg = models.Float(temp.mean())
	}
	return sum
}

type aggregate struct {
	n        int
	sum      float64
	min, max float64
}

func (a *aggregate) add(v float64) {
	if a.n == 0 {
		a.min, a.max = v, v
	}
	a.min = math.Min(a.min, v)
	a.max = math.Max(a.max, v)
	a.sum += v
	a.n++
}

func (a *aggregate) mean() float64 {
	if a.n == 0 {
		return 0
	}
	return a.sum / float64(a.n)
}
