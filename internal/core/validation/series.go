package validation

import (
	"fmt"
	"math"
	"sort"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// Field selects a measurement series
type Field string

const (
	FieldVoltage     Field = "voltage"
	FieldCurrent     Field = "current"
	FieldTemperature Field = "temperature"
)

func (f Field) value(m models.Measurement) (float64, bool) {
	switch f {
	case FieldVoltage:
		return m.Voltage, true
	case FieldCurrent:
		return m.Current, true
	case FieldTemperature:
		if m.Temperature == nil {
			return 0, false
		}
		return *m.Temperature, true
	}
	return 0, false
}

// point is one sample of a per-step series with its measurement index
type point struct {
	row int
	v   float64
}

// perStep splits a field into per-step series
func perStep(ms []models.Measurement, f Field) [][]point {
	var out [][]point
	var cur []point
	for i, m := range ms {
		if i > 0 && m.StepNumber != ms[i-1].StepNumber {
			if len(cur) > 0 {
				out = append(out, cur)
			}
			cur = nil
		}
		if v, ok := f.value(m); ok {
			cur = append(cur, point{row: i, v: v})
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// Jump flags consecutive deltas larger than Multiple times the median
// non-zero delta of the same step.
type Jump struct {
	Field    Field
	Multiple float64
}

func (j Jump) Name() string { return string(j.Field) + "_jumps" }

func (j Jump) Run(in Input) CheckResult {
	var rows []int
	for _, s := range perStep(in.Measurements, j.Field) {
		var deltas []float64
		for k := 1; k < len(s); k++ {
			if d := math.Abs(s[k].v - s[k-1].v); d > 0 {
				deltas = append(deltas, d)
			}
		}
		typical := median(deltas)
		if typical == 0 {
			continue
		}
		for k := 1; k < len(s); k++ {
			if math.Abs(s[k].v-s[k-1].v) > j.Multiple*typical {
				rows = append(rows, s[k].row)
			}
		}
	}
	return result(ScopeMeasurement, rows, len(in.Measurements),
		fmt.Sprintf("no %s jumps over %%.0fx the typical step", j.Field),
		fmt.Sprintf("%s samples jumping over %%.0fx the typical step", j.Field), j.Multiple)
}

// Anomaly flags samples more than Z standard deviations from the mean of
// the preceding Window samples of the same step.
type Anomaly struct {
	Field  Field
	Window int
	Z      float64
}

func (a Anomaly) Name() string { return string(a.Field) + "_anomalies" }

func (a Anomaly) Run(in Input) CheckResult {
	var rows []int
	for _, s := range perStep(in.Measurements, a.Field) {
		for k := a.Window; k < len(s); k++ {
			mean, std := meanStd(s[k-a.Window : k])
			if std == 0 {
				continue
			}
			if math.Abs(s[k].v-mean)/std > a.Z {
				rows = append(rows, s[k].row)
			}
		}
	}
	return result(ScopeMeasurement, rows, len(in.Measurements),
		fmt.Sprintf("no %s outliers beyond %%.1f sigma", a.Field),
		fmt.Sprintf("%s outliers beyond %%.1f sigma", a.Field), a.Z)
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func meanStd(ps []point) (float64, float64) {
	var sum float64
	for _, p := range ps {
		sum += p.v
	}
	mean := sum / float64(len(ps))
	var sq float64
	for _, p := range ps {
		sq += (p.v - mean) * (p.v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(ps)))
}
