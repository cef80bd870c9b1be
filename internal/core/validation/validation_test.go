package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

func ramp(step, n int, dt float64, v0, dv float64) []models.Measurement {
	out := make([]models.Measurement, n)
	for i := range out {
		out[i] = models.Measurement{
			StepNumber:    step,
			ExecutionTime: float64(i) * dt,
			Voltage:       v0 + float64(i)*dv,
			Current:       1,
			Temperature:   models.Float(25),
			CRate:         0.5,
			SOC:           models.Float(float64(i)),
		}
	}
	return out
}

func TestEngine_CleanData(t *testing.T) {
	in := Input{
		Steps: []models.Step{
			{StepNumber: 1, StepType: models.StepTypeCharge, Capacity: 1.0, CRate: 0.5},
			{StepNumber: 2, StepType: models.StepTypeCharge, Capacity: 1.05, CRate: 0.5},
		},
		Measurements: append(ramp(1, 50, 1, 3.5, 0.01), ramp(2, 50, 1, 3.5, 0.01)...),
	}
	report := NewEngine(DefaultThresholds()).Run(in)

	assert.True(t, report.Passed(), "failed: %v", report.Failed())
	assert.Len(t, report.Names(), 11)
	assert.Contains(t, report.Checks, "soc_range")
	assert.Contains(t, report.Checks, "temperature_anomalies")
}

func TestSOCRange(t *testing.T) {
	ms := ramp(1, 3, 1, 3.5, 0)
	ms[0].SOC = models.Float(-2)  // inside tolerance
	ms[1].SOC = models.Float(104) // outside
	ms[2].SOC = models.Float(100)

	res := SOCRange{Tolerance: 3}.Run(Input{Measurements: ms})
	assert.False(t, res.Passed)
	assert.Equal(t, ScopeMeasurement, res.Scope)
	assert.Equal(t, []int{1}, res.AffectedRows)
}

func TestSOCRange_StepsOnly(t *testing.T) {
	steps := []models.Step{
		{StepNumber: 1, SOCStart: models.Float(0), SOCEnd: models.Float(100)},
		{StepNumber: 2, SOCStart: models.Float(100), SOCEnd: models.Float(120)},
	}
	res := SOCRange{Tolerance: 3}.Run(Input{Steps: steps})
	assert.Equal(t, ScopeStep, res.Scope)
	assert.Equal(t, []int{1}, res.AffectedRows)
}

func TestCRateRange(t *testing.T) {
	ms := ramp(1, 3, 1, 3.5, 0)
	ms[2].CRate = 12
	res := CRateRange{Max: 10}.Run(Input{Measurements: ms})
	assert.Equal(t, []int{2}, res.AffectedRows)
	assert.Contains(t, res.Message, "1 of 3")
}

func TestContinuity(t *testing.T) {
	ms := ramp(1, 5, 1, 3.5, 0)
	ms[3].ExecutionTime = 20
	ms[4].ExecutionTime = 21
	// a new step restarting execution time is not a gap
	ms = append(ms, ramp(2, 2, 1, 3.5, 0)...)

	res := Continuity{MaxGap: 10}.Run(Input{Measurements: ms})
	assert.Equal(t, []int{3}, res.AffectedRows)
}

func TestJump(t *testing.T) {
	ms := ramp(1, 20, 1, 3.5, 0.001)
	ms[10].Voltage += 0.5

	res := Jump{Field: FieldVoltage, Multiple: 10}.Run(Input{Measurements: ms})
	assert.Equal(t, "voltage_jumps", Jump{Field: FieldVoltage}.Name())
	require.False(t, res.Passed)
	// both the jump up and the return are flagged
	assert.Equal(t, []int{10, 11}, res.AffectedRows)
}

func TestJump_FlatSeriesPasses(t *testing.T) {
	res := Jump{Field: FieldCurrent, Multiple: 10}.Run(Input{Measurements: ramp(1, 10, 1, 3.5, 0)})
	assert.True(t, res.Passed)
}

func TestAnomaly(t *testing.T) {
	ms := ramp(1, 30, 1, 25, 0)
	for i := range ms {
		// small alternating noise
		v := 25.0 + 0.1*float64(i%2)
		ms[i].Temperature = &v
	}
	spike := 40.0
	ms[20].Temperature = &spike

	res := Anomaly{Field: FieldTemperature, Window: 5, Z: 3}.Run(Input{Measurements: ms})
	require.False(t, res.Passed)
	assert.Equal(t, 20, res.AffectedRows[0])
}

func TestAnomaly_SkipsMissingTemperature(t *testing.T) {
	ms := ramp(1, 10, 1, 3.5, 0.01)
	for i := range ms {
		ms[i].Temperature = nil
	}
	res := Anomaly{Field: FieldTemperature, Window: 5, Z: 3}.Run(Input{Measurements: ms})
	assert.True(t, res.Passed)
}

func TestCapacityConsistency(t *testing.T) {
	steps := []models.Step{
		{StepNumber: 1, StepType: models.StepTypeDischarge, Capacity: -2.0},
		{StepNumber: 2, StepType: models.StepTypeCharge, Capacity: 2.0},
		{StepNumber: 3, StepType: models.StepTypeRest},
		{StepNumber: 4, StepType: models.StepTypeDischarge, Capacity: -1.5},
		{StepNumber: 5, StepType: models.StepTypeCharge, Capacity: 1.9},
	}
	res := CapacityConsistency{MaxChangePct: 20}.Run(Input{Steps: steps})
	assert.Equal(t, []int{3}, res.AffectedRows)
}

func TestStepOrder(t *testing.T) {
	assert.True(t, StepOrder{}.Run(Input{}).Passed)

	res := StepOrder{}.Run(Input{Warnings: []string{"row 4: step 3 starts before row 3"}})
	assert.False(t, res.Passed)
	assert.Contains(t, res.Message, "row 4")
}

func TestReport_FailedIsAdvisory(t *testing.T) {
	ms := ramp(1, 3, 1, 3.5, 0)
	ms[0].CRate = -1
	report := NewEngine(DefaultThresholds()).Run(Input{Measurements: ms})

	assert.False(t, report.Passed())
	assert.Equal(t, []string{"c_rate"}, report.Failed())
}
