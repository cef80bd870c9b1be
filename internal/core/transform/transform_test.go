package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func step(n int, typ models.StepType, current, duration float64) models.Step {
	return models.Step{
		StepNumber: n,
		StepType:   typ,
		StartTime:  t0.Add(time.Duration(n) * time.Hour),
		Duration:   duration,
		Current:    current,
		VoltageEnd: 3.7,
	}
}

// series samples a constant current every interval seconds over duration
func series(n int, current, duration, interval float64) []models.Measurement {
	var out []models.Measurement
	for t := 0.0; t <= duration+1e-9; t += interval {
		out = append(out, models.Measurement{StepNumber: n, ExecutionTime: t, Current: current, Voltage: 3.7})
	}
	return out
}

func chargeDischarge() ([]models.Step, []models.Measurement) {
	steps := []models.Step{
		step(1, models.StepTypeCharge, 2, 1800),
		step(2, models.StepTypeDischarge, -2, 1800),
	}
	ms := append(series(1, 2, 1800, 60), series(2, -2, 1800, 60)...)
	return steps, ms
}

func TestApply_InvalidCapacity(t *testing.T) {
	steps, ms := chargeDischarge()
	for _, c := range []float64{0, -2} {
		_, err := Apply(steps, ms, Options{NominalCapacity: c})
		assert.ErrorIs(t, err, ErrInvalidCapacity)
	}
}

func TestApply_CRate(t *testing.T) {
	steps, ms := chargeDischarge()
	res, err := Apply(steps, ms, Options{NominalCapacity: 4})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, res.Steps[0].CRate, 1e-9)
	assert.InDelta(t, 0.5, res.Steps[1].CRate, 1e-9)
	for _, m := range res.Measurements {
		assert.InDelta(t, 0.5, m.CRate, 1e-9)
	}
}

func TestApply_SOCChargeThenDischarge(t *testing.T) {
	steps, ms := chargeDischarge()
	res, err := Apply(steps, ms, Options{NominalCapacity: 2, ReferenceStep: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ReferenceStep)

	charge, discharge := res.Steps[0], res.Steps[1]
	assert.InDelta(t, 100, *discharge.SOCStart, 0.1)
	assert.InDelta(t, 0, *discharge.SOCEnd, 0.1)
	assert.InDelta(t, 0, *charge.SOCStart, 0.1)
	assert.InDelta(t, 100, *charge.SOCEnd, 0.1)

	// per-sample SOC runs monotonically inside each step
	first, last := res.Measurements[0], res.Measurements[30]
	assert.InDelta(t, 0, *first.SOC, 0.1)
	assert.InDelta(t, 100, *last.SOC, 0.1)
	mid := res.Measurements[31+15]
	assert.InDelta(t, 50, *mid.SOC, 0.1)
}

func TestApply_SOCWithoutDetails(t *testing.T) {
	steps, _ := chargeDischarge()
	res, err := Apply(steps, nil, Options{NominalCapacity: 2, ReferenceStep: 2})
	require.NoError(t, err)

	assert.InDelta(t, 0, *res.Steps[0].SOCStart, 0.1)
	assert.InDelta(t, 100, *res.Steps[0].SOCEnd, 0.1)
}

func TestApply_RestHoldsSOC(t *testing.T) {
	steps := []models.Step{
		step(1, models.StepTypeDischarge, -1, 3600),
		step(2, models.StepTypeRest, 0, 600),
		step(3, models.StepTypeCharge, 1, 1800),
	}
	res, err := Apply(steps, nil, Options{NominalCapacity: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ReferenceStep)
	assert.InDelta(t, 0, *res.Steps[1].SOCStart, 1e-9)
	assert.InDelta(t, 0, *res.Steps[1].SOCEnd, 1e-9)
	assert.InDelta(t, 50, *res.Steps[2].SOCEnd, 1e-9)
}

func TestApply_AutoReferenceIsSecondDischarge(t *testing.T) {
	steps := []models.Step{
		step(1, models.StepTypeDischarge, -1, 600),
		step(2, models.StepTypeCharge, 1, 3600),
		step(3, models.StepTypeDischarge, -1, 3600),
	}
	res, err := Apply(steps, nil, Options{NominalCapacity: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ReferenceStep)
	assert.InDelta(t, 100, *res.Steps[2].SOCStart, 1e-9)
}

func TestApply_NoDischargeStep(t *testing.T) {
	steps := []models.Step{step(1, models.StepTypeCharge, 1, 60), step(2, models.StepTypeRest, 0, 60)}
	res, err := Apply(steps, nil, Options{NominalCapacity: 1})
	require.NoError(t, err)
	assert.Zero(t, res.ReferenceStep)
	assert.Nil(t, res.Steps[0].SOCStart)
	assert.NotEmpty(t, res.Warnings)
}

func TestApply_ReferenceErrors(t *testing.T) {
	steps := []models.Step{step(1, models.StepTypeRest, 0, 60), step(2, models.StepTypeDischarge, -1, 60)}

	_, err := Apply(steps, nil, Options{NominalCapacity: 1, ReferenceStep: 9})
	assert.ErrorIs(t, err, ErrReferenceStepNotFound)

	_, err = Apply(steps, nil, Options{NominalCapacity: 1, ReferenceStep: 1})
	assert.ErrorIs(t, err, ErrInvalidReferenceStep)
}

func TestApply_SOCReferenceRoundTrip(t *testing.T) {
	steps := []models.Step{
		step(1, models.StepTypeCharge, 2, 1800),
		step(2, models.StepTypeDischarge, -2, 1800),
		step(3, models.StepTypeRest, 0, 600),
		step(4, models.StepTypeCharge, 1, 1800),
		step(5, models.StepTypeDischarge, -1, 3600),
	}
	var ms []models.Measurement
	for _, s := range steps {
		ms = append(ms, series(s.StepNumber, s.Current, s.Duration, 30)...)
	}
	opts := Options{NominalCapacity: 2, ReferenceStep: 2}

	original, err := Apply(steps, ms, opts)
	require.NoError(t, err)

	again, err := Apply(steps, ms, opts)
	require.NoError(t, err)
	assert.Equal(t, original.Steps, again.Steps)
	assert.Equal(t, original.Measurements, again.Measurements)

	opts.ReferenceStep = 5
	changed, err := Apply(steps, ms, opts)
	require.NoError(t, err)
	assert.NotEqual(t, *original.Steps[0].SOCStart, *changed.Steps[0].SOCStart)

	opts.ReferenceStep = 2
	back, err := Apply(steps, ms, opts)
	require.NoError(t, err)
	assert.Equal(t, original.Steps, back.Steps)
	assert.Equal(t, original.Measurements, back.Measurements)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	steps, ms := chargeDischarge()
	_, err := Apply(steps, ms, Options{NominalCapacity: 2})
	require.NoError(t, err)
	assert.Nil(t, steps[0].SOCStart)
	assert.Zero(t, ms[0].CRate)
}

func TestApplyPreTestRestTime(t *testing.T) {
	steps := []models.Step{
		step(1, models.StepTypeRest, 0, 120),
		step(2, models.StepTypeCharge, 1, 3600),
		step(3, models.StepTypeRest, 0, 900),
		step(4, models.StepTypeDischarge, -1, 3000),
	}
	res, err := Apply(steps, nil, Options{NominalCapacity: 1})
	require.NoError(t, err)

	assert.Nil(t, res.Steps[0].PreTestRestTime)
	for k := 1; k < len(res.Steps); k++ {
		require.NotNil(t, res.Steps[k].PreTestRestTime)
		assert.Equal(t, res.Steps[k-1].Duration, *res.Steps[k].PreTestRestTime)
	}
}

func TestSelect_RecomputesRestTime(t *testing.T) {
	steps := []models.Step{
		step(1, models.StepTypeRest, 0, 120),
		step(2, models.StepTypeCharge, 1, 3600),
		step(3, models.StepTypeDischarge, -1, 3600),
	}
	ms := append(series(1, 0, 120, 60), series(3, -1, 3600, 600)...)

	selSteps, selMs := Select(steps, ms, []int{1, 3})
	require.Len(t, selSteps, 2)
	assert.Len(t, selMs, len(series(1, 0, 120, 60))+len(series(3, -1, 3600, 600)))

	res, err := Apply(selSteps, selMs, Options{NominalCapacity: 1})
	require.NoError(t, err)
	assert.Equal(t, 120.0, *res.Steps[1].PreTestRestTime)
}

func TestApply_Temperature(t *testing.T) {
	steps := []models.Step{
		step(1, models.StepTypeCharge, 1, 120),
		step(2, models.StepTypeRest, 0, 60),
	}
	steps[1].TemperatureStart = models.Float(24)
	steps[1].TemperatureEnd = models.Float(26)

	ms := []models.Measurement{
		{StepNumber: 1, ExecutionTime: 0, Temperature: models.Float(25)},
		{StepNumber: 1, ExecutionTime: 60, Temperature: models.Float(27)},
		{StepNumber: 1, ExecutionTime: 120, Temperature: models.Float(29)},
	}
	res, err := Apply(steps, ms, Options{NominalCapacity: 1})
	require.NoError(t, err)

	assert.InDelta(t, 25, *res.Steps[0].TemperatureMin, 1e-9)
	assert.InDelta(t, 29, *res.Steps[0].TemperatureMax, 1e-9)
	assert.InDelta(t, 27, *res.Steps[0].TemperatureAvg, 1e-9)

	// no samples: start/end average
	assert.InDelta(t, 25, *res.Steps[1].TemperatureMin, 1e-9)
	assert.InDelta(t, 25, *res.Steps[1].TemperatureMax, 1e-9)
	assert.InDelta(t, 25, *res.Steps[1].TemperatureAvg, 1e-9)
}

func TestApply_Summary(t *testing.T) {
	steps, ms := chargeDischarge()
	res, err := Apply(steps, ms, Options{NominalCapacity: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summary.StepCount)
	assert.Equal(t, len(ms), res.Summary.MeasurementCount)
	assert.Equal(t, 1, res.Summary.StepTypes[models.StepTypeCharge])
	assert.InDelta(t, 1, res.Summary.CRateMax, 1e-9)
	require.NotNil(t, res.Summary.SOCMax)
	assert.InDelta(t, 100, *res.Summary.SOCMax, 0.1)
}
