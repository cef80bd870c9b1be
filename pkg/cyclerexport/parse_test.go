package cyclerexport

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

const stepCSV = "\ufeff工步,工步種類,日期時間,工步執行時間(秒),截止電壓(V),截止電流(A),能量(Wh),截止電量(Ah),Aux T1\n" +
	"2,CC_DChg,2024-03-01 10:30:00,1800,3.0,-2,3.3,1.0,26.5\n" +
	"1,CC_Chg,2024-03-01 10:00:00,1800,4.2,2,3.7,1.0,25.0\n" +
	"3,靜置,2024-03-01 11:00:00,600,3.2,0,0,0,25.5\n"

func mustCSV(t *testing.T, name, body string) *Table {
	t.Helper()
	table, err := ReadCSV(name, strings.NewReader(body))
	require.NoError(t, err)
	return table
}

func TestParseSteps(t *testing.T) {
	parsed, err := ParseSteps(mustCSV(t, "steps.csv", stepCSV))
	require.NoError(t, err)
	require.Len(t, parsed.Steps, 3)

	assert.Equal(t, []int{1, 2, 3}, parsed.StepNumbers())
	assert.Equal(t, models.StepTypeCharge, parsed.Steps[0].StepType)
	assert.Equal(t, models.StepTypeDischarge, parsed.Steps[1].StepType)
	assert.Equal(t, models.StepTypeRest, parsed.Steps[2].StepType)
	assert.Equal(t, "靜置", parsed.Steps[2].OriginalStepType)

	// end time derives from start + duration
	require.NotNil(t, parsed.Steps[0].EndTime)
	assert.Equal(t, "2024-03-01 10:30:00", parsed.Steps[0].EndTime.Format("2006-01-02 15:04:05"))
	assert.InDelta(t, 1800, parsed.Steps[0].Duration, 1e-9)

	// start voltage backfills from the preceding step
	assert.InDelta(t, 4.2, parsed.Steps[1].VoltageStart, 1e-9)
	assert.InDelta(t, 3.0, parsed.Steps[2].VoltageStart, 1e-9)

	// single temperature column feeds start and end
	require.NotNil(t, parsed.Steps[0].TemperatureStart)
	assert.InDelta(t, 25.0, *parsed.Steps[0].TemperatureStart, 1e-9)
	assert.InDelta(t, 25.0, *parsed.Steps[0].TemperatureEnd, 1e-9)

	// row 2 (step 1) starts before row 1 (step 2)
	require.Len(t, parsed.Warnings, 1)
	assert.Contains(t, parsed.Warnings[0], "row 2")
}

func TestParseSteps_EndTimeColumn(t *testing.T) {
	body := "step_number,step_type,start_time,end_time,voltage_end,current,capacity,energy\n" +
		"1,Rest,2024-03-01 10:00:00,2024-03-01 10:05:30,3.6,0,0,0\n"
	parsed, err := ParseSteps(mustCSV(t, "steps.csv", body))
	require.NoError(t, err)
	assert.InDelta(t, 330, parsed.Steps[0].Duration, 1e-9)
	assert.Empty(t, parsed.Warnings)
}

func TestParseSteps_DuplicateStepNumber(t *testing.T) {
	body := "step_number,step_type,start_time,duration,voltage_end,current,capacity,energy\n" +
		"1,Rest,2024-03-01 10:00:00,60,3.6,0,0,0\n" +
		"1,Rest,2024-03-01 10:01:00,90,3.7,0,0,0\n"
	parsed, err := ParseSteps(mustCSV(t, "steps.csv", body))
	require.NoError(t, err)
	require.Len(t, parsed.Steps, 1)
	assert.InDelta(t, 60, parsed.Steps[0].Duration, 1e-9)
	assert.Len(t, parsed.Warnings, 1)
}

func TestParseSteps_MissingHeaders(t *testing.T) {
	_, err := ParseSteps(mustCSV(t, "steps.csv", "step_number,voltage_end\n1,3.5\n"))
	require.Error(t, err)

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Missing, FieldStepType)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParseSteps_HeaderOnly(t *testing.T) {
	_, err := ParseSteps(mustCSV(t, "steps.csv", "step_number,step_type,start_time,duration,voltage_end,current,capacity,energy\n"))

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "no step rows", fe.Reason)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParseSteps_EndBeforeStartClamped(t *testing.T) {
	body := "step_number,step_type,start_time,end_time,voltage_end,current,capacity,energy\n" +
		"1,Rest,2024-03-01 10:05:00,2024-03-01 10:00:00,3.6,0,0,0\n" +
		"2,Rest,2024-03-01 10:05:00,2024-03-01 10:06:00,3.6,0,0,0\n"
	parsed, err := ParseSteps(mustCSV(t, "steps.csv", body))
	require.NoError(t, err)
	require.Len(t, parsed.Steps, 2)

	first := parsed.Steps[0]
	assert.Equal(t, 0.0, first.Duration)
	require.NotNil(t, first.EndTime)
	assert.Equal(t, first.StartTime, *first.EndTime)
	require.NoError(t, first.Validate())
	require.Len(t, parsed.Warnings, 1)
	assert.Contains(t, parsed.Warnings[0], "step 1 ends before it starts")
	assert.InDelta(t, 60, parsed.Steps[1].Duration, 1e-9)
}

func TestParseSteps_BadNumber(t *testing.T) {
	body := "step_number,step_type,start_time,duration,voltage_end,current,capacity,energy\n" +
		"1,Rest,2024-03-01 10:00:00,60,abc,0,0,0\n"
	_, err := ParseSteps(mustCSV(t, "steps.csv", body))

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Row)
	assert.Equal(t, FieldVoltageEnd, fe.Column)
}

const detailCSV = "工步,工步執行時間(秒),執行時間(秒),電壓(V),電流(A),電量(Ah),能量(Wh),Aux T1\n" +
	"2,1.0,1801,3.9,-2,0.0005,0.002,26\n" +
	"1,0.5,0.5,3.7,2,0.0003,0.001,25\n" +
	"1,0.0,0.0,3.6,2,0,0,25\n" +
	"1,1.2,1.2,3.8,2,0.0007,0.003,25.1\n" +
	"2,0.0,1800,4.1,-2,0,0,26\n"

func TestParseDetails(t *testing.T) {
	parsed, err := ParseDetails(mustCSV(t, "detail.csv", detailCSV), DetailOptions{StepNumbers: []int{1, 2}, CheckOrphans: true})
	require.NoError(t, err)
	require.Len(t, parsed.Measurements, 5)

	var order [][2]float64
	for _, m := range parsed.Measurements {
		order = append(order, [2]float64{float64(m.StepNumber), m.ExecutionTime})
	}
	assert.Equal(t, [][2]float64{{1, 0}, {1, 0.5}, {1, 1.2}, {2, 0}, {2, 1}}, order)

	require.NotNil(t, parsed.Measurements[4].TotalTime)
	assert.InDelta(t, 1801, *parsed.Measurements[4].TotalTime, 1e-9)
	assert.Len(t, parsed.ByStep()[1], 3)
}

func TestParseDetails_SampleInterval(t *testing.T) {
	parsed, err := ParseDetails(mustCSV(t, "detail.csv", detailCSV), DetailOptions{SampleInterval: 1})
	require.NoError(t, err)

	// step 1 keeps t=0 (bucket 0) and t=1.2 (bucket 1); step 2 keeps both
	var kept []float64
	for _, m := range parsed.Measurements {
		kept = append(kept, m.ExecutionTime)
	}
	assert.Equal(t, []float64{0, 1.2, 0, 1}, kept)
	assert.Equal(t, 5, parsed.Rows)
}

func TestDownsample_Deterministic(t *testing.T) {
	var ms []models.Measurement
	for step := 1; step <= 3; step++ {
		for i := 0; i < 100; i++ {
			ms = append(ms, models.Measurement{StepNumber: step, ExecutionTime: float64(i) * 0.1})
		}
	}

	full := Downsample(ms, 0)
	assert.Len(t, full, 300)

	a := Downsample(ms, 0.5)
	b := Downsample(ms, 0.5)
	assert.Equal(t, a, b)
	// 10 seconds of 0.1s samples in 0.5s buckets is 20 rows per step
	assert.Len(t, a, 60)
}

func TestParseDetails_OrphanStep(t *testing.T) {
	_, err := ParseDetails(mustCSV(t, "detail.csv", detailCSV), DetailOptions{StepNumbers: []int{1}, CheckOrphans: true})
	require.Error(t, err)

	var oe *OrphanReferenceError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, []int{2}, oe.StepNumbers)
	assert.Equal(t, 2, oe.Rows)
	assert.ErrorIs(t, err, ErrOrphanReference)
}

func TestParseDetails_NoKnownStepsRejectsEveryRow(t *testing.T) {
	_, err := ParseDetails(mustCSV(t, "detail.csv", detailCSV), DetailOptions{CheckOrphans: true})

	var oe *OrphanReferenceError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, []int{1, 2}, oe.StepNumbers)
	assert.Equal(t, 5, oe.Rows)
}

func TestReadTable_UnsupportedExtension(t *testing.T) {
	_, err := ReadTable("data.json", strings.NewReader("{}"))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV("empty.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestRecommendInterval(t *testing.T) {
	iv, _ := RecommendInterval(500)
	assert.Equal(t, 0.0, iv)
	iv, _ = RecommendInterval(50000)
	assert.Equal(t, 10.0, iv)
}
