package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/batteryetl/internal/core/models"
	"github.com/neilberkman/batteryetl/pkg/cyclerexport"
)

func TestMeasurementTableParsesAsDetailExport(t *testing.T) {
	soc := 50.0
	ms := []models.Measurement{
		{StepNumber: 1, ExecutionTime: 0, Voltage: 3.7, Current: 2.5, Capacity: 0, SOC: &soc},
		{StepNumber: 1, ExecutionTime: 1.5, Voltage: 3.71, Current: 2.5, Capacity: 0.001},
	}

	table := measurementTable("out.csv", ms)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "50", table.Rows[0][10])
	assert.Equal(t, "", table.Rows[1][10])

	parsed, err := cyclerexport.ParseDetails(table, cyclerexport.DetailOptions{})
	require.NoError(t, err)
	require.Len(t, parsed.Measurements, 2)
	assert.InDelta(t, 1.5, parsed.Measurements[1].ExecutionTime, 1e-9)
	assert.InDelta(t, 3.71, parsed.Measurements[1].Voltage, 1e-9)
}

func TestStepTableParsesAsStepExport(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	steps := []models.Step{
		{StepNumber: 1, StepType: models.StepTypeCharge, OriginalStepType: "CC_Chg", StartTime: start,
			Duration: 60, VoltageEnd: 4.2, Current: 2.5, Capacity: 0.04, Energy: 0.16, Annotation: "first"},
	}

	table := stepTable("out.csv", steps)
	parsed, err := cyclerexport.ParseSteps(table)
	require.NoError(t, err)
	require.Len(t, parsed.Steps, 1)
	assert.Equal(t, models.StepTypeCharge, parsed.Steps[0].StepType)
	assert.True(t, parsed.Steps[0].StartTime.Equal(start))
}

func TestParseExperimentID(t *testing.T) {
	id, err := parseExperimentID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseExperimentID(bad)
		assert.Error(t, err, bad)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a very...", truncate("a very   long name", 9))
}
