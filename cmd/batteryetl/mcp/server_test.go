package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/batteryetl/internal/core/config"
	"github.com/neilberkman/batteryetl/internal/core/db"
	"github.com/neilberkman/batteryetl/internal/core/importer"
	"github.com/neilberkman/batteryetl/internal/core/models"
)

const stepsCSV = "step_number,step_type,start_time,duration,voltage_end,current,capacity,energy\n" +
	"1,CC_Chg,2024-03-01 10:00:00,20,4.2,2.5,0.0139,0.05\n" +
	"2,CC_DChg,2024-03-01 10:00:20,20,3.0,-2.5,0.0139,0.05\n"

func detailCSV() string {
	var b strings.Builder
	b.WriteString("step_number,execution_time,voltage,current\n")
	for t := 0; t <= 20; t++ {
		fmt.Fprintf(&b, "1,%d,%.3f,2.5\n", t, 3.8+0.02*float64(t))
	}
	for t := 0; t <= 20; t++ {
		fmt.Fprintf(&b, "2,%d,%.3f,-2.5\n", t, 4.2-0.06*float64(t))
	}
	return b.String()
}

func setup(t *testing.T) (*db.DB, *config.Config, string, string) {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	stepPath := filepath.Join(dir, "steps.csv")
	detailPath := filepath.Join(dir, "detail.csv")
	require.NoError(t, os.WriteFile(stepPath, []byte(stepsCSV), 0644))
	require.NoError(t, os.WriteFile(detailPath, []byte(detailCSV()), 0644))

	return database, config.Default(), stepPath, detailPath
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateFiles(t *testing.T) {
	database, cfg, stepPath, detailPath := setup(t)
	handler := makeValidateFilesHandler(database, cfg, discard())

	text, isErr := call(t, handler, map[string]any{
		"step_path":        stepPath,
		"detail_path":      detailPath,
		"nominal_capacity": 2.5,
	})
	require.False(t, isErr, text)

	var result ValidationResult
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, 2, result.StepRows)
	assert.Equal(t, 42, result.DetailRows)
	assert.Equal(t, 2, result.ReferenceStep)
	assert.NotEmpty(t, result.Checks)

	count, err := database.CountMeasurements(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, count, "validation must not store anything")
}

func TestValidateFilesMissingFile(t *testing.T) {
	database, cfg, _, _ := setup(t)
	handler := makeValidateFilesHandler(database, cfg, discard())

	_, isErr := call(t, handler, map[string]any{
		"step_path":        filepath.Join(t.TempDir(), "nope.csv"),
		"nominal_capacity": 2.5,
	})
	assert.True(t, isErr)
}

func TestListAndGetExperiment(t *testing.T) {
	database, _, stepPath, detailPath := setup(t)
	ctx := context.Background()

	step, detail, err := importer.ReadFiles(ctx, stepPath, detailPath)
	require.NoError(t, err)
	imp := importer.New(database, importer.WithLogger(discard()))
	out, err := imp.Ingest(ctx, importer.Request{
		Experiment: models.Experiment{Name: "formation C-17", NominalCapacity: 2.5, CellRef: "C-17"},
		Step:       step,
		Detail:     detail,
	})
	require.NoError(t, err)
	id := out.Persist.ExperimentID

	text, isErr := call(t, makeListExperimentsHandler(database), map[string]any{"query": "cell:C-17"})
	require.False(t, isErr, text)
	var list []ExperimentSummary
	require.NoError(t, json.Unmarshal([]byte(text), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, 42, list[0].MeasurementCount)

	text, isErr = call(t, makeListExperimentsHandler(database), map[string]any{"query": "cell:other"})
	require.False(t, isErr, text)
	assert.JSONEq(t, "[]", text)

	text, isErr = call(t, makeGetExperimentHandler(database), map[string]any{"experiment_id": id, "include_steps": true})
	require.False(t, isErr, text)
	var got ExperimentDetail
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, "formation C-17", got.Name)
	assert.Equal(t, 42, got.Measurements)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "discharge", got.Steps[1].StepType)

	_, isErr = call(t, makeGetExperimentHandler(database), map[string]any{"experiment_id": 999})
	assert.True(t, isErr)
}
