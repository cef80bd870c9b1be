package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/batteryetl/internal/core/db"
	"github.com/neilberkman/batteryetl/internal/core/models"
	"github.com/neilberkman/batteryetl/internal/core/persist"
	"github.com/neilberkman/batteryetl/pkg/cyclerexport"
)

const stepsCSV = "step_number,step_type,start_time,duration,voltage_end,current,capacity,energy,temperature\n" +
	"1,CC_Chg,2024-03-01 10:00:00,60,4.2,2.5,0.0417,0.17,25\n" +
	"2,Rest,2024-03-01 10:01:00,30,4.1,0,0,0,25.5\n" +
	"3,CC_DChg,2024-03-01 10:01:30,60,3.0,-2.5,0.0417,0.15,26\n"

// detailCSV samples every second: 61 + 31 + 61 rows
func detailCSV(extraStep int) string {
	var b strings.Builder
	b.WriteString("step_number,execution_time,voltage,current\n")
	for _, s := range []struct {
		num     int
		seconds int
		v0, dv  float64
		current float64
	}{
		{1, 60, 3.6, 0.01, 2.5},
		{2, 30, 4.2, -0.001, 0},
		{3, 60, 4.1, -0.015, -2.5},
	} {
		for t := 0; t <= s.seconds; t++ {
			fmt.Fprintf(&b, "%d,%d,%.4f,%.2f\n", s.num, t, s.v0+s.dv*float64(t), s.current)
		}
	}
	if extraStep > 0 {
		fmt.Fprintf(&b, "%d,0,3.5,0\n", extraStep)
	}
	return b.String()
}

func newTestImporter(t *testing.T, opts ...Option) (*Importer, *db.DB) {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "test-*.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })
	_ = tmpfile.Close()

	database, err := db.New(tmpfile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPersistOptions(persist.WithBatchSize(50)),
	}
	return New(database, append(base, opts...)...), database
}

func testRequest() Request {
	return Request{
		Experiment: models.Experiment{NominalCapacity: 2.5, CellRef: "cell-7", MachineRef: "ch-1"},
		Step:       File{Name: "steps.csv", Data: []byte(stepsCSV)},
		Detail:     File{Name: "detail.csv", Data: []byte(detailCSV(0))},
	}
}

func TestIngest(t *testing.T) {
	imp, database := newTestImporter(t)
	ctx := context.Background()

	out, err := imp.Ingest(ctx, testRequest())
	require.NoError(t, err)

	require.NotNil(t, out.Persist)
	assert.Equal(t, persist.StateVerified, out.Persist.State)
	assert.Equal(t, 153, out.Persist.Measurements.Expected)
	assert.Equal(t, 153, out.Persist.Measurements.Actual)
	assert.Len(t, out.Persist.ProcessedFiles, 2)
	assert.NotEmpty(t, out.IngestionID)

	exp, err := database.GetExperiment(ctx, out.Persist.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, "cell-7 steps", exp.Name)
	assert.Equal(t, 3, exp.SOCReferenceStep, "only discharge step anchors SOC")
	assert.Equal(t, out.IngestionID, exp.IngestionID)
	assert.Equal(t, "steps.csv", exp.Metadata["step_file"])

	steps, err := database.GetSteps(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	require.NotNil(t, steps[2].SOCStart)
	assert.InDelta(t, 100, *steps[2].SOCStart, 1e-6)
	assert.InDelta(t, 0, *steps[2].SOCEnd, 1e-6)
	require.NotNil(t, steps[1].PreTestRestTime)
	assert.InDelta(t, 60, *steps[1].PreTestRestTime, 1e-9)
	assert.InDelta(t, 1.0, steps[0].CRate, 1e-9)
}

func TestIngest_DuplicateRejectedBeforeParsing(t *testing.T) {
	imp, database := newTestImporter(t)
	ctx := context.Background()

	first, err := imp.Ingest(ctx, testRequest())
	require.NoError(t, err)

	// Same detail content under another name, with a broken step file that
	// would fail parsing if the guard did not run first.
	req := testRequest()
	req.Step = File{Name: "other.csv", Data: []byte("not,a,step,file\n1,2,3,4\n")}
	req.Detail.Name = "renamed.csv"

	_, err = imp.Ingest(ctx, req)
	require.Error(t, err)

	var dup *DuplicateFileError
	require.ErrorAs(t, err, &dup)
	assert.ErrorIs(t, err, ErrDuplicateFile)
	assert.Equal(t, "detail.csv", dup.PriorFilename)
	assert.Equal(t, first.Persist.ExperimentID, dup.PriorExperimentID)

	stats, err := database.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalExperiments)
	assert.Equal(t, 153, stats.TotalMeasurements)
}

func TestIngest_IdenticalStepAndDetail(t *testing.T) {
	imp, _ := newTestImporter(t)

	req := testRequest()
	req.Detail.Data = []byte(stepsCSV)

	_, err := imp.Ingest(context.Background(), req)
	var dup *DuplicateFileError
	require.ErrorAs(t, err, &dup)
	assert.Zero(t, dup.PriorExperimentID)
}

func TestIngest_OrphanReferenceWritesNothing(t *testing.T) {
	imp, database := newTestImporter(t)
	ctx := context.Background()

	req := testRequest()
	req.Detail.Data = []byte(detailCSV(9))

	_, err := imp.Ingest(ctx, req)
	require.Error(t, err)

	var orphan *cyclerexport.OrphanReferenceError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, []int{9}, orphan.StepNumbers)

	stats, err := database.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalExperiments)
	assert.Zero(t, stats.TotalMeasurements)
	assert.Zero(t, stats.TotalFiles)
}

func TestIngest_HeaderOnlyStepFileWritesNothing(t *testing.T) {
	imp, database := newTestImporter(t)
	ctx := context.Background()

	req := testRequest()
	req.Step.Data = []byte(strings.SplitAfter(stepsCSV, "\n")[0])

	_, err := imp.Ingest(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, cyclerexport.ErrFormat)

	stats, err := database.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalExperiments)
	assert.Zero(t, stats.TotalMeasurements)
	assert.Zero(t, stats.TotalFiles)
}

func TestIngest_MissingHeaders(t *testing.T) {
	imp, _ := newTestImporter(t)

	req := testRequest()
	req.Step.Data = []byte("step_number,step_type\n1,CC_Chg\n")

	_, err := imp.Ingest(context.Background(), req)
	var fe *cyclerexport.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Missing, cyclerexport.FieldStartTime)
	assert.True(t, errors.Is(err, cyclerexport.ErrFormat))
}

func TestIngest_InvalidCapacity(t *testing.T) {
	imp, _ := newTestImporter(t)

	req := testRequest()
	req.Experiment.NominalCapacity = 0

	_, err := imp.Ingest(context.Background(), req)
	require.Error(t, err)
}

func TestIngest_SampleInterval(t *testing.T) {
	imp, database := newTestImporter(t)

	req := testRequest()
	req.Options.SampleInterval = 10

	out, err := imp.Ingest(context.Background(), req)
	require.NoError(t, err)

	// one row per 10 s bucket: 7 + 4 + 7
	assert.Equal(t, 153, out.DetailRows)
	assert.Equal(t, 18, out.Measurements)

	n, err := database.CountMeasurements(context.Background(), out.Persist.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, 18, n)
}

func TestIngest_StepSelection(t *testing.T) {
	imp, database := newTestImporter(t)
	ctx := context.Background()

	req := testRequest()
	req.Options.StepNumbers = []int{1, 2}

	out, err := imp.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 92, out.Persist.Measurements.Actual)

	steps, err := database.GetSteps(ctx, out.Persist.ExperimentID)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
	// no discharge left to anchor SOC
	assert.Nil(t, steps[0].SOCStart)
	assert.NotEmpty(t, out.Warnings)
}

func TestPreview_WritesNothing(t *testing.T) {
	imp, database := newTestImporter(t)
	ctx := context.Background()

	out, err := imp.Preview(ctx, testRequest())
	require.NoError(t, err)
	assert.Nil(t, out.Persist)
	assert.Len(t, out.Transform.Steps, 3)
	assert.NotNil(t, out.Report)

	stats, err := database.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalExperiments)

	// previewing does not mark files processed
	_, err = imp.Ingest(ctx, testRequest())
	require.NoError(t, err)
}

func TestRecomputeSOC(t *testing.T) {
	imp, database := newTestImporter(t)
	ctx := context.Background()

	out, err := imp.Ingest(ctx, testRequest())
	require.NoError(t, err)
	id := out.Persist.ExperimentID

	res, err := imp.RecomputeSOC(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ReferenceStep)

	exp, err := database.GetExperiment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, exp.SOCReferenceStep)

	steps, err := database.GetSteps(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, steps[0].SOCStart)
	assert.InDelta(t, 0, *steps[0].SOCStart, 1e-6)
	assert.InDelta(t, 100, *steps[0].SOCEnd, 1e-6)

	ms, err := database.GetMeasurements(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ms[0].SOC)
	assert.InDelta(t, 0, *ms[0].SOC, 1e-6)

	_, err = imp.RecomputeSOC(ctx, id, 2)
	assert.Error(t, err, "rest step cannot anchor SOC")

	_, err = imp.RecomputeSOC(ctx, 999, 1)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	stepPath := filepath.Join(dir, "steps.csv")
	detailPath := filepath.Join(dir, "detail.csv")
	require.NoError(t, os.WriteFile(stepPath, []byte(stepsCSV), 0644))
	require.NoError(t, os.WriteFile(detailPath, []byte(detailCSV(0)), 0644))

	step, detail, err := ReadFiles(context.Background(), stepPath, detailPath)
	require.NoError(t, err)
	assert.Equal(t, "steps.csv", step.Name)
	assert.Equal(t, HashContent([]byte(stepsCSV)), step.Hash)
	assert.Equal(t, HashContent([]byte(detailCSV(0))), detail.Hash)

	_, _, err = ReadFiles(context.Background(), stepPath, filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	step, detail, err = ReadFiles(context.Background(), stepPath, "")
	require.NoError(t, err)
	assert.True(t, detail.Empty())
	assert.False(t, step.Empty())
}

func TestProgressReporter(t *testing.T) {
	var b strings.Builder
	p := NewProgressReporter(&b)
	p.Update(500, 1000)
	p.Update(1000, 1000)
	p.Finish()

	out := b.String()
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "(1,000/1,000 rows)")
	assert.Contains(t, out, "Completed: wrote 1,000 measurements")
}
