// Package importer runs one cycler export pair through the pipeline:
// dedup guard, header check, parse, transform, validate and persist.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cbroglie/mustache"
	"github.com/google/uuid"

	"github.com/neilberkman/batteryetl/internal/core/db"
	"github.com/neilberkman/batteryetl/internal/core/metrics"
	"github.com/neilberkman/batteryetl/internal/core/models"
	"github.com/neilberkman/batteryetl/internal/core/persist"
	"github.com/neilberkman/batteryetl/internal/core/transform"
	"github.com/neilberkman/batteryetl/internal/core/validation"
	"github.com/neilberkman/batteryetl/pkg/cyclerexport"
)

// DefaultNameTemplate names an experiment after its cell and step file
const DefaultNameTemplate = "{{#cell}}{{{cell}}} {{/cell}}{{{file}}}"

// Options tune one ingestion
type Options struct {
	// SampleInterval downsamples detail rows, in seconds. Zero keeps all.
	SampleInterval float64
	// ReferenceStep anchors SOC. Zero picks automatically.
	ReferenceStep int
	// StepNumbers restricts the experiment to these steps when non-empty
	StepNumbers []int
	OCV         transform.OCVCriterion
}

// Request is one ingestion: the experiment metadata plus its two exports
type Request struct {
	Experiment models.Experiment // name, nominal capacity, cell, machine...
	Step       File
	Detail     File // optional
	Options    Options
}

// Outcome is what an ingestion or preview produced
type Outcome struct {
	IngestionID  string
	Experiment   *models.Experiment
	Transform    *transform.Result
	Report       *validation.Report
	Persist      *persist.Result // nil for previews
	StepRows     int
	DetailRows   int // before downsampling
	Warnings     []string
	Measurements int // after downsampling
}

// Importer handles importing cycler exports into the database
type Importer struct {
	db           *db.DB
	thresholds   validation.Thresholds
	nameTemplate string
	logger       *slog.Logger
	metrics      *metrics.Metrics
	progress     ProgressCallback
	persistOpts  []persist.Option
}

// Option configures an Importer
type Option func(*Importer)

// WithThresholds sets the validation thresholds
func WithThresholds(th validation.Thresholds) Option {
	return func(i *Importer) { i.thresholds = th }
}

// WithNameTemplate sets the mustache template used when a request has no name
func WithNameTemplate(tmpl string) Option {
	return func(i *Importer) {
		if tmpl != "" {
			i.nameTemplate = tmpl
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(i *Importer) {
		if l != nil {
			i.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Importer) { i.metrics = m }
}

func WithProgress(p ProgressCallback) Option {
	return func(i *Importer) { i.progress = p }
}

// WithPersistOptions passes options through to the persistence engine
func WithPersistOptions(opts ...persist.Option) Option {
	return func(i *Importer) { i.persistOpts = append(i.persistOpts, opts...) }
}

// New creates a new importer
func New(database *db.DB, opts ...Option) *Importer {
	i := &Importer{
		db:           database,
		thresholds:   validation.DefaultThresholds(),
		nameTemplate: DefaultNameTemplate,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(slog.String("component", "importer"))
	return i
}

// Ingest runs the full pipeline. Duplicate and malformed input fail before
// anything is written. A non-nil Outcome is returned whenever persistence
// started, including partial writes.
func (i *Importer) Ingest(ctx context.Context, req Request) (*Outcome, error) {
	out, err := i.Preview(ctx, req)
	if err != nil {
		i.finish("rejected")
		return nil, err
	}
	logger := i.logger.With(slog.String("ingestion_id", out.IngestionID))

	files := []models.ProcessedFile{{
		ContentHash: req.Step.hash(),
		Filename:    req.Step.Name,
		Kind:        models.FileKindStep,
		RowCount:    out.StepRows,
	}}
	if !req.Detail.Empty() {
		files = append(files, models.ProcessedFile{
			ContentHash: req.Detail.hash(),
			Filename:    req.Detail.Name,
			Kind:        models.FileKindDetail,
			RowCount:    out.DetailRows,
		})
	}

	opts := []persist.Option{
		persist.WithLogger(i.logger),
		persist.WithTransient(db.IsBusy),
	}
	if i.metrics != nil {
		opts = append(opts, persist.WithObserver(i.metrics))
	}
	if i.progress != nil {
		opts = append(opts, persist.WithProgress(i.progress.Update))
	}
	opts = append(opts, i.persistOpts...)
	engine := persist.NewEngine(i.db, opts...)

	res, err := engine.Write(ctx, persist.Request{
		Experiment:   out.Experiment,
		Steps:        out.Transform.Steps,
		Measurements: out.Transform.Measurements,
		Files:        files,
	})
	if i.progress != nil {
		i.progress.Finish()
	}
	out.Persist = res
	if res != nil {
		out.Warnings = append(out.Warnings, res.Warnings...)
		i.finish(string(res.State))
	}
	if err != nil {
		logger.ErrorContext(ctx, "ingestion_failed", slog.String("error", err.Error()))
		if res == nil || res.ExperimentID == 0 {
			return nil, err
		}
		return out, err
	}

	logger.InfoContext(ctx, "ingestion_complete",
		slog.Int64("experiment_id", res.ExperimentID),
		slog.Int("steps", len(out.Transform.Steps)),
		slog.Int("measurements", res.Measurements.Actual),
		slog.Any("failed_checks", out.Report.Failed()))
	return out, nil
}

func (i *Importer) finish(state string) {
	if i.metrics != nil {
		i.metrics.IngestionFinished(state)
	}
}

// Preview runs every stage except persistence
func (i *Importer) Preview(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{IngestionID: uuid.NewString()}
	logger := i.logger.With(slog.String("ingestion_id", out.IngestionID))

	if req.Step.Empty() {
		return nil, errors.New("step file is required")
	}
	if err := i.guard(ctx, &req); err != nil {
		logger.WarnContext(ctx, "duplicate_file", slog.String("error", err.Error()))
		return nil, err
	}

	stepTable, err := cyclerexport.ReadTable(req.Step.Name, bytes.NewReader(req.Step.Data))
	if err != nil {
		return nil, err
	}
	parsed, err := cyclerexport.ParseSteps(stepTable)
	if err != nil {
		return nil, err
	}
	out.StepRows = parsed.Rows
	out.Warnings = append(out.Warnings, parsed.Warnings...)

	var measurements []models.Measurement
	if !req.Detail.Empty() {
		detailTable, err := cyclerexport.ReadTable(req.Detail.Name, bytes.NewReader(req.Detail.Data))
		if err != nil {
			return nil, err
		}
		details, err := cyclerexport.ParseDetails(detailTable, cyclerexport.DetailOptions{
			SampleInterval: req.Options.SampleInterval,
			StepNumbers:    parsed.StepNumbers(),
			CheckOrphans:   true,
		})
		if err != nil {
			return nil, err
		}
		out.DetailRows = details.Rows
		measurements = details.Measurements
	}

	steps := parsed.Steps
	if len(req.Options.StepNumbers) > 0 {
		steps, measurements = transform.Select(steps, measurements, req.Options.StepNumbers)
		if len(steps) == 0 {
			return nil, fmt.Errorf("none of steps %v are present in %s", req.Options.StepNumbers, req.Step.Name)
		}
	}

	res, err := transform.Apply(steps, measurements, transform.Options{
		NominalCapacity: req.Experiment.NominalCapacity,
		ReferenceStep:   req.Options.ReferenceStep,
		OCV:             req.Options.OCV,
	})
	if err != nil {
		return nil, err
	}
	out.Transform = res
	out.Measurements = len(res.Measurements)
	out.Warnings = append(out.Warnings, res.Warnings...)

	out.Report = validation.NewEngine(i.thresholds).Run(validation.Input{
		Steps:        res.Steps,
		Measurements: res.Measurements,
		Warnings:     out.Warnings,
	})

	exp, err := i.buildExperiment(req, out)
	if err != nil {
		return nil, err
	}
	out.Experiment = exp

	logger.InfoContext(ctx, "files_processed",
		slog.String("step_file", req.Step.Name),
		slog.String("detail_file", req.Detail.Name),
		slog.Int("steps", len(res.Steps)),
		slog.Int("detail_rows", out.DetailRows),
		slog.Int("measurements", out.Measurements),
		slog.Int("reference_step", res.ReferenceStep),
		slog.Bool("checks_passed", out.Report.Passed()))
	return out, nil
}

// guard rejects content that was already ingested, before any parsing
func (i *Importer) guard(ctx context.Context, req *Request) error {
	files := []*File{&req.Step}
	if !req.Detail.Empty() {
		if req.Step.hash() == req.Detail.hash() {
			return &DuplicateFileError{
				Hash:          req.Detail.Hash,
				Filename:      req.Detail.Name,
				PriorFilename: req.Step.Name,
			}
		}
		files = append(files, &req.Detail)
	}

	for _, f := range files {
		prior, err := i.db.FindProcessedFile(ctx, f.hash())
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to check processed files: %w", err)
		}
		return &DuplicateFileError{
			Hash:              f.Hash,
			Filename:          f.Name,
			PriorFilename:     prior.Filename,
			PriorExperimentID: prior.ExperimentID,
			ProcessedAt:       prior.ProcessedAt,
		}
	}
	return nil
}

func (i *Importer) buildExperiment(req Request, out *Outcome) (*models.Experiment, error) {
	exp := req.Experiment
	res := out.Transform

	if len(res.Steps) > 0 {
		exp.StartDate = res.Steps[0].StartTime
	}
	exp.SOCReferenceStep = res.ReferenceStep
	exp.TemperatureAvg = res.Summary.TemperatureAvg
	exp.TemperatureMin = res.Summary.TemperatureMin
	exp.TemperatureMax = res.Summary.TemperatureMax
	exp.IngestionID = out.IngestionID

	if exp.Name == "" {
		name, err := mustache.Render(i.nameTemplate, map[string]any{
			"cell":         exp.CellRef,
			"machine":      exp.MachineRef,
			"battery_type": exp.BatteryType,
			"operator":     exp.Operator,
			"date":         exp.StartDate.Format("2006-01-02"),
			"file":         strings.TrimSuffix(req.Step.Name, filepath.Ext(req.Step.Name)),
		})
		if err != nil {
			return nil, fmt.Errorf("render experiment name: %w", err)
		}
		exp.Name = strings.TrimSpace(name)
	}

	metadata := make(map[string]any, len(exp.Metadata)+6)
	for k, v := range exp.Metadata {
		metadata[k] = v
	}
	metadata["summary"] = res.Summary
	metadata["step_file"] = req.Step.Name
	metadata["detail_file"] = req.Detail.Name
	metadata["sample_interval"] = req.Options.SampleInterval
	metadata["detail_rows"] = out.DetailRows
	if failed := out.Report.Failed(); len(failed) > 0 {
		metadata["failed_checks"] = failed
	}
	exp.Metadata = metadata

	if err := exp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid experiment: %w", err)
	}
	return &exp, nil
}

// RecomputeSOC re-anchors SOC of a stored experiment on a new reference
// step and rewrites the stored values in one transaction.
func (i *Importer) RecomputeSOC(ctx context.Context, experimentID int64, reference int) (*transform.Result, error) {
	exp, err := i.db.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	steps, err := i.db.GetSteps(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	measurements, err := i.db.GetMeasurements(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load measurements: %w", err)
	}

	res, err := transform.Apply(steps, measurements, transform.Options{
		NominalCapacity: exp.NominalCapacity,
		ReferenceStep:   reference,
	})
	if err != nil {
		return nil, err
	}
	if res.ReferenceStep == 0 {
		return nil, fmt.Errorf("experiment %d: %s", experimentID, strings.Join(res.Warnings, "; "))
	}

	if err := i.db.UpdateSOC(ctx, experimentID, res.ReferenceStep, res.Steps, res.Measurements); err != nil {
		return nil, fmt.Errorf("store SOC: %w", err)
	}
	i.logger.InfoContext(ctx, "soc_recomputed",
		slog.Int64("experiment_id", experimentID),
		slog.Int("reference_step", res.ReferenceStep))
	return res, nil
}
