// Package persist writes a transformed experiment to storage: steps in one
// transaction, measurements in sequential batches, then a count check.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// State is the position of one ingestion in the write state machine
type State string

const (
	StateValidated                State = "validated"
	StateStepsCommitted           State = "steps_committed"
	StateMeasurementsBatchWriting State = "measurements_batch_writing"
	StateVerified                 State = "verified"
	StateFailed                   State = "failed"
)

// Store is the storage the engine writes through. db.DB implements it.
type Store interface {
	CreateExperiment(ctx context.Context, exp *models.Experiment, steps []models.Step) (int64, error)
	StepIDs(ctx context.Context, experimentID int64) (map[int]int64, error)
	InsertMeasurements(ctx context.Context, batch []models.Measurement) error
	CountMeasurements(ctx context.Context, experimentID int64) (int, error)
	RecordProcessedFiles(ctx context.Context, files []models.ProcessedFile) error
}

// Observer receives batch-level events, typically for metrics
type Observer interface {
	BatchWritten(rows int, elapsed time.Duration)
	BatchRetried()
	BatchFailed()
}

// Request is everything one ingestion persists
type Request struct {
	Experiment   *models.Experiment
	Steps        []models.Step
	Measurements []models.Measurement // StepNumber set, StepID resolved here
	Files        []models.ProcessedFile
}

// BatchResult describes one measurement batch
type BatchResult struct {
	Index   int
	Rows    int
	Retries int
	Written int
	Error   error `json:"-"`
}

// MeasurementSummary compares what should have been written with what was
type MeasurementSummary struct {
	Expected int
	Actual   int
	Batches  []BatchResult
}

// Failed returns the batches that did not commit
func (s MeasurementSummary) Failed() []BatchResult {
	var out []BatchResult
	for _, b := range s.Batches {
		if b.Error != nil {
			out = append(out, b)
		}
	}
	return out
}

// Result is the outcome of Write. It is returned even when Write fails
// after the steps were committed.
type Result struct {
	ExperimentID   int64
	StepIDs        map[int]int64
	Measurements   MeasurementSummary
	ProcessedFiles []models.ProcessedFile
	State          State
	Partial        bool
	Warnings       []string
}

// Engine persists experiments
type Engine struct {
	store       Store
	batchSize   int
	retryPolicy RetryPolicy
	limiter     *rate.Limiter
	transient   func(error) bool
	logger      *slog.Logger
	observer    Observer
	progress    func(written, total int)
	sleep       func(time.Duration)
}

// Option configures an Engine
type Option func(*Engine)

// WithBatchSize sets measurement rows per transaction
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRetry sets the backoff policy for transient errors
func WithRetry(p RetryPolicy) Option {
	return func(e *Engine) { e.retryPolicy = p }
}

// WithRateLimit paces batches to at most perSecond batch transactions per
// second. Zero or less disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(e *Engine) {
		if perSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithTransient replaces the error classifier deciding what is retried
func WithTransient(fn func(error) bool) Option {
	return func(e *Engine) {
		if fn != nil {
			e.transient = fn
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver attaches batch event hooks
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithProgress is called after every batch with rows written so far
func WithProgress(fn func(written, total int)) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithSleep replaces time.Sleep between retries
func WithSleep(fn func(time.Duration)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// NewEngine creates a persistence engine over store
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		batchSize:   1000,
		retryPolicy: DefaultRetryPolicy(),
		transient:   IsTransient,
		logger:      slog.Default(),
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "persist"))
	return e
}

// Write runs the state machine for one experiment. Input is checked before
// anything is written. Once the steps commit, Write always returns a
// Result; batch failures and count mismatches come back as a
// *PartialWriteError and the processed files are not recorded.
func (e *Engine) Write(ctx context.Context, req Request) (*Result, error) {
	res := &Result{State: StateValidated}

	if err := validateRequest(req); err != nil {
		res.State = StateFailed
		return res, err
	}
	if err := ctx.Err(); err != nil {
		res.State = StateFailed
		return res, err
	}

	// Writes are not cancelled once started; ctx is consulted between them.
	writeCtx := context.WithoutCancel(ctx)
	logger := e.logger
	if req.Experiment.IngestionID != "" {
		logger = logger.With(slog.String("ingestion_id", req.Experiment.IngestionID))
	}

	var experimentID int64
	_, err := e.retry(ctx, "create_experiment", -1, func() error {
		id, err := e.store.CreateExperiment(writeCtx, req.Experiment, req.Steps)
		experimentID = id
		return err
	})
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("commit steps: %w", err)
	}
	res.ExperimentID = experimentID
	res.State = StateStepsCommitted
	logger = logger.With(slog.Int64("experiment_id", experimentID))
	logger.InfoContext(ctx, "steps_committed", slog.Int("steps", len(req.Steps)))

	var stepIDs map[int]int64
	_, err = e.retry(ctx, "resolve_steps", -1, func() error {
		ids, err := e.store.StepIDs(writeCtx, experimentID)
		stepIDs = ids
		return err
	})
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("resolve step ids: %w", err)
	}
	res.StepIDs = stepIDs

	res.State = StateMeasurementsBatchWriting
	batchErrs := e.writeBatches(ctx, writeCtx, logger, req.Measurements, stepIDs, res)

	var actual int
	_, err = e.retry(ctx, "count_measurements", -1, func() error {
		n, err := e.store.CountMeasurements(writeCtx, experimentID)
		actual = n
		return err
	})
	if err != nil {
		res.State = StateFailed
		res.Partial = true
		return res, fmt.Errorf("verify measurement count: %w", errors.Join(append(batchErrs, err)...))
	}
	res.Measurements.Actual = actual

	if actual != res.Measurements.Expected {
		res.Warnings = append(res.Warnings, fmt.Sprintf("expected %d measurements, found %d", res.Measurements.Expected, actual))
	}
	if len(batchErrs) > 0 || actual != res.Measurements.Expected {
		res.State = StateFailed
		res.Partial = true
		logger.ErrorContext(ctx, "partial_write",
			slog.Int("expected", res.Measurements.Expected),
			slog.Int("actual", actual),
			slog.Int("failed_batches", len(batchErrs)))
		return res, &PartialWriteError{Expected: res.Measurements.Expected, Actual: actual, Err: errors.Join(batchErrs...)}
	}
	res.State = StateVerified

	if len(req.Files) > 0 {
		files := make([]models.ProcessedFile, len(req.Files))
		for i, f := range req.Files {
			f.ExperimentID = experimentID
			if f.IngestionID == "" {
				f.IngestionID = req.Experiment.IngestionID
			}
			if f.ProcessedAt.IsZero() {
				f.ProcessedAt = time.Now()
			}
			files[i] = f
		}
		_, err = e.retry(ctx, "record_processed_files", -1, func() error {
			return e.store.RecordProcessedFiles(writeCtx, files)
		})
		if err != nil {
			res.Warnings = append(res.Warnings, "measurements verified but processed files were not recorded")
			return res, fmt.Errorf("record processed files: %w", err)
		}
		res.ProcessedFiles = files
	}

	logger.InfoContext(ctx, "ingestion_verified",
		slog.Int("measurements", actual),
		slog.Int("batches", len(res.Measurements.Batches)))
	return res, nil
}

func (e *Engine) writeBatches(ctx, writeCtx context.Context, logger *slog.Logger, ms []models.Measurement, stepIDs map[int]int64, res *Result) []error {
	res.Measurements.Expected = len(ms)
	var errs []error
	written := 0

	for index, start := 0, 0; start < len(ms); index, start = index+1, start+e.batchSize {
		end := min(start+e.batchSize, len(ms))
		br := BatchResult{Index: index, Rows: end - start}

		if err := e.wait(ctx); err != nil {
			err = fmt.Errorf("stopped before batch %d: %w", index, err)
			logger.WarnContext(writeCtx, "ingestion_cancelled", slog.Int("batch", index), slog.Int("remaining_rows", len(ms)-start))
			errs = append(errs, err)
			break
		}

		batch, err := resolveBatch(ms, start, end, stepIDs, index)
		if err != nil {
			var pe *PreconditionError
			if errors.As(err, &pe) {
				logger.ErrorContext(ctx, "unresolved_step_reference",
					slog.Int("batch", index),
					slog.Int("step_number", pe.StepNumber),
					slog.Int("row", pe.Row))
			}
			br.Error = err
			res.Measurements.Batches = append(res.Measurements.Batches, br)
			errs = append(errs, err)
			if e.observer != nil {
				e.observer.BatchFailed()
			}
			continue
		}

		began := time.Now()
		br.Retries, err = e.retry(ctx, "insert_measurements", index, func() error {
			return e.store.InsertMeasurements(writeCtx, batch)
		})
		if err != nil {
			logger.ErrorContext(ctx, "batch_failed",
				slog.Int("batch", index),
				slog.Int("rows", br.Rows),
				slog.Int("retries", br.Retries),
				slog.String("error", err.Error()))
			br.Error = err
			errs = append(errs, err)
			if e.observer != nil {
				e.observer.BatchFailed()
			}
		} else {
			br.Written = br.Rows
			written += br.Rows
			if e.observer != nil {
				e.observer.BatchWritten(br.Rows, time.Since(began))
			}
		}
		res.Measurements.Batches = append(res.Measurements.Batches, br)

		if e.progress != nil {
			e.progress(written, len(ms))
		}
	}
	return errs
}

func (e *Engine) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.limiter != nil {
		return e.limiter.Wait(ctx)
	}
	return nil
}

// resolveBatch copies ms[start:end] with StepID filled in
func resolveBatch(ms []models.Measurement, start, end int, stepIDs map[int]int64, index int) ([]models.Measurement, error) {
	batch := make([]models.Measurement, end-start)
	for i := start; i < end; i++ {
		m := ms[i]
		id, ok := stepIDs[m.StepNumber]
		if !ok || id == 0 {
			return nil, &PreconditionError{BatchIndex: index, StepNumber: m.StepNumber, Row: i}
		}
		m.StepID = id
		batch[i-start] = m
	}
	return batch, nil
}

func validateRequest(req Request) error {
	if req.Experiment == nil {
		return errors.New("experiment is required")
	}
	if err := req.Experiment.Validate(); err != nil {
		return fmt.Errorf("invalid experiment: %w", err)
	}
	if len(req.Steps) == 0 && len(req.Measurements) > 0 {
		return fmt.Errorf("%d measurements supplied without any steps", len(req.Measurements))
	}
	seen := make(map[int]bool, len(req.Steps))
	for _, s := range req.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid step %d: %w", s.StepNumber, err)
		}
		if seen[s.StepNumber] {
			return fmt.Errorf("duplicate step number %d", s.StepNumber)
		}
		seen[s.StepNumber] = true
	}
	return nil
}
