package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/batteryetl/internal/core/importer"
	"github.com/neilberkman/batteryetl/internal/core/models"
	"github.com/neilberkman/batteryetl/internal/core/persist"
	"github.com/neilberkman/batteryetl/internal/core/transform"
	"github.com/neilberkman/batteryetl/internal/core/validation"
	"github.com/neilberkman/batteryetl/pkg/cyclerexport"
)

var (
	ingestStepPath     string
	ingestDetailPath   string
	ingestName         string
	ingestDescription  string
	ingestCell         string
	ingestMachine      string
	ingestOperator     string
	ingestBatteryType  string
	ingestCapacity     float64
	ingestInterval     float64
	ingestAutoInterval bool
	ingestReference    int
	ingestSelect       []int
	ingestQuiet        bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Import a cycler step export and its detail export",
	Long: `Parse, transform, validate and store one experiment.

Both files are checked against previously ingested content first; a file
that was already imported is rejected before anything is parsed. The step
rows and experiment are committed first, measurements follow in batches
and the stored count is verified against the parsed count.

Examples:
  batteryetl ingest --steps run42_step.csv --detail run42_detail.csv --capacity 2.5
  batteryetl ingest --steps run42.xlsx --capacity 2.5 --cell C-17 --operator jdoe
  batteryetl ingest --steps s.csv --detail d.csv --capacity 5 --interval 10 --reference 4
  batteryetl ingest --steps s.csv --detail d.csv --capacity 5 --select 1,2,3 --format json`,
	RunE: runIngest,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Validate cycler exports without storing them",
	Long: `Run every ingestion stage except persistence and print the
validation report, derived summary and a suggested sampling interval.

Examples:
  batteryetl preview --steps run42_step.csv --detail run42_detail.csv --capacity 2.5`,
	RunE: runPreview,
}

func init() {
	for _, cmd := range []*cobra.Command{ingestCmd, previewCmd} {
		rootCmd.AddCommand(cmd)
		f := cmd.Flags()
		f.StringVar(&ingestStepPath, "steps", "", "Step export (.csv or .xlsx)")
		f.StringVar(&ingestDetailPath, "detail", "", "Detail export (.csv or .xlsx)")
		f.StringVar(&ingestName, "name", "", "Experiment name (default: rendered from the name template)")
		f.StringVar(&ingestDescription, "description", "", "Free-form description")
		f.StringVar(&ingestCell, "cell", "", "Cell reference")
		f.StringVar(&ingestMachine, "machine", "", "Cycler machine reference")
		f.StringVar(&ingestOperator, "operator", "", "Operator")
		f.StringVar(&ingestBatteryType, "battery-type", "", "Battery type or chemistry")
		f.Float64Var(&ingestCapacity, "capacity", 0, "Nominal capacity in Ah (default: ingest.nominal_capacity)")
		f.Float64Var(&ingestInterval, "interval", 0, "Detail sampling interval in seconds, 0 keeps every row")
		f.BoolVar(&ingestAutoInterval, "auto-interval", false, "Pick the sampling interval from the detail row count")
		f.IntVar(&ingestReference, "reference", 0, "Step number anchoring SOC (default: automatic)")
		f.IntSliceVar(&ingestSelect, "select", nil, "Only keep these step numbers")
		f.StringVar(&outputFormat, "format", "text", "Output format: text, json or yaml")
		_ = cmd.MarkFlagRequired("steps")
	}
	ingestCmd.Flags().BoolVarP(&ingestQuiet, "quiet", "q", false, "Hide the progress bar")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	req, err := buildRequest(ctx, cmd)
	if err != nil {
		return err
	}

	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	opts := importerOptions()
	if !ingestQuiet && !structured() {
		opts = append(opts, importer.WithProgress(importer.NewProgressReporter(os.Stderr)))
	}
	imp := importer.New(database, opts...)

	out, ingestErr := imp.Ingest(ctx, req)
	if out == nil {
		return ingestErr
	}
	if err := printOutcome(out); err != nil {
		return err
	}
	return ingestErr
}

func runPreview(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	req, err := buildRequest(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	out, err := importer.New(database, importerOptions()...).Preview(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printOutcome(out)
}

func importerOptions() []importer.Option {
	return []importer.Option{
		importer.WithThresholds(cfg.Validation),
		importer.WithNameTemplate(cfg.Experiment.NameTemplate),
		importer.WithLogger(logger),
		importer.WithMetrics(collector),
		importer.WithPersistOptions(
			persist.WithBatchSize(cfg.Ingest.BatchSize),
			persist.WithRetry(cfg.RetryPolicy()),
			persist.WithRateLimit(cfg.Ingest.BatchesPerSecond),
		),
	}
}

// buildRequest reads both files and merges flags over the config defaults
func buildRequest(ctx context.Context, cmd *cobra.Command) (importer.Request, error) {
	step, detail, err := importer.ReadFiles(ctx, ingestStepPath, ingestDetailPath)
	if err != nil {
		return importer.Request{}, err
	}

	capacity := cfg.Ingest.NominalCapacity
	if cmd.Flags().Changed("capacity") {
		capacity = ingestCapacity
	}
	interval := cfg.Ingest.SampleInterval
	if cmd.Flags().Changed("interval") {
		interval = ingestInterval
	}
	reference := cfg.Ingest.ReferenceStep
	if cmd.Flags().Changed("reference") {
		reference = ingestReference
	}

	if ingestAutoInterval && !detail.Empty() {
		t, err := cyclerexport.ReadTable(detail.Name, bytes.NewReader(detail.Data))
		if err != nil {
			return importer.Request{}, err
		}
		var reason string
		interval, reason = cyclerexport.RecommendInterval(t.Len())
		logger.InfoContext(ctx, "sample_interval_selected",
			"interval", interval, "rows", t.Len(), "reason", reason)
	}

	return importer.Request{
		Experiment: importerExperiment(capacity),
		Step:       step,
		Detail:     detail,
		Options: importer.Options{
			SampleInterval: interval,
			ReferenceStep:  reference,
			StepNumbers:    ingestSelect,
			OCV:            cfg.OCVCriterion(),
		},
	}, nil
}

func importerExperiment(capacity float64) models.Experiment {
	return models.Experiment{
		Name:            ingestName,
		Description:     ingestDescription,
		BatteryType:     ingestBatteryType,
		NominalCapacity: capacity,
		CellRef:         ingestCell,
		MachineRef:      ingestMachine,
		Operator:        ingestOperator,
	}
}

// ingestReport is the structured form of an ingestion or preview
type ingestReport struct {
	IngestionID   string                            `json:"ingestion_id" yaml:"ingestion_id"`
	ExperimentID  int64                             `json:"experiment_id,omitempty" yaml:"experiment_id,omitempty"`
	Name          string                            `json:"name" yaml:"name"`
	State         string                            `json:"state" yaml:"state"`
	StepRows      int                               `json:"step_rows" yaml:"step_rows"`
	DetailRows    int                               `json:"detail_rows" yaml:"detail_rows"`
	Expected      int                               `json:"measurements_expected" yaml:"measurements_expected"`
	Actual        int                               `json:"measurements_written" yaml:"measurements_written"`
	ReferenceStep int                               `json:"soc_reference_step,omitempty" yaml:"soc_reference_step,omitempty"`
	Summary       transform.Summary                 `json:"summary" yaml:"summary"`
	Checks        map[string]validation.CheckResult `json:"checks" yaml:"checks"`
	FailedBatches []batchReport                     `json:"failed_batches,omitempty" yaml:"failed_batches,omitempty"`
	Warnings      []string                          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

type batchReport struct {
	Index   int    `json:"index" yaml:"index"`
	Rows    int    `json:"rows" yaml:"rows"`
	Retries int    `json:"retries" yaml:"retries"`
	Error   string `json:"error" yaml:"error"`
}

func newIngestReport(out *importer.Outcome) ingestReport {
	r := ingestReport{
		IngestionID:   out.IngestionID,
		Name:          out.Experiment.Name,
		State:         "preview",
		StepRows:      out.StepRows,
		DetailRows:    out.DetailRows,
		Expected:      out.Measurements,
		ReferenceStep: out.Transform.ReferenceStep,
		Summary:       out.Transform.Summary,
		Checks:        out.Report.Checks,
		Warnings:      out.Warnings,
	}
	if p := out.Persist; p != nil {
		r.ExperimentID = p.ExperimentID
		r.State = string(p.State)
		r.Expected = p.Measurements.Expected
		r.Actual = p.Measurements.Actual
		for _, b := range p.Measurements.Failed() {
			r.FailedBatches = append(r.FailedBatches, batchReport{
				Index: b.Index, Rows: b.Rows, Retries: b.Retries, Error: b.Error.Error(),
			})
		}
	}
	return r
}

func printOutcome(out *importer.Outcome) error {
	report := newIngestReport(out)
	if structured() {
		return emit(os.Stdout, report)
	}

	fmt.Println(titleStyle.Render(report.Name))
	fmt.Printf("Ingestion:     %s\n", report.IngestionID)
	if report.ExperimentID != 0 {
		fmt.Printf("Experiment ID: %d\n", report.ExperimentID)
	}
	state := report.State
	switch report.State {
	case string(persist.StateVerified):
		state = passStyle.Render(state)
	case string(persist.StateFailed):
		state = failStyle.Render(state)
	}
	fmt.Printf("State:         %s\n", state)
	fmt.Printf("Steps:         %d\n", report.StepRows)
	if report.DetailRows != report.Expected {
		fmt.Printf("Detail rows:   %s (downsampled to %s)\n",
			humanize.Comma(int64(report.DetailRows)), humanize.Comma(int64(report.Expected)))
	} else {
		fmt.Printf("Detail rows:   %s\n", humanize.Comma(int64(report.DetailRows)))
	}
	if out.Persist != nil {
		fmt.Printf("Measurements:  %s of %s written\n",
			humanize.Comma(int64(report.Actual)), humanize.Comma(int64(report.Expected)))
	}
	if report.ReferenceStep != 0 {
		fmt.Printf("SOC reference: step %d\n", report.ReferenceStep)
	} else {
		fmt.Println(warnStyle.Render("SOC reference: none, SOC not computed"))
	}
	s := report.Summary
	fmt.Printf("C-rate:        %.2f to %.2f (avg %.2f)\n", s.CRateMin, s.CRateMax, s.CRateAvg)
	if s.TemperatureAvg != nil {
		fmt.Printf("Temperature:   %s to %s (avg %s)\n",
			formatFloat(s.TemperatureMin, "°C"), formatFloat(s.TemperatureMax, "°C"), formatFloat(s.TemperatureAvg, "°C"))
	}

	fmt.Println()
	fmt.Println("Validation:")
	for _, name := range out.Report.Names() {
		c := out.Report.Checks[name]
		fmt.Printf("  %s  %-24s %s\n", passFail(c.Passed), name, metaStyle.Render(c.Message))
	}

	if len(report.FailedBatches) > 0 {
		fmt.Println()
		fmt.Println(failStyle.Render("Failed batches:"))
		for _, b := range report.FailedBatches {
			fmt.Printf("  #%d  %d rows, %d retries: %s\n", b.Index, b.Rows, b.Retries, b.Error)
		}
	}
	if len(report.Warnings) > 0 {
		fmt.Println()
		fmt.Println(warnStyle.Render("Warnings:"))
		for _, w := range report.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	if out.Persist == nil && report.DetailRows > 0 {
		interval, reason := cyclerexport.RecommendInterval(report.DetailRows)
		fmt.Println()
		fmt.Printf("Suggested sampling interval: %gs (%s)\n", interval, reason)
	}
	return nil
}
