package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/neilberkman/batteryetl/internal/core/models"
	"github.com/neilberkman/batteryetl/pkg/cyclerexport"
)

var (
	exportOutput string
	exportSteps  bool
)

var exportCmd = &cobra.Command{
	Use:   "export <experiment-id>",
	Short: "Export stored measurements or steps to CSV or XLSX",
	Long: `Export the measurements of an experiment, with derived SOC and C-rate
columns, to a CSV or XLSX file. The file uses canonical column names and
can be ingested again.

By default exports to the current directory as experiment-<id>-detail.csv.
Use --steps to export the step table instead.

Examples:
  batteryetl export 12
  batteryetl export 12 --output run42.xlsx
  batteryetl export 12 --steps -o run42_steps.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path, .csv or .xlsx (default: experiment-<id>-detail.csv)")
	exportCmd.Flags().BoolVar(&exportSteps, "steps", false, "Export the step table instead of measurements")
}

func runExport(cmd *cobra.Command, args []string) error {
	id, err := parseExperimentID(args[0])
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

	outputPath := exportOutput
	if outputPath == "" {
		kind := "detail"
		if exportSteps {
			kind = "steps"
		}
		outputPath = fmt.Sprintf("experiment-%d-%s.csv", id, kind)
	}
	if !filepath.IsAbs(outputPath) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		outputPath = filepath.Join(cwd, outputPath)
	}

	ctx := cmd.Context()
	if _, err := database.GetExperiment(ctx, id); err != nil {
		return err
	}

	var table *cyclerexport.Table
	if exportSteps {
		steps, err := database.GetSteps(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load steps: %w", err)
		}
		table = stepTable(outputPath, steps)
	} else {
		ms, err := database.GetMeasurements(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load measurements: %w", err)
		}
		table = measurementTable(outputPath, ms)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := cyclerexport.WriteTable(f, table); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	fmt.Printf("Exported %d rows to: %s\n", table.Len(), outputPath)
	return nil
}

const exportTimeLayout = "2006-01-02 15:04:05"

func stepTable(name string, steps []models.Step) *cyclerexport.Table {
	t := &cyclerexport.Table{
		Name: name,
		Headers: []string{
			cyclerexport.FieldStepNumber, cyclerexport.FieldStepType, cyclerexport.FieldStartTime,
			cyclerexport.FieldEndTime, cyclerexport.FieldDuration, cyclerexport.FieldVoltageStart,
			cyclerexport.FieldVoltageEnd, cyclerexport.FieldCurrent, cyclerexport.FieldCapacity,
			cyclerexport.FieldEnergy, cyclerexport.FieldTemperature, "c_rate", "soc_start", "soc_end", "ocv", "annotation",
		},
	}
	for _, s := range steps {
		label := s.OriginalStepType
		if label == "" {
			label = string(s.StepType)
		}
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(s.StepNumber),
			label,
			s.StartTime.Format(exportTimeLayout),
			formatTimeCell(s.EndTime),
			formatCell(s.Duration),
			formatCell(s.VoltageStart),
			formatCell(s.VoltageEnd),
			formatCell(s.Current),
			formatCell(s.Capacity),
			formatCell(s.Energy),
			formatOptCell(s.TemperatureAvg),
			formatCell(s.CRate),
			formatOptCell(s.SOCStart),
			formatOptCell(s.SOCEnd),
			formatOptCell(s.OCV),
			s.Annotation,
		})
	}
	return t
}

func measurementTable(name string, ms []models.Measurement) *cyclerexport.Table {
	t := &cyclerexport.Table{
		Name: name,
		Headers: []string{
			cyclerexport.FieldStepNumber, cyclerexport.FieldExecutionTime, cyclerexport.FieldTotalTime,
			cyclerexport.FieldTimestamp, cyclerexport.FieldVoltage, cyclerexport.FieldCurrent,
			cyclerexport.FieldCapacity, cyclerexport.FieldEnergy, cyclerexport.FieldTemperature, "c_rate", "soc",
		},
	}
	for _, m := range ms {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(m.StepNumber),
			formatCell(m.ExecutionTime),
			formatOptCell(m.TotalTime),
			formatTimeCell(m.Timestamp),
			formatCell(m.Voltage),
			formatCell(m.Current),
			formatCell(m.Capacity),
			formatCell(m.Energy),
			formatOptCell(m.Temperature),
			formatCell(m.CRate),
			formatOptCell(m.SOC),
		})
	}
	return t
}

func formatCell(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptCell(v *float64) string {
	if v == nil {
		return ""
	}
	return formatCell(*v)
}

func formatTimeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(exportTimeLayout)
}
