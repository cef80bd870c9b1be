package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

var infoCmd = &cobra.Command{
	Use:   "info <experiment-id>",
	Short: "Show an experiment and its steps",
	Long: `Show experiment metadata followed by one line per step with
duration, C-rate, capacity, SOC range, OCV and annotation.

Examples:
  batteryetl info 12
  batteryetl info 12 --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVar(&outputFormat, "format", "text", "Output format: text, json or yaml")
}

// experimentView is the structured form of info
type experimentView struct {
	ID               int64          `json:"id" yaml:"id"`
	Name             string         `json:"name" yaml:"name"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty"`
	BatteryType      string         `json:"battery_type,omitempty" yaml:"battery_type,omitempty"`
	NominalCapacity  float64        `json:"nominal_capacity" yaml:"nominal_capacity"`
	CellRef          string         `json:"cell_ref,omitempty" yaml:"cell_ref,omitempty"`
	MachineRef       string         `json:"machine_ref,omitempty" yaml:"machine_ref,omitempty"`
	Operator         string         `json:"operator,omitempty" yaml:"operator,omitempty"`
	StartDate        time.Time      `json:"start_date" yaml:"start_date"`
	EndDate          *time.Time     `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	SOCReferenceStep int            `json:"soc_reference_step,omitempty" yaml:"soc_reference_step,omitempty"`
	IngestionID      string         `json:"ingestion_id" yaml:"ingestion_id"`
	Measurements     int            `json:"measurements" yaml:"measurements"`
	Metadata         map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Steps            []stepView     `json:"steps" yaml:"steps"`
}

type stepView struct {
	StepNumber   int      `json:"step_number" yaml:"step_number"`
	StepType     string   `json:"step_type" yaml:"step_type"`
	OriginalType string   `json:"original_step_type" yaml:"original_step_type"`
	Duration     float64  `json:"duration" yaml:"duration"`
	Current      float64  `json:"current" yaml:"current"`
	CRate        float64  `json:"c_rate" yaml:"c_rate"`
	Capacity     float64  `json:"capacity" yaml:"capacity"`
	Energy       float64  `json:"energy" yaml:"energy"`
	VoltageStart float64  `json:"voltage_start" yaml:"voltage_start"`
	VoltageEnd   float64  `json:"voltage_end" yaml:"voltage_end"`
	SOCStart     *float64 `json:"soc_start,omitempty" yaml:"soc_start,omitempty"`
	SOCEnd       *float64 `json:"soc_end,omitempty" yaml:"soc_end,omitempty"`
	OCV          *float64 `json:"ocv,omitempty" yaml:"ocv,omitempty"`
	Temperature  *float64 `json:"temperature_avg,omitempty" yaml:"temperature_avg,omitempty"`
	Annotation   string   `json:"annotation,omitempty" yaml:"annotation,omitempty"`
}

func newExperimentView(exp *models.Experiment, steps []models.Step, measurements int) experimentView {
	v := experimentView{
		ID:               exp.ID,
		Name:             exp.Name,
		Description:      exp.Description,
		BatteryType:      exp.BatteryType,
		NominalCapacity:  exp.NominalCapacity,
		CellRef:          exp.CellRef,
		MachineRef:       exp.MachineRef,
		Operator:         exp.Operator,
		StartDate:        exp.StartDate,
		EndDate:          exp.EndDate,
		SOCReferenceStep: exp.SOCReferenceStep,
		IngestionID:      exp.IngestionID,
		Measurements:     measurements,
		Metadata:         exp.Metadata,
		Steps:            make([]stepView, 0, len(steps)),
	}
	for _, s := range steps {
		v.Steps = append(v.Steps, stepView{
			StepNumber:   s.StepNumber,
			StepType:     string(s.StepType),
			OriginalType: s.OriginalStepType,
			Duration:     s.Duration,
			Current:      s.Current,
			CRate:        s.CRate,
			Capacity:     s.Capacity,
			Energy:       s.Energy,
			VoltageStart: s.VoltageStart,
			VoltageEnd:   s.VoltageEnd,
			SOCStart:     s.SOCStart,
			SOCEnd:       s.SOCEnd,
			OCV:          s.OCV,
			Temperature:  s.TemperatureAvg,
			Annotation:   s.Annotation,
		})
	}
	return v
}

func runInfo(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
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

	ctx := cmd.Context()
	exp, err := database.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	steps, err := database.GetSteps(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}
	count, err := database.CountMeasurements(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count measurements: %w", err)
	}

	view := newExperimentView(exp, steps, count)
	if structured() {
		return emit(os.Stdout, view)
	}

	fmt.Println(titleStyle.Render(view.Name))
	fmt.Printf("ID:              %d\n", view.ID)
	if view.Description != "" {
		fmt.Printf("Description:     %s\n", view.Description)
	}
	if view.BatteryType != "" {
		fmt.Printf("Battery type:    %s\n", view.BatteryType)
	}
	fmt.Printf("Capacity:        %g Ah\n", view.NominalCapacity)
	if view.CellRef != "" {
		fmt.Printf("Cell:            %s\n", view.CellRef)
	}
	if view.MachineRef != "" {
		fmt.Printf("Machine:         %s\n", view.MachineRef)
	}
	if view.Operator != "" {
		fmt.Printf("Operator:        %s\n", view.Operator)
	}
	fmt.Printf("Started:         %s\n", formatDate(view.StartDate))
	if view.EndDate != nil {
		fmt.Printf("Ended:           %s\n", formatDate(*view.EndDate))
	}
	if view.SOCReferenceStep != 0 {
		fmt.Printf("SOC reference:   step %d\n", view.SOCReferenceStep)
	}
	fmt.Printf("Measurements:    %s\n", humanize.Comma(int64(view.Measurements)))
	fmt.Printf("Ingestion:       %s\n", metaStyle.Render(view.IngestionID))
	fmt.Println()

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(metaStyle).
		Headers("STEP", "TYPE", "DURATION", "C-RATE", "CAPACITY", "SOC", "OCV", "TEMP", "NOTE")
	for _, s := range view.Steps {
		soc := "-"
		if s.SOCStart != nil && s.SOCEnd != nil {
			soc = fmt.Sprintf("%.1f → %.1f%%", *s.SOCStart, *s.SOCEnd)
		}
		t.Row(
			strconv.Itoa(s.StepNumber),
			s.StepType,
			(time.Duration(s.Duration * float64(time.Second))).Round(time.Second).String(),
			fmt.Sprintf("%.2f", s.CRate),
			fmt.Sprintf("%.4f Ah", s.Capacity),
			soc,
			formatFloat(s.OCV, " V"),
			formatFloat(s.Temperature, "°C"),
			truncate(s.Annotation, 30),
		)
	}
	fmt.Println(t)
	return nil
}

func parseExperimentID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid experiment id %q", s)
	}
	return id, nil
}
