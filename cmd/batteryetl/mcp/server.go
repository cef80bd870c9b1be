package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/neilberkman/batteryetl/internal/core/config"
	"github.com/neilberkman/batteryetl/internal/core/db"
	"github.com/neilberkman/batteryetl/internal/core/importer"
	"github.com/neilberkman/batteryetl/internal/core/models"
	"github.com/neilberkman/batteryetl/internal/core/search"
)

// ListExperimentsArgs defines arguments for the list_experiments tool
type ListExperimentsArgs struct {
	Query string `json:"query,omitempty" jsonschema:"description=Filter query, e.g. 'cell:C-17 after:2024-06-01 formation'"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max number of experiments to return (default: 20)"`
}

// GetExperimentArgs defines arguments for the get_experiment tool
type GetExperimentArgs struct {
	ExperimentID int64 `json:"experiment_id" jsonschema:"description=Experiment ID,required"`
	IncludeSteps bool  `json:"include_steps,omitempty" jsonschema:"description=Include the per-step table"`
}

// ValidateFilesArgs defines arguments for the validate_files tool
type ValidateFilesArgs struct {
	StepPath        string  `json:"step_path" jsonschema:"description=Path to the step export,required"`
	DetailPath      string  `json:"detail_path,omitempty" jsonschema:"description=Path to the detail export"`
	NominalCapacity float64 `json:"nominal_capacity" jsonschema:"description=Nominal capacity in Ah"`
	SampleInterval  float64 `json:"sample_interval,omitempty" jsonschema:"description=Detail sampling interval in seconds"`
	ReferenceStep   int     `json:"reference_step,omitempty" jsonschema:"description=Step number anchoring SOC"`
}

// ExperimentSummary represents an experiment in the list view
type ExperimentSummary struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	CellRef          string  `json:"cell_ref,omitempty"`
	NominalCapacity  float64 `json:"nominal_capacity"`
	StartDate        string  `json:"start_date,omitempty"`
	StepCount        int     `json:"step_count"`
	MeasurementCount int     `json:"measurement_count"`
}

// ExperimentDetail represents one experiment with optional steps
type ExperimentDetail struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	BatteryType      string         `json:"battery_type,omitempty"`
	NominalCapacity  float64        `json:"nominal_capacity"`
	CellRef          string         `json:"cell_ref,omitempty"`
	MachineRef       string         `json:"machine_ref,omitempty"`
	Operator         string         `json:"operator,omitempty"`
	StartDate        string         `json:"start_date"`
	EndDate          string         `json:"end_date,omitempty"`
	SOCReferenceStep int            `json:"soc_reference_step,omitempty"`
	Measurements     int            `json:"measurements"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Steps            []StepDetail   `json:"steps,omitempty"`
}

// StepDetail represents a single step
type StepDetail struct {
	StepNumber int      `json:"step_number"`
	StepType   string   `json:"step_type"`
	Duration   float64  `json:"duration"`
	CRate      float64  `json:"c_rate"`
	Capacity   float64  `json:"capacity"`
	SOCStart   *float64 `json:"soc_start,omitempty"`
	SOCEnd     *float64 `json:"soc_end,omitempty"`
	OCV        *float64 `json:"ocv,omitempty"`
	Annotation string   `json:"annotation,omitempty"`
}

// ValidationResult is the outcome of validate_files
type ValidationResult struct {
	Name          string            `json:"name"`
	Passed        bool              `json:"passed"`
	StepRows      int               `json:"step_rows"`
	DetailRows    int               `json:"detail_rows"`
	Measurements  int               `json:"measurements"`
	ReferenceStep int               `json:"soc_reference_step,omitempty"`
	Checks        map[string]string `json:"checks"`
	Failed        []string          `json:"failed,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// StartServer starts the MCP server on stdio
func StartServer(cfg *config.Config, logger *slog.Logger) error {
	database, err := db.New(cfg.Database.Path,
		db.WithBusyTimeout(cfg.Database.BusyTimeout),
		db.WithInsertChunk(cfg.Ingest.InsertChunk))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			logger.Error("failed to close database", "error", closeErr)
		}
	}()

	return server.ServeStdio(NewServer(database, cfg, logger))
}

// NewServer registers the batteryetl tools on a new MCP server
func NewServer(database *db.DB, cfg *config.Config, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"batteryetl",
		"1.0.0",
	)

	listTool := mcp.NewTool("list_experiments",
		mcp.WithDescription("List stored battery experiments, most recent first. The query supports cell:, machine:, operator:, after:, before: and limit: filters; other words match the experiment name."),
		mcp.WithString("query",
			mcp.Description("Filter query, e.g. 'cell:C-17 after:\"last week\" formation'")),
		mcp.WithNumber("limit",
			mcp.Description("Max number of experiments to return (default: 20)")),
	)
	s.AddTool(listTool, makeListExperimentsHandler(database))

	getTool := mcp.NewTool("get_experiment",
		mcp.WithDescription("Get one experiment with its metadata, measurement count and optionally its steps with SOC, C-rate and OCV."),
		mcp.WithNumber("experiment_id",
			mcp.Required(),
			mcp.Description("Experiment ID")),
		mcp.WithBoolean("include_steps",
			mcp.Description("Include the per-step table")),
	)
	s.AddTool(getTool, makeGetExperimentHandler(database))

	validateTool := mcp.NewTool("validate_files",
		mcp.WithDescription("Parse, transform and validate a cycler step export and optional detail export without storing them. Reports every plausibility check."),
		mcp.WithString("step_path",
			mcp.Required(),
			mcp.Description("Path to the step export (.csv or .xlsx)")),
		mcp.WithString("detail_path",
			mcp.Description("Path to the detail export (.csv or .xlsx)")),
		mcp.WithNumber("nominal_capacity",
			mcp.Description("Nominal capacity in Ah (default: ingest.nominal_capacity)")),
		mcp.WithNumber("sample_interval",
			mcp.Description("Detail sampling interval in seconds (default: keep every row)")),
		mcp.WithNumber("reference_step",
			mcp.Description("Step number anchoring SOC (default: automatic)")),
	)
	s.AddTool(validateTool, makeValidateFilesHandler(database, cfg, logger))

	return s
}

func makeListExperimentsHandler(database *db.DB) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ListExperimentsArgs
		argsBytes, _ := json.Marshal(request.Params.Arguments)
		if err := json.Unmarshal(argsBytes, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		filter := search.ParseQuery(args.Query)
		if args.Limit > 0 {
			filter.Limit = args.Limit
		} else if filter.Limit == 0 {
			filter.Limit = 20
		}

		experiments, err := database.ListExperiments(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}

		results := make([]ExperimentSummary, 0, len(experiments))
		for _, e := range experiments {
			r := ExperimentSummary{
				ID:               e.ID,
				Name:             e.Name,
				CellRef:          e.CellRef,
				NominalCapacity:  e.NominalCapacity,
				StepCount:        e.StepCount,
				MeasurementCount: e.MeasurementCount,
			}
			if e.StartDate != nil {
				r.StartDate = e.StartDate.Format(time.RFC3339)
			}
			results = append(results, r)
		}

		resultJSON, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func makeGetExperimentHandler(database *db.DB) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args GetExperimentArgs
		argsBytes, _ := json.Marshal(request.Params.Arguments)
		if err := json.Unmarshal(argsBytes, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		exp, err := database.GetExperiment(ctx, args.ExperimentID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("experiment not found: %v", err)), nil
		}
		count, err := database.CountMeasurements(ctx, exp.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}

		detail := ExperimentDetail{
			ID:               exp.ID,
			Name:             exp.Name,
			Description:      exp.Description,
			BatteryType:      exp.BatteryType,
			NominalCapacity:  exp.NominalCapacity,
			CellRef:          exp.CellRef,
			MachineRef:       exp.MachineRef,
			Operator:         exp.Operator,
			StartDate:        exp.StartDate.Format(time.RFC3339),
			SOCReferenceStep: exp.SOCReferenceStep,
			Measurements:     count,
			Metadata:         exp.Metadata,
		}
		if exp.EndDate != nil {
			detail.EndDate = exp.EndDate.Format(time.RFC3339)
		}

		if args.IncludeSteps {
			steps, err := database.GetSteps(ctx, exp.ID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
			}
			for _, st := range steps {
				detail.Steps = append(detail.Steps, StepDetail{
					StepNumber: st.StepNumber,
					StepType:   string(st.StepType),
					Duration:   st.Duration,
					CRate:      st.CRate,
					Capacity:   st.Capacity,
					SOCStart:   st.SOCStart,
					SOCEnd:     st.SOCEnd,
					OCV:        st.OCV,
					Annotation: st.Annotation,
				})
			}
		}

		resultJSON, err := json.MarshalIndent(detail, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func makeValidateFilesHandler(database *db.DB, cfg *config.Config, logger *slog.Logger) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imp := importer.New(database,
		importer.WithThresholds(cfg.Validation),
		importer.WithNameTemplate(cfg.Experiment.NameTemplate),
		importer.WithLogger(logger))

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ValidateFilesArgs
		argsBytes, _ := json.Marshal(request.Params.Arguments)
		if err := json.Unmarshal(argsBytes, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		step, detail, err := importer.ReadFiles(ctx, args.StepPath, args.DetailPath)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		capacity := args.NominalCapacity
		if capacity == 0 {
			capacity = cfg.Ingest.NominalCapacity
		}
		out, err := imp.Preview(ctx, importer.Request{
			Experiment: models.Experiment{NominalCapacity: capacity},
			Step:       step,
			Detail:     detail,
			Options: importer.Options{
				SampleInterval: args.SampleInterval,
				ReferenceStep:  args.ReferenceStep,
				OCV:            cfg.OCVCriterion(),
			},
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("validation failed: %v", err)), nil
		}

		result := ValidationResult{
			Name:          out.Experiment.Name,
			Passed:        out.Report.Passed(),
			StepRows:      out.StepRows,
			DetailRows:    out.DetailRows,
			Measurements:  out.Measurements,
			ReferenceStep: out.Transform.ReferenceStep,
			Checks:        make(map[string]string, len(out.Report.Checks)),
			Failed:        out.Report.Failed(),
			Warnings:      out.Warnings,
		}
		for name, c := range out.Report.Checks {
			result.Checks[name] = c.Message
		}

		resultJSON, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}
