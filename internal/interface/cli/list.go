package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/batteryetl/internal/core/search"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List stored experiments",
	Long: `List experiments, most recent first.

The query accepts field filters and natural-language dates; remaining words
match the experiment name.

Examples:
  batteryetl list
  batteryetl list cell:C-17
  batteryetl list machine:BT-2000 after:"last week"
  batteryetl list operator:jdoe before:2024-06-01 formation
  batteryetl list --limit 5 --format json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum number of experiments to show")
	listCmd.Flags().StringVar(&outputFormat, "format", "text", "Output format: text, json or yaml")
}

func runList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}

	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	filter := search.ParseQuery(strings.Join(args, " "))
	if filter.Limit == 0 || cmd.Flags().Changed("limit") {
		filter.Limit = listLimit
	}

	experiments, err := database.ListExperiments(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list experiments: %w", err)
	}

	if structured() {
		return emit(os.Stdout, experiments)
	}
	if len(experiments) == 0 {
		fmt.Println("No experiments found.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(metaStyle).
		Headers("ID", "NAME", "CELL", "CAPACITY", "STEPS", "MEASUREMENTS", "STARTED")
	for _, e := range experiments {
		started := "-"
		if e.StartDate != nil {
			started = humanize.Time(*e.StartDate)
		}
		t.Row(
			strconv.FormatInt(e.ID, 10),
			truncate(e.Name, 40),
			e.CellRef,
			fmt.Sprintf("%g Ah", e.NominalCapacity),
			strconv.Itoa(e.StepCount),
			humanize.Comma(int64(e.MeasurementCount)),
			started,
		)
	}
	fmt.Println(t)
	fmt.Printf("%d experiment(s)\n", len(experiments))
	return nil
}
