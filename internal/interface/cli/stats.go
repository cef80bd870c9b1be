package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long: `Display statistics about the batteryetl database.

Shows experiment, step, measurement and file counts, the date range of
stored experiments, the most tested cell and a breakdown by step type.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&outputFormat, "format", "text", "Output format: text, json or yaml")
}

func runStats(cmd *cobra.Command, args []string) error {
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

	stats, err := database.GetStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	if structured() {
		return emit(os.Stdout, stats)
	}

	fmt.Println(titleStyle.Render("Database Statistics"))
	fmt.Println()
	fmt.Printf("Experiments:       %s\n", humanize.Comma(int64(stats.TotalExperiments)))
	fmt.Printf("Steps:             %s\n", humanize.Comma(int64(stats.TotalSteps)))
	fmt.Printf("Measurements:      %s\n", humanize.Comma(int64(stats.TotalMeasurements)))
	fmt.Printf("Processed files:   %s\n", humanize.Comma(int64(stats.TotalFiles)))

	if stats.TotalExperiments > 0 {
		fmt.Println()
		fmt.Printf("Oldest experiment: %s\n", formatDate(stats.OldestExperiment))
		fmt.Printf("Newest experiment: %s\n", formatDate(stats.NewestExperiment))
	}
	if stats.MostUsedCell != "" {
		fmt.Printf("Most tested cell:  %s (%d experiments)\n", stats.MostUsedCell, stats.MostUsedCellCount)
	}

	if len(stats.StepTypeBreakdown) > 0 {
		fmt.Println()
		fmt.Println("Steps by type:")
		types := make([]string, 0, len(stats.StepTypeBreakdown))
		for t := range stats.StepTypeBreakdown {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("  %-10s %s\n", t, humanize.Comma(int64(stats.StepTypeBreakdown[t])))
		}
	}

	fmt.Println()
	if fileInfo, err := os.Stat(cfg.Database.Path); err == nil {
		fmt.Printf("Database Location: %s\n", cfg.Database.Path)
		fmt.Printf("Database Size:     %s\n", humanize.Bytes(uint64(fileInfo.Size())))
	}
	return nil
}
