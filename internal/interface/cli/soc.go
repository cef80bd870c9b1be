package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/neilberkman/batteryetl/internal/core/importer"
)

var socCmd = &cobra.Command{
	Use:   "soc <experiment-id> <reference-step>",
	Short: "Recompute SOC on a different reference step",
	Long: `Re-anchor SOC of a stored experiment on another discharge step and
rewrite the stored step and measurement SOC values in one transaction.

Examples:
  batteryetl soc 12 4`,
	Args: cobra.ExactArgs(2),
	RunE: runSOC,
}

func init() {
	rootCmd.AddCommand(socCmd)
}

func runSOC(cmd *cobra.Command, args []string) error {
	id, err := parseExperimentID(args[0])
	if err != nil {
		return err
	}
	reference, err := strconv.Atoi(args[1])
	if err != nil || reference <= 0 {
		return fmt.Errorf("invalid reference step %q", args[1])
	}

	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	res, err := importer.New(database, importer.WithLogger(logger)).RecomputeSOC(cmd.Context(), id, reference)
	if err != nil {
		return fmt.Errorf("failed to recompute SOC: %w", err)
	}

	fmt.Printf("Experiment %d now anchored on step %d\n", id, res.ReferenceStep)
	if res.Summary.SOCMin != nil && res.Summary.SOCMax != nil {
		fmt.Printf("SOC range: %.1f%% to %.1f%%\n", *res.Summary.SOCMin, *res.Summary.SOCMax)
	}
	for _, w := range res.Warnings {
		fmt.Println(warnStyle.Render("warning: " + w))
	}
	return nil
}
