package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <experiment-id> <step> [text...]",
	Short: "Set the annotation of a step",
	Long: `Replace the free-text annotation of one step. Omitting the text
clears it.

Examples:
  batteryetl annotate 12 3 "thermocouple slipped, ignore temperature"
  batteryetl annotate 12 3`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAnnotate,
}

func init() {
	rootCmd.AddCommand(annotateCmd)
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	id, err := parseExperimentID(args[0])
	if err != nil {
		return err
	}
	step, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid step number %q", args[1])
	}
	text := strings.Join(args[2:], " ")

	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	if err := database.UpdateStepAnnotation(cmd.Context(), id, step, text); err != nil {
		return err
	}
	if text == "" {
		fmt.Printf("Cleared annotation of step %d\n", step)
	} else {
		fmt.Printf("Annotated step %d\n", step)
	}
	return nil
}
