package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <experiment-id>",
	Short: "Delete an experiment and all of its data",
	Long: `Delete an experiment with its steps, measurements and processed-file
records. The source files can be ingested again afterwards.

Examples:
  batteryetl delete 12
  batteryetl delete 12 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Do not ask for confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
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

	if !deleteForce {
		count, err := database.CountMeasurements(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to count measurements: %w", err)
		}
		fmt.Printf("Delete %q with %s measurements? [y/N] ", exp.Name, humanize.Comma(int64(count)))
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := database.DeleteExperiment(ctx, id); err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	logger.InfoContext(ctx, "experiment_deleted", "experiment_id", id, "name", exp.Name)
	fmt.Printf("Deleted experiment %d (%s)\n", id, exp.Name)
	return nil
}
