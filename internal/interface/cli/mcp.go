package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neilberkman/batteryetl/cmd/batteryetl/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start MCP server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio exposing the
experiment database and file validation as tools:

  list_experiments   filter stored experiments
  get_experiment     metadata, counts and steps of one experiment
  validate_files     preview a step/detail export pair without storing it

Configure in the client's config file:
  {
    "mcpServers": {
      "batteryetl": {
        "command": "batteryetl",
        "args": ["serve-mcp"]
      }
    }
  }

Logs go to the configured log sink; stdout carries the protocol.
`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	if err := mcp.StartServer(cfg, logger); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
