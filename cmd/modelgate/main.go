// Command modelgate runs the LLM gateway: provider routing with
// fallback chains, workflow execution, semantic caching, budget
// enforcement, and webhook event delivery.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "modelgate",
		Short:         "LLM gateway with chains, workflows, semantic caching, and budgets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
