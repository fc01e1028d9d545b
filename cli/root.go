// Package cli assembles the caseflow command tree.
package cli

import (
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "caseflow",
		Short: "Caseflow workflow engine",
		Long:  "Caseflow executes workflow specifications as cases and serves their work items over HTTP.",
	}
	root.AddCommand(
		ServeCmd(),
		VersionCmd(),
	)
	return root
}
