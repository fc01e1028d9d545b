package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caseflow/caseflow/pkg/version"
)

func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "caseflow %s (%s, built %s)\n",
				info.Version, info.CommitHash, info.BuildDate)
		},
	}
}
