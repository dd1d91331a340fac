package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "docuquery %s (commit %s, built %s)\n",
				o.build.Version, o.build.Commit, o.build.Date)
			return err
		},
	}
}
