package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCmd prints the build version.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cogdbg version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", AppName, Version)
			return nil
		},
	}
}
