// Package command implements cogdbg's CLI surface: a small set of cobra
// commands wrapping the stdio gateway (internal/rpc), the sandbox profile
// generator (internal/sandbox), and a version printer, following the
// cobra conventions the rest of this codebase's command layer used.
package command

import (
	"os"

	"github.com/spf13/cobra"
)

// AppName is the binary name as cobra presents it in usage text.
const AppName = "cogdbg"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// NewRootCmd builds the root command tree.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "cogdbg - agent-facing debugging gateway",
		Long:          "cogdbg exposes breakpoint, step, and inspect operations over a JSON-RPC tool surface so an agent can debug a running program without shelling out to an interactive debugger.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return NewServeCmd().RunE(cmd, args)
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.AddCommand(
		NewServeCmd(),
		NewVersionCmd(),
		NewSandboxProfileCmd(),
	)

	return cmd
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd(Version).Execute()
}
