package command

import (
	"fmt"

	"github.com/adamavenir/cogdbg/internal/sandbox"
	"github.com/spf13/cobra"
)

// NewSandboxProfileCmd renders the confinement policy for a project
// directory in whichever platform's native syntax --os selects, so an
// operator can inspect or hand-install it without launching a session.
func NewSandboxProfileCmd() *cobra.Command {
	var (
		osFlag       string
		allowWrite   []string
		allowNetwork bool
	)

	cmd := &cobra.Command{
		Use:   "sandbox-profile <dir>",
		Short: "Print the generated sandbox confinement profile for a project directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := sandbox.Policy{ProjectDir: args[0], AllowWrite: allowWrite, AllowNetwork: allowNetwork}

			switch osFlag {
			case "darwin":
				fmt.Fprintln(cmd.OutOrStdout(), sandbox.GenerateDarwinProfile(policy))
			case "linux":
				for _, rule := range sandbox.GenerateLandlockRules(policy) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s access=0x%x\n", rule.Path, rule.Access)
				}
			default:
				return fmt.Errorf("unsupported --os %q: must be darwin or linux", osFlag)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&osFlag, "os", "linux", "target platform (darwin or linux)")
	cmd.Flags().StringSliceVar(&allowWrite, "allow-write", nil, "additional writable path (repeatable)")
	cmd.Flags().BoolVar(&allowNetwork, "allow-network", false, "recorded on the policy; the printed profile stays loopback-only either way")

	return cmd
}
