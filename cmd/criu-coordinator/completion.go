// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"
)

// newCompletionCommand creates the `criu-coordinator completion` command.
func newCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for criu-coordinator.

` + SubtitleStyle.Render("Bash:") + `
  eval "$(criu-coordinator completion bash)"

` + SubtitleStyle.Render("Zsh:") + `
  criu-coordinator completion zsh > "${fpath[1]}/_criu-coordinator"

` + SubtitleStyle.Render("Fish:") + `
  criu-coordinator completion fish > ~/.config/fish/completions/criu-coordinator.fish

` + SubtitleStyle.Render("PowerShell:") + `
  criu-coordinator completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}
