package completions

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskcluster/childproc/cmds/root"
)

var shells = map[string]func(cmd *cobra.Command, w io.Writer) error{
	"bash":       func(cmd *cobra.Command, w io.Writer) error { return cmd.GenBashCompletionV2(w, true) },
	"zsh":        (*cobra.Command).GenZshCompletion,
	"fish":       func(cmd *cobra.Command, w io.Writer) error { return cmd.GenFishCompletion(w, true) },
	"powershell": (*cobra.Command).GenPowerShellCompletionWithDesc,
}

func init() {
	completionsCommand := &cobra.Command{
		Use:       "completions <bash|zsh|fish|powershell> [filename]",
		Short:     "Provides a shell completion script.",
		Long:      "Writes a shell completion script to filename, or to standard output.",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE:      genCompletion,
	}
	root.Command.AddCommand(completionsCommand)
}

func genCompletion(cmd *cobra.Command, args []string) error {
	gen, ok := shells[args[0]]
	if !ok {
		return fmt.Errorf("unsupported shell %q", args[0])
	}
	if len(args) == 1 {
		return gen(root.Command, cmd.OutOrStdout())
	}
	f, err := os.Create(args[1])
	if err != nil {
		return err
	}
	if err := gen(root.Command, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
