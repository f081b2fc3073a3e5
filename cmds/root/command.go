// Package root defines the root of the application command tree.
package root

import (
	"github.com/spf13/cobra"
)

var (
	// Command is the root of the command tree.
	Command = setUpRootCmd()
)

// Setup persistent flags, pre-run and return root command
func setUpRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "childproc",
		Short: "Launch and supervise a child process.",
		Long: "childproc launches a child process with optionally redirected standard\n" +
			"streams, relays its output and exits with the child's exit code.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := rootCmd.PersistentFlags()
	verbose := flags.BoolP("verbose", "v", false, "verbose output")
	logFormat := flags.String("log-format", "", "log format: text, json or mozlog (default: from config, else text)")
	syslogAddr := flags.String("syslog-addr", "", "also send logs to the syslog daemon at this UDP address")

	// function to run before every subcommand
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return setUpLogs(*verbose, *logFormat, *syslogAddr)
	}

	return rootCmd
}
