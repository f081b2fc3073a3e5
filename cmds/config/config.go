// Package config implements the config subcommands, which inspect and
// create childproc configuration files.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskcluster/childproc/cmds/root"
	cfg "github.com/taskcluster/childproc/config"
)

var (
	// Command is the cobra command representing the config subtree.
	Command = &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files.",
	}

	showCommand = &cobra.Command{
		Use:   "show",
		Short: "Prints the effective configuration.",
		Args:  cobra.NoArgs,
		RunE:  show,
	}

	initCommand = &cobra.Command{
		Use:   "init",
		Short: "Writes a configuration file holding the defaults.",
		Args:  cobra.NoArgs,
		RunE:  initConfig,
	}
)

func init() {
	Command.PersistentFlags().StringP("config", "c", "", "configuration file (default "+cfg.DefaultPath()+")")
	initCommand.Flags().Bool("force", false, "overwrite an existing file")
	Command.AddCommand(showCommand, initCommand)
	root.Command.AddCommand(Command)
}

func show(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := cfg.Load(path, nil)
	if err != nil {
		return err
	}
	return c.Show(cmd.OutOrStdout())
}

func initConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = cfg.DefaultPath()
	}
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists, use --force to overwrite it", path)
	}
	if err := cfg.Defaults().Save(path); err != nil {
		return err
	}
	root.Logger.WithField("path", path).Info("Wrote default configuration")
	return nil
}
