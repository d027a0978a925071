package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whit3rabbit/phpunmixer/internal/config"
)

var forceOverwrite bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

// configInitCmd writes the default configuration
var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Long:  `Writes every setting with its default value, ./` + config.DefaultConfigFile + ` unless a path is given.`,
	Args:  cobra.MaximumNArgs(1),
	// The file being created must not be required to exist.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		path := config.DefaultConfigFile
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !forceOverwrite {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
		return config.SaveConfig(path)
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&forceOverwrite, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
