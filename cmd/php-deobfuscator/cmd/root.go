// Package cmd implements the command line interface for the application.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/whit3rabbit/phpunmixer/internal/config"
)

var (
	cfgFile string         // config file path from the flag
	cfg     *config.Config // loaded configuration
	logger  *slog.Logger

	// Flag variables mapped to config fields for override
	silentMode     bool     // -> cfg.Silent
	debugMode      bool     // -> cfg.DebugMode
	parserMode     string   // -> cfg.ParserMode
	disabledPasses []string // -> cfg.Passes.Disabled
	maxRounds      int      // -> cfg.Engine.MaxRounds
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "php-deobfuscator",
	Short: "A CLI tool to recover readable PHP from obfuscated sources.",
	Long: `php-deobfuscator folds string function chains, applies decoder functions
defined in the file itself, unpacks eval/assert/create_function payloads and
evaluates constant expressions until the code stops changing.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg != nil {
			return nil
		}
		loadedCfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}
		applyFlagOverrides(loadedCfg, cmd)
		if err := loadedCfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loadedCfg
		logger = config.NewLogger(cfg, os.Stderr)
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// applyFlagOverrides applies command-line flag values to the config struct.
// Only flags set explicitly by the user override the file.
func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command) {
	if cmd.Flags().Changed("silent") {
		cfg.Silent = silentMode
	}
	if cmd.Flags().Changed("debug") {
		cfg.DebugMode = debugMode
	}
	if cmd.Flags().Changed("parser-mode") {
		cfg.ParserMode = parserMode
	}
	if cmd.Flags().Changed("disable-pass") {
		cfg.Passes.Disabled = append(cfg.Passes.Disabled, disabledPasses...)
	}
	if cmd.Flags().Changed("max-rounds") {
		cfg.Engine.MaxRounds = maxRounds
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./"+config.DefaultConfigFile+")")

	rootCmd.PersistentFlags().BoolVarP(&silentMode, "silent", "s", false, "Suppress informational output (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Log every replacement and pass failure (overrides config)")
	rootCmd.PersistentFlags().StringVar(&parserMode, "parser-mode", "", "PHP grammar: PREFER_PHP7, ONLY_PHP8, ... (overrides config)")
	rootCmd.PersistentFlags().StringSliceVar(&disabledPasses, "disable-pass", nil, "Pass to turn off, repeatable (adds to config)")
	rootCmd.PersistentFlags().IntVar(&maxRounds, "max-rounds", 0, "Maximum optimizer rounds per file (overrides config)")

	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(dirCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(passesCmd)
}
