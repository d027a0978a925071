package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/whit3rabbit/phpunmixer/internal/deobfuscator"
)

var (
	outputDir   string
	jobs        int
	metricsFile string
	cleanMode   bool
)

// dirCmd deobfuscates a directory tree
var dirCmd = &cobra.Command{
	Use:   "dir <source_directory>",
	Short: "Deobfuscate PHP code in a directory recursively",
	Long: `Recursively scans the source directory for PHP files (based on configured extensions),
deobfuscates them in parallel and mirrors the tree into the target directory.
Other files, and files that cannot be deobfuscated, are copied unchanged.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if outputDir == "" {
			return fmt.Errorf("output directory (-o, --output) is required for directory deobfuscation")
		}
		sourceDir := args[0]
		info, err := os.Stat(sourceDir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("source directory '%s' not found", sourceDir)
			}
			return fmt.Errorf("error checking source directory '%s': %w", sourceDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("source path '%s' is not a directory", sourceDir)
		}
		absSrc, _ := filepath.Abs(sourceDir)
		absDst, _ := filepath.Abs(outputDir)
		if absSrc == absDst {
			return fmt.Errorf("output directory must differ from the source directory")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cmd.SilenceUsage = true
		sourceDir := args[0]
		if cmd.Flags().Changed("jobs") {
			cfg.Jobs = jobs
		}

		if cleanMode {
			logger.Info("Cleaning output directory", "path", outputDir)
			if err := os.RemoveAll(outputDir); err != nil {
				return fmt.Errorf("failed to clean output directory %s: %w", outputDir, err)
			}
		}

		reg := prometheus.NewRegistry()
		session, err := deobfuscator.NewSession(cfg,
			deobfuscator.WithLogger(logger),
			deobfuscator.WithMetrics(deobfuscator.NewMetrics(reg)),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize deobfuscation session: %w", err)
		}

		stderr := cmd.ErrOrStderr()
		summary, err := session.RunDirectory(cmd.Context(), sourceDir, outputDir, cfg.Jobs, func(f deobfuscator.FileResult) {
			if f.Report != nil && !cfg.Silent {
				printStatus(stderr, f.Path, f.Report)
			}
		})
		if summary != nil && !cfg.Silent {
			printDirSummary(cmd.OutOrStdout(), summary)
		}
		if metricsFile != "" {
			if werr := prometheus.WriteToTextfile(metricsFile, reg); werr != nil {
				logger.Warn("Cannot write metrics file", "path", metricsFile, "error", werr)
			}
		}
		if err != nil {
			return fmt.Errorf("directory deobfuscation failed: %w", err)
		}
		return nil
	},
}

func init() {
	dirCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (required)")
	dirCmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Files processed in parallel, 0 for one per CPU (overrides config)")
	dirCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics of the run to this file")
	dirCmd.Flags().BoolVar(&cleanMode, "clean", false, "Remove the output directory before writing")
}
