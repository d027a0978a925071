package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whit3rabbit/phpunmixer/internal/deobfuscator"
)

var (
	outputFile string
	showDiff   bool
	showDump   bool
	showStats  bool
)

// fileCmd deobfuscates one file
var fileCmd = &cobra.Command{
	Use:   "file <php_file_path>",
	Short: "Deobfuscate a single PHP file",
	Long: `Reads a single PHP file, runs the enabled passes until the code stops
changing, and writes the result to stdout or a specified file. The status line,
diff, tree dumps and pass statistics go to stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cmd.SilenceUsage = true
		filePath := args[0]

		if cmd.Flags().Changed("diff") {
			cfg.Output.Diff = showDiff
		}
		if cmd.Flags().Changed("dump") {
			cfg.Output.Dump = showDump
		}
		if cmd.Flags().Changed("stats") {
			cfg.Output.Stats = showStats
		}

		session, err := deobfuscator.NewSession(cfg, deobfuscator.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to initialize deobfuscation session: %w", err)
		}
		rep, err := session.RunFile(cmd.Context(), filePath)
		if err != nil {
			return err
		}

		stderr := cmd.ErrOrStderr()
		if rep.Status.Failed() {
			printStatus(stderr, filePath, rep)
			return fmt.Errorf("%s: %w", rep.Status, rep.Err)
		}
		if cfg.Output.Dump {
			fmt.Fprintf(stderr, "--- tree before ---\n%s\n--- tree after ---\n%s\n", rep.TreeBefore, rep.TreeAfter)
		}
		if cfg.Output.Diff {
			printDiff(stderr, rep)
		}
		if cfg.Output.Stats {
			printStats(stderr, rep)
		}
		if !cfg.Silent {
			printStatus(stderr, filePath, rep)
		}

		if outputFile != "" {
			if err := os.WriteFile(outputFile, []byte(rep.TextAfter), 0644); err != nil {
				return fmt.Errorf("error writing to output file %s: %w", outputFile, err)
			}
			logger.Info("Output written", "path", outputFile, "run", rep.ID)
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), rep.TextAfter)
		return nil
	},
}

func init() {
	fileCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: stdout)")
	fileCmd.Flags().BoolVar(&showDiff, "diff", false, "Print a line diff of the changes")
	fileCmd.Flags().BoolVar(&showDump, "dump", false, "Print the syntax tree before and after")
	fileCmd.Flags().BoolVar(&showStats, "stats", false, "Print per-pass statistics and intercepted payloads")
}
