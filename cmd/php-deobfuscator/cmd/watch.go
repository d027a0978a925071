package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whit3rabbit/phpunmixer/internal/deobfuscator"
)

var (
	watchOutputDir string
	watchDebounce  int
)

// watchCmd re-runs deobfuscation on every write
var watchCmd = &cobra.Command{
	Use:   "watch <path>",
	Short: "Deobfuscate PHP files again whenever they change",
	Long: `Watches a PHP file or a directory tree and deobfuscates each PHP file after
it is created or written. Results go to --output (mirroring the watched tree) or,
without it, only the status line is printed. Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cmd.SilenceUsage = true
		root := args[0]
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("cannot watch %s: %w", root, err)
		}
		base := root
		if !info.IsDir() {
			base = filepath.Dir(root)
		}

		session, err := deobfuscator.NewSession(cfg, deobfuscator.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to initialize deobfuscation session: %w", err)
		}
		w, err := deobfuscator.NewWatcher(session, msDuration(watchDebounce))
		if err != nil {
			return err
		}
		defer w.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stderr := cmd.ErrOrStderr()
		return w.Watch(ctx, root, func(path string, rep *deobfuscator.Report) {
			printStatus(stderr, path, rep)
			if watchOutputDir == "" || rep.Status.Failed() {
				return
			}
			rel, err := filepath.Rel(base, path)
			if err != nil {
				logger.Warn("Cannot map file into output directory", "path", path, "error", err)
				return
			}
			target := filepath.Join(watchOutputDir, rel)
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				logger.Warn("Cannot create output directory", "path", target, "error", err)
				return
			}
			if err := os.WriteFile(target, []byte(rep.TextAfter), 0644); err != nil {
				logger.Warn("Cannot write output", "path", target, "error", err)
			}
		})
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputDir, "output", "o", "", "Directory to write deobfuscated files to")
	watchCmd.Flags().IntVar(&watchDebounce, "debounce", 200, "Milliseconds a file must stay unchanged before it is processed")
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
