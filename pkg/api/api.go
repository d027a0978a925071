// Package api provides the public API for using the PHP deobfuscator as a library.
//
// This package allows users to deobfuscate PHP code programmatically with the
// same passes the command-line interface runs. The API provides methods for
// deobfuscating PHP code strings, files, and directories.
//
// Basic usage example:
//
//	d, err := api.NewDeobfuscator(api.Options{ConfigPath: "phpunmixer.yaml"})
//	if err != nil {
//	    log.Fatalf("Failed to create deobfuscator: %v", err)
//	}
//
//	result, err := d.DeobfuscateCode(`<?php echo base64_decode('aGVsbG8=');`)
//	if err != nil {
//	    log.Fatalf("Failed to deobfuscate code: %v", err)
//	}
//
//	fmt.Println(result.Code) // Prints <?php echo 'hello';
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/whit3rabbit/phpunmixer/internal/config"
	"github.com/whit3rabbit/phpunmixer/internal/deobfuscator"
)

// PrintInfo prints formatted information to stdout, respecting the Testing flag.
// This function forwards to the internal config.PrintInfo function.
func PrintInfo(format string, args ...interface{}) {
	config.PrintInfo(format, args...)
}

// Deobfuscator is the main engine. It is safe for concurrent use.
type Deobfuscator struct {
	// Config holds the settings the deobfuscator was created with
	Config *config.Config

	session *deobfuscator.Session
}

// Options represents configuration options for creating a new Deobfuscator instance.
type Options struct {
	// ConfigPath is the path to a YAML configuration file
	// If empty, ./phpunmixer.yaml is used when present, defaults otherwise
	ConfigPath string

	// Silent suppresses informational log output
	Silent bool

	// DisabledPasses lists pass names to turn off in addition to the config file
	DisabledPasses []string

	// Logger receives structured logs; nil builds one from the configuration
	// writing to LogOutput
	Logger *slog.Logger

	// LogOutput is where the default logger writes, os.Stderr when nil
	LogOutput io.Writer
}

// Result is the outcome of deobfuscating one piece of code.
type Result struct {
	// Code is the rewritten source, or the input unchanged when nothing applied
	Code string
	// Status is the human-readable classification of the run
	Status string
	// Changed reports whether Code differs from the input
	Changed bool
	Score   int
	Rounds  int
	// Intercepted holds literal payloads of eval, assert and create_function found in the input
	Intercepted []string

	// Report is the full run report
	Report *deobfuscator.Report
}

// NewDeobfuscator creates a new Deobfuscator instance using the provided options.
//
// Returns an error if the configuration cannot be loaded or is invalid.
func NewDeobfuscator(options Options) (*Deobfuscator, error) {
	cfg, err := config.LoadConfig(options.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if options.Silent {
		cfg.Silent = true
	}
	cfg.Passes.Disabled = append(cfg.Passes.Disabled, options.DisabledPasses...)

	logger := options.Logger
	if logger == nil {
		logger = config.NewLogger(cfg, options.LogOutput)
	}
	session, err := deobfuscator.NewSession(cfg, deobfuscator.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create deobfuscation session: %w", err)
	}
	return &Deobfuscator{Config: cfg, session: session}, nil
}

// DeobfuscateCode deobfuscates a string of PHP code.
//
// Returns an error wrapping the parse or render failure when no output could be
// produced. Reaching the round cap is not an error.
func (d *Deobfuscator) DeobfuscateCode(code string) (*Result, error) {
	return d.DeobfuscateCodeContext(context.Background(), code)
}

// DeobfuscateCodeContext is DeobfuscateCode with cancellation between optimizer rounds.
func (d *Deobfuscator) DeobfuscateCodeContext(ctx context.Context, code string) (*Result, error) {
	rep := d.session.Run(ctx, []byte(code))
	return toResult(rep, code)
}

// DeobfuscateFile deobfuscates a PHP file and returns the result.
func (d *Deobfuscator) DeobfuscateFile(filePath string) (*Result, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	rep := d.session.Run(context.Background(), src)
	rep.Source = filePath
	res, err := toResult(rep, string(src))
	if err != nil {
		return res, fmt.Errorf("failed to deobfuscate file %s: %w", filePath, err)
	}
	return res, nil
}

// DeobfuscateFileToFile deobfuscates a PHP file and writes the result to another file.
//
// The output directory is created if it doesn't exist.
func (d *Deobfuscator) DeobfuscateFileToFile(inputPath, outputPath string) (*Result, error) {
	res, err := d.DeobfuscateFile(inputPath)
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return res, fmt.Errorf("failed to create output directory for %s: %w", outputPath, err)
	}
	if err := os.WriteFile(outputPath, []byte(res.Code), 0644); err != nil {
		return res, fmt.Errorf("failed to write output to %s: %w", outputPath, err)
	}
	PrintInfo("Processed: %s -> %s\n", inputPath, outputPath)
	return res, nil
}

// DirectoryResult summarizes a directory run.
type DirectoryResult struct {
	Files        int
	Copied       int
	Deobfuscated int
	Failed       int
	Score        int
	Summary      *deobfuscator.DirSummary
}

// DeobfuscateDirectory deobfuscates all PHP files in a directory recursively.
//
// It mirrors inputDir into outputDir: PHP files are rewritten, other files and
// files that fail to parse are copied, and paths matching the configuration's
// skip list are left out. Files are processed in parallel, Config.Jobs at a time.
func (d *Deobfuscator) DeobfuscateDirectory(inputDir, outputDir string) (*DirectoryResult, error) {
	summary, err := d.session.RunDirectory(context.Background(), inputDir, outputDir, d.Config.Jobs, nil)
	if summary == nil {
		return nil, err
	}
	res := &DirectoryResult{Summary: summary, Score: summary.Score()}
	for _, f := range summary.Files {
		res.Files++
		switch {
		case f.Copied:
			res.Copied++
		case f.Report.Status.Failed():
			res.Failed++
		case f.Report.Changed():
			res.Deobfuscated++
		}
	}
	return res, err
}

func toResult(rep *deobfuscator.Report, input string) (*Result, error) {
	res := &Result{
		Code:    input,
		Status:  rep.Status.String(),
		Score:   rep.Score,
		Rounds:  rep.Rounds,
		Changed: rep.Changed(),
		Report:  rep,
	}
	for _, ic := range rep.Intercepted {
		res.Intercepted = append(res.Intercepted, ic.Payload)
	}
	if rep.Status.Failed() {
		return res, fmt.Errorf("%s: %w", rep.Status, rep.Err)
	}
	res.Code = rep.TextAfter
	return res, nil
}
