package deobfuscator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FileResult is the outcome for one file of a directory run. Report is nil for
// files that were copied unchanged.
type FileResult struct {
	Path   string
	Report *Report
	Copied bool
}

// DirSummary collects the results of a directory run, sorted by path.
type DirSummary struct {
	Files    []FileResult
	Skipped  []string
	ByStatus map[Status]int
}

// Score sums the scores of every deobfuscated file.
func (d *DirSummary) Score() int {
	total := 0
	for _, f := range d.Files {
		if f.Report != nil {
			total += f.Report.Score
		}
	}
	return total
}

// RunDirectory deobfuscates every PHP file under srcDir into the same relative path
// under dstDir, copying other files as they are. Files whose run fails are copied
// too, so dstDir always mirrors srcDir. Up to jobs files are processed at once; 0
// means one per CPU. onFile, when set, is called once per file from a single
// goroutine at a time. Only I/O errors abort the walk.
func (s *Session) RunDirectory(ctx context.Context, srcDir, dstDir string, jobs int, onFile func(FileResult)) (*DirSummary, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input directory %s: %w", srcDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", srcDir)
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dstDir, err)
	}
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	summary := &DirSummary{ByStatus: make(map[Status]int)}
	var mu sync.Mutex
	record := func(r FileResult) {
		mu.Lock()
		defer mu.Unlock()
		summary.Files = append(summary.Files, r)
		if r.Report != nil {
			summary.ByStatus[r.Report.Status]++
		}
		if onFile != nil {
			onFile(r)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if ShouldSkipPath(rel, s.cfg.SkipPaths) {
			s.logger.Debug("Skipping path (matches skiplist)", "path", rel)
			summary.Skipped = append(summary.Skipped, rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dstDir, rel)
		if d.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create output directory %s: %w", target, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		g.Go(func() error {
			if !s.cfg.IsPHPFile(path) {
				if err := copyFile(path, target); err != nil {
					return err
				}
				record(FileResult{Path: rel, Copied: true})
				return nil
			}
			rep, err := s.RunFile(gctx, path)
			if err != nil {
				return err
			}
			if rep.Status.Failed() {
				s.logger.Warn("Copying file unchanged", "path", rel, "status", rep.Status.Label(), "error", rep.Err)
				if err := copyFile(path, target); err != nil {
					return err
				}
			} else if err := os.WriteFile(target, []byte(rep.TextAfter), 0644); err != nil {
				return fmt.Errorf("failed to write output to %s: %w", target, err)
			}
			record(FileResult{Path: rel, Report: rep})
			return nil
		})
		return nil
	})

	groupErr := g.Wait()
	sort.Slice(summary.Files, func(i, j int) bool { return summary.Files[i].Path < summary.Files[j].Path })
	if groupErr != nil {
		return summary, groupErr
	}
	if walkErr != nil {
		return summary, fmt.Errorf("failed to walk %s: %w", srcDir, walkErr)
	}
	return summary, nil
}

// ShouldSkipPath reports whether a slash- or OS-separated relative path matches one
// of the glob patterns, either as a whole or by its base name.
func ShouldSkipPath(rel string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, rel); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(pattern, base); err == nil && ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := os.WriteFile(dst, content, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", dst, err)
	}
	return nil
}
