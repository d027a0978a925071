package deobfuscator

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Status is the terminal classification of a run.
type Status int

const (
	StatusParseFailed Status = iota
	StatusResultUnparseFailed
	StatusNoChange
	StatusDeobfuscated
	StatusDeobfuscatedMinor
)

func (s Status) String() string {
	switch s {
	case StatusParseFailed:
		return "Error to parse source file"
	case StatusResultUnparseFailed:
		return "Error to parse deobfuscated ast"
	case StatusNoChange:
		return "No changes"
	case StatusDeobfuscated:
		return "Deobfuscated"
	case StatusDeobfuscatedMinor:
		return "Changed, but cannot be count as obfuscation"
	}
	return "Unknown"
}

// Label is a short machine-friendly name, used for metrics and summaries.
func (s Status) Label() string {
	switch s {
	case StatusParseFailed:
		return "parse_failed"
	case StatusResultUnparseFailed:
		return "render_failed"
	case StatusNoChange:
		return "no_change"
	case StatusDeobfuscated:
		return "deobfuscated"
	case StatusDeobfuscatedMinor:
		return "minor"
	}
	return "unknown"
}

// Failed reports whether the run could not produce output text.
func (s Status) Failed() bool {
	return s == StatusParseFailed || s == StatusResultUnparseFailed
}

// Classify derives the status of a run that parsed and rendered.
func Classify(score, threshold int, before, after string) Status {
	switch {
	case score == 0 && before == after:
		return StatusNoChange
	case score >= threshold:
		return StatusDeobfuscated
	case before != after:
		return StatusDeobfuscatedMinor
	}
	return StatusNoChange
}

// DumpOmitted stands in for a tree dump too large to keep in a report.
const DumpOmitted = "<tree dump omitted: tree too large>"

// Report holds everything a run produced. Fields past the failure point of a failed
// run are left empty.
type Report struct {
	ID         string
	Source     string
	TreeBefore string
	TreeAfter  string
	TextBefore string
	TextAfter  string
	Status     Status
	Score      int
	Rounds     int
	Calls      int64
	Decoded    int
	CapReached bool

	Passes      []PassTotal
	History     []RoundStats
	Intercepted []Interception

	// Err is the parse or render failure behind a failed status, ErrIterationCap
	// for a capped run, or the context error for a cancelled one.
	Err error
}

// Changed reports whether the output text differs from the input.
func (r *Report) Changed() bool {
	return !r.Status.Failed() && r.TextBefore != r.TextAfter
}

// Diff returns a line diff of the text before and after the run. Removed lines start
// with "- ", added lines with "+ " and unchanged lines with two spaces.
func (r *Report) Diff() string {
	if r.Status.Failed() {
		return ""
	}
	return LineDiff(r.TextBefore, r.TextAfter)
}

// LineDiff computes a line-oriented diff of a and b.
func LineDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}
