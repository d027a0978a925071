package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/whit3rabbit/phpunmixer/internal/deobfuscator"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	minorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	plainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	addedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	removeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func statusStyle(s deobfuscator.Status) lipgloss.Style {
	switch s {
	case deobfuscator.StatusDeobfuscated:
		return okStyle
	case deobfuscator.StatusDeobfuscatedMinor:
		return minorStyle
	case deobfuscator.StatusNoChange:
		return plainStyle
	default:
		return failStyle
	}
}

// printStatus writes one coloured status line for a report.
func printStatus(w io.Writer, path string, rep *deobfuscator.Report) {
	line := fmt.Sprintf("%s (score %d, %d rounds)", rep.Status, rep.Score, rep.Rounds)
	if rep.CapReached {
		line += " [round cap reached]"
	}
	fmt.Fprintf(w, "%s: %s\n", path, statusStyle(rep.Status).Render(line))
}

// printDiff writes the line diff of a report, colouring added and removed lines.
func printDiff(w io.Writer, rep *deobfuscator.Report) {
	for _, line := range strings.SplitAfter(rep.Diff(), "\n") {
		switch {
		case strings.HasPrefix(line, "+ "):
			fmt.Fprint(w, addedStyle.Render(strings.TrimSuffix(line, "\n"))+"\n")
		case strings.HasPrefix(line, "- "):
			fmt.Fprint(w, removeStyle.Render(strings.TrimSuffix(line, "\n"))+"\n")
		default:
			fmt.Fprint(w, line)
		}
	}
}

// printStats renders the per-pass totals of a report as a table.
func printStats(w io.Writer, rep *deobfuscator.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Pass", "Weight", "Runs", "Replacements", "Score", "Failures"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, p := range rep.Passes {
		table.Append([]string{
			p.Name,
			strconv.Itoa(p.Weight),
			strconv.Itoa(p.Runs),
			strconv.Itoa(p.Replacements),
			strconv.Itoa(p.Score),
			strconv.Itoa(p.Failures),
		})
	}
	table.SetFooter([]string{"", "", "", "decoded " + strconv.Itoa(rep.Decoded), "total " + strconv.Itoa(rep.Score), ""})
	table.Render()

	for _, ic := range rep.Intercepted {
		compiles := "compiles"
		if !ic.Compiles {
			compiles = "does not compile"
		}
		fmt.Fprintf(w, "intercepted %s payload on line %d (%s): %q\n", ic.Construct, ic.Line, compiles, ic.Payload)
	}
}

// printDirSummary renders one row per processed file and the status totals.
func printDirSummary(w io.Writer, summary *deobfuscator.DirSummary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Status", "Score", "Rounds"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, f := range summary.Files {
		if f.Report == nil {
			table.Append([]string{f.Path, "copied", "", ""})
			continue
		}
		table.Append([]string{
			f.Path,
			f.Report.Status.Label(),
			strconv.Itoa(f.Report.Score),
			strconv.Itoa(f.Report.Rounds),
		})
	}
	table.SetFooter([]string{strconv.Itoa(len(summary.Files)) + " files", "", strconv.Itoa(summary.Score()), ""})
	table.Render()

	statuses := []deobfuscator.Status{
		deobfuscator.StatusDeobfuscated,
		deobfuscator.StatusDeobfuscatedMinor,
		deobfuscator.StatusNoChange,
		deobfuscator.StatusParseFailed,
		deobfuscator.StatusResultUnparseFailed,
	}
	for _, s := range statuses {
		if n := summary.ByStatus[s]; n > 0 {
			fmt.Fprintf(w, "%s: %d\n", statusStyle(s).Render(s.String()), n)
		}
	}
	if len(summary.Skipped) > 0 {
		fmt.Fprintf(w, "skipped: %s\n", strings.Join(summary.Skipped, ", "))
	}
}
