package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/phpunmixer/internal/config"
	"github.com/whit3rabbit/phpunmixer/internal/deobfuscator"
)

func init() {
	config.Testing = true
}

// execute runs the root command with fresh global state.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cfg, logger = nil, nil
	outputFile, outputDir, metricsFile = "", "", ""
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append(args, "--silent"))
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestFileCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("in.php", []byte(`<?php echo base64_decode('aGVsbG8=');`), 0644))

	stdout, _, err := execute(t, "file", "in.php")
	require.NoError(t, err)
	assert.Equal(t, `<?php echo 'hello';`, stdout)

	_, stderr, err := execute(t, "file", "in.php", "-o", "out.php", "--stats", "--diff")
	require.NoError(t, err)
	out, err := os.ReadFile("out.php")
	require.NoError(t, err)
	assert.Equal(t, `<?php echo 'hello';`, string(out))
	assert.Contains(t, stderr, "string-chain")
	assert.Contains(t, stderr, "+ <?php echo 'hello';")

	require.NoError(t, os.WriteFile("bad.php", []byte(`<?php if (`), 0644))
	_, _, err = execute(t, "file", "bad.php")
	require.Error(t, err)
	assert.Contains(t, err.Error(), deobfuscator.StatusParseFailed.String())
}

func TestDirCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.MkdirAll("src/lib", 0755))
	require.NoError(t, os.WriteFile("src/lib/a.php", []byte(`<?php echo strtoupper('x');`), 0644))
	require.NoError(t, os.WriteFile("src/readme.md", []byte("docs"), 0644))

	_, _, err := execute(t, "dir", "src")
	require.Error(t, err, "output directory is required")

	_, _, err = execute(t, "dir", "src", "-o", "out", "--metrics-file", "metrics.prom", "--jobs", "1")
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join("out", "lib", "a.php"))
	require.NoError(t, err)
	assert.Equal(t, `<?php echo 'X';`, string(out))
	assert.FileExists(t, filepath.Join("out", "readme.md"))

	metrics, err := os.ReadFile("metrics.prom")
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "phpunmixer_runs_total")
}

func TestConfigInitCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, config.DefaultConfigFile)

	_, _, err = execute(t, "config", "init")
	assert.Error(t, err, "existing file is not overwritten without --force")

	loaded, err := config.LoadConfig(config.DefaultConfigFile)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Engine, loaded.Engine)
}

func TestPassesCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	stdout, _, err := execute(t, "passes", "--disable-pass", "pure-expression")
	require.NoError(t, err)
	assert.Contains(t, stdout, "dynamic-exec")
	assert.Regexp(t, `pure-expression\s+2\s+false`, stdout)
	assert.Regexp(t, `string-chain\s+10\s+true`, stdout)
}

func TestPrintDirSummary(t *testing.T) {
	summary := &deobfuscator.DirSummary{
		Files: []deobfuscator.FileResult{
			{Path: "a.php", Report: &deobfuscator.Report{Status: deobfuscator.StatusDeobfuscated, Score: 120, Rounds: 3}},
			{Path: "b.txt", Copied: true},
		},
		Skipped:  []string{"vendor"},
		ByStatus: map[deobfuscator.Status]int{deobfuscator.StatusDeobfuscated: 1},
	}
	var buf bytes.Buffer
	printDirSummary(&buf, summary)
	out := buf.String()
	assert.Contains(t, out, "a.php")
	assert.Contains(t, out, "copied")
	assert.Contains(t, out, "120")
	assert.Contains(t, out, "skipped: vendor")
}
