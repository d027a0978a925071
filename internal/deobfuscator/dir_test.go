package deobfuscator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunDirectory(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{
		"index.php":          `<?php echo 'aGVsbG8=';`,
		"lib/decode.php":     `<?php echo strrev('cba');`,
		"lib/broken.php":     `<?php function (`,
		"assets/readme.txt":  "not php",
		"vendor/pkg/dep.php": `<?php echo 'aGVsbG8=';`,
		"old.php.bak":        "backup",
	})

	var seen int
	s := newTestSession(t, nil)
	summary, err := s.RunDirectory(context.Background(), src, dst, 2, func(FileResult) { seen++ })
	require.NoError(t, err)

	assert.Equal(t, `<?php echo 'hello';`, readFile(t, filepath.Join(dst, "index.php")))
	assert.Equal(t, `<?php echo 'abc';`, readFile(t, filepath.Join(dst, "lib", "decode.php")))
	assert.Equal(t, `<?php function (`, readFile(t, filepath.Join(dst, "lib", "broken.php")), "failed runs are copied")
	assert.Equal(t, "not php", readFile(t, filepath.Join(dst, "assets", "readme.txt")))
	assert.NoFileExists(t, filepath.Join(dst, "vendor", "pkg", "dep.php"))
	assert.NoFileExists(t, filepath.Join(dst, "old.php.bak"))

	require.Len(t, summary.Files, 4)
	assert.Equal(t, 4, seen)
	assert.Equal(t, "assets/readme.txt", filepath.ToSlash(summary.Files[0].Path))
	assert.True(t, summary.Files[0].Copied)
	assert.Equal(t, 1, summary.ByStatus[StatusParseFailed])
	assert.Equal(t, 2, summary.ByStatus[StatusDeobfuscatedMinor])
	assert.Equal(t, 10, summary.Score())
	assert.Contains(t, summary.Skipped, filepath.Join("vendor", "pkg"))
}

func TestRunDirectoryRejectsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.php")
	require.NoError(t, os.WriteFile(file, []byte("<?php"), 0644))

	_, err := newTestSession(t, nil).RunDirectory(context.Background(), file, t.TempDir(), 1, nil)
	assert.Error(t, err)
}

func TestRunDirectoryIgnoresSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping symlink tests on Windows")
	}
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"real/test.php": `<?php echo 'x';`})
	require.NoError(t, os.Symlink(filepath.Join(src, "real"), filepath.Join(src, "link-dir")))
	require.NoError(t, os.Symlink(filepath.Join(src, "real", "test.php"), filepath.Join(src, "link.php")))

	summary, err := newTestSession(t, nil).RunDirectory(context.Background(), src, dst, 0, nil)
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	assert.FileExists(t, filepath.Join(dst, "real", "test.php"))
	assert.NoFileExists(t, filepath.Join(dst, "link.php"))
	assert.NoDirExists(t, filepath.Join(dst, "link-dir"))
}

func TestShouldSkipPath(t *testing.T) {
	patterns := []string{"vendor/*", "*.git*", "*.bak"}
	tests := []struct {
		path string
		want bool
	}{
		{"vendor/autoload.php", true},
		{"vendor", false},
		{".git", true},
		{"src/.gitignore", true},
		{"src/cache.bak", true},
		{"src/index.php", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldSkipPath(tt.path, patterns))
		})
	}
}
