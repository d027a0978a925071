package transformer

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// assertPHPLints pipes rewritten code through `php -l` when a PHP binary is
// installed. Without one only the re-parse done by Render has checked it.
func assertPHPLints(t *testing.T, code string) {
	t.Helper()
	php, err := exec.LookPath("php")
	if err != nil {
		t.Log("php binary not found, lint skipped")
		return
	}
	cmd := exec.Command(php, "-l")
	cmd.Stdin = strings.NewReader(code)
	out, err := cmd.CombinedOutput()
	assert.NoError(t, err, "php -l rejected:\n%s\n%s", code, out)
	assert.NotContains(t, string(out), "syntax error", "code:\n%s", code)
}
