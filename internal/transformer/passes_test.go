package transformer

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runPass(t *testing.T, name, code string) (string, Stats) {
	t.Helper()
	d, ok := DefaultRegistry().Lookup(name)
	require.True(t, ok, "pass %s not registered", name)
	root := parseCode(t, code)
	out, stats, err := Run(d, newTestEnv(root))
	require.NoError(t, err)
	return render(t, out), stats
}

func TestStringChainPass(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "nested replace chain",
			input: `<?php echo str_replace('-', '+', str_replace('_', '-', 'A_B'));`,
			want:  `<?php echo 'A+B';`,
		},
		{
			name:  "single decoder call",
			input: `<?php $s = base64_decode('aGVsbG8=');`,
			want:  `<?php $s = 'hello';`,
		},
		{
			name:  "mixed decoders",
			input: `<?php $s = strrev(str_rot13(base64_decode('Ynl5cnU=')));`,
			want:  `<?php $s = 'hello';`,
		},
		{
			name:  "no-op replacement is skipped",
			input: `<?php $s = str_replace('x', 'x', strrev('cba'));`,
			want:  `<?php $s = 'abc';`,
		},
		{
			name:  "non-literal argument blocks folding",
			input: `<?php $s = str_replace($a, 'b', str_replace('_', '-', 'A_B'));`,
			want:  `<?php $s = str_replace($a, 'b', 'A-B');`,
		},
		{
			name:  "non-literal subject blocks folding",
			input: `<?php $s = strrev(strtoupper($x));`,
			want:  `<?php $s = strrev(strtoupper($x));`,
		},
		{
			name:  "binary result is quoted",
			input: `<?php $s = hex2bin('00ff');`,
			want:  `<?php $s = "\x00\xff";`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _ := runPass(t, StringChainPass, tt.input)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestStringChainFoldingMatchesSequentialReplace(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const alphabet = "abcd_"
	word := func(minLen, maxLen int) string {
		n := minLen + rng.Intn(maxLen-minLen+1)
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteByte(alphabet[rng.Intn(len(alphabet))])
		}
		return sb.String()
	}

	for i := 0; i < 50; i++ {
		subject := word(1, 12)
		expr := fmt.Sprintf("'%s'", subject)
		want := subject
		for j := 0; j < 1+rng.Intn(5); j++ {
			search, replace := word(1, 2), word(0, 3)
			expr = fmt.Sprintf("str_replace('%s', '%s', %s)", search, replace, expr)
			want = strings.ReplaceAll(want, search, replace)
		}
		t.Run(fmt.Sprintf("chain_%d", i), func(t *testing.T) {
			out, _ := runPass(t, StringChainPass, "<?php echo "+expr+";")
			assert.Equal(t, "<?php echo '"+want+"';", out, "input %s", expr)
		})
	}
}

func TestChainFolderResolveLeavesTreeUntouched(t *testing.T) {
	root := parseCode(t, `<?php str_replace('a', 'b', 'aaa');`)
	call := root.Stmts[0].(*ast.StmtExpression).Expr
	before := render(t, root)

	v, ok := NewChainFolder(newTestEnv(root).Evaluator()).Resolve(call)
	require.True(t, ok)
	assert.Equal(t, "bbb", v.Str)
	assert.Equal(t, before, render(t, root))
}

func TestExtractedFunctionPass(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "arrow function decoder",
			input: `<?php $d = fn($s) => strrev(base64_decode($s)); echo $d('b2xsZWg=');`,
			want:  `<?php $d = fn($s) => strrev(base64_decode($s)); echo 'hello';`,
		},
		{
			name:  "closure decoder",
			input: `<?php $d = function ($s) { return str_rot13($s); }; echo $d('uryyb');`,
			want:  `<?php $d = function ($s) { return str_rot13($s); }; echo 'hello';`,
		},
		{
			name:  "named function decoder",
			input: `<?php function dec($s) { return strrev($s); } echo DEC('cba');`,
			want:  `<?php function dec($s) { return strrev($s); } echo 'abc';`,
		},
		{
			name:  "first binding wins",
			input: `<?php $d = fn($s) => strrev($s); $d = fn($s) => strtoupper($s); echo $d('cba');`,
			want:  `<?php $d = fn($s) => strrev($s); $d = fn($s) => strtoupper($s); echo 'abc';`,
		},
		{
			name:  "non-literal argument is left alone",
			input: `<?php $d = fn($s) => strrev($s); echo $d($x);`,
			want:  `<?php $d = fn($s) => strrev($s); echo $d($x);`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _ := runPass(t, ExtractedFunctionPass, tt.input)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestDynamicExecPass(t *testing.T) {
	t.Run("decoder payload is recovered", func(t *testing.T) {
		out, stats := runPass(t, DynamicExecPass,
			`<?php $d = fn($s) => base64_decode($s); eval($d('ZWNobyAnaGknOw=='));`)
		assert.Equal(t, `<?php $d = fn($s) => base64_decode($s); eval('echo \'hi\';');`, out)
		assert.Equal(t, 1, stats.Replacements)
		assertPHPLints(t, out)
	})

	t.Run("redundant replacements in payload are cleaned", func(t *testing.T) {
		out, _ := runPass(t, DynamicExecPass,
			`<?php eval('echo str_replace(\'a\', \'a\', $x);');`)
		assert.Equal(t, `<?php eval('echo $x;');`, out)
	})

	t.Run("chains in payload are folded", func(t *testing.T) {
		out, _ := runPass(t, DynamicExecPass,
			`<?php assert('print strrev(\'cba\');');`)
		assert.Equal(t, `<?php assert('print \'abc\';');`, out)
	})

	t.Run("create_function body", func(t *testing.T) {
		out, _ := runPass(t, DynamicExecPass,
			`<?php $f = create_function('$a', 'return strtoupper(\'x\');');`)
		assert.Equal(t, `<?php $f = create_function('$a', 'return \'X\';');`, out)
	})

	t.Run("unparsable payload is kept verbatim", func(t *testing.T) {
		code := `<?php eval('this is not php (');`
		out, stats := runPass(t, DynamicExecPass, code)
		assert.Equal(t, code, out)
		assert.Zero(t, stats.Replacements)
	})
}

func TestExtractedPassLeavesExecPayloads(t *testing.T) {
	code := `<?php $d = fn($s) => base64_decode($s); eval($d('ZWNobyAnaGknOw=='));`
	out, stats := runPass(t, ExtractedFunctionPass, code)
	assert.Equal(t, code, out)
	assert.Zero(t, stats.Replacements)
}

func TestPureExpressionPass(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`<?php $f = 'base' . '64_' . 'decode';`, `<?php $f = 'base64_decode';`},
		{`<?php $n = 60 + 5 * 1;`, `<?php $n = 65;`},
		{`<?php $s = 1 ? 'yes' : 'no';`, `<?php $s = 'yes';`},
		{`<?php $s = ('x');`, `<?php $s = 'x';`},
		{`<?php $s = 'a' . $b;`, `<?php $s = 'a' . $b;`},
		{`<?php $n = 1 - 5;`, `<?php $n = 1 - 5;`},
		{`<?php $n = 1 / 4;`, `<?php $n = 1 / 4;`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			out, _ := runPass(t, PureExpressionPass, tt.input)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRegistryFlattensSpecializations(t *testing.T) {
	leaf := Descriptor{Name: "leaf", Active: true}
	mid := Descriptor{Name: "mid", Active: true, Specializations: []Descriptor{leaf}}
	root := Descriptor{Name: "root", Active: true, Specializations: []Descriptor{mid, {Name: "sibling"}}}
	r := NewRegistry(root, Descriptor{Name: "other"}, Descriptor{Name: "leaf"})

	var names []string
	for _, d := range r.Passes() {
		names = append(names, d.Name)
		assert.Nil(t, d.Specializations)
	}
	assert.Equal(t, []string{"root", "mid", "leaf", "sibling", "other"}, names)

	var defaults []string
	for _, d := range DefaultRegistry().Passes() {
		defaults = append(defaults, d.Name)
	}
	assert.Equal(t, []string{StringChainPass, ExtractedFunctionPass, DynamicExecPass, PureExpressionPass}, defaults)
}
