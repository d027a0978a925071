package transformer

import (
	"errors"
	"testing"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
)

var testFrontend = astutil.NewFrontend("PREFER_PHP7")

func parseCode(t *testing.T, code string) *ast.Root {
	t.Helper()
	root, err := testFrontend.Parse([]byte(code))
	require.NoError(t, err, "Failed to parse PHP code")
	return root
}

func render(t *testing.T, root ast.Vertex) string {
	t.Helper()
	out, err := testFrontend.Render(root)
	require.NoError(t, err, "Rendered code must parse again")
	return out
}

func newTestEnv(root ast.Vertex) *Env {
	return NewRuntime(testFrontend, nil).NewEnv(root)
}

// hookPass adapts a Hooks value to Pass.
type hookPass Hooks

func (p hookPass) Hooks() Hooks { return Hooks(p) }

func walkWith(t *testing.T, code string, hooks Hooks) (string, Stats) {
	t.Helper()
	root := parseCode(t, code)
	env := newTestEnv(root)
	out, stats, err := Run(Descriptor{Name: "test", New: func(*Env) Pass { return hookPass(hooks) }}, env)
	require.NoError(t, err)
	return render(t, out), stats
}

func TestWalkerReplaceAndDrop(t *testing.T) {
	hooks := Hooks{Leave: map[astutil.Kind]Hook{
		astutil.KindOther: func(n ast.Vertex) (Result, error) {
			if echo, ok := n.(*ast.StmtEcho); ok {
				if s, ok := astutil.StringValue(echo.Exprs[0]); ok && s == "drop" {
					return Drop(), nil
				}
			}
			return Keep(), nil
		},
		astutil.KindLiteral: func(n ast.Vertex) (Result, error) {
			if s, ok := astutil.StringValue(n); ok && s == "old" {
				return Replace(astutil.NewString("new", n)), nil
			}
			return Keep(), nil
		},
	}}

	out, stats := walkWith(t, `<?php echo 'old'; echo 'drop'; echo 'keep';`, hooks)
	assert.Equal(t, `<?php echo 'new'; echo 'keep';`, out)
	assert.Equal(t, 2, stats.Replacements)
	assert.True(t, stats.Changed)
}

func TestWalkerSplice(t *testing.T) {
	hooks := Hooks{Leave: map[astutil.Kind]Hook{
		astutil.KindOther: func(n ast.Vertex) (Result, error) {
			if echo, ok := n.(*ast.StmtEcho); ok && len(echo.Exprs) == 2 {
				first := &ast.StmtEcho{EchoTkn: echo.EchoTkn, Exprs: echo.Exprs[:1], SemiColonTkn: echo.SemiColonTkn}
				second := &ast.StmtEcho{Exprs: echo.Exprs[1:]}
				return Splice(first, second), nil
			}
			return Keep(), nil
		},
	}}

	root := parseCode(t, `<?php echo 'a', 'b';`)
	out, stats, err := Run(Descriptor{Name: "splice", New: func(*Env) Pass { return hookPass(hooks) }}, newTestEnv(root))
	require.NoError(t, err)
	assert.Len(t, out.(*ast.Root).Stmts, 2)
	assert.Equal(t, 1, stats.Replacements)
}

func TestWalkerContainsHookFaults(t *testing.T) {
	hooks := Hooks{Leave: map[astutil.Kind]Hook{
		astutil.KindCall: func(n ast.Vertex) (Result, error) {
			if name, _ := astutil.CallName(n); name == "boom" {
				panic("hook exploded")
			}
			return Keep(), errors.New("always fails")
		},
		astutil.KindLiteral: func(n ast.Vertex) (Result, error) {
			return Replace(astutil.NewString("x", n)), nil
		},
	}}

	out, stats := walkWith(t, `<?php boom('a'); other('b');`, hooks)
	assert.Equal(t, `<?php boom('x'); other('x');`, out)
	assert.Equal(t, 2, stats.Replacements)
}

func TestWalkerContainsRecognizerFaults(t *testing.T) {
	out, stats := walkWith(t,
		`<?php echo strrev(str_repeat('ab', 4611686018427387904)); echo strrev(strrev('abc'));`, Hooks{})
	assert.Equal(t, `<?php echo strrev(str_repeat('ab', 4611686018427387904)); echo 'abc';`, out)
	assert.Equal(t, 1, stats.Replacements)

	root := parseCode(t, `<?php echo 1;`)
	w := NewWalker("test", Hooks{}, newTestEnv(root))
	n, ok := w.recognize(root, func(ast.Vertex) (ast.Vertex, bool) { panic("recognizer exploded") })
	assert.False(t, ok)
	assert.Nil(t, n)
}

func TestWalkerDepthLimit(t *testing.T) {
	code := `<?php echo ((((('deep')))));`
	root := parseCode(t, code)
	env := newTestEnv(root)
	env.DepthLimit = 4

	hooks := Hooks{Leave: map[astutil.Kind]Hook{
		astutil.KindLiteral: func(n ast.Vertex) (Result, error) {
			return Replace(astutil.NewString("changed", n)), nil
		},
	}}
	w := NewWalker("limited", hooks, env)
	out := w.Walk(root)

	var markers int
	astutil.Inspect(out, func(n ast.Vertex) bool {
		if _, ok := n.(*astutil.LimitMarker); ok {
			markers++
		}
		return true
	})
	assert.Equal(t, 1, markers)
	assert.Equal(t, code, render(t, out), "subtree beyond the limit is left untouched")

	// A second walk does not stack markers.
	out = NewWalker("limited", hooks, env).Walk(out)
	markers = 0
	astutil.Inspect(out, func(n ast.Vertex) bool {
		if _, ok := n.(*astutil.LimitMarker); ok {
			markers++
		}
		return true
	})
	assert.Equal(t, 1, markers)
}

func TestWalkerCountsCallsOnRuntime(t *testing.T) {
	root := parseCode(t, `<?php echo 'a';`)
	rt := NewRuntime(testFrontend, nil)
	_, stats, err := Run(Descriptor{Name: "noop", New: func(*Env) Pass { return hookPass{} }}, rt.NewEnv(root))
	require.NoError(t, err)
	assert.Equal(t, int64(stats.Visited), rt.Counters.Calls)
	assert.Positive(t, stats.Visited)
}

func TestWalkerFoldsChainsWithoutHooks(t *testing.T) {
	out, stats := walkWith(t, `<?php echo str_replace('-', '+', str_replace('_', '-', 'A_B'));`, Hooks{})
	assert.Equal(t, `<?php echo 'A+B';`, out)
	assert.Equal(t, 1, stats.Replacements)
}

func TestWalkerCollapsesConstantLambda(t *testing.T) {
	out, _ := walkWith(t, `<?php $k = fn($x) => strrev('cba'); $f = fn($x) => strrev($x);`, Hooks{
		Leave: map[astutil.Kind]Hook{astutil.KindCall: newChainPass(newTestEnv(nil)).Hooks().Leave[astutil.KindCall]},
	})
	assert.Equal(t, `<?php $k = 'abc'; $f = fn($x) => strrev($x);`, out)
}

func TestRunReportsPassPanics(t *testing.T) {
	root := parseCode(t, `<?php echo 'a';`)
	_, _, err := Run(Descriptor{Name: "broken", New: func(*Env) Pass { panic("constructor failed") }}, newTestEnv(root))
	require.Error(t, err)
	var pe *PassError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "broken", pe.Pass)
}
