package astutil

import (
	"strings"
	"testing"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, code string) *ast.Root {
	t.Helper()
	root, err := NewFrontend("PREFER_PHP7").Parse([]byte(code))
	require.NoError(t, err, "Failed to parse PHP code")
	return root
}

func firstOf[T ast.Vertex](root ast.Vertex) T {
	var found T
	var done bool
	Inspect(root, func(n ast.Vertex) bool {
		if done {
			return false
		}
		if v, ok := n.(T); ok {
			found, done = v, true
			return false
		}
		return true
	})
	return found
}

func TestKindOf(t *testing.T) {
	root := parse(t, `<?php $f = fn($x) => str_replace('a', 'b', $x); $o->m(); echo 1.5;`)

	assert.Equal(t, KindAssignment, KindOf(firstOf[*ast.ExprAssign](root)))
	assert.Equal(t, KindLambda, KindOf(firstOf[*ast.ExprArrowFunction](root)))
	assert.Equal(t, KindCall, KindOf(firstOf[*ast.ExprFunctionCall](root)))
	assert.Equal(t, KindAttribute, KindOf(firstOf[*ast.ExprMethodCall](root)))
	assert.Equal(t, KindLiteral, KindOf(firstOf[*ast.ScalarDnumber](root)))
	assert.Equal(t, KindName, KindOf(firstOf[*ast.ExprVariable](root)))
	assert.Equal(t, KindComment, KindOf(&LimitMarker{}))
	assert.Equal(t, KindOther, KindOf(root))
	assert.Equal(t, "lambda", KindLambda.String())
}

func TestCallNameAndArgs(t *testing.T) {
	root := parse(t, `<?php \Base64_Decode('aGk=', true);`)
	call := firstOf[*ast.ExprFunctionCall](root)
	require.NotNil(t, call)

	name, ok := CallName(call)
	require.True(t, ok)
	assert.Equal(t, "base64_decode", name)

	args, ok := Args(call)
	require.True(t, ok)
	require.Len(t, args, 2)
	s, ok := StringValue(args[0])
	assert.True(t, ok)
	assert.Equal(t, "aGk=", s)

	spread := firstOf[*ast.ExprFunctionCall](parse(t, `<?php f(...$a);`))
	_, ok = Args(spread)
	assert.False(t, ok, "spread arguments are not statically usable")
}

func TestLambdaOf(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		params []string
		named  string
		ok     bool
	}{
		{"arrow function", `<?php $f = fn($s) => strrev($s);`, []string{"s"}, "", true},
		{"closure with single return", `<?php $f = function ($s) { return strrev($s); };`, []string{"s"}, "", true},
		{"closure with use list", `<?php $f = function ($s) use ($k) { return $s . $k; };`, nil, "", false},
		{"closure with two statements", `<?php $f = function ($s) { $s = 1; return $s; };`, nil, "", false},
		{"named function", `<?php function Decode($s) { return base64_decode($s); }`, []string{"s"}, "decode", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := parse(t, tt.code)
			var found *Lambda
			var ok bool
			Inspect(root, func(n ast.Vertex) bool {
				if found == nil {
					found, ok = LambdaOf(n)
					if !ok {
						found = nil
					}
				}
				return true
			})
			if !tt.ok {
				assert.Nil(t, found)
				return
			}
			require.NotNil(t, found)
			assert.Equal(t, tt.params, found.Params)
			assert.Equal(t, tt.named, found.Name)
			assert.NotNil(t, found.Body)
		})
	}
}

func TestQuoteUnquote(t *testing.T) {
	tests := []struct {
		value  string
		quoted string
	}{
		{"plain", `'plain'`},
		{"it's", `'it\'s'`},
		{`back\slash`, `'back\\slash'`},
		{"line\nbreak", "'line\nbreak'"},
		{"nul\x00byte", `"nul\x00byte"`},
		{"cr\r$var", `"cr\r\$var"`},
		{"\xff", `"\xff"`},
	}
	for _, tt := range tests {
		t.Run(tt.quoted, func(t *testing.T) {
			assert.Equal(t, tt.quoted, Quote(tt.value))
			back, ok := Unquote(Quote(tt.value))
			require.True(t, ok)
			assert.Equal(t, tt.value, back)
		})
	}
}

func TestUnescapeDouble(t *testing.T) {
	assert.Equal(t, "A\tB", UnescapeDouble(`\x41\tB`))
	assert.Equal(t, "AB", UnescapeDouble(`\101\102`))
	assert.Equal(t, "é", UnescapeDouble(`\u{e9}`))
	assert.Equal(t, `\q`, UnescapeDouble(`\q`))
	assert.Equal(t, `\x`, UnescapeDouble(`\x`))
}

func TestIntValue(t *testing.T) {
	root := parse(t, `<?php $a = [0x1F, 017, 0b11, 1_000, 42];`)
	var got []int64
	Inspect(root, func(n ast.Vertex) bool {
		if v, ok := IntValue(n); ok {
			got = append(got, v)
		}
		return true
	})
	assert.Equal(t, []int64{31, 15, 3, 1000, 42}, got)
}

func TestNewStringKeepsLeadingTrivia(t *testing.T) {
	fe := NewFrontend("PREFER_PHP7")
	root := parse(t, "<?php\n// keep me\nbase64_decode('aGk=');\n")
	stmt := root.Stmts[0].(*ast.StmtExpression)
	stmt.Expr = NewString("hi", stmt.Expr)

	out, err := fe.Render(root)
	require.NoError(t, err)
	assert.Contains(t, out, "// keep me")
	assert.True(t, strings.HasPrefix(out, "<?php"))
	assert.Contains(t, out, "'hi';")
}

func TestSetString(t *testing.T) {
	root := parse(t, `<?php echo 'old';`)
	lit := firstOf[*ast.ScalarString](root)
	SetString(lit, "new")

	out, err := Print(root)
	require.NoError(t, err)
	assert.Equal(t, `<?php echo 'new';`, out)
}

func TestFieldsReplaceChild(t *testing.T) {
	root := parse(t, `<?php echo strrev('cba');`)
	echo := root.Stmts[0].(*ast.StmtEcho)

	var replaced bool
	for _, f := range Fields(echo) {
		if !f.IsList() {
			continue
		}
		nodes := f.Nodes()
		if len(nodes) == 1 {
			f.SetNodes([]ast.Vertex{NewString("abc", nodes[0])})
			replaced = true
		}
	}
	require.True(t, replaced)
	out, err := Print(root)
	require.NoError(t, err)
	assert.Equal(t, `<?php echo 'abc';`, out)
}

func TestInspectIsIterative(t *testing.T) {
	var n ast.Vertex = NewString("x", nil)
	for i := 0; i < 200000; i++ {
		n = &ast.ExprBrackets{Expr: n}
	}
	count := 0
	Inspect(n, func(ast.Vertex) bool {
		count++
		return true
	})
	assert.Equal(t, 200001, count)
}

func TestLimitMarkerRendersWrappedSubtree(t *testing.T) {
	fe := NewFrontend("PREFER_PHP7")
	root := parse(t, `<?php echo strrev('cba');`)
	echo := root.Stmts[0].(*ast.StmtEcho)
	echo.Exprs[0] = &LimitMarker{Node: echo.Exprs[0], Depth: 3}

	out, err := fe.Render(root)
	require.NoError(t, err)
	assert.Equal(t, `<?php echo strrev('cba');`, out)
	assert.Equal(t, Dump(parse(t, `<?php echo strrev('cba');`)), Dump(root))
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint(parse(t, `<?php echo strrev('cba');`))

	tests := []struct {
		name  string
		code  string
		equal bool
	}{
		{"same code", `<?php echo strrev('cba');`, true},
		{"layout and comments only", "<?php\n  echo /* x */ strrev( 'cba' ) ;\n", true},
		{"different literal", `<?php echo strrev('cbd');`, false},
		{"different function", `<?php echo strtoupper('cba');`, false},
		{"extra argument", `<?php echo strrev('cba', 1);`, false},
		{"extra statement", `<?php echo strrev('cba'); echo 1;`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(parse(t, tt.code))
			if tt.equal {
				assert.Equal(t, base, got)
			} else {
				assert.NotEqual(t, base, got)
			}
		})
	}

	root := parse(t, `<?php echo strrev('cba');`)
	echo := root.Stmts[0].(*ast.StmtEcho)
	echo.Exprs[0] = &LimitMarker{Node: echo.Exprs[0], Depth: 3}
	assert.Equal(t, base, Fingerprint(root), "markers are transparent")
}

func TestFingerprintAndDumpBoundedOnDeepTrees(t *testing.T) {
	var n ast.Vertex = NewString("x", nil)
	for i := 0; i < 200000; i++ {
		n = &ast.ExprBrackets{Expr: n}
	}
	assert.NotZero(t, Fingerprint(n))

	out, ok := DumpBounded(n, DefaultDumpLimit)
	assert.False(t, ok)
	assert.Empty(t, out)

	small := parse(t, `<?php echo 'a';`)
	out, ok = DumpBounded(small, DefaultDumpLimit)
	assert.True(t, ok)
	assert.Equal(t, Dump(small), out)
}

func TestFixPositions(t *testing.T) {
	root := parse(t, "<?php\n\necho strrev('cba');")
	echo := root.Stmts[0].(*ast.StmtEcho)
	lit := NewString("abc", nil)
	echo.Exprs[0] = lit
	require.Nil(t, lit.Position)

	FixPositions(root)
	require.NotNil(t, lit.Position)
	assert.Equal(t, echo.Position.StartLine, lit.Position.StartLine)
}

func TestParseErrors(t *testing.T) {
	fe := NewFrontend("PREFER_PHP7")
	_, err := fe.Parse([]byte(`<?php echo 'unterminated`))
	require.Error(t, err)
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)

	root, err := fe.ParseFragment(`echo 'x';`)
	require.NoError(t, err)
	out, err := fe.RenderFragment(root)
	require.NoError(t, err)
	assert.Equal(t, `echo 'x';`, out)
}
