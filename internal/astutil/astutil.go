// Package astutil provides utilities for working with the PHP Abstract Syntax Tree (AST):
// node classification, literal and name helpers, reflective child access and the
// parse/print/dump front end used by the deobfuscation passes.
package astutil

import (
	"strings"

	"github.com/VKCOM/php-parser/pkg/ast"
)

// Kind is the coarse classification of a vertex used to dispatch walker hooks.
type Kind int

const (
	KindOther Kind = iota
	KindCall
	KindAttribute
	KindLambda
	KindLiteral
	KindAssignment
	KindName
	KindComment
)

var kindNames = map[Kind]string{
	KindOther:      "other",
	KindCall:       "call",
	KindAttribute:  "attribute",
	KindLambda:     "lambda",
	KindLiteral:    "literal",
	KindAssignment: "assignment",
	KindName:       "name",
	KindComment:    "comment",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// KindOf classifies a vertex. Unknown vertex types are KindOther.
func KindOf(n ast.Vertex) Kind {
	switch n.(type) {
	case *ast.ExprFunctionCall, *ast.ExprEval:
		return KindCall
	case *ast.ExprMethodCall, *ast.ExprStaticCall, *ast.ExprPropertyFetch:
		return KindAttribute
	case *ast.ExprArrowFunction, *ast.ExprClosure:
		return KindLambda
	case *ast.ScalarString, *ast.ScalarLnumber, *ast.ScalarDnumber:
		return KindLiteral
	case *ast.ExprAssign:
		return KindAssignment
	case *ast.ExprVariable, *ast.Name, *ast.NameFullyQualified, *ast.ExprConstFetch:
		return KindName
	case *LimitMarker:
		return KindComment
	default:
		return KindOther
	}
}

// NameString joins the parts of a name node. The second result is false when n is
// not a name.
func NameString(n ast.Vertex) (string, bool) {
	var parts []ast.Vertex
	switch name := n.(type) {
	case *ast.Name:
		parts = name.Parts
	case *ast.NameFullyQualified:
		parts = name.Parts
	case *ast.Identifier:
		return string(name.Value), true
	default:
		return "", false
	}
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		np, ok := p.(*ast.NamePart)
		if !ok {
			return "", false
		}
		segs = append(segs, string(np.Value))
	}
	return strings.Join(segs, `\`), len(segs) > 0
}

// VarName returns the name of a simple variable without its leading dollar sign.
// Variable variables ($$x) are rejected.
func VarName(n ast.Vertex) (string, bool) {
	v, ok := n.(*ast.ExprVariable)
	if !ok {
		return "", false
	}
	id, ok := v.Name.(*ast.Identifier)
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(string(id.Value), "$"), true
}

// CallName returns the lower-cased function name of a call to a named function.
// eval is reported as "eval".
func CallName(n ast.Vertex) (string, bool) {
	switch call := n.(type) {
	case *ast.ExprEval:
		return "eval", true
	case *ast.ExprFunctionCall:
		name, ok := NameString(call.Function)
		if !ok {
			return "", false
		}
		return strings.ToLower(name), true
	}
	return "", false
}

// Args returns the argument expressions of a function call. Spread arguments make
// the call unusable for static evaluation and yield false.
func Args(n ast.Vertex) ([]ast.Vertex, bool) {
	call, ok := n.(*ast.ExprFunctionCall)
	if !ok {
		return nil, false
	}
	out := make([]ast.Vertex, 0, len(call.Args))
	for _, a := range call.Args {
		arg, ok := a.(*ast.Argument)
		if !ok || arg.VariadicTkn != nil || arg.Expr == nil {
			return nil, false
		}
		out = append(out, arg.Expr)
	}
	return out, true
}

// WithArg returns a shallow copy of call whose i-th argument expression is expr.
// The original call is left untouched.
func WithArg(call *ast.ExprFunctionCall, i int, expr ast.Vertex) *ast.ExprFunctionCall {
	cp := *call
	cp.Args = append([]ast.Vertex(nil), call.Args...)
	if arg, ok := cp.Args[i].(*ast.Argument); ok {
		argCopy := *arg
		argCopy.Expr = expr
		cp.Args[i] = &argCopy
	}
	return &cp
}

// Lambda is the normalized view of an anonymous or named function whose body is a
// single returned expression.
type Lambda struct {
	Node   ast.Vertex
	Name   string
	Params []string
	Body   ast.Vertex
}

// LambdaOf recognizes arrow functions, closures without a use-list and named function
// declarations whose body is exactly one return statement.
func LambdaOf(n ast.Vertex) (*Lambda, bool) {
	switch fn := n.(type) {
	case *ast.ExprArrowFunction:
		params, ok := paramNames(fn.Params)
		if !ok || fn.Expr == nil {
			return nil, false
		}
		return &Lambda{Node: n, Params: params, Body: fn.Expr}, true
	case *ast.ExprClosure:
		if len(fn.Uses) > 0 {
			return nil, false
		}
		params, ok := paramNames(fn.Params)
		if !ok {
			return nil, false
		}
		body, ok := singleReturn(fn.Stmts)
		if !ok {
			return nil, false
		}
		return &Lambda{Node: n, Params: params, Body: body}, true
	case *ast.StmtFunction:
		name, ok := NameString(fn.Name)
		if !ok {
			return nil, false
		}
		params, ok := paramNames(fn.Params)
		if !ok {
			return nil, false
		}
		body, ok := singleReturn(fn.Stmts)
		if !ok {
			return nil, false
		}
		return &Lambda{Node: n, Name: strings.ToLower(name), Params: params, Body: body}, true
	}
	return nil, false
}

func paramNames(params []ast.Vertex) ([]string, bool) {
	names := make([]string, 0, len(params))
	for _, p := range params {
		param, ok := p.(*ast.Parameter)
		if !ok || param.VariadicTkn != nil || param.AmpersandTkn != nil {
			return nil, false
		}
		name, ok := VarName(param.Var)
		if !ok {
			return nil, false
		}
		names = append(names, name)
	}
	return names, true
}

func singleReturn(stmts []ast.Vertex) (ast.Vertex, bool) {
	var ret *ast.StmtReturn
	for _, s := range stmts {
		switch st := s.(type) {
		case *ast.StmtNop:
			continue
		case *ast.StmtReturn:
			if ret != nil {
				return nil, false
			}
			ret = st
		default:
			return nil, false
		}
	}
	if ret == nil || ret.Expr == nil {
		return nil, false
	}
	return ret.Expr, true
}
