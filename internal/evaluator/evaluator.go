// Package evaluator statically evaluates the side-effect-free subset of PHP
// expressions that obfuscators build their decoders from: literals, string and
// arithmetic operators, a fixed table of pure string functions, and calls to
// already-extracted single-expression functions.
package evaluator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
)

var (
	// ErrUnsupported marks expressions outside the evaluable subset.
	ErrUnsupported = errors.New("unsupported expression")
	// ErrLimit marks evaluations stopped by a depth or size ceiling.
	ErrLimit = errors.New("evaluation limit exceeded")
)

// EvaluationError describes why a node could not be evaluated.
type EvaluationError struct {
	Node   ast.Vertex
	Reason string
	Err    error
}

func (e *EvaluationError) Error() string {
	msg := fmt.Sprintf("cannot evaluate %T", e.Node)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func fail(n ast.Vertex, err error, format string, args ...any) error {
	return &EvaluationError{Node: n, Reason: fmt.Sprintf(format, args...), Err: err}
}

// Func is a function whose body is a single expression over its parameters.
type Func struct {
	Name   string
	Params []string
	Body   ast.Vertex
}

// NewFunc converts a recognized lambda into a callable Func.
func NewFunc(name string, l *astutil.Lambda) *Func {
	return &Func{Name: name, Params: l.Params, Body: l.Body}
}

// Resolver finds extracted functions by name. Variables are looked up as "$name",
// named functions by their lower-cased name.
type Resolver interface {
	Resolve(name string) (*Func, bool)
}

// Scope binds parameter names (without the dollar sign) to values.
type Scope map[string]Value

// Evaluator evaluates expressions. The zero value is not usable; use New.
type Evaluator struct {
	Resolver  Resolver
	MaxDepth  int
	MaxOutput int

	depth int
}

const (
	DefaultMaxDepth  = 256
	DefaultMaxOutput = 16 << 20
)

// New creates an evaluator using r to resolve calls to extracted functions. r may
// be nil.
func New(r Resolver) *Evaluator {
	return &Evaluator{Resolver: r, MaxDepth: DefaultMaxDepth, MaxOutput: DefaultMaxOutput}
}

// Call applies f to args.
func (e *Evaluator) Call(f *Func, args ...Value) (Value, error) {
	if len(args) != len(f.Params) {
		return Value{}, fail(f.Body, ErrUnsupported, "%s expects %d arguments, got %d", f.Name, len(f.Params), len(args))
	}
	scope := make(Scope, len(args))
	for i, p := range f.Params {
		scope[p] = args[i]
	}
	return e.Eval(f.Body, scope)
}

// Eval evaluates n under scope.
func (e *Evaluator) Eval(n ast.Vertex, scope Scope) (Value, error) {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.MaxDepth {
		return Value{}, fail(n, ErrLimit, "nesting deeper than %d", e.MaxDepth)
	}

	switch node := n.(type) {
	case nil:
		return Value{}, fail(n, ErrUnsupported, "missing expression")
	case *astutil.LimitMarker:
		return e.Eval(node.Node, scope)
	case *ast.ScalarString:
		s, ok := astutil.StringValue(node)
		if !ok {
			return Value{}, fail(n, ErrUnsupported, "malformed string literal %q", node.Value)
		}
		return String(s), nil
	case *ast.ScalarLnumber:
		i, ok := astutil.IntValue(node)
		if !ok {
			return Value{}, fail(n, ErrUnsupported, "integer literal %q out of range", node.Value)
		}
		return Int(i), nil
	case *ast.ScalarDnumber:
		f, ok := astutil.FloatValue(node)
		if !ok {
			return Value{}, fail(n, ErrUnsupported, "malformed float literal %q", node.Value)
		}
		return Float(f), nil
	case *ast.ScalarEncapsed:
		return e.encapsed(node.Parts, scope)
	case *ast.ScalarEncapsedStringPart:
		return String(astutil.UnescapeDouble(string(node.Value))), nil
	case *ast.ExprConstFetch:
		name, _ := astutil.NameString(node.Const)
		switch strings.ToLower(strings.TrimPrefix(name, `\`)) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		case "null":
			return Null(), nil
		}
		return Value{}, fail(n, ErrUnsupported, "constant %s", name)
	case *ast.ExprVariable:
		name, ok := astutil.VarName(node)
		if !ok {
			return Value{}, fail(n, ErrUnsupported, "variable variable")
		}
		v, ok := scope[name]
		if !ok {
			return Value{}, fail(n, ErrUnsupported, "unbound variable $%s", name)
		}
		return v, nil
	case *ast.ExprBrackets:
		return e.Eval(node.Expr, scope)
	case *ast.ExprArray:
		return e.array(node.Items, scope)
	case *ast.ExprArrayDimFetch:
		return e.index(node, scope)
	case *ast.ExprUnaryMinus:
		v, err := e.Eval(node.Expr, scope)
		if err != nil {
			return Value{}, err
		}
		return arith(n, "-", Int(0), v)
	case *ast.ExprUnaryPlus:
		v, err := e.Eval(node.Expr, scope)
		if err != nil {
			return Value{}, err
		}
		return v.numeric(), nil
	case *ast.ExprBooleanNot:
		v, err := e.Eval(node.Expr, scope)
		if err != nil {
			return Value{}, err
		}
		return Bool(!v.Truthy()), nil
	case *ast.ExprCastString:
		v, err := e.Eval(node.Expr, scope)
		if err != nil {
			return Value{}, err
		}
		return String(v.AsString()), nil
	case *ast.ExprCastInt:
		v, err := e.Eval(node.Expr, scope)
		if err != nil {
			return Value{}, err
		}
		return Int(v.AsInt()), nil
	case *ast.ExprTernary:
		return e.ternary(node, scope)
	case *ast.ExprBinaryBooleanAnd:
		l, err := e.Eval(node.Left, scope)
		if err != nil || !l.Truthy() {
			return Bool(false), err
		}
		r, err := e.Eval(node.Right, scope)
		return Bool(r.Truthy()), err
	case *ast.ExprBinaryBooleanOr:
		l, err := e.Eval(node.Left, scope)
		if err != nil || l.Truthy() {
			return Bool(err == nil), err
		}
		r, err := e.Eval(node.Right, scope)
		return Bool(r.Truthy()), err
	case *ast.ExprBinaryConcat:
		return e.binary(n, ".", node.Left, node.Right, scope)
	case *ast.ExprBinaryPlus:
		return e.binary(n, "+", node.Left, node.Right, scope)
	case *ast.ExprBinaryMinus:
		return e.binary(n, "-", node.Left, node.Right, scope)
	case *ast.ExprBinaryMul:
		return e.binary(n, "*", node.Left, node.Right, scope)
	case *ast.ExprBinaryDiv:
		return e.binary(n, "/", node.Left, node.Right, scope)
	case *ast.ExprBinaryMod:
		return e.binary(n, "%", node.Left, node.Right, scope)
	case *ast.ExprBinaryEqual:
		return e.binary(n, "==", node.Left, node.Right, scope)
	case *ast.ExprBinaryNotEqual:
		return e.binary(n, "!=", node.Left, node.Right, scope)
	case *ast.ExprBinaryIdentical:
		return e.binary(n, "===", node.Left, node.Right, scope)
	case *ast.ExprBinaryNotIdentical:
		return e.binary(n, "!==", node.Left, node.Right, scope)
	case *ast.ExprBinarySmaller:
		return e.binary(n, "<", node.Left, node.Right, scope)
	case *ast.ExprBinarySmallerOrEqual:
		return e.binary(n, "<=", node.Left, node.Right, scope)
	case *ast.ExprBinaryGreater:
		return e.binary(n, ">", node.Left, node.Right, scope)
	case *ast.ExprBinaryGreaterOrEqual:
		return e.binary(n, ">=", node.Left, node.Right, scope)
	case *ast.ExprFunctionCall:
		return e.call(node, scope)
	}
	return Value{}, fail(n, ErrUnsupported, "")
}

func (e *Evaluator) encapsed(parts []ast.Vertex, scope Scope) (Value, error) {
	var b strings.Builder
	for _, p := range parts {
		v, err := e.Eval(p, scope)
		if err != nil {
			return Value{}, err
		}
		b.WriteString(v.AsString())
	}
	return String(b.String()), nil
}

func (e *Evaluator) array(items []ast.Vertex, scope Scope) (Value, error) {
	out := Value{Type: TypeArray}
	var next int64
	for _, it := range items {
		if it == nil {
			continue
		}
		item, ok := it.(*ast.ExprArrayItem)
		if !ok || item.Val == nil {
			return Value{}, fail(it, ErrUnsupported, "array item")
		}
		val, err := e.Eval(item.Val, scope)
		if err != nil {
			return Value{}, err
		}
		key := Int(next)
		if item.Key != nil {
			if key, err = e.Eval(item.Key, scope); err != nil {
				return Value{}, err
			}
			if key.Type == TypeString {
				if n, whole := numericPrefix(key.Str); whole && n.Type == TypeInt && n.AsString() == key.Str {
					key = n
				}
			}
		}
		if key.Type == TypeInt && key.Int >= next {
			next = key.Int + 1
		}
		out.Keys = append(out.Keys, key)
		out.Items = append(out.Items, val)
	}
	return out, nil
}

func (e *Evaluator) index(node *ast.ExprArrayDimFetch, scope Scope) (Value, error) {
	if node.Dim == nil {
		return Value{}, fail(node, ErrUnsupported, "append fetch")
	}
	base, err := e.Eval(node.Var, scope)
	if err != nil {
		return Value{}, err
	}
	dim, err := e.Eval(node.Dim, scope)
	if err != nil {
		return Value{}, err
	}
	switch base.Type {
	case TypeString:
		i := dim.AsInt()
		if i < 0 {
			i += int64(len(base.Str))
		}
		if i < 0 || i >= int64(len(base.Str)) {
			return Value{}, fail(node, ErrUnsupported, "string offset %d out of range", dim.AsInt())
		}
		return String(base.Str[i : i+1]), nil
	case TypeArray:
		for i, k := range base.Keys {
			if looseEqual(k, dim) {
				return base.Items[i], nil
			}
		}
		return Value{}, fail(node, ErrUnsupported, "undefined array key %s", dim.AsString())
	}
	return Value{}, fail(node, ErrUnsupported, "cannot index %v", base.Type)
}

func (e *Evaluator) ternary(node *ast.ExprTernary, scope Scope) (Value, error) {
	cond, err := e.Eval(node.Cond, scope)
	if err != nil {
		return Value{}, err
	}
	if cond.Truthy() {
		if node.IfTrue == nil {
			return cond, nil
		}
		return e.Eval(node.IfTrue, scope)
	}
	return e.Eval(node.IfFalse, scope)
}

func (e *Evaluator) binary(n ast.Vertex, op string, left, right ast.Vertex, scope Scope) (Value, error) {
	l, err := e.Eval(left, scope)
	if err != nil {
		return Value{}, err
	}
	r, err := e.Eval(right, scope)
	if err != nil {
		return Value{}, err
	}
	switch op {
	case ".":
		ls, rs := l.AsString(), r.AsString()
		if len(ls)+len(rs) > e.MaxOutput {
			return Value{}, fail(n, ErrLimit, "concatenation longer than %d bytes", e.MaxOutput)
		}
		return String(ls + rs), nil
	case "==":
		return Bool(looseEqual(l, r)), nil
	case "!=":
		return Bool(!looseEqual(l, r)), nil
	case "===":
		return Bool(identical(l, r)), nil
	case "!==":
		return Bool(!identical(l, r)), nil
	case "<":
		return Bool(compare(l, r) < 0), nil
	case "<=":
		return Bool(compare(l, r) <= 0), nil
	case ">":
		return Bool(compare(l, r) > 0), nil
	case ">=":
		return Bool(compare(l, r) >= 0), nil
	}
	return arith(n, op, l, r)
}

func arith(n ast.Vertex, op string, l, r Value) (Value, error) {
	if l.Type == TypeArray || r.Type == TypeArray {
		return Value{}, fail(n, ErrUnsupported, "array arithmetic")
	}
	a, b := l.numeric(), r.numeric()
	if op == "%" {
		if b.AsInt() == 0 {
			return Value{}, fail(n, ErrUnsupported, "modulo by zero")
		}
		return Int(a.AsInt() % b.AsInt()), nil
	}
	if a.Type == TypeInt && b.Type == TypeInt {
		x, y := a.Int, b.Int
		switch op {
		case "+":
			if s := x + y; (s > x) == (y > 0) {
				return Int(s), nil
			}
		case "-":
			if s := x - y; (s < x) == (y > 0) {
				return Int(s), nil
			}
		case "*":
			if x == 0 || y == 0 {
				return Int(0), nil
			}
			if p := x * y; p/y == x && !(x == -1 && y == -1<<63) && !(y == -1 && x == -1<<63) {
				return Int(p), nil
			}
		case "/":
			if y == 0 {
				return Value{}, fail(n, ErrUnsupported, "division by zero")
			}
			if x%y == 0 && !(x == -1<<63 && y == -1) {
				return Int(x / y), nil
			}
		}
	}
	x, y := a.AsFloat(), b.AsFloat()
	switch op {
	case "+":
		return Float(x + y), nil
	case "-":
		return Float(x - y), nil
	case "*":
		return Float(x * y), nil
	case "/":
		if y == 0 {
			return Value{}, fail(n, ErrUnsupported, "division by zero")
		}
		return Float(x / y), nil
	}
	return Value{}, fail(n, ErrUnsupported, "operator %s", op)
}

func (e *Evaluator) call(node *ast.ExprFunctionCall, scope Scope) (Value, error) {
	argNodes, ok := astutil.Args(node)
	if !ok {
		return Value{}, fail(node, ErrUnsupported, "spread or by-reference arguments")
	}

	var fn *Func
	var builtinName string
	switch callee := node.Function.(type) {
	case *ast.Name, *ast.NameFullyQualified:
		name, _ := astutil.NameString(callee)
		name = strings.ToLower(name)
		if _, ok := builtins[name]; ok {
			builtinName = name
		} else if e.Resolver != nil {
			fn, _ = e.Resolver.Resolve(name)
		}
		if builtinName == "" && fn == nil {
			return Value{}, fail(node, ErrUnsupported, "unknown function %s", name)
		}
	case *ast.ExprVariable:
		name, ok := astutil.VarName(callee)
		if ok && e.Resolver != nil {
			fn, _ = e.Resolver.Resolve("$" + name)
		}
		if fn == nil {
			return Value{}, fail(node, ErrUnsupported, "unresolved callable $%s", name)
		}
	default:
		inner := callee
		if b, ok := inner.(*ast.ExprBrackets); ok {
			inner = b.Expr
		}
		l, ok := astutil.LambdaOf(inner)
		if !ok {
			return Value{}, fail(node, ErrUnsupported, "dynamic callee %T", callee)
		}
		fn = NewFunc("{closure}", l)
	}

	args := make([]Value, len(argNodes))
	for i, a := range argNodes {
		v, err := e.Eval(a, scope)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	if builtinName != "" {
		v, err := e.CallBuiltin(builtinName, args...)
		if err != nil {
			return Value{}, fail(node, err, "%s", builtinName)
		}
		return v, nil
	}
	return e.Call(fn, args...)
}
