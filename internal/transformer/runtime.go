package transformer

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
	"github.com/whit3rabbit/phpunmixer/internal/evaluator"
)

// DefaultDepthLimit is the walker's recursion ceiling.
const DefaultDepthLimit = 512000

// Counters are owned by one deobfuscation run and shared by all its walkers.
type Counters struct {
	Calls int64
}

// Runtime is the state shared by every pass instance of one run.
type Runtime struct {
	Frontend   *astutil.Frontend
	Logger     *slog.Logger
	DepthLimit int
	MaxOutput  int
	Counters   Counters

	decoded map[*ast.ScalarString]struct{}
}

// NewRuntime creates the shared state for one run. A nil logger means
// slog.Default().
func NewRuntime(fe *astutil.Frontend, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		Frontend:   fe,
		Logger:     logger,
		DepthLimit: DefaultDepthLimit,
		MaxOutput:  evaluator.DefaultMaxOutput,
		decoded:    make(map[*ast.ScalarString]struct{}),
	}
}

// MarkDecoded records that the extracted decoder has been applied to lit.
func (rt *Runtime) MarkDecoded(lit *ast.ScalarString) { rt.decoded[lit] = struct{}{} }

// Decoded reports whether the extracted decoder has already been applied to lit.
func (rt *Runtime) Decoded(lit *ast.ScalarString) bool {
	_, ok := rt.decoded[lit]
	return ok
}

// Env is the view of the runtime given to one pass instance: the current tree plus
// lazily computed bindings of extracted functions.
type Env struct {
	*Runtime
	Root ast.Vertex

	bindings *Bindings
	eval     *evaluator.Evaluator
}

// NewEnv creates the environment for a pass instance over root.
func (rt *Runtime) NewEnv(root ast.Vertex) *Env {
	return &Env{Runtime: rt, Root: root}
}

// Bindings returns the extracted functions bound in the tree.
func (e *Env) Bindings() *Bindings {
	if e.bindings == nil {
		e.bindings = FindBindings(e.Root)
	}
	return e.bindings
}

// Evaluator returns an evaluator that resolves calls through the tree's bindings.
func (e *Env) Evaluator() *evaluator.Evaluator {
	if e.eval == nil {
		e.eval = evaluator.New(e.Bindings())
		if e.MaxOutput > 0 {
			e.eval.MaxOutput = e.MaxOutput
		}
	}
	return e.eval
}

// Binding is an extracted function: a lambda assigned to a variable, or a named
// function whose body is a single return.
type Binding struct {
	Name   string
	Func   *evaluator.Func
	Lambda *astutil.Lambda
}

// Bindings indexes extracted functions by name. For each name the first binding in
// tree order wins.
type Bindings struct {
	byName map[string]*Binding
	order  []*Binding
}

// FindBindings scans the tree for extracted functions.
func FindBindings(root ast.Vertex) *Bindings {
	b := &Bindings{byName: make(map[string]*Binding)}
	astutil.Inspect(root, func(n ast.Vertex) bool {
		switch node := n.(type) {
		case *ast.ExprAssign:
			name, ok := astutil.VarName(node.Var)
			if !ok {
				return true
			}
			if l, ok := astutil.LambdaOf(node.Expr); ok {
				b.add("$"+name, l)
			}
		case *ast.StmtFunction:
			if l, ok := astutil.LambdaOf(node); ok {
				b.add(l.Name, l)
			}
		}
		return true
	})
	return b
}

func (b *Bindings) add(name string, l *astutil.Lambda) {
	if _, exists := b.byName[name]; exists {
		return
	}
	binding := &Binding{Name: name, Func: evaluator.NewFunc(name, l), Lambda: l}
	b.byName[name] = binding
	b.order = append(b.order, binding)
}

// Resolve implements evaluator.Resolver.
func (b *Bindings) Resolve(name string) (*evaluator.Func, bool) {
	binding, ok := b.byName[name]
	if !ok {
		return nil, false
	}
	return binding.Func, true
}

// Lookup returns the binding for "$var" or a lower-cased function name.
func (b *Bindings) Lookup(name string) (*Binding, bool) {
	binding, ok := b.byName[name]
	return binding, ok
}

// Len returns the number of bindings.
func (b *Bindings) Len() int { return len(b.order) }

// Decoder returns the first single-parameter lambda assigned to a variable, the
// function the literal sweep applies to every string.
func (b *Bindings) Decoder() *Binding {
	for _, binding := range b.order {
		if binding.Lambda.Name == "" && len(binding.Lambda.Params) == 1 {
			return binding
		}
	}
	return nil
}

// CalleeBinding returns the binding a call targets, if any.
func (b *Bindings) CalleeBinding(call *ast.ExprFunctionCall) (*Binding, bool) {
	switch callee := call.Function.(type) {
	case *ast.ExprVariable:
		name, ok := astutil.VarName(callee)
		if !ok {
			return nil, false
		}
		return b.Lookup("$" + name)
	case *ast.Name, *ast.NameFullyQualified:
		name, _ := astutil.NameString(callee)
		return b.Lookup(strings.ToLower(name))
	}
	return nil, false
}

// PassError reports a pass that failed as a whole.
type PassError struct {
	Pass string
	Err  error
}

func (e *PassError) Error() string { return fmt.Sprintf("pass %s failed: %v", e.Pass, e.Err) }

func (e *PassError) Unwrap() error { return e.Err }

// IsText reports whether s is valid UTF-8 without control characters other than
// tab, newline and carriage return.
func IsText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// literalFor turns an evaluated value into a literal node. Only strings and
// non-negative integers have a literal form that parses back to the same node.
func literalFor(v evaluator.Value, like ast.Vertex) (ast.Vertex, bool) {
	switch v.Type {
	case evaluator.TypeString:
		return astutil.NewString(v.Str, like), true
	case evaluator.TypeInt:
		if v.Int >= 0 {
			return astutil.NewInt(v.Int, like), true
		}
	}
	return nil, false
}

// isLiteral reports whether n is a constant made only of literals.
func isLiteral(n ast.Vertex) bool {
	switch node := n.(type) {
	case *ast.ScalarString:
		_, ok := astutil.StringValue(node)
		return ok
	case *ast.ScalarLnumber, *ast.ScalarDnumber:
		return true
	case *ast.ExprConstFetch:
		name, _ := astutil.NameString(node.Const)
		switch strings.ToLower(name) {
		case "true", "false", "null":
			return true
		}
	case *ast.ExprArray:
		for _, it := range node.Items {
			if it == nil {
				continue
			}
			item, ok := it.(*ast.ExprArrayItem)
			if !ok || item.Val == nil || !isLiteral(item.Val) {
				return false
			}
			if item.Key != nil && !isLiteral(item.Key) {
				return false
			}
		}
		return true
	}
	return false
}
