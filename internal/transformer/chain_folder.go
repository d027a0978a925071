package transformer

import (
	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
	"github.com/whit3rabbit/phpunmixer/internal/evaluator"
)

// foldOp describes a string function that can be folded when its subject is known.
type foldOp struct {
	arities []int
	subject int
	// noop reports applications that leave the subject unchanged.
	noop func(args []evaluator.Value) bool
}

var foldable = map[string]foldOp{
	"str_replace":   {arities: []int{3}, subject: 2, noop: sameArgs(0, 1)},
	"strtr":         {arities: []int{2, 3}, subject: 0, noop: sameArgs(1, 2)},
	"strrev":        {arities: []int{1}},
	"str_rot13":     {arities: []int{1}},
	"strtolower":    {arities: []int{1}},
	"strtoupper":    {arities: []int{1}},
	"ucfirst":       {arities: []int{1}},
	"lcfirst":       {arities: []int{1}},
	"trim":          {arities: []int{1, 2}},
	"ltrim":         {arities: []int{1, 2}},
	"rtrim":         {arities: []int{1, 2}},
	"base64_decode": {arities: []int{1, 2}},
	"hex2bin":       {arities: []int{1}},
	"urldecode":     {arities: []int{1}},
	"rawurldecode":  {arities: []int{1}},
	"gzinflate":     {arities: []int{1, 2}},
	"gzuncompress":  {arities: []int{1, 2}},
	"gzdecode":      {arities: []int{1, 2}},
	"substr":        {arities: []int{2, 3}},
	"str_repeat":    {arities: []int{2}},
}

func sameArgs(i, j int) func([]evaluator.Value) bool {
	return func(args []evaluator.Value) bool {
		if i >= len(args) || j >= len(args) {
			return false
		}
		a, b := args[i], args[j]
		return a.Type == b.Type && a.Type != evaluator.TypeArray && a.AsString() == b.AsString()
	}
}

// ChainFolder collapses nested calls of foldable string functions whose innermost
// subject is a literal into one literal.
type ChainFolder struct {
	eval *evaluator.Evaluator
}

// NewChainFolder creates a folder. Only the evaluator's builtins and limits are used.
func NewChainFolder(ev *evaluator.Evaluator) *ChainFolder {
	return &ChainFolder{eval: ev}
}

// link is one call of a chain.
type link struct {
	name string
	op   foldOp
	args []ast.Vertex
}

func matchFoldable(n ast.Vertex) (link, bool) {
	call, ok := n.(*ast.ExprFunctionCall)
	if !ok {
		return link{}, false
	}
	name, ok := astutil.CallName(call)
	if !ok {
		return link{}, false
	}
	op, ok := foldable[name]
	if !ok {
		return link{}, false
	}
	args, ok := astutil.Args(call)
	if !ok {
		return link{}, false
	}
	for _, a := range op.arities {
		if a == len(args) {
			return link{name: name, op: op, args: args}, true
		}
	}
	return link{}, false
}

// IsFoldable reports whether n is a call of a foldable string function.
func IsFoldable(n ast.Vertex) bool {
	_, ok := matchFoldable(n)
	return ok
}

// IsChain reports whether n is a foldable call whose subject is itself a call.
func (c *ChainFolder) IsChain(n ast.Vertex) bool {
	l, ok := matchFoldable(n)
	if !ok {
		return false
	}
	_, isCall := l.args[l.op.subject].(*ast.ExprFunctionCall)
	return isCall
}

// Fold resolves the chain rooted at n. On success it returns a string literal that
// inherits n's layout. Any non-literal argument anywhere in the chain leaves the
// whole chain unfolded.
func (c *ChainFolder) Fold(n ast.Vertex) (ast.Vertex, bool) {
	v, ok := c.Resolve(n)
	if !ok || v.Type != evaluator.TypeString {
		return nil, false
	}
	return astutil.NewString(v.Str, n), true
}

// Resolve computes the value of the chain rooted at n without touching the tree.
func (c *ChainFolder) Resolve(n ast.Vertex) (evaluator.Value, bool) {
	var chain []link
	cur := n
	for {
		l, ok := matchFoldable(cur)
		if !ok {
			break
		}
		chain = append(chain, l)
		cur = l.args[l.op.subject]
	}
	if len(chain) == 0 {
		return evaluator.Value{}, false
	}
	s, ok := astutil.StringValue(cur)
	if !ok {
		return evaluator.Value{}, false
	}
	running := evaluator.String(s)

	for i := len(chain) - 1; i >= 0; i-- {
		l := chain[i]
		args := make([]evaluator.Value, len(l.args))
		for j, a := range l.args {
			if j == l.op.subject {
				args[j] = running
				continue
			}
			if !isLiteral(a) {
				return evaluator.Value{}, false
			}
			v, err := c.eval.Eval(a, nil)
			if err != nil {
				return evaluator.Value{}, false
			}
			args[j] = v
		}
		if l.op.noop != nil && l.op.noop(args) {
			continue
		}
		v, err := c.eval.CallBuiltin(l.name, args...)
		if err != nil || v.Type != evaluator.TypeString {
			return evaluator.Value{}, false
		}
		running = v
	}
	return running, true
}

type chainPass struct {
	env    *Env
	folder *ChainFolder
}

func newChainPass(env *Env) Pass {
	return &chainPass{env: env, folder: NewChainFolder(env.Evaluator())}
}

func (p *chainPass) Hooks() Hooks {
	return Hooks{Leave: map[astutil.Kind]Hook{astutil.KindCall: p.leaveCall}}
}

func (p *chainPass) leaveCall(n ast.Vertex) (Result, error) {
	if folded, ok := p.folder.Fold(n); ok {
		return Replace(folded), nil
	}
	return Keep(), nil
}
