package transformer

import (
	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
	"github.com/whit3rabbit/phpunmixer/internal/evaluator"
)

// pureExprPass folds operators applied to literals: 'ev' . 'al', 60 + 5,
// (true ? 'a' : 'b').
type pureExprPass struct {
	eval *evaluator.Evaluator
}

func newPureExprPass(env *Env) Pass {
	ev := evaluator.New(nil)
	if env.MaxOutput > 0 {
		ev.MaxOutput = env.MaxOutput
	}
	return &pureExprPass{eval: ev}
}

func (p *pureExprPass) Hooks() Hooks {
	return Hooks{Leave: map[astutil.Kind]Hook{astutil.KindOther: p.leave}}
}

func (p *pureExprPass) leave(n ast.Vertex) (Result, error) {
	switch node := n.(type) {
	case *ast.ExprBinaryConcat, *ast.ExprBinaryPlus, *ast.ExprBinaryMinus,
		*ast.ExprBinaryMul, *ast.ExprBinaryDiv, *ast.ExprBinaryMod, *ast.ExprTernary:
	case *ast.ExprBrackets:
		if astutil.KindOf(node.Expr) != astutil.KindLiteral {
			return Keep(), nil
		}
	default:
		return Keep(), nil
	}
	v, err := p.eval.Eval(n, nil)
	if err != nil {
		return Keep(), nil
	}
	if lit, ok := literalFor(v, n); ok {
		return Replace(lit), nil
	}
	return Keep(), nil
}
