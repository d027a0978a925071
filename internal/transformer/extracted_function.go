package transformer

import (
	"fmt"

	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
	"github.com/whit3rabbit/phpunmixer/internal/evaluator"
)

// extractedPass folds calls of extracted decoder functions on literal arguments,
// e.g. `$d('aGk=')` or `decode('aGk=')`. Calls that are the payload of a
// dynamic-execution construct are left to the dynamic-exec pass.
type extractedPass struct {
	env      *Env
	payloads map[ast.Vertex]struct{}
}

func newExtractedPass(env *Env) Pass {
	return &extractedPass{env: env, payloads: make(map[ast.Vertex]struct{})}
}

func (p *extractedPass) Hooks() Hooks {
	return Hooks{
		Enter: map[astutil.Kind]Hook{astutil.KindCall: p.enterCall},
		Leave: map[astutil.Kind]Hook{astutil.KindCall: p.leaveCall},
	}
}

func (p *extractedPass) enterCall(n ast.Vertex) (Result, error) {
	if site, ok := DynamicExecOf(n); ok {
		p.payloads[site.Payload] = struct{}{}
	}
	return Keep(), nil
}

func (p *extractedPass) leaveCall(n ast.Vertex) (Result, error) {
	call, ok := n.(*ast.ExprFunctionCall)
	if !ok {
		return Keep(), nil
	}
	if _, isPayload := p.payloads[n]; isPayload {
		return Keep(), nil
	}
	v, ok, err := evalExtractedCall(p.env, call)
	if !ok || err != nil {
		return Keep(), err
	}
	lit, ok := literalFor(v, call)
	if !ok {
		return Keep(), nil
	}
	if s, isString := lit.(*ast.ScalarString); isString {
		p.env.MarkDecoded(s)
	}
	return Replace(lit), nil
}

// evalExtractedCall evaluates a call of a bound extracted function whose arguments
// are all literals. ok is false when call is not such a call. String results must
// be text.
func evalExtractedCall(env *Env, call *ast.ExprFunctionCall) (v evaluator.Value, ok bool, err error) {
	binding, found := env.Bindings().CalleeBinding(call)
	if !found {
		return evaluator.Value{}, false, nil
	}
	argNodes, argsOK := astutil.Args(call)
	if !argsOK {
		return evaluator.Value{}, false, nil
	}
	ev := env.Evaluator()
	args := make([]evaluator.Value, len(argNodes))
	for i, a := range argNodes {
		if !isLiteral(a) {
			return evaluator.Value{}, false, nil
		}
		if args[i], err = ev.Eval(a, nil); err != nil {
			return evaluator.Value{}, false, err
		}
	}
	v, err = ev.Call(binding.Func, args...)
	if err != nil {
		return evaluator.Value{}, false, fmt.Errorf("calling %s: %w", binding.Name, err)
	}
	if v.Type == evaluator.TypeString && !IsText(v.Str) {
		return evaluator.Value{}, false, nil
	}
	return v, true, nil
}
