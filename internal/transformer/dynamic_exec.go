package transformer

import (
	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
)

// ExecSite is a dynamic-execution construct: eval, assert with a string, or
// create_function.
type ExecSite struct {
	Construct string
	Payload   ast.Vertex
	argIndex  int
}

// DynamicExecOf recognizes dynamic-execution constructs.
func DynamicExecOf(n ast.Vertex) (ExecSite, bool) {
	switch node := n.(type) {
	case *ast.ExprEval:
		if node.Expr == nil {
			return ExecSite{}, false
		}
		return ExecSite{Construct: "eval", Payload: node.Expr, argIndex: -1}, true
	case *ast.ExprFunctionCall:
		name, ok := astutil.CallName(node)
		if !ok {
			return ExecSite{}, false
		}
		args, ok := astutil.Args(node)
		if !ok {
			return ExecSite{}, false
		}
		switch {
		case name == "assert" && (len(args) == 1 || len(args) == 2):
			return ExecSite{Construct: name, Payload: args[0], argIndex: 0}, true
		case name == "create_function" && len(args) == 2:
			return ExecSite{Construct: name, Payload: args[1], argIndex: 1}, true
		}
	}
	return ExecSite{}, false
}

// withPayload returns a copy of the construct n carrying payload instead.
func (s ExecSite) withPayload(n ast.Vertex, payload ast.Vertex) ast.Vertex {
	switch node := n.(type) {
	case *ast.ExprEval:
		cp := *node
		cp.Expr = payload
		return &cp
	case *ast.ExprFunctionCall:
		return astutil.WithArg(node, s.argIndex, payload)
	}
	return n
}

// dynamicExecPass recovers the code handed to dynamic-execution constructs without
// running it: an extracted decoder applied to a literal is evaluated, and the
// recovered code is tidied by folding leftover string chains.
type dynamicExecPass struct {
	env *Env
}

func newDynamicExecPass(env *Env) Pass {
	return &dynamicExecPass{env: env}
}

func (p *dynamicExecPass) Hooks() Hooks {
	return Hooks{Leave: map[astutil.Kind]Hook{astutil.KindCall: p.leaveCall}}
}

func (p *dynamicExecPass) leaveCall(n ast.Vertex) (Result, error) {
	site, ok := DynamicExecOf(n)
	if !ok {
		return Keep(), nil
	}

	if code, ok := astutil.StringValue(site.Payload); ok {
		cleaned := p.clean(code)
		if cleaned == code {
			return Keep(), nil
		}
		return Replace(site.withPayload(n, astutil.NewString(cleaned, site.Payload))), nil
	}

	call, ok := site.Payload.(*ast.ExprFunctionCall)
	if !ok {
		return Keep(), nil
	}
	v, ok, err := evalExtractedCall(p.env, call)
	if !ok || err != nil || !v.IsString() {
		return Keep(), err
	}
	p.env.Logger.Info("Recovered dynamically executed code", "construct", site.Construct, "bytes", len(v.Str))
	lit := astutil.NewString(p.clean(v.Str), call)
	p.env.MarkDecoded(lit)
	return Replace(site.withPayload(n, lit)), nil
}

// clean parses recovered code, folds string chains and redundant replacements in
// it, and prints it back. Code that does not parse is returned unchanged.
func (p *dynamicExecPass) clean(code string) string {
	if p.env.Frontend == nil {
		return code
	}
	root, err := p.env.Frontend.ParseFragment(code)
	if err != nil {
		p.env.Logger.Debug("Recovered code does not parse, kept verbatim", "error", err)
		return code
	}
	out, stats, err := Run(payloadCleanup, p.env.NewEnv(root))
	if err != nil || stats.Replacements == 0 {
		return code
	}
	text, err := p.env.Frontend.RenderFragment(out)
	if err != nil {
		return code
	}
	return text
}

var payloadCleanup = Descriptor{Name: "payload-cleanup", Active: true, New: newCleanupPass}

type cleanupPass struct {
	folder *ChainFolder
}

func newCleanupPass(env *Env) Pass {
	return &cleanupPass{folder: NewChainFolder(env.Evaluator())}
}

func (p *cleanupPass) Hooks() Hooks {
	return Hooks{Leave: map[astutil.Kind]Hook{astutil.KindCall: p.leaveCall}}
}

// leaveCall drops str_replace calls that replace a string with itself and folds
// chains that became literal.
func (p *cleanupPass) leaveCall(n ast.Vertex) (Result, error) {
	if name, ok := astutil.CallName(n); ok && name == "str_replace" {
		if args, ok := astutil.Args(n); ok && len(args) == 3 {
			search, okS := astutil.StringValue(args[0])
			replace, okR := astutil.StringValue(args[1])
			if okS && okR && search == replace {
				return Replace(args[2]), nil
			}
		}
	}
	if folded, ok := p.folder.Fold(n); ok {
		return Replace(folded), nil
	}
	return Keep(), nil
}
