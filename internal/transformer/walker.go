package transformer

import (
	"fmt"
	"log/slog"

	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
)

type resultOp int

const (
	opKeep resultOp = iota
	opReplace
	opSplice
	opDrop
)

// Result is what a hook (or a visit) decides for one node.
type Result struct {
	op    resultOp
	node  ast.Vertex
	nodes []ast.Vertex
}

// Keep leaves the node in place.
func Keep() Result { return Result{op: opKeep} }

// Replace substitutes n for the visited node.
func Replace(n ast.Vertex) Result {
	if n == nil {
		return Drop()
	}
	return Result{op: opReplace, node: n}
}

// Splice substitutes several nodes for the visited node. Only meaningful inside
// list fields; in a single-node field a one-element splice acts as Replace and
// anything else keeps the original.
func Splice(ns ...ast.Vertex) Result { return Result{op: opSplice, nodes: ns} }

// Drop removes the node from a list field. In a single-node field it keeps the
// original.
func Drop() Result { return Result{op: opDrop} }

// Hook inspects a node and decides its fate. A returned error counts as Keep.
type Hook func(n ast.Vertex) (Result, error)

// Hooks are dispatched by node kind. Kinds without an entry fall through to
// plain field recursion.
type Hooks struct {
	Enter map[astutil.Kind]Hook
	Leave map[astutil.Kind]Hook
}

// Stats describe one pass instance's walk.
type Stats struct {
	Visited      int
	Replacements int
	Changed      bool
}

// Walker performs one depth-first, rewriting traversal of a tree.
type Walker struct {
	name   string
	hooks  Hooks
	env    *Env
	chains *ChainFolder
	logger *slog.Logger

	depth int
	limit int
	stats Stats
}

// NewWalker creates a walker for one pass instance.
func NewWalker(name string, hooks Hooks, env *Env) *Walker {
	limit := env.DepthLimit
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	return &Walker{
		name:   name,
		hooks:  hooks,
		env:    env,
		chains: NewChainFolder(env.Evaluator()),
		logger: env.Logger.With("pass", name),
		limit:  limit,
	}
}

// Stats returns the statistics gathered so far.
func (w *Walker) Stats() Stats { return w.stats }

// Walk visits the whole tree and returns its (possibly replaced) root.
func (w *Walker) Walk(root ast.Vertex) ast.Vertex {
	res := w.visit(root)
	switch res.op {
	case opReplace:
		return res.node
	case opSplice:
		if len(res.nodes) == 1 {
			return res.nodes[0]
		}
		w.logger.Debug("Ignoring splice at tree root", "nodes", len(res.nodes))
	}
	return root
}

func (w *Walker) replaced() {
	w.stats.Replacements++
	w.stats.Changed = true
}

func (w *Walker) visit(n ast.Vertex) Result {
	w.env.Counters.Calls++
	w.stats.Visited++

	kind := astutil.KindOf(n)
	if kind == astutil.KindComment {
		return Keep()
	}

	w.depth++
	defer func() { w.depth-- }()
	if w.depth > w.limit {
		w.logger.Warn("Maximum recursion depth reached, subtree left as is",
			"depth", w.depth, "node", fmt.Sprintf("%T", n))
		return Replace(&astutil.LimitMarker{Node: n, Depth: w.depth})
	}

	orig := n
	if h := w.hooks.Enter[kind]; h != nil {
		res := w.call(h, n)
		switch res.op {
		case opReplace:
			if res.node != n {
				w.replaced()
				n = res.node
			}
		case opSplice, opDrop:
			w.replaced()
			return res
		}
	}

	w.visitFields(n)

	if h := w.hooks.Leave[astutil.KindOf(n)]; h != nil {
		res := w.call(h, n)
		switch res.op {
		case opReplace:
			if res.node != n {
				w.replaced()
				n = res.node
			}
		case opSplice, opDrop:
			w.replaced()
			return res
		}
	}

	if n != orig {
		return Replace(n)
	}
	return Keep()
}

func (w *Walker) visitFields(n ast.Vertex) {
	parent := astutil.KindOf(n)
	for _, f := range astutil.Fields(n) {
		if f.IsList() {
			old := f.Nodes()
			out := make([]ast.Vertex, 0, len(old))
			changed := false
			for _, child := range old {
				if child == nil {
					out = append(out, child)
					continue
				}
				res := w.visitChild(parent, f.Name, child)
				switch res.op {
				case opKeep:
					out = append(out, child)
				case opReplace:
					out = append(out, res.node)
					changed = true
				case opSplice:
					out = append(out, res.nodes...)
					changed = true
				case opDrop:
					changed = true
				}
			}
			if changed {
				f.SetNodes(out)
			}
			continue
		}

		child := f.Node()
		if child == nil {
			continue
		}
		res := w.visitChild(parent, f.Name, child)
		switch res.op {
		case opReplace:
			f.SetNode(res.node)
		case opSplice:
			if len(res.nodes) == 1 {
				f.SetNode(res.nodes[0])
			} else {
				w.logger.Debug("Cannot splice into a single-node field", "field", f.Name, "nodes", len(res.nodes))
			}
		}
	}
}

// visitChild runs the two recognizers that apply regardless of the pass: chains of
// foldable calls are folded in one step, and a lambda bound by an assignment whose
// body no longer depends on its parameters collapses into that constant.
func (w *Walker) visitChild(parent astutil.Kind, field string, child ast.Vertex) Result {
	if w.chains.IsChain(child) {
		if folded, ok := w.recognize(child, w.chains.Fold); ok {
			w.replaced()
			return Replace(folded)
		}
	}

	if astutil.KindOf(child) != astutil.KindLambda {
		return w.visit(child)
	}
	res := w.visit(child)
	if parent != astutil.KindAssignment || field != "Expr" {
		return res
	}
	target := child
	if res.op == opReplace {
		target = res.node
	}
	if lit, ok := w.recognize(target, w.constantLambda); ok {
		w.replaced()
		return Replace(lit)
	}
	return res
}

// recognize runs a recognizer on n. A panic leaves n unchanged, like a failing hook.
func (w *Walker) recognize(n ast.Vertex, fn func(ast.Vertex) (ast.Vertex, bool)) (out ast.Vertex, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("Recognizer panicked, node left unchanged", "node", fmt.Sprintf("%T", n), "panic", r)
			out, ok = nil, false
		}
	}()
	return fn(n)
}

func (w *Walker) constantLambda(n ast.Vertex) (ast.Vertex, bool) {
	l, ok := astutil.LambdaOf(n)
	if !ok {
		return nil, false
	}
	v, err := w.env.Evaluator().Eval(l.Body, nil)
	if err != nil {
		return nil, false
	}
	return literalFor(v, n)
}

func (w *Walker) call(h Hook, n ast.Vertex) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("Hook panicked, node left unchanged", "node", fmt.Sprintf("%T", n), "panic", r)
			res = Keep()
		}
	}()
	res, err := h(n)
	if err != nil {
		w.logger.Debug("Hook failed, node left unchanged", "node", fmt.Sprintf("%T", n), "error", err)
		return Keep()
	}
	return res
}
