package transformer

import (
	"fmt"

	"github.com/VKCOM/php-parser/pkg/ast"
)

// Pass is one instance of a rewrite rule set. A fresh instance is created for every
// round.
type Pass interface {
	Hooks() Hooks
}

// Descriptor registers a pass type. Specializations are further passes that build
// on this one; they are registered right after it, recursively.
type Descriptor struct {
	Name            string
	Weight          int
	Active          bool
	New             func(env *Env) Pass
	Specializations []Descriptor
}

// Registry is the ordered set of known pass types.
type Registry struct {
	passes []Descriptor
	byName map[string]int
}

// NewRegistry flattens descriptors and their specializations, at any depth, into
// one ordered list. A name registered twice keeps its first position.
func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{byName: make(map[string]int)}
	stack := make([]Descriptor, 0, len(descriptors))
	for i := len(descriptors) - 1; i >= 0; i-- {
		stack = append(stack, descriptors[i])
	}
	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := r.byName[d.Name]; !seen {
			flat := d
			flat.Specializations = nil
			r.byName[d.Name] = len(r.passes)
			r.passes = append(r.passes, flat)
		}
		for i := len(d.Specializations) - 1; i >= 0; i-- {
			stack = append(stack, d.Specializations[i])
		}
	}
	return r
}

// DefaultRegistry returns the built-in passes.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Descriptor{
			Name: StringChainPass, Weight: 10, Active: true, New: newChainPass,
			Specializations: []Descriptor{{
				Name: ExtractedFunctionPass, Weight: 10, Active: true, New: newExtractedPass,
				Specializations: []Descriptor{{
					Name: DynamicExecPass, Weight: 25, Active: true, New: newDynamicExecPass,
				}},
			}},
		},
		Descriptor{Name: PureExpressionPass, Weight: 2, Active: true, New: newPureExprPass},
	)
}

// Pass names.
const (
	StringChainPass       = "string-chain"
	ExtractedFunctionPass = "extracted-function"
	DynamicExecPass       = "dynamic-exec"
	PureExpressionPass    = "pure-expression"
)

// Passes returns the flattened pass list in execution order.
func (r *Registry) Passes() []Descriptor {
	out := make([]Descriptor, len(r.passes))
	copy(out, r.passes)
	return out
}

// Lookup finds a pass by name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.passes[i], true
}

// Run creates a fresh instance of the pass and walks env.Root with it. A panic
// outside the per-node hook containment is reported as a PassError.
func Run(d Descriptor, env *Env) (root ast.Vertex, stats Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			root, err = env.Root, &PassError{Pass: d.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if d.New == nil {
		return env.Root, Stats{}, &PassError{Pass: d.Name, Err: fmt.Errorf("no constructor")}
	}
	w := NewWalker(d.Name, d.New(env).Hooks(), env)
	root = w.Walk(env.Root)
	return root, w.Stats(), nil
}
