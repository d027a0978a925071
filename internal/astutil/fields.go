package astutil

import (
	"reflect"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/VKCOM/php-parser/pkg/position"
	"github.com/VKCOM/php-parser/pkg/token"
)

var (
	vertexType      = reflect.TypeOf((*ast.Vertex)(nil)).Elem()
	vertexSliceType = reflect.TypeOf([]ast.Vertex(nil))
	positionType    = reflect.TypeOf((*position.Position)(nil))
	tokenType       = reflect.TypeOf((*token.Token)(nil))
)

// Field is one child slot of a vertex: either a single child or a list of children.
// Setting a field writes straight into the owning struct.
type Field struct {
	Name  string
	value reflect.Value
}

// IsList reports whether the field holds a list of children.
func (f Field) IsList() bool { return f.value.Type() == vertexSliceType }

// Node returns the single child held by the field.
func (f Field) Node() ast.Vertex {
	if f.IsList() || f.value.IsNil() {
		return nil
	}
	n, _ := f.value.Interface().(ast.Vertex)
	if isNil(n) {
		return nil
	}
	return n
}

// SetNode replaces the single child held by the field.
func (f Field) SetNode(n ast.Vertex) {
	if n == nil {
		f.value.Set(reflect.Zero(vertexType))
		return
	}
	f.value.Set(reflect.ValueOf(&n).Elem())
}

// Nodes returns the children of a list field.
func (f Field) Nodes() []ast.Vertex {
	if !f.IsList() {
		return nil
	}
	nodes, _ := f.value.Interface().([]ast.Vertex)
	return nodes
}

// SetNodes replaces the children of a list field.
func (f Field) SetNodes(nodes []ast.Vertex) {
	f.value.Set(reflect.ValueOf(nodes))
}

// Fields returns the child slots of n in declaration order, which for php-parser
// vertices is source order.
func Fields(n ast.Vertex) []Field {
	elem, ok := structOf(n)
	if !ok {
		return nil
	}
	t := elem.Type()
	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Type == vertexType || sf.Type == vertexSliceType {
			fields = append(fields, Field{Name: sf.Name, value: elem.Field(i)})
		}
	}
	return fields
}

// Children returns the non-nil direct children of n in source order.
func Children(n ast.Vertex) []ast.Vertex {
	var out []ast.Vertex
	for _, f := range Fields(n) {
		if f.IsList() {
			for _, c := range f.Nodes() {
				if !isNil(c) {
					out = append(out, c)
				}
			}
			continue
		}
		if c := f.Node(); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Inspect calls fn for every vertex of the tree in pre-order. Returning false skips
// the children of that vertex. An explicit stack is used, so arbitrarily deep trees
// are safe.
func Inspect(root ast.Vertex, fn func(ast.Vertex) bool) {
	if isNil(root) {
		return
	}
	stack := []ast.Vertex{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			continue
		}
		children := Children(n)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// LeadingToken returns the first token of n in source order, the one carrying the
// whitespace and comments that precede the construct.
func LeadingToken(n ast.Vertex) *token.Token {
	for !isNil(n) {
		elem, ok := structOf(n)
		if !ok {
			return nil
		}
		var next ast.Vertex
	fields:
		for i := 0; i < elem.NumField(); i++ {
			fv := elem.Field(i)
			if !elem.Type().Field(i).IsExported() {
				continue
			}
			switch fv.Type() {
			case tokenType:
				if !fv.IsNil() {
					return fv.Interface().(*token.Token)
				}
			case vertexType:
				if c, _ := fv.Interface().(ast.Vertex); !isNil(c) {
					next = c
					break fields
				}
			case vertexSliceType:
				for _, c := range fv.Interface().([]ast.Vertex) {
					if !isNil(c) {
						next = c
						break fields
					}
				}
			}
		}
		n = next
	}
	return nil
}

// FixPositions gives every vertex without a position the position of its nearest
// positioned ancestor. Synthesized nodes otherwise carry none.
func FixPositions(root ast.Vertex) {
	type item struct {
		n      ast.Vertex
		parent *position.Position
	}
	if isNil(root) {
		return
	}
	stack := []item{{n: root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		pos := it.parent
		if elem, ok := structOf(it.n); ok {
			if fv := elem.FieldByName("Position"); fv.IsValid() && fv.Type() == positionType && fv.CanSet() {
				if fv.IsNil() {
					if it.parent != nil {
						cp := *it.parent
						fv.Set(reflect.ValueOf(&cp))
					}
				} else {
					pos = fv.Interface().(*position.Position)
				}
			}
		}
		for _, c := range Children(it.n) {
			stack = append(stack, item{n: c, parent: pos})
		}
	}
}

func structOf(n ast.Vertex) (reflect.Value, bool) {
	if n == nil {
		return reflect.Value{}, false
	}
	v := reflect.ValueOf(n)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return reflect.Value{}, false
	}
	elem := v.Elem()
	if elem.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return elem, true
}

func isNil(n ast.Vertex) bool {
	if n == nil {
		return true
	}
	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
