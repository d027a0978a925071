package astutil

import (
	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/VKCOM/php-parser/pkg/position"
)

// LimitMarker replaces a subtree the walker refused to descend into because the
// recursion ceiling was reached. It renders, dumps and reports positions exactly as
// the wrapped subtree does, so a marked tree is still printable. Walkers never enter
// a marker.
type LimitMarker struct {
	Node  ast.Vertex
	Depth int
}

func (m *LimitMarker) Accept(v ast.Visitor) {
	if m.Node != nil {
		m.Node.Accept(v)
	}
}

func (m *LimitMarker) GetPosition() *position.Position {
	if m.Node == nil {
		return nil
	}
	return m.Node.GetPosition()
}
