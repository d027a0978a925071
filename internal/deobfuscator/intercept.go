package deobfuscator

import (
	"log/slog"

	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
	"github.com/whit3rabbit/phpunmixer/internal/transformer"
)

// Interception is a literal payload handed to eval, assert or create_function in the
// source as given. The payload is parsed, never run.
type Interception struct {
	Construct string
	Line      int
	Payload   string
	Compiles  bool
	Err       error
}

// Intercept lists the literal dynamic-execution payloads of root and checks whether
// each one is valid PHP.
func Intercept(fe *astutil.Frontend, root ast.Vertex, logger *slog.Logger) []Interception {
	if logger == nil {
		logger = slog.Default()
	}
	var found []Interception
	astutil.Inspect(root, func(n ast.Vertex) bool {
		site, ok := transformer.DynamicExecOf(n)
		if !ok {
			return true
		}
		payload, ok := astutil.StringValue(site.Payload)
		if !ok {
			return true
		}
		ic := Interception{Construct: site.Construct, Payload: payload}
		if pos := n.GetPosition(); pos != nil {
			ic.Line = pos.StartLine
		}
		if _, err := fe.ParseFragment(payload); err != nil {
			ic.Err = err
		} else {
			ic.Compiles = true
		}
		logger.Info("Intercepted dynamic execution", "construct", ic.Construct, "line", ic.Line, "compiles", ic.Compiles, "bytes", len(payload))
		found = append(found, ic)
		return true
	})
	return found
}
