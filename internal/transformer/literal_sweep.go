package transformer

import (
	"encoding/base64"

	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
	"github.com/whit3rabbit/phpunmixer/internal/evaluator"
)

// Decoder is a reversible text encoding tried on every string literal.
type Decoder interface {
	Name() string
	Decode(s string) (string, bool)
}

// Base64Decoder accepts canonical, padded base64 that decodes to text.
type Base64Decoder struct {
	Label    string
	Encoding *base64.Encoding
}

func (d Base64Decoder) Name() string { return d.Label }

func (d Base64Decoder) Decode(s string) (string, bool) {
	if len(s) < 4 || len(s)%4 != 0 {
		return "", false
	}
	out, err := d.Encoding.Strict().DecodeString(s)
	if err != nil || len(out) == 0 || !IsText(string(out)) {
		return "", false
	}
	return string(out), true
}

// SweepOptions select what the literal sweep does.
type SweepOptions struct {
	Base64                  bool
	URLSafe                 bool
	ApplyExtractedFunctions bool
}

// DefaultSweepOptions enables everything.
func DefaultSweepOptions() SweepOptions {
	return SweepOptions{Base64: true, URLSafe: true, ApplyExtractedFunctions: true}
}

// Sweep decodes string literals in place after every pass.
type Sweep struct {
	decoders []Decoder
	extract  bool
}

// NewSweep builds a sweep. Standard base64 is tried before the URL-safe alphabet.
func NewSweep(opts SweepOptions) *Sweep {
	s := &Sweep{extract: opts.ApplyExtractedFunctions}
	if opts.Base64 {
		s.decoders = append(s.decoders, Base64Decoder{Label: "base64", Encoding: base64.StdEncoding})
	}
	if opts.URLSafe {
		s.decoders = append(s.decoders, Base64Decoder{Label: "base64url", Encoding: base64.URLEncoding})
	}
	return s
}

// Run rewrites every decodable string literal of env.Root and returns how many were
// changed. The first extracted decoder is applied to each literal at most once per
// run and never to literals inside its own body. Literal arguments of decoder calls
// are left to the passes that fold those calls.
func (s *Sweep) Run(env *Env) int {
	var decoder *Binding
	skip := make(map[ast.Vertex]struct{})
	bindings := env.Bindings()
	if s.extract {
		decoder = bindings.Decoder()
	}
	if decoder != nil {
		astutil.Inspect(decoder.Lambda.Node, func(n ast.Vertex) bool {
			if lit, ok := n.(*ast.ScalarString); ok {
				skip[lit] = struct{}{}
			}
			return true
		})
	}

	var literals []*ast.ScalarString
	astutil.Inspect(env.Root, func(n ast.Vertex) bool {
		switch node := n.(type) {
		case *ast.ScalarString:
			literals = append(literals, node)
		case *ast.ExprFunctionCall:
			_, bound := bindings.CalleeBinding(node)
			if bound || IsFoldable(node) {
				if args, ok := astutil.Args(node); ok {
					for _, a := range args {
						skip[a] = struct{}{}
					}
				}
			}
		}
		return true
	})

	changed := 0
	for _, lit := range literals {
		if _, skipped := skip[lit]; skipped {
			continue
		}
		value, ok := astutil.StringValue(lit)
		if !ok || value == "" {
			continue
		}
		if decoder != nil && !env.Decoded(lit) {
			env.MarkDecoded(lit)
			out, err := env.Evaluator().Call(decoder.Func, evaluator.String(value))
			if err == nil && out.IsString() && out.Str != value && IsText(out.Str) {
				astutil.SetString(lit, out.Str)
				changed++
				continue
			}
		}
		for _, d := range s.decoders {
			if out, ok := d.Decode(value); ok && out != value {
				env.Logger.Debug("Decoded literal", "encoding", d.Name(), "bytes", len(out))
				astutil.SetString(lit, out)
				changed++
				break
			}
		}
	}
	return changed
}
