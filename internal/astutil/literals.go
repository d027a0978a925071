package astutil

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/VKCOM/php-parser/pkg/token"
)

// StringValue returns the runtime value of a constant string literal.
func StringValue(n ast.Vertex) (string, bool) {
	s, ok := n.(*ast.ScalarString)
	if !ok || s == nil {
		return "", false
	}
	return Unquote(string(s.Value))
}

// IntValue returns the value of an integer literal. Binary, octal, hexadecimal and
// underscore-separated forms are accepted.
func IntValue(n ast.Vertex) (int64, bool) {
	lit, ok := n.(*ast.ScalarLnumber)
	if !ok || lit == nil {
		return 0, false
	}
	raw := strings.ToLower(string(lit.Value))
	if len(raw) > 1 && raw[0] == '0' && raw[1] >= '0' && raw[1] <= '9' {
		raw = "0o" + raw[1:]
	}
	i, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

// FloatValue returns the value of a floating point literal.
func FloatValue(n ast.Vertex) (float64, bool) {
	lit, ok := n.(*ast.ScalarDnumber)
	if !ok || lit == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(string(lit.Value), "_", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// NewString builds a string literal for value. When like is non-nil the new node
// takes over its position and the whitespace and comments that preceded it, so the
// printed output keeps the original layout (including a leading open tag).
func NewString(value string, like ast.Vertex) *ast.ScalarString {
	quoted := []byte(Quote(value))
	s := &ast.ScalarString{
		StringTkn: &token.Token{Value: quoted},
		Value:     quoted,
	}
	adopt(s.StringTkn, like)
	if like != nil {
		s.Position = like.GetPosition()
	}
	return s
}

// NewInt builds an integer literal.
func NewInt(value int64, like ast.Vertex) *ast.ScalarLnumber {
	raw := []byte(strconv.FormatInt(value, 10))
	n := &ast.ScalarLnumber{
		NumberTkn: &token.Token{Value: raw},
		Value:     raw,
	}
	adopt(n.NumberTkn, like)
	if like != nil {
		n.Position = like.GetPosition()
	}
	return n
}

// SetString rewrites a string literal in place, keeping its surrounding trivia.
func SetString(s *ast.ScalarString, value string) {
	quoted := []byte(Quote(value))
	s.Value = quoted
	if s.StringTkn != nil {
		s.StringTkn.Value = quoted
	}
}

func adopt(tkn *token.Token, like ast.Vertex) {
	if like == nil {
		return
	}
	if lead := LeadingToken(like); lead != nil {
		tkn.FreeFloating = lead.FreeFloating
	}
}

// Quote renders value as a PHP string literal. Printable text uses single quotes;
// anything with control bytes or invalid UTF-8 uses a double-quoted literal with
// escapes.
func Quote(value string) string {
	if isSingleQuotable(value) {
		var b strings.Builder
		b.Grow(len(value) + 2)
		b.WriteByte('\'')
		for i := 0; i < len(value); i++ {
			c := value[i]
			if c == '\\' || c == '\'' {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		}
		b.WriteByte('\'')
		return b.String()
	}

	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '$':
			b.WriteString(`\$`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\v':
			b.WriteString(`\v`)
		case '\f':
			b.WriteString(`\f`)
		case 0x1b:
			b.WriteString(`\e`)
		default:
			if c < 0x20 || c >= 0x7f {
				b.WriteString(`\x`)
				b.WriteString(strconv.FormatUint(uint64(c)|0x100, 16)[1:])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isSingleQuotable(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if r == '\n' || r == '\t' {
			continue
		}
		if !unicode.IsPrint(r) && r != ' ' {
			return false
		}
	}
	return true
}

// Unquote decodes a single- or double-quoted PHP literal (with optional b prefix).
func Unquote(raw string) (string, bool) {
	if len(raw) > 0 && (raw[0] == 'b' || raw[0] == 'B') {
		raw = raw[1:]
	}
	if len(raw) < 2 {
		return "", false
	}
	q := raw[0]
	if (q != '\'' && q != '"') || raw[len(raw)-1] != q {
		return "", false
	}
	body := raw[1 : len(raw)-1]
	if q == '\'' {
		return unescapeSingle(body), true
	}
	return UnescapeDouble(body), true
}

func unescapeSingle(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == '\'') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// UnescapeDouble resolves the escape sequences of a double-quoted or heredoc string
// body. Unknown escapes keep their backslash, as PHP does.
func UnescapeDouble(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch next {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'v':
			b.WriteByte('\v')
		case 'e':
			b.WriteByte(0x1b)
		case 'f':
			b.WriteByte('\f')
		case '\\', '$', '"':
			b.WriteByte(next)
		case 'x':
			j := i + 2
			for j < len(s) && j < i+4 && isHex(s[j]) {
				j++
			}
			if j == i+2 {
				b.WriteString(`\x`)
				i++
				continue
			}
			v, _ := strconv.ParseUint(s[i+2:j], 16, 8)
			b.WriteByte(byte(v))
			i = j - 1
			continue
		case 'u':
			if i+2 < len(s) && s[i+2] == '{' {
				if end := strings.IndexByte(s[i+3:], '}'); end > 0 {
					if v, err := strconv.ParseUint(s[i+3:i+3+end], 16, 32); err == nil {
						b.WriteRune(rune(v))
						i = i + 3 + end
						continue
					}
				}
			}
			b.WriteString(`\u`)
		default:
			if next >= '0' && next <= '7' {
				j := i + 1
				for j < len(s) && j < i+4 && s[j] >= '0' && s[j] <= '7' {
					j++
				}
				v, _ := strconv.ParseUint(s[i+1:j], 8, 16)
				b.WriteByte(byte(v))
				i = j - 1
				continue
			}
			b.WriteByte('\\')
			b.WriteByte(next)
		}
		i++
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
