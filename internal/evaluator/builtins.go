package evaluator

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

type builtin struct {
	min, max int
	fn       func(e *Evaluator, args []Value) (Value, error)
}

// variadic marks builtins without an upper argument bound.
const variadic = -1

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"str_replace":   {3, 3, strReplace},
		"strtr":         {2, 3, strtr},
		"strrev":        {1, 1, stringFn(reverse)},
		"str_rot13":     {1, 1, stringFn(rot13)},
		"strtoupper":    {1, 1, stringFn(asciiUpper)},
		"strtolower":    {1, 1, stringFn(asciiLower)},
		"ucfirst":       {1, 1, stringFn(ucfirst)},
		"lcfirst":       {1, 1, stringFn(lcfirst)},
		"trim":          {1, 2, trimFn(strings.Trim)},
		"ltrim":         {1, 2, trimFn(strings.TrimLeft)},
		"rtrim":         {1, 2, trimFn(strings.TrimRight)},
		"chop":          {1, 2, trimFn(strings.TrimRight)},
		"base64_decode": {1, 2, base64Decode},
		"base64_encode": {1, 1, stringFn(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) })},
		"hex2bin":       {1, 1, hex2bin},
		"bin2hex":       {1, 1, stringFn(func(s string) string { return hex.EncodeToString([]byte(s)) })},
		"urldecode":     {1, 1, urlDecode(url.QueryUnescape)},
		"rawurldecode":  {1, 1, urlDecode(url.PathUnescape)},
		"gzinflate":     {1, 2, inflate(func(r io.Reader) (io.ReadCloser, error) { return flate.NewReader(r), nil })},
		"gzuncompress":  {1, 2, inflate(func(r io.Reader) (io.ReadCloser, error) { return zlib.NewReader(r) })},
		"gzdecode":      {1, 2, inflate(func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) })},
		"substr":        {2, 3, substr},
		"strlen":        {1, 1, func(_ *Evaluator, a []Value) (Value, error) { return Int(int64(len(a[0].AsString()))), nil }},
		"str_repeat":    {2, 2, strRepeat},
		"chr":           {1, 1, chr},
		"ord":           {1, 1, ord},
		"sprintf":       {1, variadic, sprintf},
		"implode":       {1, 2, implode},
		"join":          {1, 2, implode},
		"strval":        {1, 1, func(_ *Evaluator, a []Value) (Value, error) { return String(a[0].AsString()), nil }},
		"intval":        {1, 1, func(_ *Evaluator, a []Value) (Value, error) { return Int(a[0].AsInt()), nil }},
	}
}

// IsBuiltin reports whether name (lower case) is an evaluable pure function.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// CallBuiltin applies the named pure function to already evaluated arguments.
// A panic inside a builtin is returned as an ErrUnsupported error.
func (e *Evaluator) CallBuiltin(name string, args ...Value) (v Value, err error) {
	b, ok := builtins[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: function %s", ErrUnsupported, name)
	}
	if len(args) < b.min || (b.max != variadic && len(args) > b.max) {
		return Value{}, fmt.Errorf("%w: %s called with %d arguments", ErrUnsupported, name, len(args))
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = Value{}, fmt.Errorf("%w: %s panicked: %v", ErrUnsupported, name, r)
		}
	}()
	v, err = b.fn(e, args)
	if err != nil {
		return Value{}, err
	}
	if v.Type == TypeString && len(v.Str) > e.MaxOutput {
		return Value{}, fmt.Errorf("%w: %s produced %d bytes", ErrLimit, name, len(v.Str))
	}
	return v, nil
}

func stringFn(f func(string) string) func(*Evaluator, []Value) (Value, error) {
	return func(_ *Evaluator, a []Value) (Value, error) {
		if a[0].Type == TypeArray {
			return Value{}, fmt.Errorf("%w: array argument", ErrUnsupported)
		}
		return String(f(a[0].AsString())), nil
	}
}

func strReplace(_ *Evaluator, a []Value) (Value, error) {
	search, replace, subject := a[0], a[1], a[2]
	if subject.Type == TypeArray {
		return Value{}, fmt.Errorf("%w: array subject", ErrUnsupported)
	}
	out := subject.AsString()
	if search.Type != TypeArray {
		if replace.Type == TypeArray {
			return Value{}, fmt.Errorf("%w: array replacement for string search", ErrUnsupported)
		}
		if s := search.AsString(); s != "" {
			out = strings.ReplaceAll(out, s, replace.AsString())
		}
		return String(out), nil
	}
	for i, s := range search.Items {
		rep := ""
		switch {
		case replace.Type != TypeArray:
			rep = replace.AsString()
		case i < len(replace.Items):
			rep = replace.Items[i].AsString()
		}
		if from := s.AsString(); from != "" {
			out = strings.ReplaceAll(out, from, rep)
		}
	}
	return String(out), nil
}

func strtr(_ *Evaluator, a []Value) (Value, error) {
	s := a[0].AsString()
	if len(a) == 3 {
		from, to := a[1].AsString(), a[2].AsString()
		n := min(len(from), len(to))
		if n == 0 {
			return String(s), nil
		}
		var table [256]int
		for i := range table {
			table[i] = -1
		}
		for i := 0; i < n; i++ {
			table[from[i]] = int(to[i])
		}
		buf := []byte(s)
		for i, c := range buf {
			if t := table[c]; t >= 0 {
				buf[i] = byte(t)
			}
		}
		return String(string(buf)), nil
	}

	pairs := a[1]
	if pairs.Type != TypeArray {
		return Value{}, fmt.Errorf("%w: strtr with two arguments needs an array", ErrUnsupported)
	}
	type pair struct{ from, to string }
	var ps []pair
	for i, k := range pairs.Keys {
		if from := k.AsString(); from != "" {
			ps = append(ps, pair{from, pairs.Items[i].AsString()})
		}
	}
	sort.SliceStable(ps, func(i, j int) bool { return len(ps[i].from) > len(ps[j].from) })
	var b strings.Builder
	for i := 0; i < len(s); {
		matched := false
		for _, p := range ps {
			if strings.HasPrefix(s[i:], p.from) {
				b.WriteString(p.to)
				i += len(p.from)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(s[i])
			i++
		}
	}
	return String(b.String()), nil
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func rot13(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = 'a' + (c-'a'+13)%26
		case c >= 'A' && c <= 'Z':
			b[i] = 'A' + (c-'A'+13)%26
		}
	}
	return string(b)
}

func asciiUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func ucfirst(s string) string {
	if s == "" {
		return s
	}
	return asciiUpper(s[:1]) + s[1:]
}

func lcfirst(s string) string {
	if s == "" {
		return s
	}
	return asciiLower(s[:1]) + s[1:]
}

const defaultTrimSet = " \t\n\r\x00\x0B"

func trimFn(f func(string, string) string) func(*Evaluator, []Value) (Value, error) {
	return func(_ *Evaluator, a []Value) (Value, error) {
		set := defaultTrimSet
		if len(a) == 2 {
			set = a[1].AsString()
			if strings.Contains(set, "..") {
				return Value{}, fmt.Errorf("%w: character ranges in trim set", ErrUnsupported)
			}
		}
		return String(f(a[0].AsString(), set)), nil
	}
}

// base64Decode follows PHP's lenient decoder: characters outside the alphabet are
// skipped unless strict mode is requested.
func base64Decode(_ *Evaluator, a []Value) (Value, error) {
	s := a[0].AsString()
	strict := len(a) == 2 && a[1].Truthy()

	var clean strings.Builder
	padding := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '=':
			padding = true
		case (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '+' || c == '/':
			if padding && strict {
				return Bool(false), nil
			}
			clean.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
		default:
			if strict {
				return Bool(false), nil
			}
		}
	}
	body := clean.String()
	if len(body)%4 == 1 {
		if strict {
			return Bool(false), nil
		}
		body = body[:len(body)-1]
	}
	out, err := base64.RawStdEncoding.DecodeString(body)
	if err != nil {
		var corrupt base64.CorruptInputError
		if !errors.As(err, &corrupt) || strict {
			return Bool(false), nil
		}
		return String(string(out)), nil
	}
	return String(string(out)), nil
}

func hex2bin(_ *Evaluator, a []Value) (Value, error) {
	out, err := hex.DecodeString(a[0].AsString())
	if err != nil {
		return Bool(false), nil
	}
	return String(string(out)), nil
}

func urlDecode(f func(string) (string, error)) func(*Evaluator, []Value) (Value, error) {
	return func(_ *Evaluator, a []Value) (Value, error) {
		out, err := f(a[0].AsString())
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return String(out), nil
	}
}

func inflate(open func(io.Reader) (io.ReadCloser, error)) func(*Evaluator, []Value) (Value, error) {
	return func(e *Evaluator, a []Value) (Value, error) {
		limit := int64(e.MaxOutput)
		if len(a) == 2 && a[1].AsInt() > 0 && a[1].AsInt() < limit {
			limit = a[1].AsInt()
		}
		r, err := open(bytes.NewReader([]byte(a[0].AsString())))
		if err != nil {
			return Bool(false), nil
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return Bool(false), nil
		}
		if int64(len(out)) > limit {
			return Value{}, fmt.Errorf("%w: decompressed data exceeds %d bytes", ErrLimit, limit)
		}
		return String(string(out)), nil
	}
}

func substr(_ *Evaluator, a []Value) (Value, error) {
	s := a[0].AsString()
	n := int64(len(s))
	start := a[1].AsInt()
	if start < 0 {
		start = max(n+start, 0)
	}
	if start > n {
		return String(""), nil
	}
	end := n
	if len(a) == 3 && a[2].Type != TypeNull {
		length := a[2].AsInt()
		if length < 0 {
			end = n + length
		} else {
			end = min(start+length, n)
		}
	}
	if end <= start {
		return String(""), nil
	}
	return String(s[start:end]), nil
}

func strRepeat(e *Evaluator, a []Value) (Value, error) {
	s, times := a[0].AsString(), a[1].AsInt()
	if times < 0 {
		return Value{}, fmt.Errorf("%w: negative repeat count", ErrUnsupported)
	}
	if len(s) > 0 && times > int64(e.MaxOutput)/int64(len(s)) {
		return Value{}, fmt.Errorf("%w: str_repeat result too large", ErrLimit)
	}
	return String(strings.Repeat(s, int(times))), nil
}

func chr(_ *Evaluator, a []Value) (Value, error) {
	c := a[0].AsInt() % 256
	if c < 0 {
		c += 256
	}
	return String(string([]byte{byte(c)})), nil
}

func ord(_ *Evaluator, a []Value) (Value, error) {
	s := a[0].AsString()
	if s == "" {
		return Int(0), nil
	}
	return Int(int64(s[0])), nil
}

func implode(_ *Evaluator, a []Value) (Value, error) {
	var glue string
	var list Value
	switch {
	case len(a) == 1:
		list = a[0]
	case a[0].Type == TypeArray:
		list, glue = a[0], a[1].AsString()
	default:
		glue, list = a[0].AsString(), a[1]
	}
	if list.Type != TypeArray {
		return Value{}, fmt.Errorf("%w: implode needs an array", ErrUnsupported)
	}
	parts := make([]string, len(list.Items))
	for i, it := range list.Items {
		parts[i] = it.AsString()
	}
	return String(strings.Join(parts, glue)), nil
}

// sprintf supports the s, d, u, x, X, o, b, c and % conversions with flags, width,
// precision and explicit argument numbers.
func sprintf(e *Evaluator, a []Value) (Value, error) {
	format := a[0].AsString()
	args := a[1:]
	next := 0
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return Value{}, fmt.Errorf("%w: trailing %% in format", ErrUnsupported)
		}
		if format[i] == '%' {
			b.WriteByte('%')
			continue
		}

		argIndex := -1
		if j := i; j < len(format) {
			k := j
			for k < len(format) && format[k] >= '0' && format[k] <= '9' {
				k++
			}
			if k > j && k < len(format) && format[k] == '$' {
				n, _ := strconv.Atoi(format[j:k])
				argIndex = n - 1
				i = k + 1
			}
		}

		pad, left, plus := byte(' '), false, false
	flags:
		for ; i < len(format); i++ {
			switch format[i] {
			case '-':
				left = true
			case '+':
				plus = true
			case '0':
				pad = '0'
			case ' ':
				pad = ' '
			case '\'':
				if i+1 < len(format) {
					i++
					pad = format[i]
				}
			default:
				break flags
			}
		}
		width := 0
		for ; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}
		precision := -1
		if i < len(format) && format[i] == '.' {
			precision = 0
			for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
				precision = precision*10 + int(format[i]-'0')
			}
		}
		if i >= len(format) {
			return Value{}, fmt.Errorf("%w: truncated conversion", ErrUnsupported)
		}

		idx := argIndex
		if idx < 0 {
			idx = next
			next++
		}
		if idx < 0 || idx >= len(args) {
			return Value{}, fmt.Errorf("%w: too few sprintf arguments", ErrUnsupported)
		}
		arg := args[idx]

		var s string
		switch format[i] {
		case 's':
			s = arg.AsString()
			if precision >= 0 && precision < len(s) {
				s = s[:precision]
			}
		case 'd':
			n := arg.AsInt()
			s = strconv.FormatInt(n, 10)
			if plus && n >= 0 {
				s = "+" + s
			}
		case 'u':
			s = strconv.FormatUint(uint64(arg.AsInt()), 10)
		case 'x':
			s = strconv.FormatUint(uint64(arg.AsInt()), 16)
		case 'X':
			s = strings.ToUpper(strconv.FormatUint(uint64(arg.AsInt()), 16))
		case 'o':
			s = strconv.FormatUint(uint64(arg.AsInt()), 8)
		case 'b':
			s = strconv.FormatUint(uint64(arg.AsInt()), 2)
		case 'c':
			b.WriteByte(byte(arg.AsInt()))
			continue
		default:
			return Value{}, fmt.Errorf("%w: sprintf conversion %%%c", ErrUnsupported, format[i])
		}
		if width > e.MaxOutput || b.Len()+max(width, len(s)) > e.MaxOutput {
			return Value{}, fmt.Errorf("%w: sprintf result too large", ErrLimit)
		}
		if len(s) < width {
			fill := strings.Repeat(string(pad), width-len(s))
			switch {
			case left:
				if pad == '0' {
					fill = strings.Repeat(" ", width-len(s))
				}
				s += fill
			case pad == '0' && len(s) > 0 && (s[0] == '-' || s[0] == '+'):
				s = s[:1] + fill + s[1:]
			default:
				s = fill + s
			}
		}
		b.WriteString(s)
	}
	return String(b.String()), nil
}
