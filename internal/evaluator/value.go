package evaluator

import (
	"math"
	"strconv"
	"strings"
)

// Type tags a Value.
type Type int

const (
	TypeNull Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeArray
)

// Value is a PHP value restricted to what pure expressions can produce.
// Arrays keep insertion order; Keys and Items are parallel.
type Value struct {
	Type  Type
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Keys  []Value
	Items []Value
}

func String(s string) Value    { return Value{Type: TypeString, Str: s} }
func Int(i int64) Value        { return Value{Type: TypeInt, Int: i} }
func Float(f float64) Value    { return Value{Type: TypeFloat, Float: f} }
func Bool(b bool) Value        { return Value{Type: TypeBool, Bool: b} }
func Null() Value              { return Value{Type: TypeNull} }
func (v Value) IsString() bool { return v.Type == TypeString }

// List builds an array with implicit integer keys.
func List(items ...Value) Value {
	keys := make([]Value, len(items))
	for i := range items {
		keys[i] = Int(int64(i))
	}
	return Value{Type: TypeArray, Keys: keys, Items: items}
}

// AsString converts with PHP's string conversion rules.
func (v Value) AsString() string {
	switch v.Type {
	case TypeString:
		return v.Str
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return formatFloat(v.Float)
	case TypeBool:
		if v.Bool {
			return "1"
		}
		return ""
	case TypeArray:
		return "Array"
	}
	return ""
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	case math.IsNaN(f):
		return "NAN"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'G', 14, 64)
}

// AsInt converts with PHP's integer conversion rules. Leading numeric prefixes of
// strings are honoured ("12abc" is 12).
func (v Value) AsInt() int64 {
	switch v.Type {
	case TypeInt:
		return v.Int
	case TypeFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return 0
		}
		return int64(v.Float)
	case TypeBool:
		if v.Bool {
			return 1
		}
	case TypeString:
		n, _ := numericPrefix(v.Str)
		return n.AsInt()
	case TypeArray:
		if len(v.Items) > 0 {
			return 1
		}
	}
	return 0
}

// AsFloat converts to a float.
func (v Value) AsFloat() float64 {
	switch v.Type {
	case TypeFloat:
		return v.Float
	case TypeString:
		n, _ := numericPrefix(v.Str)
		if n.Type == TypeFloat {
			return n.Float
		}
		return float64(n.Int)
	}
	return float64(v.AsInt())
}

// Truthy converts with PHP's boolean conversion rules.
func (v Value) Truthy() bool {
	switch v.Type {
	case TypeBool:
		return v.Bool
	case TypeInt:
		return v.Int != 0
	case TypeFloat:
		return v.Float != 0
	case TypeString:
		return v.Str != "" && v.Str != "0"
	case TypeArray:
		return len(v.Items) > 0
	}
	return false
}

// numeric returns the int or float form of v used by arithmetic.
func (v Value) numeric() Value {
	switch v.Type {
	case TypeInt, TypeFloat:
		return v
	case TypeString:
		n, _ := numericPrefix(v.Str)
		return n
	}
	return Int(v.AsInt())
}

// numericPrefix parses the leading number of s. The bool reports whether the whole
// string (ignoring surrounding whitespace) was numeric.
func numericPrefix(s string) (Value, bool) {
	t := strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(t) && (t[end] == '+' || t[end] == '-') {
		end++
	}
	digits := 0
	for end < len(t) && t[end] >= '0' && t[end] <= '9' {
		end++
		digits++
	}
	isFloat := false
	if end < len(t) && t[end] == '.' {
		j := end + 1
		frac := 0
		for j < len(t) && t[j] >= '0' && t[j] <= '9' {
			j++
			frac++
		}
		if digits+frac > 0 {
			end, digits, isFloat = j, digits+frac, true
		}
	}
	if digits > 0 && end < len(t) && (t[end] == 'e' || t[end] == 'E') {
		j := end + 1
		if j < len(t) && (t[j] == '+' || t[j] == '-') {
			j++
		}
		exp := 0
		for j < len(t) && t[j] >= '0' && t[j] <= '9' {
			j++
			exp++
		}
		if exp > 0 {
			end, isFloat = j, true
		}
	}
	if digits == 0 {
		return Int(0), false
	}
	whole := strings.TrimRight(t[end:], " \t\n\r\v\f") == ""
	if !isFloat {
		if i, err := strconv.ParseInt(t[:end], 10, 64); err == nil {
			return Int(i), whole
		}
	}
	f, _ := strconv.ParseFloat(t[:end], 64)
	return Float(f), whole
}

// looseEqual implements ==.
func looseEqual(a, b Value) bool {
	if a.Type == TypeString && b.Type == TypeString {
		na, okA := numericPrefix(a.Str)
		nb, okB := numericPrefix(b.Str)
		if okA && okB {
			return na.AsFloat() == nb.AsFloat()
		}
		return a.Str == b.Str
	}
	if a.Type == TypeNull || b.Type == TypeNull || a.Type == TypeBool || b.Type == TypeBool {
		return a.Truthy() == b.Truthy()
	}
	if a.Type == TypeString || b.Type == TypeString {
		str, num := a, b
		if b.Type == TypeString {
			str, num = b, a
		}
		n, whole := numericPrefix(str.Str)
		if !whole {
			return str.Str == num.AsString()
		}
		return n.AsFloat() == num.AsFloat()
	}
	if a.Type == TypeArray || b.Type == TypeArray {
		return identical(a, b)
	}
	return a.AsFloat() == b.AsFloat()
}

// identical implements ===.
func identical(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case TypeNull:
		return true
	case TypeBool:
		return a.Bool == b.Bool
	case TypeInt:
		return a.Int == b.Int
	case TypeFloat:
		return a.Float == b.Float
	case TypeString:
		return a.Str == b.Str
	case TypeArray:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !identical(a.Keys[i], b.Keys[i]) || !identical(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// compare orders two scalars: -1, 0 or 1.
func compare(a, b Value) int {
	if a.Type == TypeString && b.Type == TypeString {
		na, okA := numericPrefix(a.Str)
		nb, okB := numericPrefix(b.Str)
		if !okA || !okB {
			return strings.Compare(a.Str, b.Str)
		}
		a, b = na, nb
	}
	fa, fb := a.AsFloat(), b.AsFloat()
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}
