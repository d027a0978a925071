package astutil

import (
	"encoding/binary"
	"reflect"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/cespare/xxhash/v2"
)

// DefaultDumpLimit is the largest structural dump DumpBounded produces.
const DefaultDumpLimit = 8 << 20

var byteSliceType = reflect.TypeOf([]byte(nil))

// Fingerprint hashes the structure of a tree: vertex types, the shape of every
// child slot and the byte values of names and literals. Trivia and positions are
// ignored and a LimitMarker hashes as the subtree it wraps. Equal trees have equal
// fingerprints; the walk is iterative, so depth costs nothing but time.
func Fingerprint(root ast.Vertex) uint64 {
	d := xxhash.New()
	var num [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(num[:], uint64(v))
		_, _ = d.Write(num[:])
	}

	Inspect(root, func(n ast.Vertex) bool {
		if _, ok := n.(*LimitMarker); ok {
			return true
		}
		elem, ok := structOf(n)
		if !ok {
			_, _ = d.WriteString("?")
			return true
		}
		t := elem.Type()
		_, _ = d.WriteString(t.String())
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			fv := elem.Field(i)
			switch sf.Type {
			case byteSliceType:
				writeInt(fv.Len())
				_, _ = d.Write(fv.Bytes())
			case vertexType:
				if fv.IsNil() || isNil(fv.Interface().(ast.Vertex)) {
					writeInt(0)
				} else {
					writeInt(1)
				}
			case vertexSliceType:
				writeInt(fv.Len())
			}
		}
		return true
	})
	return d.Sum64()
}

// DumpBounded is Dump for trees whose dump is estimated to stay under limit bytes.
// Larger trees, which deep nesting makes quadratic in size, are not dumped and ok
// is false.
func DumpBounded(n ast.Vertex, limit int) (out string, ok bool) {
	if isNil(n) {
		return "", true
	}
	if estimateDumpSize(n, limit) > limit {
		return "", false
	}
	return Dump(n), true
}

// estimateDumpSize counts a lower bound of the dumper's output, one indented line
// per vertex, and stops once limit is passed.
func estimateDumpSize(root ast.Vertex, limit int) int {
	type item struct {
		n     ast.Vertex
		depth int
	}
	size := 0
	stack := []item{{root, 0}}
	for len(stack) > 0 && size <= limit {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		size += 4*it.depth + 32
		for _, c := range Children(it.n) {
			stack = append(stack, item{c, it.depth + 1})
		}
	}
	return size
}
