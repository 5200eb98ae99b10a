// Package render turns Script Trees back into readable call syntax for
// editors, debuggers and round-trip checks.
package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/crystal-mush/mushscript/pkg/tree"
)

const indentUnit = "  "

// Decompile renders n as text. A top-level seq renders one statement per
// line, each terminated by ';'. Every other opcode renders as op(a, b, ...).
// Decompile never fails.
func Decompile(n tree.Node) string {
	var b strings.Builder
	if n.IsCall(tree.OpSeq) {
		for i := 0; i < n.NumArgs(); i++ {
			if i > 0 {
				b.WriteByte('\n')
			}
			writeStmt(&b, n.Arg(i), 0)
			b.WriteByte(';')
		}
		return b.String()
	}
	writeNode(&b, n, 0)
	return b.String()
}

// DecompileValue renders a raw decoded wire value (as produced by a JSON
// decoder). Values that are not well-formed trees are rendered as a quoted
// description instead of failing, so broken entity data can still be shown.
func DecompileValue(v any) string {
	n, err := tree.FromValue(v)
	if err != nil {
		return Quote(fmt.Sprintf("%v", v))
	}
	return Decompile(n)
}

// writeStmt renders a statement whose line sits at indentation level.
// A statement that is itself a seq is nested one level deeper.
func writeStmt(b *strings.Builder, n tree.Node, level int) {
	if n.IsCall(tree.OpSeq) {
		writeNode(b, n, level+1)
		return
	}
	writeNode(b, n, level)
}

func writeNode(b *strings.Builder, n tree.Node, depth int) {
	switch n.Kind() {
	case tree.KindNull:
		b.WriteString("null")
	case tree.KindBool:
		if n.Boolean() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case tree.KindNumber:
		b.WriteString(FormatNumber(n.Number()))
	case tree.KindText:
		b.WriteString(Quote(n.Str()))
	case tree.KindEmpty:
		b.WriteString("[]")
	case tree.KindCall:
		if n.Op() == tree.OpSeq {
			writeNestedSeq(b, n, depth)
			return
		}
		b.WriteString(n.Op())
		b.WriteByte('(')
		for i := 0; i < n.NumArgs(); i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			writeNode(b, n.Arg(i), depth+1)
		}
		b.WriteByte(')')
	default:
		b.WriteString("null")
	}
}

// writeNestedSeq renders a seq that appears inside another construct at the
// given depth: statements at depth, closing paren at depth-1.
func writeNestedSeq(b *strings.Builder, n tree.Node, depth int) {
	if depth < 1 {
		depth = 1
	}
	if n.NumArgs() == 0 {
		b.WriteString("seq()")
		return
	}
	b.WriteString("seq(\n")
	inner := strings.Repeat(indentUnit, depth)
	for i := 0; i < n.NumArgs(); i++ {
		b.WriteString(inner)
		writeStmt(b, n.Arg(i), depth)
		b.WriteString(";\n")
	}
	b.WriteString(strings.Repeat(indentUnit, depth-1))
	b.WriteByte(')')
}

// FormatNumber renders f in its canonical short form: integers without a
// fractional part, everything else in the shortest representation that
// round-trips.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Quote renders s as a double-quoted string literal using JSON escapes.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
