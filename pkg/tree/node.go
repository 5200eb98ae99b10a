// Package tree defines the Script Tree, the canonical representation scripts
// are stored, transmitted and executed in.
//
// A Node is either a literal (number, text, boolean, null), a call of an
// opcode with an ordered list of argument nodes, or the empty list. Nodes
// have no mutating methods: every constructor copies its inputs, and Args
// hands out copies, so a Node can be shared freely between goroutines.
package tree

import (
	"math"
	"strings"
)

// Kind classifies a Node.
type Kind int

const (
	KindNull   Kind = iota // null literal (zero value)
	KindNumber             // float64 literal
	KindText               // text literal
	KindBool               // boolean literal
	KindCall               // opcode call
	KindEmpty              // empty list, wire form []
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindCall:
		return "call"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Built-in control forms handled by the interpreter itself. Library opcodes
// may never use these names.
const (
	OpSeq    = "seq"
	OpLet    = "let"
	OpVar    = "var"
	OpSet    = "set"
	OpIf     = "if"
	OpLambda = "lambda"
	OpReturn = "return"
	OpAnd    = "&&"
	OpOr     = "||"
	OpWhile  = "while"
)

var builtins = map[string]bool{
	OpSeq: true, OpLet: true, OpVar: true, OpSet: true, OpIf: true,
	OpLambda: true, OpReturn: true, OpAnd: true, OpOr: true, OpWhile: true,
}

// IsBuiltin reports whether op names a built-in control form.
func IsBuiltin(op string) bool {
	return builtins[op]
}

// Node is one Script Tree value. The zero Node is the null literal.
type Node struct {
	kind Kind
	num  float64
	text string // text literal, or the opcode of a call
	b    bool
	args []Node
}

// Null returns the null literal.
func Null() Node { return Node{} }

// Num returns a number literal.
func Num(f float64) Node { return Node{kind: KindNumber, num: f} }

// Text returns a text literal.
func Text(s string) Node { return Node{kind: KindText, text: s} }

// Bool returns a boolean literal.
func Bool(b bool) Node { return Node{kind: KindBool, b: b} }

// EmptyList returns the empty list node.
func EmptyList() Node { return Node{kind: KindEmpty} }

// Call returns a call of op with the given arguments. The argument slice is
// copied; later changes to it do not affect the returned node.
func Call(op string, args ...Node) Node {
	n := Node{kind: KindCall, text: op}
	if len(args) > 0 {
		n.args = make([]Node, len(args))
		copy(n.args, args)
	}
	return n
}

// Seq is shorthand for Call(OpSeq, stmts...).
func Seq(stmts ...Node) Node { return Call(OpSeq, stmts...) }

// Let is shorthand for a binding introduction.
func Let(name string, init Node) Node { return Call(OpLet, Text(name), init) }

// Var is shorthand for a binding lookup.
func Var(name string) Node { return Call(OpVar, Text(name)) }

// Kind returns the node's kind.
func (n Node) Kind() Kind { return n.kind }

// IsNull reports whether n is the null literal.
func (n Node) IsNull() bool { return n.kind == KindNull }

// IsCall reports whether n is a call, and if ops are given, whether its
// opcode is one of them.
func (n Node) IsCall(ops ...string) bool {
	if n.kind != KindCall {
		return false
	}
	if len(ops) == 0 {
		return true
	}
	for _, op := range ops {
		if n.text == op {
			return true
		}
	}
	return false
}

// IsLiteral reports whether n is a null, number, text or boolean literal.
func (n Node) IsLiteral() bool {
	switch n.kind {
	case KindNull, KindNumber, KindText, KindBool:
		return true
	}
	return false
}

// Number returns the value of a number literal (0 otherwise).
func (n Node) Number() float64 { return n.num }

// Str returns the value of a text literal ("" otherwise).
func (n Node) Str() string {
	if n.kind != KindText {
		return ""
	}
	return n.text
}

// Boolean returns the value of a boolean literal (false otherwise).
func (n Node) Boolean() bool { return n.b }

// Op returns the opcode of a call ("" otherwise).
func (n Node) Op() string {
	if n.kind != KindCall {
		return ""
	}
	return n.text
}

// NumArgs returns the number of call arguments.
func (n Node) NumArgs() int { return len(n.args) }

// Arg returns argument i of a call, or the null literal if out of range.
func (n Node) Arg(i int) Node {
	if i < 0 || i >= len(n.args) {
		return Null()
	}
	return n.args[i]
}

// Args returns a copy of the call arguments.
func (n Node) Args() []Node {
	if len(n.args) == 0 {
		return nil
	}
	out := make([]Node, len(n.args))
	copy(out, n.args)
	return out
}

// Value returns the Go value of a literal: nil, float64, string or bool.
// Calls and the empty list return nil.
func (n Node) Value() any {
	switch n.kind {
	case KindNumber:
		return n.num
	case KindText:
		return n.text
	case KindBool:
		return n.b
	}
	return nil
}

// Equal reports whether a and b are structurally equal.
func Equal(a, b Node) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull, KindEmpty:
		return true
	case KindNumber:
		return a.num == b.num || (math.IsNaN(a.num) && math.IsNaN(b.num))
	case KindText:
		return a.text == b.text
	case KindBool:
		return a.b == b.b
	case KindCall:
		if a.text != b.text || len(a.args) != len(b.args) {
			return false
		}
		for i := range a.args {
			if !Equal(a.args[i], b.args[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Walk calls fn for n and every descendant in depth-first pre-order. If fn
// returns false the children of that node are skipped.
func Walk(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	for _, a := range n.args {
		Walk(a, fn)
	}
}

// Opcodes returns the distinct opcodes used in n, in first-seen order.
func Opcodes(n Node) []string {
	seen := make(map[string]bool)
	var ops []string
	Walk(n, func(c Node) bool {
		if c.kind == KindCall && !seen[c.text] {
			seen[c.text] = true
			ops = append(ops, c.text)
		}
		return true
	})
	return ops
}

// String returns the compact wire encoding of n, for logs and test output.
func (n Node) String() string {
	data, err := Encode(n)
	if err != nil {
		var b strings.Builder
		b.WriteString("<")
		b.WriteString(n.kind.String())
		b.WriteString(">")
		return b.String()
	}
	return string(data)
}
