// Package compiler lowers surface script source, a curly-brace
// statement/expression language, into Script Trees.
package compiler

import (
	"github.com/crystal-mush/mushscript/pkg/tree"
)

// Compile lowers a whole script. The result is always a seq node. name is
// used only in error positions and may be empty.
func Compile(name, src string) (n tree.Node, err error) {
	prog, err := parse(name, src)
	if err != nil {
		return tree.Node{}, err
	}
	l := &lowerer{file: name}
	defer l.recover(&err)
	return l.program(prog), nil
}

// CompileExpr lowers source holding exactly one expression, without the
// surrounding seq.
func CompileExpr(src string) (n tree.Node, err error) {
	prog, err := parse("", src)
	if err != nil {
		return tree.Node{}, err
	}
	if len(prog.body) != 1 {
		return tree.Node{}, &SyntaxError{Pos: Pos{Line: 1, Col: 1}, Msg: "expected a single expression"}
	}
	es, ok := prog.body[0].(*exprStmt)
	if !ok {
		return tree.Node{}, &SyntaxError{Pos: prog.body[0].stmtPos(), Msg: "expected an expression, found a statement"}
	}
	l := &lowerer{}
	defer l.recover(&err)
	l.push()
	return l.expr(es.x), nil
}

func (l *lowerer) recover(errp *error) {
	if r := recover(); r != nil {
		b, ok := r.(bailout)
		if !ok {
			panic(r)
		}
		*errp = b.err
	}
}
