package compiler

import (
	"github.com/crystal-mush/mushscript/pkg/tree"
)

// scope tracks names bound lexically at compile time so calls can be split
// into closure applications and opcode calls.
type scope struct {
	names map[string]string // name -> declaring keyword
	outer *scope
}

type lowerer struct {
	file string
	sc   *scope
}

func (l *lowerer) push() {
	l.sc = &scope{names: make(map[string]string), outer: l.sc}
}

func (l *lowerer) pop() { l.sc = l.sc.outer }

func (l *lowerer) declare(name, kind string) { l.sc.names[name] = kind }

func (l *lowerer) lookup(name string) (string, bool) {
	for s := l.sc; s != nil; s = s.outer {
		if k, ok := s.names[name]; ok {
			return k, true
		}
	}
	return "", false
}

func (l *lowerer) syntaxError(pos Pos, msg string) {
	panic(bailout{&SyntaxError{File: l.file, Pos: pos, Msg: msg}})
}

func (l *lowerer) unsupported(pos Pos, construct string) {
	panic(bailout{&UnsupportedConstructError{File: l.file, Pos: pos, Construct: construct}})
}

func (l *lowerer) program(p *program) tree.Node {
	l.push()
	defer l.pop()
	return tree.Seq(l.stmts(p.body)...)
}

// stmts lowers a statement list. Function declarations are bound first, in
// source order, so every statement of the list can call them; the other
// statements follow in source order.
func (l *lowerer) stmts(list []stmt) []tree.Node {
	var funcs, rest []stmt
	for _, s := range list {
		if fd, ok := s.(*funcDecl); ok {
			l.declare(fd.name, "function")
			funcs = append(funcs, s)
		} else {
			rest = append(rest, s)
		}
	}
	out := make([]tree.Node, 0, len(list))
	for _, s := range append(funcs, rest...) {
		out = append(out, l.stmt(s))
	}
	return out
}

func (l *lowerer) block(b *block) tree.Node {
	l.push()
	defer l.pop()
	return tree.Seq(l.stmts(b.stmts)...)
}

func (l *lowerer) stmt(s stmt) tree.Node {
	switch s := s.(type) {
	case *block:
		return l.block(s)

	case *varDecl:
		// Declared before the initializer so recursive closures resolve.
		l.declare(s.name, s.kind)
		init := tree.Null()
		if s.init != nil {
			init = l.expr(s.init)
		}
		return tree.Let(s.name, init)

	case *funcDecl:
		return tree.Let(s.name, l.lambda(s.params, s.body, nil))

	case *ifStmt:
		els := tree.Null()
		if s.els != nil {
			els = l.stmt(s.els)
		}
		return tree.Call(tree.OpIf, l.expr(s.cond), l.stmt(s.then), els)

	case *whileStmt:
		return tree.Call(tree.OpWhile, l.expr(s.cond), l.stmt(s.body))

	case *returnStmt:
		if s.value == nil {
			return tree.Call(tree.OpReturn)
		}
		return tree.Call(tree.OpReturn, l.expr(s.value))

	case *exprStmt:
		return l.expr(s.x)
	}
	l.unsupported(s.stmtPos(), "statement")
	return tree.Node{}
}

// lambda lowers a function body to ["lambda", params..., body].
func (l *lowerer) lambda(params []string, body *block, exprBody expr) tree.Node {
	l.push()
	defer l.pop()
	args := make([]tree.Node, 0, len(params)+1)
	for _, p := range params {
		l.declare(p, "param")
		args = append(args, tree.Text(p))
	}
	if body != nil {
		args = append(args, tree.Seq(l.stmts(body.stmts)...))
	} else {
		args = append(args, l.expr(exprBody))
	}
	return tree.Call(tree.OpLambda, args...)
}

func (l *lowerer) exprs(list []expr) []tree.Node {
	out := make([]tree.Node, 0, len(list))
	for _, x := range list {
		out = append(out, l.expr(x))
	}
	return out
}

func (l *lowerer) expr(x expr) tree.Node {
	switch x := x.(type) {
	case *numberLit:
		return tree.Num(x.value)
	case *stringLit:
		return tree.Text(x.value)
	case *boolLit:
		return tree.Bool(x.value)
	case *nullLit:
		return tree.Null()
	case *thisExpr:
		return tree.Call("this")
	case *ident:
		return tree.Var(x.name)

	case *arrayLit:
		return tree.Call("list", l.exprs(x.elems)...)

	case *objectLit:
		args := make([]tree.Node, 0, 2*len(x.props))
		for _, p := range x.props {
			if p.computed != nil {
				args = append(args, l.expr(p.computed))
			} else {
				args = append(args, tree.Text(p.key))
			}
			args = append(args, l.expr(p.value))
		}
		return tree.Call("obj", args...)

	case *binaryExpr:
		return tree.Call(x.op, l.expr(x.x), l.expr(x.y))

	case *unaryExpr:
		return tree.Call(x.op, l.expr(x.x))

	case *condExpr:
		return tree.Call(tree.OpIf, l.expr(x.cond), l.expr(x.then), l.expr(x.els))

	case *assignExpr:
		return l.assign(x)

	case *callExpr:
		return l.call(x)

	case *memberExpr:
		return tree.Call("get", l.expr(x.x), tree.Text(x.name))

	case *indexExpr:
		return tree.Call("get", l.expr(x.x), l.expr(x.index))

	case *funcLit:
		return l.lambda(x.params, x.body, x.exprBody)
	}
	l.unsupported(x.exprPos(), "expression")
	return tree.Node{}
}

func (l *lowerer) assign(x *assignExpr) tree.Node {
	value := l.expr(x.value)
	switch t := x.target.(type) {
	case *ident:
		if kind, _ := l.lookup(t.name); kind == "const" {
			l.syntaxError(t.pos, "assignment to constant "+t.name)
		}
		return tree.Call(tree.OpSet, tree.Text(t.name), value)
	case *memberExpr:
		return tree.Call("put", l.expr(t.x), tree.Text(t.name), value)
	case *indexExpr:
		return tree.Call("put", l.expr(t.x), l.expr(t.index), value)
	}
	l.syntaxError(x.pos, "invalid assignment target")
	return tree.Node{}
}

// call lowers a call expression. Calls through local names become closure
// applications; anything else named becomes an opcode call.
func (l *lowerer) call(x *callExpr) tree.Node {
	args := l.exprs(x.args)

	switch fn := x.fun.(type) {
	case *ident:
		if _, bound := l.lookup(fn.name); bound {
			return tree.Call("apply", append([]tree.Node{tree.Var(fn.name)}, args...)...)
		}
		if tree.IsBuiltin(fn.name) || fn.name == "apply" {
			l.unsupported(fn.pos, "call to reserved form "+fn.name)
		}
		return tree.Call(fn.name, args...)

	case *memberExpr:
		if ns, ok := fn.x.(*ident); ok {
			if _, bound := l.lookup(ns.name); !bound {
				return tree.Call(ns.name+"."+fn.name, args...)
			}
		}
	}
	return tree.Call("apply", append([]tree.Node{l.expr(x.fun)}, args...)...)
}
