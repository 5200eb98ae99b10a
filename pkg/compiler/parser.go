package compiler

import (
	"fmt"
	"strconv"
)

// Constructs that are valid surface grammar but have no lowering rule.
var unsupportedWords = map[string]string{
	"for":        "for loop",
	"class":      "class declaration",
	"switch":     "switch statement",
	"case":       "switch statement",
	"default":    "switch statement",
	"try":        "try statement",
	"catch":      "try statement",
	"finally":    "try statement",
	"new":        "new expression",
	"throw":      "throw statement",
	"do":         "do-while loop",
	"break":      "break statement",
	"continue":   "continue statement",
	"delete":     "delete operator",
	"in":         "in operator",
	"instanceof": "instanceof operator",
	"yield":      "generator",
	"await":      "async function",
	"async":      "async function",
	"import":     "module import",
	"export":     "module export",
	"with":       "with statement",
	"void":       "void operator",
}

var unsupportedPuncts = map[string]string{
	"++":  "increment operator",
	"--":  "decrement operator",
	"+=":  "compound assignment",
	"-=":  "compound assignment",
	"*=":  "compound assignment",
	"/=":  "compound assignment",
	"%=":  "compound assignment",
	"**=": "compound assignment",
	"<<=": "compound assignment",
	">>=": "compound assignment",
	"&=":  "compound assignment",
	"|=":  "compound assignment",
	"^=":  "compound assignment",
	"...": "spread syntax",
	"`":   "template literal",
	"?.":  "optional chaining",
	"??":  "nullish coalescing",
	"**":  "exponent operator",
	"&":   "bitwise operator",
	"|":   "bitwise operator",
	"^":   "bitwise operator",
	"~":   "bitwise operator",
	"<<":  "bitwise operator",
	">>":  "bitwise operator",
}

var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3, "===": 3, "!==": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

// bailout carries the first error out of the recursive descent.
type bailout struct{ err error }

type parser struct {
	file string
	toks []token
	i    int
	tok  token
}

func parse(file, src string) (prog *program, err error) {
	toks, err := newScanner(file, src).scanAll()
	if err != nil {
		return nil, err
	}
	p := &parser{file: file, toks: toks, tok: toks[0]}
	defer p.recover(&err)

	prog = &program{body: p.stmtList(false)}
	return prog, nil
}

func (p *parser) recover(errp *error) {
	if r := recover(); r != nil {
		b, ok := r.(bailout)
		if !ok {
			panic(r)
		}
		*errp = b.err
	}
}

func (p *parser) syntaxError(pos Pos, format string, args ...any) {
	panic(bailout{&SyntaxError{File: p.file, Pos: pos, Msg: fmt.Sprintf(format, args...)}})
}

func (p *parser) unsupported(pos Pos, construct string) {
	panic(bailout{&UnsupportedConstructError{File: p.file, Pos: pos, Construct: construct}})
}

// checkUnsupported reports the current token if it starts a construct that
// cannot be lowered.
func (p *parser) checkUnsupported() {
	switch p.tok.kind {
	case tKeyword:
		if c, ok := unsupportedWords[p.tok.lit]; ok {
			p.unsupported(p.tok.pos, c)
		}
	case tPunct:
		if c, ok := unsupportedPuncts[p.tok.lit]; ok {
			p.unsupported(p.tok.pos, c)
		}
	}
}

func (p *parser) next() {
	if p.i < len(p.toks)-1 {
		p.i++
	}
	p.tok = p.toks[p.i]
}

func (p *parser) peek(n int) token {
	j := p.i + n
	if j >= len(p.toks) {
		j = len(p.toks) - 1
	}
	return p.toks[j]
}

func (p *parser) is(lit string) bool {
	return (p.tok.kind == tPunct || p.tok.kind == tKeyword) && p.tok.lit == lit
}

func (p *parser) got(lit string) bool {
	if p.is(lit) {
		p.next()
		return true
	}
	return false
}

func (p *parser) want(lit string) {
	if !p.got(lit) {
		p.syntaxError(p.tok.pos, "expected %q, found %s", lit, describe(p.tok))
	}
}

func (p *parser) name() string {
	if p.tok.kind != tName {
		p.checkUnsupported()
		p.syntaxError(p.tok.pos, "expected name, found %s", describe(p.tok))
	}
	n := p.tok.lit
	p.next()
	return n
}

// semi ends a statement: an explicit ';', or a line break, '}' or end of
// input before the next token.
func (p *parser) semi() {
	if p.got(";") {
		return
	}
	if p.tok.kind == tEOF || p.is("}") {
		return
	}
	if p.i > 0 && p.tok.pos.Line > p.toks[p.i-1].pos.Line {
		return
	}
	p.checkUnsupported()
	p.syntaxError(p.tok.pos, "expected ';', found %s", describe(p.tok))
}

func describe(t token) string {
	switch t.kind {
	case tEOF:
		return "end of input"
	case tString:
		return "string literal"
	case tNumber:
		return "number " + t.lit
	case tName:
		return "name " + t.lit
	}
	return strconv.Quote(t.lit)
}

// ---- statements ----

// stmtList parses statements up to the end of input, or up to the closing
// brace when inBlock is set.
func (p *parser) stmtList(inBlock bool) []stmt {
	var list []stmt
	for !(inBlock && p.is("}")) {
		if p.tok.kind == tEOF {
			if inBlock {
				p.syntaxError(p.tok.pos, "unexpected end of input, expected \"}\"")
			}
			return list
		}
		if p.got(";") {
			continue
		}
		list = append(list, p.statement())
	}
	return list
}

func (p *parser) block() *block {
	b := &block{pos: p.tok.pos}
	p.want("{")
	b.stmts = p.stmtList(true)
	p.want("}")
	return b
}

func (p *parser) statement() stmt {
	p.checkUnsupported()
	pos := p.tok.pos

	switch {
	case p.is("{"):
		return p.block()

	case p.is(";"):
		p.next()
		return &block{pos: pos}

	case p.is("const"), p.is("let"), p.is("var"):
		d := p.varDecl()
		p.semi()
		return d

	case p.is("function") && p.peek(1).kind == tName:
		p.next()
		d := &funcDecl{pos: pos, name: p.name()}
		d.params = p.params()
		d.body = p.block()
		return d

	case p.is("if"):
		p.next()
		s := &ifStmt{pos: pos}
		p.want("(")
		s.cond = p.expr()
		p.want(")")
		s.then = p.statement()
		if p.got("else") {
			s.els = p.statement()
		}
		return s

	case p.is("while"):
		p.next()
		s := &whileStmt{pos: pos}
		p.want("(")
		s.cond = p.expr()
		p.want(")")
		s.body = p.statement()
		return s

	case p.is("return"):
		p.next()
		s := &returnStmt{pos: pos}
		if !p.is(";") && !p.is("}") && p.tok.kind != tEOF && p.tok.pos.Line == pos.Line {
			s.value = p.expr()
		}
		p.semi()
		return s

	case p.tok.kind == tName && p.peek(1).kind == tPunct && p.peek(1).lit == ":":
		p.unsupported(pos, "labeled statement")
	}

	s := &exprStmt{pos: pos, x: p.expr()}
	p.semi()
	return s
}

func (p *parser) varDecl() *varDecl {
	d := &varDecl{pos: p.tok.pos, kind: p.tok.lit}
	p.next()
	if p.is("{") || p.is("[") {
		p.unsupported(p.tok.pos, "destructuring declaration")
	}
	d.name = p.name()
	if p.got("=") {
		d.init = p.assign()
	} else if d.kind == "const" {
		p.syntaxError(d.pos, "missing initializer in const declaration of %s", d.name)
	}
	if p.is(",") {
		p.unsupported(p.tok.pos, "multiple declarators")
	}
	return d
}

func (p *parser) params() []string {
	p.want("(")
	var names []string
	seen := make(map[string]bool)
	for !p.is(")") {
		pos := p.tok.pos
		if p.is("{") || p.is("[") {
			p.unsupported(pos, "destructuring parameter")
		}
		n := p.name()
		if seen[n] {
			p.syntaxError(pos, "duplicate parameter %s", n)
		}
		seen[n] = true
		names = append(names, n)
		if p.is("=") {
			p.unsupported(p.tok.pos, "default parameter")
		}
		if !p.got(",") {
			break
		}
	}
	p.want(")")
	return names
}

// ---- expressions ----

func (p *parser) expr() expr {
	return p.assign()
}

func (p *parser) assign() expr {
	if fn := p.arrow(); fn != nil {
		return fn
	}
	pos := p.tok.pos
	x := p.conditional()
	if p.is("=") {
		at := p.tok.pos
		p.next()
		switch x.(type) {
		case *ident, *memberExpr, *indexExpr:
		case *objectLit, *arrayLit:
			p.unsupported(pos, "destructuring assignment")
		default:
			p.syntaxError(at, "invalid assignment target")
		}
		return &assignExpr{pos: pos, target: x, value: p.assign()}
	}
	return x
}

// arrow parses an arrow function if one starts at the current token.
func (p *parser) arrow() expr {
	pos := p.tok.pos
	switch {
	case p.tok.kind == tName && p.peek(1).kind == tPunct && p.peek(1).lit == "=>":
		name := p.tok.lit
		p.next()
		p.next()
		return p.arrowBody(pos, []string{name})

	case p.is("("):
		depth := 0
		for j := p.i; j < len(p.toks); j++ {
			t := p.toks[j]
			if t.kind == tEOF {
				return nil
			}
			if t.kind != tPunct {
				continue
			}
			switch t.lit {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			}
			if depth == 0 {
				if n := p.toks[j+1]; n.kind == tPunct && n.lit == "=>" {
					params := p.params()
					p.want("=>")
					return p.arrowBody(pos, params)
				}
				return nil
			}
		}
	}
	return nil
}

func (p *parser) arrowBody(pos Pos, params []string) expr {
	fn := &funcLit{pos: pos, params: params}
	if p.is("{") {
		fn.body = p.block()
	} else {
		fn.exprBody = p.assign()
	}
	return fn
}

func (p *parser) conditional() expr {
	pos := p.tok.pos
	x := p.binary(1)
	if p.got("?") {
		c := &condExpr{pos: pos, cond: x}
		c.then = p.assign()
		p.want(":")
		c.els = p.assign()
		return c
	}
	return x
}

// binary parses a binary expression whose operators bind at least as
// tightly as prec.
func (p *parser) binary(prec int) expr {
	x := p.unary()
	for {
		p.checkUnsupported()
		oprec, ok := binaryPrec[p.tok.lit]
		if p.tok.kind != tPunct || !ok || oprec < prec {
			return x
		}
		pos := p.tok.pos
		op := p.tok.lit
		p.next()
		x = &binaryExpr{pos: pos, op: op, x: x, y: p.binary(oprec + 1)}
	}
}

func (p *parser) unary() expr {
	p.checkUnsupported()
	pos := p.tok.pos
	switch {
	case p.is("!"), p.is("-"), p.is("typeof"):
		op := p.tok.lit
		p.next()
		return &unaryExpr{pos: pos, op: op, x: p.unary()}
	case p.is("+"):
		p.unsupported(pos, "unary plus")
	}
	return p.postfix(p.primary())
}

func (p *parser) postfix(x expr) expr {
	for {
		pos := p.tok.pos
		switch {
		case p.got("."):
			if p.tok.kind != tName && p.tok.kind != tKeyword {
				p.syntaxError(p.tok.pos, "expected property name, found %s", describe(p.tok))
			}
			x = &memberExpr{pos: pos, x: x, name: p.tok.lit}
			p.next()
		case p.got("["):
			idx := p.expr()
			p.want("]")
			x = &indexExpr{pos: pos, x: x, index: idx}
		case p.is("("):
			x = &callExpr{pos: pos, fun: x, args: p.args()}
		default:
			return x
		}
	}
}

func (p *parser) args() []expr {
	p.want("(")
	var list []expr
	for !p.is(")") {
		list = append(list, p.assign())
		if !p.got(",") {
			break
		}
	}
	p.want(")")
	return list
}

func (p *parser) primary() expr {
	p.checkUnsupported()
	t := p.tok
	pos := t.pos

	switch t.kind {
	case tNumber:
		p.next()
		return &numberLit{pos: pos, value: t.num}
	case tString:
		p.next()
		return &stringLit{pos: pos, value: t.lit}
	case tName:
		p.next()
		return &ident{pos: pos, name: t.lit}
	case tKeyword:
		switch t.lit {
		case "true", "false":
			p.next()
			return &boolLit{pos: pos, value: t.lit == "true"}
		case "null", "undefined":
			p.next()
			return &nullLit{pos: pos}
		case "this":
			p.next()
			return &thisExpr{pos: pos}
		case "function":
			p.next()
			if p.tok.kind == tName {
				p.unsupported(p.tok.pos, "named function expression")
			}
			fn := &funcLit{pos: pos, params: p.params()}
			fn.body = p.block()
			return fn
		}
	case tPunct:
		switch t.lit {
		case "(":
			p.next()
			x := p.expr()
			p.want(")")
			return x
		case "[":
			return p.arrayLit()
		case "{":
			return p.objectLit()
		case "/":
			p.unsupported(pos, "regular expression literal")
		}
	}
	p.syntaxError(pos, "unexpected %s", describe(t))
	return nil
}

func (p *parser) arrayLit() expr {
	a := &arrayLit{pos: p.tok.pos}
	p.want("[")
	for !p.is("]") {
		a.elems = append(a.elems, p.assign())
		if !p.got(",") {
			break
		}
	}
	p.want("]")
	return a
}

func (p *parser) objectLit() expr {
	o := &objectLit{pos: p.tok.pos}
	p.want("{")
	for !p.is("}") {
		p.checkUnsupported()
		prop := property{pos: p.tok.pos}
		shorthand := false
		switch p.tok.kind {
		case tName:
			prop.key = p.tok.lit
			shorthand = true
			p.next()
		case tKeyword, tString:
			prop.key = p.tok.lit
			p.next()
		case tNumber:
			prop.key = strconv.FormatFloat(p.tok.num, 'f', -1, 64)
			p.next()
		default:
			if !p.got("[") {
				p.syntaxError(p.tok.pos, "expected property name, found %s", describe(p.tok))
			}
			prop.computed = p.assign()
			p.want("]")
		}

		switch {
		case p.got(":"):
			prop.value = p.assign()
		case p.is("("):
			p.unsupported(prop.pos, "method shorthand")
		case shorthand:
			prop.value = &ident{pos: prop.pos, name: prop.key}
		default:
			p.syntaxError(p.tok.pos, "expected \":\", found %s", describe(p.tok))
		}
		o.props = append(o.props, prop)
		if !p.got(",") {
			break
		}
	}
	p.want("}")
	return o
}
