package compiler

// Surface syntax tree produced by the parser and consumed by the lowerer.

type stmt interface{ stmtPos() Pos }
type expr interface{ exprPos() Pos }

type program struct {
	body []stmt
}

type block struct {
	pos   Pos
	stmts []stmt
}

type varDecl struct {
	pos  Pos
	kind string // const, let or var
	name string
	init expr // nil when absent
}

type funcDecl struct {
	pos    Pos
	name   string
	params []string
	body   *block
}

type ifStmt struct {
	pos  Pos
	cond expr
	then stmt
	els  stmt // nil when absent
}

type whileStmt struct {
	pos  Pos
	cond expr
	body stmt
}

type returnStmt struct {
	pos   Pos
	value expr // nil for bare return
}

type exprStmt struct {
	pos Pos
	x   expr
}

func (s *block) stmtPos() Pos      { return s.pos }
func (s *varDecl) stmtPos() Pos    { return s.pos }
func (s *funcDecl) stmtPos() Pos   { return s.pos }
func (s *ifStmt) stmtPos() Pos     { return s.pos }
func (s *whileStmt) stmtPos() Pos  { return s.pos }
func (s *returnStmt) stmtPos() Pos { return s.pos }
func (s *exprStmt) stmtPos() Pos   { return s.pos }

type ident struct {
	pos  Pos
	name string
}

type numberLit struct {
	pos   Pos
	value float64
}

type stringLit struct {
	pos   Pos
	value string
}

type boolLit struct {
	pos   Pos
	value bool
}

type nullLit struct{ pos Pos }

type thisExpr struct{ pos Pos }

type arrayLit struct {
	pos   Pos
	elems []expr
}

// property is one entry of an object literal. Exactly one of key and
// computed is meaningful: computed is non-nil for { [expr]: value }.
type property struct {
	pos      Pos
	key      string
	computed expr
	value    expr
}

type objectLit struct {
	pos   Pos
	props []property
}

type binaryExpr struct {
	pos  Pos
	op   string
	x, y expr
}

type unaryExpr struct {
	pos Pos
	op  string
	x   expr
}

type condExpr struct {
	pos             Pos
	cond, then, els expr
}

type assignExpr struct {
	pos    Pos
	target expr
	value  expr
}

type callExpr struct {
	pos  Pos
	fun  expr
	args []expr
}

type memberExpr struct {
	pos  Pos
	x    expr
	name string
}

type indexExpr struct {
	pos   Pos
	x     expr
	index expr
}

// funcLit is a function expression or arrow function. Arrow functions with
// an expression body set exprBody instead of body.
type funcLit struct {
	pos      Pos
	params   []string
	body     *block
	exprBody expr
}

func (e *ident) exprPos() Pos      { return e.pos }
func (e *numberLit) exprPos() Pos  { return e.pos }
func (e *stringLit) exprPos() Pos  { return e.pos }
func (e *boolLit) exprPos() Pos    { return e.pos }
func (e *nullLit) exprPos() Pos    { return e.pos }
func (e *thisExpr) exprPos() Pos   { return e.pos }
func (e *arrayLit) exprPos() Pos   { return e.pos }
func (e *objectLit) exprPos() Pos  { return e.pos }
func (e *binaryExpr) exprPos() Pos { return e.pos }
func (e *unaryExpr) exprPos() Pos  { return e.pos }
func (e *condExpr) exprPos() Pos   { return e.pos }
func (e *assignExpr) exprPos() Pos { return e.pos }
func (e *callExpr) exprPos() Pos   { return e.pos }
func (e *memberExpr) exprPos() Pos { return e.pos }
func (e *indexExpr) exprPos() Pos  { return e.pos }
func (e *funcLit) exprPos() Pos    { return e.pos }
