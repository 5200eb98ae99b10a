package compiler

import "fmt"

// Pos is a 1-based line/column position in surface source.
type Pos struct {
	Line int
	Col  int
}

// IsValid reports whether the position has been set.
func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// SyntaxError reports malformed surface source.
type SyntaxError struct {
	File string
	Pos  Pos
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: syntax error: %s", location(e.File, e.Pos), e.Msg)
}

// UnsupportedConstructError reports well-formed surface source that uses a
// construct with no lowering rule.
type UnsupportedConstructError struct {
	File      string
	Pos       Pos
	Construct string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("%s: unsupported construct: %s", location(e.File, e.Pos), e.Construct)
}

func location(file string, pos Pos) string {
	if file == "" {
		return pos.String()
	}
	return file + ":" + pos.String()
}
