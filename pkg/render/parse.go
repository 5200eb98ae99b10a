package render

import (
	"fmt"
	"strconv"

	"github.com/crystal-mush/mushscript/pkg/tree"
)

// ParseError reports malformed call syntax.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("render: offset %d: %s", e.Offset, e.Msg)
}

// Parse reads text produced by Decompile back into a Script Tree. Text with
// ';'-terminated statements yields a seq; a lone expression yields itself.
func Parse(text string) (tree.Node, error) {
	r := &reader{src: text}
	r.skipSpace()
	if r.eof() {
		return tree.Seq(), nil
	}

	var stmts []tree.Node
	sawSemi := false
	for {
		n, err := r.expr()
		if err != nil {
			return tree.Node{}, err
		}
		stmts = append(stmts, n)
		r.skipSpace()
		if r.eof() {
			break
		}
		if r.peek() != ';' {
			return tree.Node{}, r.errorf("expected ';', got %q", r.peek())
		}
		r.pos++
		sawSemi = true
		r.skipSpace()
		if r.eof() {
			break
		}
	}
	if !sawSemi && len(stmts) == 1 {
		return stmts[0], nil
	}
	return tree.Seq(stmts...), nil
}

type reader struct {
	src string
	pos int
}

func (r *reader) eof() bool { return r.pos >= len(r.src) }

func (r *reader) peek() byte {
	if r.eof() {
		return 0
	}
	return r.src[r.pos]
}

func (r *reader) errorf(format string, args ...any) error {
	return &ParseError{Offset: r.pos, Msg: fmt.Sprintf(format, args...)}
}

func (r *reader) skipSpace() {
	for !r.eof() {
		switch r.src[r.pos] {
		case ' ', '\t', '\n', '\r':
			r.pos++
		default:
			return
		}
	}
}

func isDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '(', ')', ',', ';', '"', '[', ']':
		return true
	}
	return false
}

func (r *reader) expr() (tree.Node, error) {
	r.skipSpace()
	if r.eof() {
		return tree.Node{}, r.errorf("unexpected end of input")
	}
	switch r.peek() {
	case '"':
		s, err := r.quoted()
		if err != nil {
			return tree.Node{}, err
		}
		return tree.Text(s), nil
	case '[':
		r.pos++
		r.skipSpace()
		if r.peek() != ']' {
			return tree.Node{}, r.errorf("expected ']' after '['")
		}
		r.pos++
		return tree.EmptyList(), nil
	}

	start := r.pos
	for !r.eof() && !isDelim(r.src[r.pos]) {
		r.pos++
	}
	word := r.src[start:r.pos]
	if word == "" {
		return tree.Node{}, r.errorf("unexpected %q", r.peek())
	}
	if r.peek() == '(' {
		r.pos++
		args, err := r.args()
		if err != nil {
			return tree.Node{}, err
		}
		return tree.Call(word, args...), nil
	}

	switch word {
	case "null":
		return tree.Null(), nil
	case "true":
		return tree.Bool(true), nil
	case "false":
		return tree.Bool(false), nil
	}
	f, err := strconv.ParseFloat(word, 64)
	if err != nil {
		return tree.Node{}, &ParseError{Offset: start, Msg: fmt.Sprintf("bad literal %q", word)}
	}
	return tree.Num(f), nil
}

// args reads call arguments up to the closing paren. Arguments may be
// separated by ',' or ';' and a trailing separator is allowed, so nested seq
// blocks read back the same way as flat calls.
func (r *reader) args() ([]tree.Node, error) {
	var out []tree.Node
	for {
		r.skipSpace()
		if r.eof() {
			return nil, r.errorf("unterminated argument list")
		}
		if r.peek() == ')' {
			r.pos++
			return out, nil
		}
		n, err := r.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		r.skipSpace()
		switch r.peek() {
		case ',', ';':
			r.pos++
		case ')':
		default:
			return nil, r.errorf("expected ',' or ')'")
		}
	}
}

func (r *reader) quoted() (string, error) {
	start := r.pos
	r.pos++ // opening quote
	for !r.eof() {
		switch r.src[r.pos] {
		case '\\':
			r.pos += 2
		case '"':
			r.pos++
			raw := r.src[start:r.pos]
			s, err := strconv.Unquote(raw)
			if err != nil {
				return "", &ParseError{Offset: start, Msg: "bad string literal " + raw}
			}
			return s, nil
		default:
			r.pos++
		}
	}
	return "", &ParseError{Offset: start, Msg: "unterminated string"}
}
