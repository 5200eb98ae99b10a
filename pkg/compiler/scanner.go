package compiler

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

type tokKind int

const (
	tEOF tokKind = iota
	tName
	tKeyword
	tNumber
	tString
	tPunct // operators and delimiters; lit holds the text
)

type token struct {
	kind tokKind
	lit  string
	num  float64
	pos  Pos
}

var keywords = map[string]bool{
	"function": true, "const": true, "let": true, "var": true,
	"if": true, "else": true, "return": true, "while": true,
	"true": true, "false": true, "null": true, "undefined": true,
	"this": true, "typeof": true,
	// Reserved: recognized so they can be reported as unsupported.
	"for": true, "class": true, "switch": true, "case": true, "default": true,
	"try": true, "catch": true, "finally": true, "new": true, "throw": true,
	"do": true, "break": true, "continue": true, "delete": true, "in": true,
	"instanceof": true, "yield": true, "await": true, "async": true,
	"import": true, "export": true, "with": true, "void": true,
}

// Operators, longest first so the scanner is greedy.
var puncts = []string{
	"===", "!==", "...", "**=", "<<=", ">>=",
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??", "?.", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "**", "<<", ">>", "&=", "|=", "^=",
	"(", ")", "{", "}", "[", "]", ",", ";", ":", ".", "?", "=",
	"<", ">", "+", "-", "*", "/", "%", "!", "&", "|", "^", "~",
}

// scanner converts surface source into tokens.
type scanner struct {
	file string
	src  string
	off  int
	line int
	col  int
}

func newScanner(file, src string) *scanner {
	return &scanner{file: file, src: src, line: 1, col: 1}
}

func (s *scanner) pos() Pos { return Pos{Line: s.line, Col: s.col} }

func (s *scanner) errorAt(p Pos, msg string) error {
	return &SyntaxError{File: s.file, Pos: p, Msg: msg}
}

// advance moves past n bytes, tracking line and column.
func (s *scanner) advance(n int) {
	for i := 0; i < n && s.off < len(s.src); i++ {
		if s.src[s.off] == '\n' {
			s.line++
			s.col = 1
		} else {
			s.col++
		}
		s.off++
	}
}

// scanAll tokenizes the whole source. The result always ends with tEOF.
func (s *scanner) scanAll() ([]token, error) {
	var toks []token
	for {
		if err := s.skipSpaceAndComments(); err != nil {
			return nil, err
		}
		if s.off >= len(s.src) {
			toks = append(toks, token{kind: tEOF, pos: s.pos()})
			return toks, nil
		}
		tok, err := s.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
	}
}

func (s *scanner) skipSpaceAndComments() error {
	for s.off < len(s.src) {
		c := s.src[s.off]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			s.advance(1)
		case strings.HasPrefix(s.src[s.off:], "//"):
			for s.off < len(s.src) && s.src[s.off] != '\n' {
				s.advance(1)
			}
		case strings.HasPrefix(s.src[s.off:], "/*"):
			start := s.pos()
			end := strings.Index(s.src[s.off+2:], "*/")
			if end < 0 {
				return s.errorAt(start, "unterminated comment")
			}
			s.advance(end + 4)
		default:
			return nil
		}
	}
	return nil
}

func (s *scanner) next() (token, error) {
	start := s.pos()
	c := s.src[s.off]
	switch {
	case isIdentStart(c):
		begin := s.off
		for s.off < len(s.src) && isIdentPart(s.src[s.off]) {
			s.advance(1)
		}
		word := s.src[begin:s.off]
		if keywords[word] {
			return token{kind: tKeyword, lit: word, pos: start}, nil
		}
		return token{kind: tName, lit: word, pos: start}, nil

	case isDigit(c) || (c == '.' && s.off+1 < len(s.src) && isDigit(s.src[s.off+1])):
		return s.number(start)

	case c == '"' || c == '\'':
		return s.str(start, c)

	case c == '`':
		// Template literals are skipped whole and reported by the parser.
		end := strings.IndexByte(s.src[s.off+1:], '`')
		if end < 0 {
			return token{}, s.errorAt(start, "unterminated template literal")
		}
		s.advance(end + 2)
		return token{kind: tPunct, lit: "`", pos: start}, nil
	}

	for _, p := range puncts {
		if strings.HasPrefix(s.src[s.off:], p) {
			s.advance(len(p))
			return token{kind: tPunct, lit: p, pos: start}, nil
		}
	}
	r, _ := utf8.DecodeRuneInString(s.src[s.off:])
	return token{}, s.errorAt(start, "unexpected character "+strconv.QuoteRune(r))
}

func (s *scanner) number(start Pos) (token, error) {
	begin := s.off
	if strings.HasPrefix(s.src[s.off:], "0x") || strings.HasPrefix(s.src[s.off:], "0X") {
		s.advance(2)
		for s.off < len(s.src) && isHexDigit(s.src[s.off]) {
			s.advance(1)
		}
		lit := s.src[begin:s.off]
		v, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			return token{}, s.errorAt(start, "malformed number "+lit)
		}
		return token{kind: tNumber, lit: lit, num: float64(v), pos: start}, nil
	}
	for s.off < len(s.src) && isDigit(s.src[s.off]) {
		s.advance(1)
	}
	if s.off < len(s.src) && s.src[s.off] == '.' {
		s.advance(1)
		for s.off < len(s.src) && isDigit(s.src[s.off]) {
			s.advance(1)
		}
	}
	if s.off < len(s.src) && (s.src[s.off] == 'e' || s.src[s.off] == 'E') {
		s.advance(1)
		if s.off < len(s.src) && (s.src[s.off] == '+' || s.src[s.off] == '-') {
			s.advance(1)
		}
		if s.off >= len(s.src) || !isDigit(s.src[s.off]) {
			return token{}, s.errorAt(start, "malformed exponent")
		}
		for s.off < len(s.src) && isDigit(s.src[s.off]) {
			s.advance(1)
		}
	}
	if s.off < len(s.src) && isIdentStart(s.src[s.off]) {
		return token{}, s.errorAt(s.pos(), "identifier directly after number")
	}
	lit := s.src[begin:s.off]
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return token{}, s.errorAt(start, "malformed number "+lit)
	}
	return token{kind: tNumber, lit: lit, num: v, pos: start}, nil
}

func (s *scanner) str(start Pos, quote byte) (token, error) {
	s.advance(1)
	var b strings.Builder
	for {
		if s.off >= len(s.src) {
			return token{}, s.errorAt(start, "unterminated string")
		}
		c := s.src[s.off]
		switch {
		case c == quote:
			s.advance(1)
			return token{kind: tString, lit: b.String(), pos: start}, nil
		case c == '\n':
			return token{}, s.errorAt(start, "newline in string")
		case c == '\\':
			if err := s.escape(&b); err != nil {
				return token{}, err
			}
		default:
			b.WriteByte(c)
			s.advance(1)
		}
	}
}

func (s *scanner) escape(b *strings.Builder) error {
	at := s.pos()
	s.advance(1)
	if s.off >= len(s.src) {
		return s.errorAt(at, "unterminated escape")
	}
	c := s.src[s.off]
	s.advance(1)
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case '0':
		b.WriteByte(0)
	case 'x', 'u':
		n := 2
		if c == 'u' {
			n = 4
		}
		if s.off+n > len(s.src) {
			return s.errorAt(at, "short escape")
		}
		v, err := strconv.ParseUint(s.src[s.off:s.off+n], 16, 32)
		if err != nil {
			return s.errorAt(at, "malformed escape")
		}
		s.advance(n)
		b.WriteRune(rune(v))
	case '\n':
		// line continuation
	default:
		b.WriteByte(c)
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
