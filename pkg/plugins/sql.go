package plugins

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crystal-mush/mushscript/pkg/capability"
	"github.com/crystal-mush/mushscript/pkg/eval"
)

const (
	defaultSQLRows    = 100
	defaultSQLTimeout = 5000 // ms
)

// sqlPool keeps one read-only connection per SQLite file.
type sqlPool struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func newSQLPool() *sqlPool {
	return &sqlPool{dbs: make(map[string]*sql.DB)}
}

// open returns the pooled handle for path, opening it with query_only and a
// busy timeout on first use.
func (p *sqlPool) open(path string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.dbs[path]; ok {
		return db, nil
	}
	dsn := fmt.Sprintf("%s?_pragma=query_only(1)&_pragma=busy_timeout(%d)", path, defaultSQLTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	p.dbs[path] = db
	return db, nil
}

// Close closes every pooled database.
func (p *sqlPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for path, db := range p.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.dbs, path)
	}
	return first
}

// class builds the sql capability: read-only SELECTs against one SQLite
// file.
//
// Params:
//
//	database       path of the SQLite file (required)
//	allowedTables  tables queries may read; absent means any
//	maxRows        rows returned per query, default 100
//	timeout        per-query limit in milliseconds, default 5000
func (p *sqlPool) class(d Deps) *capability.Class {
	return &capability.Class{
		Type:  "sql",
		Label: "SQL query",
		Validate: func(v capability.Value) error {
			if _, err := capability.RequireString(v, "database"); err != nil {
				return err
			}
			if _, _, err := capability.OptionalStrings(v, "allowedTables"); err != nil {
				return err
			}
			if _, err := capability.OptionalNumber(v, "maxRows", defaultSQLRows); err != nil {
				return err
			}
			_, err := capability.OptionalNumber(v, "timeout", defaultSQLTimeout)
			return err
		},
		Methods: map[string]capability.Method{
			"query": {
				MinArgs: 1,
				MaxArgs: -1,
				Args:    []string{"sql", "args..."},
				Label:   "SQL query",
				Fn: func(ctx context.Context, call *capability.Call) (any, error) {
					return p.query(ctx, call)
				},
			},
		},
	}
}

func (p *sqlPool) query(ctx context.Context, call *capability.Call) (any, error) {
	params := call.Cap.Params()
	query, ok := call.Arg(0).(string)
	if !ok {
		return nil, eval.Errorf("sql.query: query must be a string")
	}
	tables, err := selectTables(query)
	if err != nil {
		return nil, eval.Errorf("sql.query: %v", err)
	}
	if allowed, present, _ := capability.OptionalStrings(params, "allowedTables"); present {
		for _, t := range tables {
			if !containsFold(allowed, t) {
				return nil, eval.Errorf("sql: table %q is not allowed", t)
			}
		}
	}
	args := make([]any, 0, len(call.Args)-1)
	for _, a := range call.Args[1:] {
		switch a.(type) {
		case nil, float64, string, bool:
			args = append(args, a)
		default:
			return nil, eval.Errorf("sql.query: cannot bind %s", eval.TypeOf(a))
		}
	}

	path, _ := capability.RequireString(params, "database")
	db, err := p.open(path)
	if err != nil {
		return nil, err
	}
	limit, _ := capability.OptionalNumber(params, "maxRows", defaultSQLRows)
	ms, _ := capability.OptionalNumber(params, "timeout", defaultSQLTimeout)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("sql: query on %s failed: %v", path, err)
		return nil, eval.Wrap(err, "sql.query: query failed: "+sqlCause(err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []any{}
	for rows.Next() {
		if float64(len(out)) >= limit {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = sqlValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// sqlValue converts a scanned column to a script value.
func sqlValue(v any) any {
	switch x := v.(type) {
	case nil, string, float64, bool:
		return x
	case int64:
		return float64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%v", v)
}

// sqlCauses are driver error fragments safe to show a script author.
var sqlCauses = []string{
	"no such table",
	"no such column",
	"ambiguous column name",
	"syntax error",
	"incomplete input",
	"database is locked",
}

// sqlCause reduces a driver error to a short cause. The full text can
// name files and internal tables, so it goes to the log only.
func sqlCause(err error) string {
	msg := strings.ToLower(err.Error())
	for _, c := range sqlCauses {
		if strings.Contains(msg, c) {
			return c
		}
	}
	return "database error"
}

// selectTables checks that query is a single SELECT statement and returns
// the table names it reads after FROM and JOIN. SQLite reads a string
// literal in table position as a quoted name, so those count too.
func selectTables(query string) ([]string, error) {
	toks := sqlTokens(query)
	for len(toks) > 0 && toks[len(toks)-1].text == ";" {
		toks = toks[:len(toks)-1]
	}
	if len(toks) == 0 || !toks[0].is("SELECT") {
		return nil, fmt.Errorf("only SELECT statements are allowed")
	}
	for _, t := range toks {
		if t.text == ";" {
			return nil, fmt.Errorf("only one statement is allowed")
		}
	}
	var tables []string
	for i, t := range toks {
		if t.is("FROM") {
			tables = append(tables, fromTables(toks[i+1:])...)
		}
	}
	return tables, nil
}

// fromTables reads one FROM clause and returns the names in table
// position: the first source and each one after JOIN or a comma, up to the
// keyword that ends the clause. Subqueries are skipped here; selectTables
// visits their own FROM.
func fromTables(toks []sqlToken) []string {
	var tables []string
	expect := true
	depth := 0
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.text == "(":
			depth++
		case t.text == ")":
			if depth == 0 {
				return tables
			}
			depth--
		case depth > 0:
		case t.text == "," || t.is("JOIN"):
			expect = true
			continue
		case sqlClauseEnd[strings.ToUpper(t.text)] && t.ident && !t.quoted:
			return tables
		case expect && t.name():
			name := t.text
			if i+2 < len(toks) && toks[i+1].text == "." && toks[i+2].name() {
				name = toks[i+2].text
				i += 2
			}
			tables = append(tables, name)
		}
		expect = false
	}
	return tables
}

var sqlClauseEnd = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "LIMIT": true, "HAVING": true,
	"WINDOW": true, "UNION": true, "EXCEPT": true, "INTERSECT": true, "RETURNING": true,
}

type sqlToken struct {
	text   string
	ident  bool // a bare word or quoted identifier
	quoted bool
	str    bool // a single-quoted literal
}

// name reports whether t can stand where a table name is expected.
func (t sqlToken) name() bool { return t.ident || t.str }

func (t sqlToken) is(kw string) bool {
	return t.ident && !t.quoted && strings.EqualFold(t.text, kw)
}

// sqlTokens splits query into words, quoted identifiers, string literals
// and punctuation. Comments are dropped.
func sqlTokens(q string) []sqlToken {
	var toks []sqlToken
	for i := 0; i < len(q); {
		c := q[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < len(q) && q[i+1] == '-':
			for i < len(q) && q[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(q) && q[i+1] == '*':
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				return toks
			}
			i += end + 4
		case c == '\'':
			j := i + 1
			for j < len(q) {
				if q[j] == '\'' {
					if j+1 < len(q) && q[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			end := min(j, len(q))
			toks = append(toks, sqlToken{text: strings.ReplaceAll(q[i+1:end], "''", "'"), str: true})
			i = j + 1
		case c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			j := strings.IndexByte(q[i+1:], closer)
			if j < 0 {
				toks = append(toks, sqlToken{text: q[i+1:], ident: true, quoted: true})
				return toks
			}
			toks = append(toks, sqlToken{text: q[i+1 : i+1+j], ident: true, quoted: true})
			i += j + 2
		case isWordByte(c):
			j := i
			for j < len(q) && isWordByte(q[j]) {
				j++
			}
			toks = append(toks, sqlToken{text: q[i:j], ident: true})
			i = j
		default:
			toks = append(toks, sqlToken{text: string(c)})
			i++
		}
	}
	return toks
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
