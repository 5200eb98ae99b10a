package functions

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/crystal-mush/mushscript/pkg/eval"
)

func stringOpcodes() []eval.Opcode {
	return []eval.Opcode{
		op("concat", fnConcat, 0, variadic, CatString, "Concatenate", "a", "b"),
		op("upper", fnUpper, 1, 1, CatString, "Upper case", "s"),
		op("lower", fnLower, 1, 1, CatString, "Lower case", "s"),
		op("len", fnLen, 1, 1, CatString, "Length", "x"),
		op("substr", fnSubstr, 2, 3, CatString, "Substring", "s", "start", "length"),
		op("split", fnSplit, 1, 2, CatString, "Split", "s", "sep"),
		op("join", fnJoin, 1, 2, CatString, "Join", "list", "sep"),
		op("trim", fnTrim, 1, 1, CatString, "Trim spaces", "s"),
		op("str", fnStr, 1, 1, CatString, "To string", "x"),
		op("replace", fnReplace, 3, 3, CatString, "Replace all", "s", "old", "new"),
		op("contains", fnContains, 2, 2, CatString, "Contains", "haystack", "needle"),
	}
}

// toStr accepts only strings; use str() to convert.
func toStr(name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", eval.Errorf("%s: expected a string, got %s", name, eval.TypeOf(v))
	}
	return s, nil
}

func concatValues(args []any) string {
	var buf strings.Builder
	for _, a := range args {
		buf.WriteString(eval.Stringify(a))
	}
	return buf.String()
}

func fnConcat(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	return concatValues(args), nil
}

func fnUpper(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	s, err := toStr("upper", args[0])
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func fnLower(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	s, err := toStr("lower", args[0])
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

// fnLen counts characters of a string, items of a list or keys of an object.
func fnLen(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	switch x := args[0].(type) {
	case string:
		return float64(utf8.RuneCountInString(x)), nil
	case []any:
		return float64(len(x)), nil
	case map[string]any:
		return float64(len(x)), nil
	}
	return nil, eval.Errorf("len: expected a string, list or object, got %s", eval.TypeOf(args[0]))
}

// fnSubstr takes characters from start (negative counts from the end) for
// length characters, or to the end. Out-of-range bounds are clamped.
func fnSubstr(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	s, err := toStr("substr", args[0])
	if err != nil {
		return nil, err
	}
	r := []rune(s)
	start, err := toIndex("substr", args[1])
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start += len(r)
	}
	start = clamp(start, 0, len(r))
	end := len(r)
	if len(args) > 2 && args[2] != nil {
		n, err := toIndex("substr", args[2])
		if err != nil {
			return nil, err
		}
		end = clamp(start+n, start, len(r))
	}
	return string(r[start:end]), nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// fnSplit splits on sep, or into characters when sep is "" or missing.
func fnSplit(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	s, err := toStr("split", args[0])
	if err != nil {
		return nil, err
	}
	sep := ""
	if len(args) > 1 && args[1] != nil {
		if sep, err = toStr("split", args[1]); err != nil {
			return nil, err
		}
	}
	parts := strings.Split(s, sep)
	if s == "" {
		parts = nil
	}
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func fnJoin(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	l, err := toList("join", args[0])
	if err != nil {
		return nil, err
	}
	sep := ","
	if len(args) > 1 && args[1] != nil {
		if sep, err = toStr("join", args[1]); err != nil {
			return nil, err
		}
	}
	parts := make([]string, len(l))
	for i, e := range l {
		parts[i] = eval.Stringify(e)
	}
	return strings.Join(parts, sep), nil
}

func fnTrim(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	s, err := toStr("trim", args[0])
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func fnStr(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	return eval.Stringify(args[0]), nil
}

func fnReplace(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	var ss [3]string
	for i := range ss {
		s, err := toStr("replace", args[i])
		if err != nil {
			return nil, err
		}
		ss[i] = s
	}
	return strings.ReplaceAll(ss[0], ss[1], ss[2]), nil
}

// fnContains tests a substring, a list element or an object key.
func fnContains(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	switch x := args[0].(type) {
	case string:
		needle, err := toStr("contains", args[1])
		if err != nil {
			return nil, err
		}
		return strings.Contains(x, needle), nil
	case []any:
		for _, e := range x {
			if eval.Equal(e, args[1]) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, err := toStr("contains", args[1])
		if err != nil {
			return nil, err
		}
		_, ok := x[key]
		return ok, nil
	}
	return nil, eval.Errorf("contains: expected a string, list or object, got %s", eval.TypeOf(args[0]))
}
