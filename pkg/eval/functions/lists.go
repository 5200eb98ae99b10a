package functions

import (
	"context"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/crystal-mush/mushscript/pkg/eval"
	"github.com/crystal-mush/mushscript/pkg/render"
)

// maxRange bounds the lists range() may build.
const maxRange = 100000

func listOpcodes() []eval.Opcode {
	return []eval.Opcode{
		op("list", fnList, 0, variadic, CatList, "List", "items"),
		op("obj", fnObj, 0, variadic, CatList, "Object", "key", "value"),
		op("get", fnGet, 2, 2, CatList, "Get", "target", "key"),
		op("put", fnPut, 3, 3, CatList, "Put", "target", "key", "value"),
		op("keys", fnKeys, 1, 1, CatList, "Keys", "object"),
		op("values", fnValues, 1, 1, CatList, "Values", "object"),
		op("push", fnPush, 2, variadic, CatList, "Append", "list", "item"),
		op("slice", fnSlice, 2, 3, CatList, "Slice", "list", "start", "end"),
		op("range", fnRange, 1, 2, CatList, "Range", "from", "to"),
	}
}

func toList(name string, v any) ([]any, error) {
	l, ok := v.([]any)
	if !ok {
		return nil, eval.Errorf("%s: expected a list, got %s", name, eval.TypeOf(v))
	}
	return l, nil
}

// toIndex accepts whole numbers only.
func toIndex(name string, v any) (int, error) {
	f, err := toNum(name, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, eval.Errorf("%s: %s is not a valid index", name, render.FormatNumber(f))
	}
	return int(f), nil
}

// toKey converts an object key. Numbers are allowed and become their text.
func toKey(name string, v any) (string, error) {
	switch k := v.(type) {
	case string:
		return k, nil
	case float64:
		return render.FormatNumber(k), nil
	}
	return "", eval.Errorf("%s: object keys must be strings, got %s", name, eval.TypeOf(v))
}

func fnList(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	return append([]any{}, args...), nil
}

// fnObj builds an object from alternating keys and values. A repeated key
// keeps the last value.
func fnObj(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	if len(args)%2 != 0 {
		return nil, eval.Errorf("obj: expects key/value pairs but got %d arguments", len(args))
	}
	out := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		k, err := toKey("obj", args[i])
		if err != nil {
			return nil, err
		}
		out[k] = args[i+1]
	}
	return out, nil
}

// fnGet reads an object property, a list item or a character of a string.
// Lists and strings also answer "length". Missing entries read as null.
func fnGet(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	key := args[1]
	switch x := args[0].(type) {
	case map[string]any:
		k, err := toKey("get", key)
		if err != nil {
			return nil, err
		}
		return x[k], nil
	case []any:
		if key == "length" {
			return float64(len(x)), nil
		}
		i, err := toIndex("get", key)
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= len(x) {
			return nil, nil
		}
		return x[i], nil
	case string:
		if key == "length" {
			return float64(utf8.RuneCountInString(x)), nil
		}
		i, err := toIndex("get", key)
		if err != nil {
			return nil, err
		}
		r := []rune(x)
		if i < 0 || i >= len(r) {
			return nil, nil
		}
		return string(r[i]), nil
	case nil:
		return nil, eval.Errorf("get: cannot read %s of null", eval.Stringify(key))
	}
	return nil, eval.Errorf("get: cannot read %s of %s", eval.Stringify(key), eval.TypeOf(args[0]))
}

// fnPut writes into an object or an existing list slot in place and returns
// the value written.
func fnPut(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	v := args[2]
	switch x := args[0].(type) {
	case map[string]any:
		k, err := toKey("put", args[1])
		if err != nil {
			return nil, err
		}
		x[k] = v
		return v, nil
	case []any:
		i, err := toIndex("put", args[1])
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= len(x) {
			return nil, eval.Errorf("put: index %d out of range (length %d)", i, len(x))
		}
		x[i] = v
		return v, nil
	}
	return nil, eval.Errorf("put: cannot set %s on %s", eval.Stringify(args[1]), eval.TypeOf(args[0]))
}

func toObject(name string, v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, eval.Errorf("%s: expected an object, got %s", name, eval.TypeOf(v))
	}
	return m, nil
}

func sortedKeys(m map[string]any) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// fnKeys returns the keys of an object in sorted order.
func fnKeys(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	m, err := toObject("keys", args[0])
	if err != nil {
		return nil, err
	}
	ks := sortedKeys(m)
	out := make([]any, len(ks))
	for i, k := range ks {
		out[i] = k
	}
	return out, nil
}

// fnValues returns values in key order.
func fnValues(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	m, err := toObject("values", args[0])
	if err != nil {
		return nil, err
	}
	ks := sortedKeys(m)
	out := make([]any, len(ks))
	for i, k := range ks {
		out[i] = m[k]
	}
	return out, nil
}

// fnPush returns a new list with the items appended; the input is unchanged.
func fnPush(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	l, err := toList("push", args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(l)+len(args)-1)
	out = append(out, l...)
	return append(out, args[1:]...), nil
}

// fnSlice copies list[start:end]. Negative bounds count from the end.
func fnSlice(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	l, err := toList("slice", args[0])
	if err != nil {
		return nil, err
	}
	bound := func(v any) (int, error) {
		i, err := toIndex("slice", v)
		if err != nil {
			return 0, err
		}
		if i < 0 {
			i += len(l)
		}
		return clamp(i, 0, len(l)), nil
	}
	start, err := bound(args[1])
	if err != nil {
		return nil, err
	}
	end := len(l)
	if len(args) > 2 && args[2] != nil {
		if end, err = bound(args[2]); err != nil {
			return nil, err
		}
	}
	if end < start {
		end = start
	}
	return append([]any{}, l[start:end]...), nil
}

// fnRange counts from 0 to n-1, or from a to b-1.
func fnRange(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	from, to := 0, 0
	var err error
	if len(args) == 1 {
		to, err = toIndex("range", args[0])
	} else {
		if from, err = toIndex("range", args[0]); err == nil {
			to, err = toIndex("range", args[1])
		}
	}
	if err != nil {
		return nil, err
	}
	if to-from > maxRange {
		return nil, eval.Errorf("range: more than %d elements", maxRange)
	}
	out := []any{}
	for i := from; i < to; i++ {
		out = append(out, float64(i))
	}
	return out, nil
}
