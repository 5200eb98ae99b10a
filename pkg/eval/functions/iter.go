package functions

import (
	"context"

	"github.com/crystal-mush/mushscript/pkg/eval"
)

func iterOpcodes() []eval.Opcode {
	return []eval.Opcode{
		op("apply", fnApply, 1, variadic, CatList, "Call a function", "fn", "args"),
		op("map", fnMap, 2, 2, CatList, "Map", "list", "fn"),
		op("filter", fnFilter, 2, 2, CatList, "Filter", "list", "fn"),
		op("reduce", fnReduce, 3, 3, CatList, "Reduce", "list", "fn", "init"),
	}
}

// fnApply calls a function value with the remaining arguments.
func fnApply(ctx context.Context, inv *eval.Invocation, args []any) (any, error) {
	return inv.Apply(ctx, args[0], args[1:]...)
}

// fnMap calls fn(item, index) for each item and collects the results.
func fnMap(ctx context.Context, inv *eval.Invocation, args []any) (any, error) {
	l, err := toList("map", args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(l))
	for i, e := range l {
		v, err := inv.Apply(ctx, args[1], e, float64(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// fnFilter keeps the items for which fn(item, index) is truthy.
func fnFilter(ctx context.Context, inv *eval.Invocation, args []any) (any, error) {
	l, err := toList("filter", args[0])
	if err != nil {
		return nil, err
	}
	out := []any{}
	for i, e := range l {
		v, err := inv.Apply(ctx, args[1], e, float64(i))
		if err != nil {
			return nil, err
		}
		if eval.Truthy(v) {
			out = append(out, e)
		}
	}
	return out, nil
}

// fnReduce folds fn(acc, item, index) over the list starting from init.
func fnReduce(ctx context.Context, inv *eval.Invocation, args []any) (any, error) {
	l, err := toList("reduce", args[0])
	if err != nil {
		return nil, err
	}
	acc := args[2]
	for i, e := range l {
		if acc, err = inv.Apply(ctx, args[1], acc, e, float64(i)); err != nil {
			return nil, err
		}
	}
	return acc, nil
}
