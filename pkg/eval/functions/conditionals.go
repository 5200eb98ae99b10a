package functions

import (
	"context"
	"strings"

	"github.com/crystal-mush/mushscript/pkg/eval"
)

func logicOpcodes() []eval.Opcode {
	return []eval.Opcode{
		op("==", fnEq, 2, 2, CatLogic, "Equal", "a", "b"),
		op("===", fnEq, 2, 2, CatLogic, "Strictly equal", "a", "b"),
		op("!=", fnNeq, 2, 2, CatLogic, "Not equal", "a", "b"),
		op("!==", fnNeq, 2, 2, CatLogic, "Strictly not equal", "a", "b"),
		op("<", compare("<", func(c int) bool { return c < 0 }), 2, 2, CatLogic, "Less than", "a", "b"),
		op("<=", compare("<=", func(c int) bool { return c <= 0 }), 2, 2, CatLogic, "At most", "a", "b"),
		op(">", compare(">", func(c int) bool { return c > 0 }), 2, 2, CatLogic, "Greater than", "a", "b"),
		op(">=", compare(">=", func(c int) bool { return c >= 0 }), 2, 2, CatLogic, "At least", "a", "b"),
		op("!", fnNot, 1, 1, CatLogic, "Not", "x"),
	}
}

// Equality is structural and never coerces: 1 == "1" is false.
func fnEq(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	return eval.Equal(args[0], args[1]), nil
}

func fnNeq(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	return !eval.Equal(args[0], args[1]), nil
}

func fnNot(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	return !eval.Truthy(args[0]), nil
}

// compare orders two strings lexically and anything else numerically.
func compare(name string, test func(int) bool) eval.Func {
	return func(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
		as, aok := args[0].(string)
		bs, bok := args[1].(string)
		if aok && bok {
			return test(strings.Compare(as, bs)), nil
		}
		a, err := toNum(name, args[0])
		if err != nil {
			return nil, err
		}
		b, err := toNum(name, args[1])
		if err != nil {
			return nil, err
		}
		switch {
		case a < b:
			return test(-1), nil
		case a > b:
			return test(1), nil
		case a == b:
			return test(0), nil
		}
		// NaN compares false every way.
		return false, nil
	}
}
