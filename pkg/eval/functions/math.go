package functions

import (
	"context"
	"math"

	"github.com/crystal-mush/mushscript/pkg/eval"
)

func mathOpcodes() []eval.Opcode {
	return []eval.Opcode{
		op("+", fnAdd, 2, variadic, CatMath, "Add", "a", "b"),
		op("-", fnSub, 1, 2, CatMath, "Subtract", "a", "b"),
		op("*", fnMul, 2, variadic, CatMath, "Multiply", "a", "b"),
		op("/", fnDiv, 2, 2, CatMath, "Divide", "a", "b"),
		op("%", fnMod, 2, 2, CatMath, "Remainder", "a", "b"),
		op("min", fnMin, 1, variadic, CatMath, "Minimum", "a"),
		op("max", fnMax, 1, variadic, CatMath, "Maximum", "a"),
		op("floor", fnFloor, 1, 1, CatMath, "Round down", "x"),
		op("round", fnRound, 1, 1, CatMath, "Round", "x"),
		op("abs", fnAbs, 1, 1, CatMath, "Absolute value", "x"),
	}
}

// toNum converts an opcode argument to a number or fails with a
// ScriptError naming the opcode.
func toNum(name string, v any) (float64, error) {
	f, ok := eval.ToNumber(v)
	if !ok {
		return 0, eval.Errorf("%s: expected a number, got %s", name, eval.TypeOf(v))
	}
	return f, nil
}

func nums(name string, args []any) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, err := toNum(name, a)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// checkFinite keeps Inf and NaN out of script values; neither survives the
// wire format.
func checkFinite(name string, f float64) (any, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, eval.Errorf("%s: result is not a finite number", name)
	}
	return f, nil
}

// fnAdd adds numbers. If any operand is a string the operands are
// concatenated instead.
func fnAdd(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	for _, a := range args {
		if _, ok := a.(string); ok {
			return concatValues(args), nil
		}
	}
	ns, err := nums("+", args)
	if err != nil {
		return nil, err
	}
	sum := 0.0
	for _, n := range ns {
		sum += n
	}
	return checkFinite("+", sum)
}

// fnSub subtracts, or negates with a single argument.
func fnSub(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	ns, err := nums("-", args)
	if err != nil {
		return nil, err
	}
	if len(ns) == 1 {
		return 0 - ns[0], nil
	}
	return checkFinite("-", ns[0]-ns[1])
}

func fnMul(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	ns, err := nums("*", args)
	if err != nil {
		return nil, err
	}
	prod := 1.0
	for _, n := range ns {
		prod *= n
	}
	return checkFinite("*", prod)
}

func fnDiv(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	ns, err := nums("/", args)
	if err != nil {
		return nil, err
	}
	if ns[1] == 0 {
		return nil, eval.Errorf("/: division by zero")
	}
	return checkFinite("/", ns[0]/ns[1])
}

// fnMod is the truncated remainder; the result takes the sign of the dividend.
func fnMod(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	ns, err := nums("%", args)
	if err != nil {
		return nil, err
	}
	if ns[1] == 0 {
		return nil, eval.Errorf("%%: division by zero")
	}
	return checkFinite("%", math.Mod(ns[0], ns[1]))
}

// numsOrList lets min and max take either several numbers or one list.
func numsOrList(name string, args []any) ([]float64, error) {
	if len(args) == 1 {
		if l, ok := args[0].([]any); ok {
			if len(l) == 0 {
				return nil, eval.Errorf("%s: empty list", name)
			}
			args = l
		}
	}
	return nums(name, args)
}

func fnMin(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	ns, err := numsOrList("min", args)
	if err != nil {
		return nil, err
	}
	m := ns[0]
	for _, n := range ns[1:] {
		m = math.Min(m, n)
	}
	return m, nil
}

func fnMax(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	ns, err := numsOrList("max", args)
	if err != nil {
		return nil, err
	}
	m := ns[0]
	for _, n := range ns[1:] {
		m = math.Max(m, n)
	}
	return m, nil
}

func fnFloor(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	f, err := toNum("floor", args[0])
	if err != nil {
		return nil, err
	}
	return math.Floor(f), nil
}

// fnRound rounds half away from zero.
func fnRound(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	f, err := toNum("round", args[0])
	if err != nil {
		return nil, err
	}
	return math.Round(f), nil
}

func fnAbs(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	f, err := toNum("abs", args[0])
	if err != nil {
		return nil, err
	}
	return math.Abs(f), nil
}
