package functions

import (
	"context"
	"log"
	"math/rand/v2"
	"time"

	"github.com/crystal-mush/mushscript/pkg/eval"
)

func miscOpcodes() []eval.Opcode {
	return []eval.Opcode{
		op("typeof", fnTypeof, 1, 1, CatMisc, "Type name", "x"),
		op("log", fnLog, 1, variadic, CatMisc, "Server log", "message"),
		op("time", fnTime, 0, 0, CatMisc, "Current time"),
		op("rand", fnRand, 0, 1, CatMisc, "Random number", "n"),
	}
}

func fnTypeof(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	return eval.TypeOf(args[0]), nil
}

func fnLog(_ context.Context, inv *eval.Invocation, args []any) (any, error) {
	log.Printf("script %s: %s", inv.This, concatValues(args))
	return nil, nil
}

// fnTime returns seconds since the Unix epoch, with millisecond precision.
func fnTime(_ context.Context, _ *eval.Invocation, _ []any) (any, error) {
	return float64(time.Now().UnixMilli()) / 1000, nil
}

// rand() is a float in [0,1); rand(n) is a whole number in [0,n).
func fnRand(_ context.Context, _ *eval.Invocation, args []any) (any, error) {
	if len(args) == 0 {
		return rand.Float64(), nil
	}
	n, err := toIndex("rand", args[0])
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, eval.Errorf("rand: bound must be positive, got %d", n)
	}
	return float64(rand.IntN(n)), nil
}
