// Package functions is the core opcode library: arithmetic, comparison,
// strings, lists and objects, iteration, and access to the world the script
// runs in.
package functions

import (
	"github.com/crystal-mush/mushscript/pkg/eval"
)

// Opcode categories shown by editors.
const (
	CatMath   = "math"
	CatLogic  = "logic"
	CatString = "string"
	CatList   = "list"
	CatWorld  = "world"
	CatMisc   = "misc"
)

const variadic = -1

// RegisterAll installs every core library into reg.
func RegisterAll(reg *eval.Registry) error {
	for _, lib := range [][]eval.Opcode{
		mathOpcodes(),
		logicOpcodes(),
		stringOpcodes(),
		listOpcodes(),
		iterOpcodes(),
		worldOpcodes(),
		miscOpcodes(),
	} {
		if err := reg.RegisterLibrary(lib...); err != nil {
			return err
		}
	}
	return nil
}

// op builds an Opcode entry.
func op(name string, fn eval.Func, min, max int, cat, label string, args ...string) eval.Opcode {
	return eval.Opcode{
		Name:     name,
		Fn:       fn,
		MinArgs:  min,
		MaxArgs:  max,
		Args:     args,
		Label:    label,
		Category: cat,
	}
}
