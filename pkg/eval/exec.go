package eval

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/crystal-mush/mushscript/pkg/tree"
)

const (
	DefaultMaxDepth = 128
	DefaultMaxSteps = 100000
)

// Interpreter walks Script Trees against a sealed Registry. One Interpreter
// serves any number of concurrent invocations.
type Interpreter struct {
	reg *Registry

	MaxDepth int // nesting limit for calls and closure applications
	MaxSteps int // calls evaluated per invocation

	// OnCall, when set, is told about every opcode dispatch.
	OnCall func(opcode string)
}

// NewInterpreter creates an interpreter with default limits.
func NewInterpreter(reg *Registry) *Interpreter {
	return &Interpreter{
		reg:      reg,
		MaxDepth: DefaultMaxDepth,
		MaxSteps: DefaultMaxSteps,
	}
}

// Registry returns the opcode registry the interpreter dispatches through.
func (it *Interpreter) Registry() *Registry { return it.reg }

// Run evaluates n as inv. The outermost frame binds "args" to inv.Args. A
// top-level return ends the script with its value.
func (it *Interpreter) Run(ctx context.Context, inv *Invocation, n tree.Node) (result any, err error) {
	if !it.reg.Sealed() {
		return nil, ErrRegistryOpen
	}
	if !inv.start(it) {
		return nil, ErrAlreadyStarted
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, it.hostFault(inv, "", errors.Errorf("panic: %v", r))
		}
		inv.finish(result, err)
	}()

	prev := inv.scope.push(nil)
	defer inv.scope.pop(prev)
	inv.scope.define("args", append([]any{}, inv.Args...))

	result, err = it.eval(ctx, inv, n)
	var ret *returnSignal
	if errors.As(err, &ret) {
		return ret.value, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (it *Interpreter) eval(ctx context.Context, inv *Invocation, n tree.Node) (any, error) {
	switch n.Kind() {
	case tree.KindCall:
		return it.call(ctx, inv, n)
	case tree.KindEmpty:
		return []any{}, nil
	}
	return n.Value(), nil
}

func (it *Interpreter) call(ctx context.Context, inv *Invocation, n tree.Node) (any, error) {
	inv.depth++
	defer func() { inv.depth-- }()
	if inv.depth > it.MaxDepth {
		return nil, Errorf("nesting limit exceeded (%d)", it.MaxDepth)
	}
	inv.steps++
	if inv.steps > it.MaxSteps {
		return nil, Errorf("step limit exceeded (%d)", it.MaxSteps)
	}

	switch n.Op() {
	case tree.OpSeq:
		return it.seq(ctx, inv, n)

	case tree.OpLet:
		name, err := nameArg(n, 2, 2)
		if err != nil {
			return nil, err
		}
		v, err := it.eval(ctx, inv, n.Arg(1))
		if err != nil {
			return nil, err
		}
		inv.scope.define(name, v)
		return v, nil

	case tree.OpVar:
		name, err := nameArg(n, 1, 1)
		if err != nil {
			return nil, err
		}
		v, ok := inv.scope.lookup(name)
		if !ok {
			return nil, &UnboundVariableError{Name: name}
		}
		return v, nil

	case tree.OpSet:
		name, err := nameArg(n, 2, 2)
		if err != nil {
			return nil, err
		}
		v, err := it.eval(ctx, inv, n.Arg(1))
		if err != nil {
			return nil, err
		}
		if !inv.scope.assign(name, v) {
			return nil, &UnboundVariableError{Name: name}
		}
		return v, nil

	case tree.OpIf:
		if err := formArity(n, 2, 3); err != nil {
			return nil, err
		}
		c, err := it.eval(ctx, inv, n.Arg(0))
		if err != nil {
			return nil, err
		}
		if Truthy(c) {
			return it.eval(ctx, inv, n.Arg(1))
		}
		// Arg(2) is null when absent.
		return it.eval(ctx, inv, n.Arg(2))

	case tree.OpAnd, tree.OpOr:
		if err := formArity(n, 2, 2); err != nil {
			return nil, err
		}
		l, err := it.eval(ctx, inv, n.Arg(0))
		if err != nil {
			return nil, err
		}
		if Truthy(l) == (n.Op() == tree.OpOr) {
			return l, nil
		}
		return it.eval(ctx, inv, n.Arg(1))

	case tree.OpWhile:
		return it.while(ctx, inv, n)

	case tree.OpLambda:
		return it.lambda(inv, n)

	case tree.OpReturn:
		if err := formArity(n, 0, 1); err != nil {
			return nil, err
		}
		v, err := it.eval(ctx, inv, n.Arg(0))
		if err != nil {
			return nil, err
		}
		return nil, &returnSignal{value: v}
	}

	return it.dispatch(ctx, inv, n)
}

// seq evaluates statements left to right in a fresh frame. The frame is
// released on every exit path.
func (it *Interpreter) seq(ctx context.Context, inv *Invocation, n tree.Node) (any, error) {
	prev := inv.scope.push(inv.scope.top)
	defer inv.scope.pop(prev)

	var last any
	for i := 0; i < n.NumArgs(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{Cause: err}
		}
		v, err := it.eval(ctx, inv, n.Arg(i))
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

func (it *Interpreter) while(ctx context.Context, inv *Invocation, n tree.Node) (any, error) {
	if err := formArity(n, 2, 2); err != nil {
		return nil, err
	}
	var last any
	for {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{Cause: err}
		}
		c, err := it.eval(ctx, inv, n.Arg(0))
		if err != nil {
			return nil, err
		}
		if !Truthy(c) {
			return last, nil
		}
		if last, err = it.eval(ctx, inv, n.Arg(1)); err != nil {
			return nil, err
		}
		inv.steps++
		if inv.steps > it.MaxSteps {
			return nil, Errorf("step limit exceeded (%d)", it.MaxSteps)
		}
	}
}

func (it *Interpreter) lambda(inv *Invocation, n tree.Node) (any, error) {
	if err := formArity(n, 1, -1); err != nil {
		return nil, err
	}
	params := make([]string, n.NumArgs()-1)
	for i := range params {
		p := n.Arg(i)
		if p.Kind() != tree.KindText {
			return nil, Errorf("lambda parameter %d is not a name", i+1)
		}
		params[i] = p.Str()
	}
	return &Closure{Params: params, Body: n.Arg(n.NumArgs() - 1), env: inv.scope.top}, nil
}

// apply runs c's body in a new frame over the frame c was created in.
// Missing arguments are null and extra ones are ignored.
func (it *Interpreter) apply(ctx context.Context, inv *Invocation, c *Closure, args []any) (any, error) {
	inv.depth++
	defer func() { inv.depth-- }()
	if inv.depth > it.MaxDepth {
		return nil, Errorf("nesting limit exceeded (%d)", it.MaxDepth)
	}

	prev := inv.scope.push(c.env)
	defer inv.scope.pop(prev)
	for i, p := range c.Params {
		var v any
		if i < len(args) {
			v = args[i]
		}
		inv.scope.define(p, v)
	}

	v, err := it.eval(ctx, inv, c.Body)
	var ret *returnSignal
	if errors.As(err, &ret) {
		return ret.value, nil
	}
	return v, err
}

// dispatch evaluates the arguments of a library opcode call, then invokes it.
func (it *Interpreter) dispatch(ctx context.Context, inv *Invocation, n tree.Node) (any, error) {
	args := make([]any, n.NumArgs())
	for i := range args {
		v, err := it.eval(ctx, inv, n.Arg(i))
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	op, ok := it.reg.Lookup(n.Op())
	if !ok {
		return nil, &UnknownOpcodeError{Name: n.Op()}
	}
	if err := op.checkArity(len(args)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &CancelledError{Cause: err}
	}
	return it.invoke(ctx, inv, op, args)
}

// invoke is the opcode boundary: script faults pass through, anything else
// becomes an opaque InternalError.
func (it *Interpreter) invoke(ctx context.Context, inv *Invocation, op *Opcode, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, it.hostFault(inv, op.Name, errors.Errorf("panic: %v", r))
		}
	}()
	if it.OnCall != nil {
		it.OnCall(op.Name)
	}

	v, err = op.Fn(ctx, inv, args)
	if err == nil || classified(err) {
		return v, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, &CancelledError{Cause: cerr}
	}
	return nil, it.hostFault(inv, op.Name, err)
}

// hostFault logs err with its stack under a fresh incident id.
func (it *Interpreter) hostFault(inv *Invocation, opcode string, err error) error {
	id := uuid.NewString()
	if opcode == "" {
		opcode = "-"
	}
	log.Printf("eval: host fault %s: opcode %s, entity %q: %+v", id, opcode, inv.This, errors.WithStack(err))
	return &InternalError{Incident: id}
}

// nameArg checks a form's arity and returns its first argument, which must
// be a text literal.
func nameArg(n tree.Node, min, max int) (string, error) {
	if err := formArity(n, min, max); err != nil {
		return "", err
	}
	a := n.Arg(0)
	if a.Kind() != tree.KindText {
		return "", Errorf("%s: name must be a text literal, got %s", n.Op(), a.Kind())
	}
	return a.Str(), nil
}

func formArity(n tree.Node, min, max int) error {
	got := n.NumArgs()
	if got < min || (max >= 0 && got > max) {
		return &ArityError{Opcode: n.Op(), Got: got, Min: min, Max: max}
	}
	return nil
}
