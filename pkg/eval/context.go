package eval

import (
	"context"
	"sync/atomic"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// State is the lifecycle position of an Invocation.
type State int32

const (
	StateReady State = iota
	StateRunning
	StateCompleted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

// Grant is the read-only view of a capability instance that the
// interpreter side needs.
type Grant interface {
	Type() string
	OwnerID() string
}

// Host provides the world an invocation runs against without importing the
// server package.
type Host interface {
	// Store returns the entity store.
	Store() gamedb.Store
	// Capability returns the capability of type typ bound to entity,
	// including grants inherited through the prototype chain.
	Capability(entity, typ string) (Grant, bool)
	// Notify delivers msg to every session attached to entity.
	Notify(entity, msg string)
}

// Invocation is the per-execution context: who the script runs as, who
// triggered it and where its output goes. An Invocation runs once.
type Invocation struct {
	This   string // entity the script executes as; empty when unbound
	Caller string // entity that triggered the script
	Args   []any  // bound to "args" in the outermost frame
	Send   func(msg string)
	Host   Host

	interp *Interpreter
	scope  *Scope
	steps  int
	depth  int

	state  atomic.Int32
	result any
	err    error
}

// NewInvocation builds a ready Invocation.
func NewInvocation(this, caller string, host Host, args ...any) *Invocation {
	return &Invocation{This: this, Caller: caller, Host: host, Args: args}
}

// State returns the current lifecycle state.
func (inv *Invocation) State() State { return State(inv.state.Load()) }

// Result returns the completed value or the fault. Both are nil until the
// invocation finishes.
func (inv *Invocation) Result() (any, error) {
	if s := inv.State(); s != StateCompleted && s != StateFaulted {
		return nil, nil
	}
	return inv.result, inv.err
}

// Scope exposes the frame stack, for frame accounting.
func (inv *Invocation) Scope() *Scope { return inv.scope }

// Steps returns the number of calls evaluated so far.
func (inv *Invocation) Steps() int { return inv.steps }

// Output sends msg to the invoker, if anyone is listening.
func (inv *Invocation) Output(msg string) {
	if inv.Send != nil {
		inv.Send(msg)
	}
}

// Store returns the host entity store, or nil without a host.
func (inv *Invocation) Store() gamedb.Store {
	if inv.Host == nil {
		return nil
	}
	return inv.Host.Store()
}

// Apply calls a closure created by this invocation. Library opcodes that
// take callbacks use it.
func (inv *Invocation) Apply(ctx context.Context, fn any, args ...any) (any, error) {
	c, ok := fn.(*Closure)
	if !ok {
		return nil, Errorf("cannot call %s", TypeOf(fn))
	}
	if inv.interp == nil {
		return nil, Errorf("invocation is not running")
	}
	return inv.interp.apply(ctx, inv, c, args)
}

func (inv *Invocation) start(it *Interpreter) bool {
	if !inv.state.CompareAndSwap(int32(StateReady), int32(StateRunning)) {
		return false
	}
	inv.interp = it
	inv.scope = &Scope{}
	return true
}

func (inv *Invocation) finish(v any, err error) {
	inv.result, inv.err = v, err
	if err != nil {
		inv.state.Store(int32(StateFaulted))
		return
	}
	inv.state.Store(int32(StateCompleted))
}
