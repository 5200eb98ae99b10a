package eval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/crystal-mush/mushscript/pkg/tree"
)

// Func is the signature for opcode implementations. args are already
// evaluated, left to right.
type Func func(ctx context.Context, inv *Invocation, args []any) (any, error)

// Opcode is a registered library function.
type Opcode struct {
	Name     string
	Fn       Func
	MinArgs  int
	MaxArgs  int      // -1 means variadic
	Args     []string // parameter names shown by editors
	Label    string
	Category string
}

// OpcodeInfo is the editor-facing metadata of an Opcode.
type OpcodeInfo struct {
	Name     string   `json:"name"`
	MinArgs  int      `json:"minArgs"`
	MaxArgs  int      `json:"maxArgs"`
	Args     []string `json:"args,omitempty"`
	Label    string   `json:"label,omitempty"`
	Category string   `json:"category,omitempty"`
}

func (op *Opcode) checkArity(n int) error {
	if n < op.MinArgs || (op.MaxArgs >= 0 && n > op.MaxArgs) {
		return &ArityError{Opcode: op.Name, Got: n, Min: op.MinArgs, Max: op.MaxArgs}
	}
	return nil
}

// Registry maps opcode names to implementations. It is filled at load time,
// then sealed; lookups after Seal take no lock.
type Registry struct {
	mu     sync.Mutex
	ops    map[string]*Opcode
	sealed atomic.Bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Opcode)}
}

// Register adds one opcode. Built-in form names, duplicates and writes after
// Seal are rejected.
func (r *Registry) Register(op Opcode) error {
	if op.Name == "" {
		return fmt.Errorf("eval: register: empty opcode name")
	}
	if op.Fn == nil {
		return fmt.Errorf("eval: register %s: nil function", op.Name)
	}
	if tree.IsBuiltin(op.Name) {
		return fmt.Errorf("eval: register %s: shadows a built-in form", op.Name)
	}
	if op.MaxArgs >= 0 && op.MaxArgs < op.MinArgs {
		return fmt.Errorf("eval: register %s: max args %d below min %d", op.Name, op.MaxArgs, op.MinArgs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return fmt.Errorf("eval: register %s: registry is sealed", op.Name)
	}
	if _, dup := r.ops[op.Name]; dup {
		return fmt.Errorf("eval: register %s: already registered", op.Name)
	}
	r.ops[op.Name] = &op
	return nil
}

// RegisterLibrary adds a set of opcodes, stopping at the first rejection.
func (r *Registry) RegisterLibrary(ops ...Opcode) error {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			return err
		}
	}
	return nil
}

// Seal ends the load phase.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool { return r.sealed.Load() }

// Lookup finds an opcode by name.
func (r *Registry) Lookup(name string) (*Opcode, bool) {
	if !r.sealed.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	op, ok := r.ops[name]
	return op, ok
}

// Opcodes lists metadata for every registered opcode, sorted by name.
func (r *Registry) Opcodes() []OpcodeInfo {
	if !r.sealed.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	out := make([]OpcodeInfo, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, OpcodeInfo{
			Name:     op.Name,
			MinArgs:  op.MinArgs,
			MaxArgs:  op.MaxArgs,
			Args:     append([]string(nil), op.Args...),
			Label:    op.Label,
			Category: op.Category,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
