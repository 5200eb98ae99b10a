package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/crystal-mush/mushscript/pkg/eval"
)

// Call is what a method implementation receives. Cap has already passed the
// ownership check and class validation.
type Call struct {
	Cap  *Capability
	Inv  *eval.Invocation
	Args []any
}

// Arg returns argument i, or nil when absent.
func (c *Call) Arg(i int) any {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return nil
}

// Method is one privileged operation of a class.
type Method struct {
	Fn      func(ctx context.Context, call *Call) (any, error)
	MinArgs int
	MaxArgs int      // -1 means variadic
	Args    []string // parameter names shown by editors
	Label   string

	// AllowLists maps an argument position to the params key holding the
	// strings that argument may take. A missing params key means no
	// restriction.
	AllowLists map[int]string
}

// Class is a capability type: how to validate a grant's params and what it
// can do.
type Class struct {
	Type     string
	Label    string
	Validate func(p Value) error
	Methods  map[string]Method
}

// Classes is the capability class registry. It is filled at load time and
// then sealed; lookups after Seal take no lock.
type Classes struct {
	mu      sync.Mutex
	classes map[string]*Class
	sealed  atomic.Bool
}

// NewClasses returns an empty, unsealed registry.
func NewClasses() *Classes {
	return &Classes{classes: make(map[string]*Class)}
}

// Register adds a class. Duplicates and writes after Seal are rejected.
func (cs *Classes) Register(c *Class) error {
	if c == nil || c.Type == "" {
		return fmt.Errorf("capability: register: class has no type")
	}
	for name, m := range c.Methods {
		if m.Fn == nil {
			return fmt.Errorf("capability: register %s.%s: nil function", c.Type, name)
		}
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.sealed.Load() {
		return fmt.Errorf("capability: register %s: registry is sealed", c.Type)
	}
	if _, dup := cs.classes[c.Type]; dup {
		return fmt.Errorf("capability: register %s: already registered", c.Type)
	}
	cs.classes[c.Type] = c
	return nil
}

// Seal ends the load phase.
func (cs *Classes) Seal() {
	cs.mu.Lock()
	cs.sealed.Store(true)
	cs.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (cs *Classes) Sealed() bool { return cs.sealed.Load() }

// Lookup finds a class by type.
func (cs *Classes) Lookup(typ string) (*Class, bool) {
	if !cs.sealed.Load() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
	}
	c, ok := cs.classes[typ]
	return c, ok
}

// Types returns the registered class names, sorted.
func (cs *Classes) Types() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]string, 0, len(cs.classes))
	for t := range cs.classes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// sortedMethods returns a class's method names, sorted.
func (c *Class) sortedMethods() []string {
	out := make([]string, 0, len(c.Methods))
	for name := range c.Methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
