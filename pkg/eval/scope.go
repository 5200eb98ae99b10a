package eval

// frame holds the bindings of one lexical level.
type frame struct {
	vars   map[string]any
	parent *frame
}

func (f *frame) lookup(name string) (any, bool) {
	for ; f != nil; f = f.parent {
		if v, ok := f.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (f *frame) assign(name string, v any) bool {
	for ; f != nil; f = f.parent {
		if _, ok := f.vars[name]; ok {
			f.vars[name] = v
			return true
		}
	}
	return false
}

// Scope is the frame stack of one invocation. Every push is matched by
// exactly one pop on every exit path; Pushed and Popped make that checkable.
type Scope struct {
	top    *frame
	depth  int
	pushed int
	popped int
}

// Depth returns the number of frames currently pushed.
func (s *Scope) Depth() int { return s.depth }

// Pushed returns the total number of frames ever pushed.
func (s *Scope) Pushed() int { return s.pushed }

// Popped returns the total number of frames ever popped.
func (s *Scope) Popped() int { return s.popped }

// push makes a new frame over parent, makes it the current frame and
// returns the frame it replaced, to be handed back to pop.
func (s *Scope) push(parent *frame) *frame {
	prev := s.top
	s.top = &frame{vars: make(map[string]any), parent: parent}
	s.depth++
	s.pushed++
	return prev
}

func (s *Scope) pop(prev *frame) {
	s.top = prev
	s.depth--
	s.popped++
}

func (s *Scope) define(name string, v any) { s.top.vars[name] = v }

func (s *Scope) lookup(name string) (any, bool) { return s.top.lookup(name) }

func (s *Scope) assign(name string, v any) bool { return s.top.assign(name, v) }
