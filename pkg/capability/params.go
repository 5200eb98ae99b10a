package capability

import (
	"fmt"
	"reflect"
	"sort"

	json "github.com/goccy/go-json"
)

// Kind is the type of a frozen value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// slot is one value in an arena. Containers refer to their children by
// arena index, so a cyclic input freezes into a cyclic index graph.
type slot struct {
	kind  Kind
	b     bool
	num   float64
	str   string
	items []int    // list children
	keys  []string // object keys, sorted
	vals  []int    // object children, parallel to keys
}

// arena holds a frozen value graph. It is written only by Freeze.
type arena struct {
	slots []slot
}

// Value is a read-only view of one frozen value. The zero Value is null.
// Values are safe for concurrent use and never change.
type Value struct {
	a *arena
	i int
}

// Freeze deep-copies v into a new immutable value graph. v may hold nil,
// bools, numbers, strings, lists and string-keyed maps, nested to any depth;
// containers that refer back to an ancestor keep that shape. Nothing in v
// is retained, so later changes to v are invisible.
func Freeze(v any) (Value, error) {
	f := &freezer{a: &arena{}, seen: make(map[identity]int)}
	i, err := f.freeze(v, "params")
	if err != nil {
		return Value{}, err
	}
	return Value{a: f.a, i: i}, nil
}

// MustFreeze is Freeze for values known to be well formed.
func MustFreeze(v any) Value {
	fv, err := Freeze(v)
	if err != nil {
		panic(err)
	}
	return fv
}

type identity struct {
	ptr uintptr
	len int
}

type freezer struct {
	a    *arena
	seen map[identity]int // containers frozen so far, by identity
}

func (f *freezer) add(s slot) int {
	f.a.slots = append(f.a.slots, s)
	return len(f.a.slots) - 1
}

func (f *freezer) freeze(v any, path string) (int, error) {
	switch x := v.(type) {
	case nil:
		return f.add(slot{kind: KindNull}), nil
	case bool:
		return f.add(slot{kind: KindBool, b: x}), nil
	case string:
		return f.add(slot{kind: KindString, str: x}), nil
	case float64:
		return f.add(slot{kind: KindNumber, num: x}), nil
	case float32:
		return f.add(slot{kind: KindNumber, num: float64(x)}), nil
	case int:
		return f.add(slot{kind: KindNumber, num: float64(x)}), nil
	case int64:
		return f.add(slot{kind: KindNumber, num: float64(x)}), nil
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("capability: %s: %w", path, err)
		}
		return f.add(slot{kind: KindNumber, num: n}), nil
	case Value:
		return f.copyFrozen(x, make(map[int]int)), nil
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return f.freeze(items, path)
	case []any:
		id := identity{reflect.ValueOf(x).Pointer(), len(x)}
		if i, ok := f.seen[id]; ok && id.ptr != 0 {
			return i, nil
		}
		i := f.add(slot{kind: KindList})
		f.seen[id] = i
		items := make([]int, len(x))
		for j, e := range x {
			c, err := f.freeze(e, fmt.Sprintf("%s[%d]", path, j))
			if err != nil {
				return 0, err
			}
			items[j] = c
		}
		f.a.slots[i].items = items
		return i, nil
	case map[string]any:
		id := identity{reflect.ValueOf(x).Pointer(), -1}
		if i, ok := f.seen[id]; ok && id.ptr != 0 {
			return i, nil
		}
		i := f.add(slot{kind: KindObject})
		f.seen[id] = i
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]int, len(keys))
		for j, k := range keys {
			c, err := f.freeze(x[k], path+"."+k)
			if err != nil {
				return 0, err
			}
			vals[j] = c
		}
		f.a.slots[i].keys = keys
		f.a.slots[i].vals = vals
		return i, nil
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return f.freeze(m, path)
	}
	return 0, fmt.Errorf("capability: %s: cannot freeze %T", path, v)
}

// copyFrozen copies a value from another arena, keeping its shape.
func (f *freezer) copyFrozen(v Value, done map[int]int) int {
	if v.a == nil {
		return f.add(slot{kind: KindNull})
	}
	if i, ok := done[v.i]; ok {
		return i
	}
	src := v.a.slots[v.i]
	i := f.add(slot{kind: src.kind, b: src.b, num: src.num, str: src.str})
	done[v.i] = i
	if src.items != nil {
		items := make([]int, len(src.items))
		for j, c := range src.items {
			items[j] = f.copyFrozen(Value{v.a, c}, done)
		}
		f.a.slots[i].items = items
	}
	if src.keys != nil {
		vals := make([]int, len(src.vals))
		for j, c := range src.vals {
			vals[j] = f.copyFrozen(Value{v.a, c}, done)
		}
		f.a.slots[i].keys = append([]string(nil), src.keys...)
		f.a.slots[i].vals = vals
	}
	return i
}

func (v Value) slot() slot {
	if v.a == nil {
		return slot{}
	}
	return v.a.slots[v.i]
}

// Kind returns the type of v.
func (v Value) Kind() Kind { return v.slot().kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// Bool returns v as a bool.
func (v Value) Bool() (bool, bool) {
	s := v.slot()
	return s.b, s.kind == KindBool
}

// Number returns v as a number.
func (v Value) Number() (float64, bool) {
	s := v.slot()
	return s.num, s.kind == KindNumber
}

// Str returns v as a string.
func (v Value) Str() (string, bool) {
	s := v.slot()
	return s.str, s.kind == KindString
}

// Len returns the number of items of a list or keys of an object.
func (v Value) Len() int {
	s := v.slot()
	if s.kind == KindObject {
		return len(s.keys)
	}
	return len(s.items)
}

// Index returns list item i, or null when out of range.
func (v Value) Index(i int) Value {
	s := v.slot()
	if s.kind != KindList || i < 0 || i >= len(s.items) {
		return Value{}
	}
	return Value{a: v.a, i: s.items[i]}
}

// Get returns an object member.
func (v Value) Get(key string) (Value, bool) {
	s := v.slot()
	if s.kind != KindObject {
		return Value{}, false
	}
	j := sort.SearchStrings(s.keys, key)
	if j == len(s.keys) || s.keys[j] != key {
		return Value{}, false
	}
	return Value{a: v.a, i: s.vals[j]}, true
}

// Keys returns the object's keys in sorted order.
func (v Value) Keys() []string {
	s := v.slot()
	return append([]string(nil), s.keys...)
}

// Strings returns a list of strings. ok is false if v is not a list or any
// item is not a string.
func (v Value) Strings() (out []string, ok bool) {
	s := v.slot()
	if s.kind != KindList {
		return nil, false
	}
	out = make([]string, len(s.items))
	for i := range s.items {
		str, ok := v.Index(i).Str()
		if !ok {
			return nil, false
		}
		out[i] = str
	}
	return out, true
}

// Export returns a fresh mutable copy of v. Shared and cyclic containers
// keep their shape; changing the copy never affects v.
func (v Value) Export() any {
	return v.export(make(map[int]any))
}

func (v Value) export(done map[int]any) any {
	s := v.slot()
	switch s.kind {
	case KindBool:
		return s.b
	case KindNumber:
		return s.num
	case KindString:
		return s.str
	case KindList:
		if out, ok := done[v.i]; ok {
			return out
		}
		out := make([]any, len(s.items))
		done[v.i] = out
		for j, c := range s.items {
			out[j] = Value{a: v.a, i: c}.export(done)
		}
		return out
	case KindObject:
		if out, ok := done[v.i]; ok {
			return out
		}
		out := make(map[string]any, len(s.keys))
		done[v.i] = out
		for j, k := range s.keys {
			out[k] = Value{a: v.a, i: s.vals[j]}.export(done)
		}
		return out
	}
	return nil
}

// String renders v as JSON. A container reached again through a cycle is
// written as "<cycle>".
func (v Value) String() string {
	data, err := json.Marshal(v.describe(make(map[int]bool)))
	if err != nil {
		return "<invalid>"
	}
	return string(data)
}

func (v Value) describe(open map[int]bool) any {
	s := v.slot()
	if s.kind != KindList && s.kind != KindObject {
		return v.Export()
	}
	if open[v.i] {
		return "<cycle>"
	}
	open[v.i] = true
	defer delete(open, v.i)
	if s.kind == KindList {
		out := make([]any, len(s.items))
		for j, c := range s.items {
			out[j] = Value{a: v.a, i: c}.describe(open)
		}
		return out
	}
	out := make(map[string]any, len(s.keys))
	for j, k := range s.keys {
		out[k] = Value{a: v.a, i: s.vals[j]}.describe(open)
	}
	return out
}

// cyclic reports whether a container can reach itself.
func (v Value) cyclic() bool {
	return v.reaches(make(map[int]bool))
}

func (v Value) reaches(open map[int]bool) bool {
	s := v.slot()
	if s.kind != KindList && s.kind != KindObject {
		return false
	}
	if open[v.i] {
		return true
	}
	open[v.i] = true
	defer delete(open, v.i)
	for _, c := range s.items {
		if (Value{a: v.a, i: c}).reaches(open) {
			return true
		}
	}
	for _, c := range s.vals {
		if (Value{a: v.a, i: c}).reaches(open) {
			return true
		}
	}
	return false
}
