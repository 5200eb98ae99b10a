package capability

import (
	"reflect"
	"strings"
	"testing"
)

func TestFreezeIgnoresLaterChanges(t *testing.T) {
	models := []any{"a", "b"}
	nested := map[string]any{"x": 1.0}
	raw := map[string]any{"allowedModels": models, "nested": nested}

	c, err := New("image", "lamp", raw)
	if err != nil {
		t.Fatal(err)
	}

	// Aliases taken before freezing.
	models[0] = "z"
	nested["x"] = 2.0
	raw["endpoint"] = "http://evil.example"
	delete(raw, "nested")

	p := c.Params()
	if got, _ := p.Get("allowedModels"); !reflect.DeepEqual(mustStrings(t, got), []string{"a", "b"}) {
		t.Errorf("allowedModels = %v", got)
	}
	n, ok := p.Get("nested")
	if !ok {
		t.Fatal("nested lost")
	}
	if x, _ := n.Get("x"); x.String() != "1" {
		t.Errorf("nested.x = %v", x)
	}
	if _, ok := p.Get("endpoint"); ok {
		t.Error("key added after freezing is visible")
	}
}

func TestFrozenCycles(t *testing.T) {
	raw := map[string]any{"name": "loop"}
	raw["self"] = raw
	list := []any{"head", nil}
	list[1] = list
	raw["list"] = list

	c, err := New("fetch", "lamp", raw)
	if err != nil {
		t.Fatal(err)
	}
	raw["name"] = "changed"
	list[0] = "changed"

	p := c.Params()
	self, _ := p.Get("self")
	again, _ := self.Get("self")
	if name, _ := again.Get("name"); name.String() != `"loop"` {
		t.Errorf("self.self.name = %v", name)
	}
	l, _ := p.Get("list")
	if head, _ := l.Index(1).Index(1).Index(0).Str(); head != "head" {
		t.Errorf("list[1][1][0] = %q", head)
	}
	if !p.cyclic() {
		t.Error("cyclic() = false")
	}
	if s := p.String(); !strings.Contains(s, "<cycle>") {
		t.Errorf("String() = %s", s)
	}

	// The exported copy keeps the cycle but is detached from the capability.
	exp := p.Export().(map[string]any)
	exp["self"].(map[string]any)["name"] = "mutated"
	if exp["name"] != "mutated" {
		t.Error("exported cycle was not preserved")
	}
	if name, _ := p.Get("name"); name.String() != `"loop"` {
		t.Errorf("export aliased the frozen value: name = %v", name)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	p := MustFreeze(map[string]any{"b": 1.0, "a": []string{"x", "y"}})
	keys := p.Keys()
	keys[0] = "zzz"
	if got := p.Keys(); got[0] != "a" {
		t.Errorf("Keys() = %v after editing a returned slice", got)
	}
	a, _ := p.Get("a")
	ss, _ := a.Strings()
	ss[0] = "changed"
	if again, _ := a.Strings(); again[0] != "x" {
		t.Errorf("Strings() = %v after editing a returned slice", again)
	}
	exp := p.Export().(map[string]any)
	exp["a"].([]any)[0] = "changed"
	if again, _ := a.Strings(); again[0] != "x" {
		t.Errorf("Export aliased the frozen list: %v", again)
	}
}

func TestFreezeKindsAndErrors(t *testing.T) {
	p := MustFreeze(map[string]any{"n": 3, "s": "x", "b": true, "z": nil, "m": map[string]string{"k": "v"}})
	if n, ok := mustGet(t, p, "n").Number(); !ok || n != 3 {
		t.Errorf("n = %v", n)
	}
	if b, ok := mustGet(t, p, "b").Bool(); !ok || !b {
		t.Error("b lost")
	}
	if !mustGet(t, p, "z").IsNull() {
		t.Error("z is not null")
	}
	if k, _ := mustGet(t, mustGet(t, p, "m"), "k").Str(); k != "v" {
		t.Errorf("m.k = %q", k)
	}
	if (Value{}).Kind() != KindNull || (Value{}).Len() != 0 {
		t.Error("zero Value is not null")
	}

	if _, err := Freeze(map[string]any{"f": func() {}}); err == nil || !strings.Contains(err.Error(), "params.f") {
		t.Errorf("Freeze(func) err = %v", err)
	}
	if _, err := New("x", "o", []any{1.0}); err == nil {
		t.Error("New accepted list params")
	}
	if _, err := New("x", "", nil); err == nil {
		t.Error("New accepted an empty owner")
	}
}

func mustGet(t *testing.T, v Value, key string) Value {
	t.Helper()
	got, ok := v.Get(key)
	if !ok {
		t.Fatalf("missing key %q in %v", key, v)
	}
	return got
}

func mustStrings(t *testing.T, v Value) []string {
	t.Helper()
	ss, ok := v.Strings()
	if !ok {
		t.Fatalf("%v is not a list of strings", v)
	}
	return ss
}
