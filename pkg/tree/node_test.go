package tree

import (
	"errors"
	"testing"
)

func TestCallCopiesArgs(t *testing.T) {
	args := []Node{Num(1), Num(2)}
	n := Call("+", args...)
	args[0] = Text("changed")

	if !Equal(n.Arg(0), Num(1)) {
		t.Errorf("Call kept alias to caller slice: arg0 = %v", n.Arg(0))
	}

	got := n.Args()
	got[1] = Text("changed")
	if !Equal(n.Arg(1), Num(2)) {
		t.Errorf("Args returned alias: arg1 = %v", n.Arg(1))
	}
}

func TestEqualStructural(t *testing.T) {
	a := Seq(Let("x", Num(1)), Call("+", Var("x"), Num(2)))
	b := Seq(Let("x", Num(1)), Call("+", Var("x"), Num(2)))
	c := Seq(Let("x", Num(1)), Call("+", Var("x"), Num(3)))

	if !Equal(a, b) {
		t.Error("identical trees should be equal")
	}
	if Equal(a, c) {
		t.Error("different trees should not be equal")
	}
	if Equal(Num(0), Bool(false)) {
		t.Error("number and boolean literals should differ")
	}
	if !Equal(Null(), Node{}) {
		t.Error("zero Node should be null")
	}
}

func TestEncodeDecodeWireShape(t *testing.T) {
	n := Seq(Let("x", Num(1)), Call("say", Text("hi"), Bool(true), Null()), EmptyList())
	data, err := Encode(n)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `["seq",["let","x",1],["say","hi",true,null],[]]`
	if string(data) != want {
		t.Errorf("Encode = %s, want %s", data, want)
	}

	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !Equal(n, back) {
		t.Errorf("Decode(Encode(n)) = %v, want %v", back, n)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []string{
		`[1, 2]`,
		`{"op": "seq"}`,
		`["seq", {"a": 1}]`,
		`[""]`,
	}
	for _, c := range cases {
		_, err := Decode([]byte(c))
		if err == nil {
			t.Errorf("Decode(%s) succeeded, want error", c)
			continue
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("Decode(%s) error %v is not a DecodeError", c, err)
		}
	}
}

func TestFromValueNumbers(t *testing.T) {
	n, err := FromValue([]any{"+", 1, int64(2), float32(0.5)})
	if err != nil {
		t.Fatalf("FromValue: %v", err)
	}
	if n.Op() != "+" || n.NumArgs() != 3 {
		t.Fatalf("unexpected node %v", n)
	}
	if n.Arg(2).Number() != 0.5 {
		t.Errorf("arg2 = %v, want 0.5", n.Arg(2).Number())
	}
}

func TestOpcodes(t *testing.T) {
	n := Seq(Let("x", Call("+", Num(1), Num(2))), Call("say", Var("x")))
	got := Opcodes(n)
	want := []string{"seq", "let", "+", "say", "var"}
	if len(got) != len(want) {
		t.Fatalf("Opcodes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Opcodes[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsBuiltin(t *testing.T) {
	for _, op := range []string{"seq", "let", "var", "if"} {
		if !IsBuiltin(op) {
			t.Errorf("%q should be built in", op)
		}
	}
	if IsBuiltin("say") {
		t.Error("say should not be built in")
	}
}
