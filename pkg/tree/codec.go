package tree

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
)

// DecodeError reports a value that is not a well-formed Script Tree.
type DecodeError struct {
	Path string // position of the offending value, e.g. "$[2][1]"
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tree: %s: %s", e.Path, e.Msg)
}

// ToValue converts n to its generic wire value: nil, float64, string, bool,
// or []any whose first element is the opcode.
func ToValue(n Node) any {
	switch n.kind {
	case KindNumber:
		return n.num
	case KindText:
		return n.text
	case KindBool:
		return n.b
	case KindEmpty:
		return []any{}
	case KindCall:
		out := make([]any, 0, len(n.args)+1)
		out = append(out, n.text)
		for _, a := range n.args {
			out = append(out, ToValue(a))
		}
		return out
	}
	return nil
}

// FromValue converts a generic decoded value into a Node.
func FromValue(v any) (Node, error) {
	return fromValue(v, "$")
}

func fromValue(v any, path string) (Node, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Node:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return Text(x), nil
	case float64:
		return numNode(x, path)
	case float32:
		return numNode(float64(x), path)
	case int:
		return Num(float64(x)), nil
	case int32:
		return Num(float64(x)), nil
	case int64:
		return Num(float64(x)), nil
	case uint32:
		return Num(float64(x)), nil
	case uint64:
		return Num(float64(x)), nil
	case interface{ Float64() (float64, error) }:
		f, err := x.Float64()
		if err != nil {
			return Node{}, &DecodeError{Path: path, Msg: err.Error()}
		}
		return numNode(f, path)
	case []any:
		if len(x) == 0 {
			return EmptyList(), nil
		}
		op, ok := x[0].(string)
		if !ok {
			return Node{}, &DecodeError{Path: path + "[0]", Msg: fmt.Sprintf("opcode must be text, got %T", x[0])}
		}
		if op == "" {
			return Node{}, &DecodeError{Path: path + "[0]", Msg: "empty opcode"}
		}
		args := make([]Node, 0, len(x)-1)
		for i, a := range x[1:] {
			an, err := fromValue(a, fmt.Sprintf("%s[%d]", path, i+1))
			if err != nil {
				return Node{}, err
			}
			args = append(args, an)
		}
		return Node{kind: KindCall, text: op, args: args}, nil
	}
	return Node{}, &DecodeError{Path: path, Msg: fmt.Sprintf("unsupported value of type %T", v)}
}

func numNode(f float64, path string) (Node, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Node{}, &DecodeError{Path: path, Msg: "number is not finite"}
	}
	return Num(f), nil
}

// Encode returns the JSON wire encoding of n. Operator opcodes such as "<"
// are written unescaped.
func Encode(n Node) ([]byte, error) {
	return json.MarshalNoEscape(ToValue(n))
}

// Decode parses the JSON wire encoding of a Script Tree.
func Decode(data []byte) (Node, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Node{}, fmt.Errorf("tree: decode: %w", err)
	}
	return FromValue(v)
}

// MarshalJSON implements json.Marshaler.
func (n Node) MarshalJSON() ([]byte, error) {
	return Encode(n)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec, err := Decode(data)
	if err != nil {
		return err
	}
	*n = dec
	return nil
}
