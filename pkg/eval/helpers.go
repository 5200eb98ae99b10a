package eval

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/render"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

// Script values are nil, float64, string, bool, []any, map[string]any and
// *Closure.

// Closure is a lambda value together with the frame it was created in.
type Closure struct {
	Params []string
	Body   tree.Node
	env    *frame
}

// Truthy follows the usual scripting rules: null, false, 0, NaN and "" are
// false, everything else is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	}
	return true
}

// ToNumber converts v to a number. ok is false when v has no numeric reading.
func ToNumber(v any) (f float64, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	}
	return math.NaN(), false
}

// Stringify renders v the way string concatenation sees it.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return render.FormatNumber(x)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			if e != nil {
				parts[i] = Stringify(e)
			}
		}
		return strings.Join(parts, ",")
	case map[string]any:
		data, err := json.MarshalNoEscape(x)
		if err != nil {
			return "[object]"
		}
		return string(data)
	case *Closure:
		return "lambda(" + strings.Join(x.Params, ", ") + ")"
	}
	return fmt.Sprint(v)
}

// TypeOf names the script type of v.
func TypeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	case *Closure:
		return "function"
	}
	return fmt.Sprintf("%T", v)
}

// Equal compares script values structurally. Closures compare by identity.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case *Closure:
		y, ok := b.(*Closure)
		return ok && x == y
	}
	return false
}

// Normalize converts a host value (ints, typed slices and maps, decoded
// JSON) into a script value.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, float64, string, bool, *Closure:
		return x, nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case []byte:
		return string(x), nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("eval: no script value for %T", v)
}

// CopyValue deep-copies lists and objects. Closures are shared.
func CopyValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CopyValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = CopyValue(e)
		}
		return out
	}
	return v
}

// IsData reports whether v holds no closures, so it can be stored on an
// entity.
func IsData(v any) bool {
	switch x := v.(type) {
	case nil, float64, string, bool:
		return true
	case []any:
		for _, e := range x {
			if !IsData(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range x {
			if !IsData(e) {
				return false
			}
		}
		return true
	}
	return false
}
