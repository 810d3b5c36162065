package guard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// Compare applies a field check operator to an actual and an expected value.
// Unknown operators always fail.
//
// Equality is loose but explicit:
//   - nil equals only nil or the empty string
//   - when either side is a bool the other side is coerced to bool
//   - when both sides are numeric (including numeric strings) they are compared as numbers
//   - otherwise the string forms are compared
//
// greater_than and less_than compare numerically when both sides are numeric
// and fall back to lexicographic order of the string forms.
func Compare(actual any, operator string, expected any) bool {
	switch model.NormalizeOperator(operator) {
	case model.OperatorEquals:
		return LooseEqual(actual, expected)
	case model.OperatorNotEquals:
		return !LooseEqual(actual, expected)
	case model.OperatorGreaterThan:
		return order(actual, expected) > 0
	case model.OperatorLessThan:
		return order(actual, expected) < 0
	case model.OperatorContains:
		return strings.Contains(Stringify(actual), Stringify(expected))
	case model.OperatorNotNull:
		return deref(actual) != nil
	case model.OperatorIsNull:
		return deref(actual) == nil
	default:
		return false
	}
}

// LooseEqual implements the equality rule documented on Compare.
func LooseEqual(a, b any) bool {
	a, b = deref(a), deref(b)

	if a == nil || b == nil {
		return isBlank(a) && isBlank(b)
	}

	if ab, ok := a.(bool); ok {
		bb, err := cast.ToBoolE(b)
		return err == nil && ab == bb
	}
	if bb, ok := b.(bool); ok {
		ab, err := cast.ToBoolE(a)
		return err == nil && ab == bb
	}

	if af, ok := toNumber(a); ok {
		if bf, ok := toNumber(b); ok {
			return af == bf
		}
	}

	return Stringify(a) == Stringify(b)
}

func order(a, b any) int {
	a, b = deref(a), deref(b)
	if af, ok := toNumber(a); ok {
		if bf, ok := toNumber(b); ok {
			switch {
			case af > bf:
				return 1
			case af < bf:
				return -1
			}
			return 0
		}
	}
	return strings.Compare(Stringify(a), Stringify(b))
}

// Stringify renders a value the way it appears in failure messages.
// nil renders as the empty string.
func Stringify(v any) string {
	v = deref(v)
	if v == nil {
		return ""
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, err := cast.ToFloat64E(n)
		return f, err == nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// deref unwraps the common pointer field types used by entity models.
func deref(v any) any {
	switch p := v.(type) {
	case *string:
		if p == nil {
			return nil
		}
		return *p
	case *int:
		if p == nil {
			return nil
		}
		return *p
	case *int64:
		if p == nil {
			return nil
		}
		return *p
	case *uint64:
		if p == nil {
			return nil
		}
		return *p
	case *float64:
		if p == nil {
			return nil
		}
		return *p
	case *bool:
		if p == nil {
			return nil
		}
		return *p
	}
	return v
}
