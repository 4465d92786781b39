package workflow

import (
	"fmt"
	"strings"
)

// CompareOp 比较运算符（对外导出）
type CompareOp string

const (
	OpEqual          CompareOp = "eq"
	OpNotEqual       CompareOp = "ne"
	OpGreater        CompareOp = "gt"
	OpGreaterOrEqual CompareOp = "gte"
	OpLess           CompareOp = "lt"
	OpLessOrEqual    CompareOp = "lte"
	OpContains       CompareOp = "contains"
	OpExists         CompareOp = "exists"
)

// Comparison 单个比较条件（对外导出）
// Field支持点号路径（如 trigger.department）从上下文中取值
type Comparison struct {
	Field string    `json:"field"`
	Op    CompareOp `json:"op"`
	Value any       `json:"value,omitempty"`
}

// Expression 布尔表达式（对外导出）
// All中的条件全部满足、且Any中的条件至少满足一个（为空的组视为满足）。
// 求值是运行上下文的纯函数：相同上下文永远得到相同结果
type Expression struct {
	All []Comparison `json:"all,omitempty"`
	Any []Comparison `json:"any,omitempty"`
}

// Evaluate 对上下文求值
func (e *Expression) Evaluate(ctx map[string]any) bool {
	if e == nil {
		return true
	}
	for _, c := range e.All {
		if !c.Evaluate(ctx) {
			return false
		}
	}
	if len(e.Any) > 0 {
		matched := false
		for _, c := range e.Any {
			if c.Evaluate(ctx) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Evaluate 对上下文求值单个比较条件
func (c Comparison) Evaluate(ctx map[string]any) bool {
	actual, found := LookupField(ctx, c.Field)

	if c.Op == OpExists {
		return found
	}
	if !found {
		return false
	}

	switch c.Op {
	case OpEqual:
		return compareEqual(actual, c.Value)
	case OpNotEqual:
		return !compareEqual(actual, c.Value)
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
		af, aok := toFloat(actual)
		bf, bok := toFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Op {
		case OpGreater:
			return af > bf
		case OpGreaterOrEqual:
			return af >= bf
		case OpLess:
			return af < bf
		default:
			return af <= bf
		}
	case OpContains:
		return strings.Contains(toString(actual), toString(c.Value))
	default:
		return false
	}
}

// LookupField 按点号路径从上下文中取值（对外导出）
// 例如 "trigger.department" 会依次下钻嵌套的map
func LookupField(ctx map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current any = ctx
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// compareEqual 相等比较
// 数值统一转换为float64比较（JSON反序列化后整数也是float64），其余按字符串比较
func compareEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toString(a) == toString(b)
}

// toFloat 尝试转换为float64
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// toString 转换为字符串表示
func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
