// Package numeric 统一统计结果中的数值：无损十进制求和与 JSON 数字编码。
package numeric

import (
	"encoding/json"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToDecimal 将统计结果中可能出现的数值类型转为 decimal；非数值与 NaN/±Inf 返回 false。
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Decimal{}, false
		}
		return *n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromUint64(uint64(n)), true
	case uint64:
		return decimal.NewFromUint64(n), true
	case float32:
		if !finite(float64(n)) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat32(n), true
	case float64:
		if !finite(n) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(string(n))
		return d, err == nil
	case *big.Int:
		if n == nil {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromBigInt(n, 0), true
	case *big.Rat:
		if n == nil {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromBigRat(n, 32), true
	}
	return decimal.Decimal{}, false
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Finite 报告 v（含嵌套 map/slice）中是否不存在 NaN 或 ±Inf；这类值既不能求和也不能编码为 JSON。
func Finite(v any) bool {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case nil, string, bool, int, int64, decimal.Decimal, json.Number:
		return true
	}
	if m, ok := asMap(v); ok {
		for _, e := range m {
			if !Finite(e) {
				return false
			}
		}
		return true
	}
	if _, raw := v.([]byte); !raw && isSlice(v) {
		for _, e := range asSlice(v) {
			if !Finite(e) {
				return false
			}
		}
	}
	return true
}

// JSON 递归地将十进制与大数替换为 json.Number，保证编码为数字字面量且不丢精度。
// 其余标量原样返回；map/slice 复制后返回，不修改入参。
func JSON(v any) any {
	switch n := v.(type) {
	case decimal.Decimal:
		return json.Number(n.String())
	case *decimal.Decimal:
		if n == nil {
			return nil
		}
		return json.Number(n.String())
	case *big.Int:
		if n == nil {
			return nil
		}
		return json.Number(n.String())
	case *big.Rat:
		if n == nil {
			return nil
		}
		if n.IsInt() {
			return json.Number(n.Num().String())
		}
		return json.Number(decimal.NewFromBigRat(n, 32).String())
	}
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[k] = JSON(e)
		}
		return out
	}
	if _, raw := v.([]byte); !raw && isSlice(v) {
		s := asSlice(v)
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = JSON(e)
		}
		return out
	}
	return v
}
