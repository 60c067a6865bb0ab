package numeric

import (
	"context"
	"reflect"

	"github.com/shopspring/decimal"

	"statsrunner/pkg/contract"
)

// Merge 将 src 累加进 dst 并返回结果：
// 数值按十进制求和；映射逐键递归；切片拼接；其余标量后者覆盖；nil 忽略。
func Merge(dst, src any) any {
	if src == nil {
		return dst
	}
	if dst == nil {
		e := emptyLike(src)
		if e == nil {
			return src
		}
		return Merge(e, src)
	}
	if a, ok := ToDecimal(dst); ok {
		if b, ok := ToDecimal(src); ok {
			return a.Add(b)
		}
		return src
	}
	if dm, ok := asMap(dst); ok {
		sm, ok := asMap(src)
		if !ok {
			return src
		}
		for k, v := range sm {
			dm[k] = Merge(dm[k], v)
		}
		return dm
	}
	if ds, ok := dst.([]any); ok {
		return append(ds, asSlice(src)...)
	}
	return src
}

// emptyLike 为首次出现的值准备可累加的容器。
func emptyLike(v any) any {
	if _, ok := ToDecimal(v); ok {
		return decimal.Zero
	}
	if _, ok := asMap(v); ok {
		return map[string]any{}
	}
	if isSlice(v) {
		return []any{}
	}
	return nil
}

// asMap 统一各种 string 键映射（统计项常返回 map[string]int 等具体类型）。
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case contract.StatResult:
		return map[string]any(m), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	if !isSlice(v) {
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// Fold 先累加全部元素结果，再累加文件级结果，返回 统计名→合并值。
// 元素序列被中止时返回中止原因。
func Fold(ctx context.Context, fs contract.FileStats) (map[string]any, error) {
	acc := make(map[string]any)
	if fs.Elements != nil {
		for el := range fs.Elements {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for k, v := range el {
				acc[k] = Merge(acc[k], v)
			}
		}
	}
	if err := fs.Aborted(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for k, v := range fs.File {
		acc[k] = Merge(acc[k], v)
	}
	return acc, nil
}
