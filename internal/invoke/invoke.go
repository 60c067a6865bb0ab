// Package invoke 发现并执行 StatSet 声明的统计项，按统计项隔离失败。
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"go.uber.org/zap"

	"statsrunner/internal/diag"
	"statsrunner/internal/numeric"
	"statsrunner/pkg/contract"
)

// errNonFinite: 统计值含 NaN/±Inf，无法求和也无法编码。
var errNonFinite = errors.New("non-finite number")

// Outcome: 单个统计项的执行结果（成功值或失败原因）。
type Outcome struct {
	Name  string
	Value any
	Err   error
	// Stack: 仅 panic 时记录。
	Stack []byte
}

// Invoker 无跨调用状态；可被多个 worker 共享。
type Invoker struct {
	Eligible contract.Eligibility
	Logger   *diag.Logger
	// Debug: 返回前将完整结果映射回显到 Echo。
	Debug bool
	Echo  io.Writer
	// FileID 仅用于日志关联。
	FileID string
}

// InvokeAll 执行 set 中全部合格统计项，返回 名称→结果 映射。
// 失败项记录日志后从映射中省略；仅操作员取消（ctx 结束或统计项返回 context.Canceled）向上传播。
func (iv Invoker) InvokeAll(ctx context.Context, set contract.StatSet) (contract.StatResult, error) {
	out := contract.StatResult{}
	if set == nil {
		return out, nil
	}
	seen := make(map[string]struct{})
	for _, st := range set.Stats() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if st.Fn == nil || st.Name == "" {
			continue
		}
		if _, dup := seen[st.Name]; dup {
			iv.Logger.ErrorWith("invoker", string(diag.CodeInvariant), "duplicate stat name", contract.ErrInvariantViolation, iv.FileID, zap.String("stat", st.Name))
			continue
		}
		seen[st.Name] = struct{}{}
		if iv.Eligible != nil && !iv.Eligible(set, st) {
			continue
		}
		oc := call(st)
		if oc.Err != nil {
			if errors.Is(oc.Err, context.Canceled) {
				return nil, oc.Err
			}
			iv.report(oc)
			continue
		}
		out[oc.Name] = oc.Value
	}
	if iv.Debug {
		iv.echo(out)
	}
	return out, nil
}

// call 执行单个统计项；panic 转为失败结果并保留堆栈。
func call(st contract.Stat) (oc Outcome) {
	oc.Name = st.Name
	defer func() {
		if r := recover(); r != nil {
			oc.Value = nil
			oc.Err = fmt.Errorf("%w: %s: panic: %v", contract.ErrStatFailed, st.Name, r)
			oc.Stack = debug.Stack()
		}
	}()
	v, err := st.Fn()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			oc.Err = err
			return oc
		}
		oc.Err = fmt.Errorf("%w: %s: %w", contract.ErrStatFailed, st.Name, err)
		return oc
	}
	if !numeric.Finite(v) {
		oc.Err = fmt.Errorf("%w: %s: %w", contract.ErrStatFailed, st.Name, errNonFinite)
		return oc
	}
	oc.Value = v
	return oc
}

func (iv Invoker) report(oc Outcome) {
	fields := []zap.Field{zap.String("stat", oc.Name)}
	if len(oc.Stack) > 0 {
		fields = append(fields, zap.ByteString("stack", oc.Stack))
	}
	iv.Logger.ErrorWith("invoker", string(diag.CodeStat), "stat failed", oc.Err, iv.FileID, fields...)
	diag.IncStatFailure(oc.Name)
	diag.IncError("invoker", string(diag.CodeStat))
}

// echo 以 JSON 回显（键有序，与 verbose 记录同一编码）；无法编码时退回 %v。
func (iv Invoker) echo(out contract.StatResult) {
	w := iv.Echo
	if w == nil {
		w = os.Stderr
	}
	b, err := json.Marshal(numeric.JSON(map[string]any(out)))
	if err != nil {
		_, _ = fmt.Fprintf(w, "%s %v\n", iv.FileID, out)
		return
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", iv.FileID, b)
}
