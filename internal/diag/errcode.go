package diag

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"os"

	"statsrunner/pkg/contract"
)

// Code 错误分类，仅用于日志与指标标签，与退出码无关。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeCancel    Code = "cancel"
	CodeInvariant Code = "invariant"
	CodeStat      Code = "stat"
	// CodeEncode 统计值无法编码为 JSON（NaN、函数值等）。
	CodeEncode Code = "encode"
	CodeIO     Code = "io"
	// CodeNetwork 外部聚合端（redis）连接类错误。
	CodeNetwork Code = "network"
)

// Classify 按哨兵与错误类型归类，不做字符串匹配。取消优先。
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	case errors.Is(err, contract.ErrStatFailed):
		return CodeStat
	case errors.Is(err, contract.ErrInvariantViolation),
		errors.Is(err, contract.ErrInvalidInput),
		errors.Is(err, contract.ErrUnknownModule),
		errors.Is(err, contract.ErrPathInvalid):
		return CodeInvariant
	}
	var (
		unsupType  *json.UnsupportedTypeError
		unsupValue *json.UnsupportedValueError
		marshal    *json.MarshalerError
	)
	if errors.As(err, &unsupType) || errors.As(err, &unsupValue) || errors.As(err, &marshal) {
		return CodeEncode
	}
	var (
		perr *fs.PathError
		lerr *os.LinkError
		serr *os.SyscallError
	)
	if errors.As(err, &perr) || errors.As(err, &lerr) || errors.As(err, &serr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}
