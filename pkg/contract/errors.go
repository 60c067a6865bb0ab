package contract

import "errors"

// 最小错误分类。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidInput: 输入非法（配置值、参数）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownModule: 注册表中不存在该名称。
	ErrUnknownModule = errors.New("unknown module")
	// ErrStatFailed: 单个统计项计算失败（返回错误或 panic）。
	ErrStatFailed = errors.New("stat failed")
)
