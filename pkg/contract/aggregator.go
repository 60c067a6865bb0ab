package contract

import "context"

// Aggregator: 聚合模式下的外部协作者，拥有全部合并语义。
// 每个处理完成的文件调用一次；dest 为该文件的聚合目标路径。
type Aggregator interface {
	Aggregate(ctx context.Context, m *Module, fs FileStats, dest string) error
}

// AggregateLookup: Aggregator 的可选能力，报告 dest 是否已聚合过（new 模式跳过判断）。
// 未实现时按文件系统路径 dest 判断。
type AggregateLookup interface {
	Exists(ctx context.Context, dest string) (bool, error)
}
