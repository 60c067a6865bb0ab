package contract

import "context"

// Corpus: 语料枚举抽象。
// 约束：
// 1) folder 非空时仅枚举该目录的直接文件；
// 2) 否则枚举 root 下每个子目录（跳过版本控制元数据目录与非目录项）及其文件；
// 3) 稳定顺序；不在内部起并发；不打开文件。
type Corpus interface {
	Enumerate(ctx context.Context, root, folder string, yield func(folder, name string) error) error
}
