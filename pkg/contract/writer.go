package contract

import (
	"context"
	"io"
)

// ArtifactID: 相对输出根的工件路径（例如 loop/<folder>/<file>）。
type ArtifactID string

// Writer: 将工件以流式方式持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者（工件路径由输入文件唯一决定）；
//  2. 按字节透传，不读取/修改业务内容；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// ArtifactLookup: Writer 的可选能力，报告 id 映射后的工件是否已存在（new 模式跳过判断）。
// 映射规则须与 Write 一致（输出根、扁平化等选项）。
type ArtifactLookup interface {
	Exists(ctx context.Context, id ArtifactID) (bool, error)
}
