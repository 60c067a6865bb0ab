package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path"
	"path/filepath"

	"statsrunner/internal/numeric"
	"statsrunner/pkg/contract"
)

const (
	// LoopDir 逐文件详细输出的子目录。
	LoopDir = "loop"
	// AggregatedDir 聚合模式下每个文件的聚合目标子目录。
	AggregatedDir = "aggregated-file"
)

// Router 在 verbose 模式下写出完整记录，否则交给聚合器。
type Router struct {
	Writer     contract.Writer
	Aggregator contract.Aggregator
}

// Artifact 返回 verbose 模式工件 ID：loop/<folder>/<file>。
func Artifact(it contract.WorkItem) contract.ArtifactID {
	return contract.ArtifactID(path.Join(LoopDir, it.Folder, it.FileName))
}

// Destination 返回该文件的输出位置（verbose 为工件文件，否则为聚合目标）。
func Destination(it contract.WorkItem) string {
	if it.Run.VerboseLoop {
		return filepath.Join(it.OutputRoot, LoopDir, it.Folder, it.FileName)
	}
	return filepath.Join(it.OutputRoot, AggregatedDir, it.Folder, it.FileName)
}

// Exists 报告该文件的输出是否已存在：优先询问 Writer/Aggregator 的查询能力，
// 未实现时按 Destination 路径判断。
func (r *Router) Exists(ctx context.Context, it contract.WorkItem) (bool, error) {
	if it.Run.VerboseLoop {
		if l, ok := r.Writer.(contract.ArtifactLookup); ok {
			return l.Exists(ctx, Artifact(it))
		}
	} else if l, ok := r.Aggregator.(contract.AggregateLookup); ok {
		return l.Exists(ctx, Destination(it))
	}
	// 任何 Stat 错误都视为不存在
	_, err := os.Stat(Destination(it))
	return err == nil, nil
}

// Route 消费 FileStats 并按模式输出。元素序列被中止时不产生任何输出。
func (r *Router) Route(ctx context.Context, m *contract.Module, it contract.WorkItem, fs contract.FileStats) error {
	if !it.Run.VerboseLoop {
		if r.Aggregator == nil {
			return errors.New("aggregator not configured")
		}
		return r.Aggregator.Aggregate(ctx, m, fs, Destination(it))
	}
	if r.Writer == nil {
		return errors.New("writer not configured")
	}
	rec := fs.Materialize()
	if err := fs.Aborted(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	return r.Writer.Write(ctx, Artifact(it), bytes.NewReader(b))
}

// EncodeRecord: 键排序、2 空格缩进、结尾换行；十进制值为无损数字字面量。
func EncodeRecord(rec contract.Record) ([]byte, error) {
	v := map[string]any{
		"elements": numeric.JSON(rec.Elements),
		"file":     numeric.JSON(rec.File),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
