// Package jsonfile 将单文件统计累加后按统计名写出 <dest>/<stat>.json。
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sort"

	"statsrunner/internal/numeric"
	"statsrunner/pkg/contract"
	wfs "statsrunner/plugins/writer/filesystem"
)

// Options: jsonfile 聚合器选项。
type Options struct {
	// Atomic: 透传给文件系统 Writer；默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Indent: 缩进空格数；<=0 使用 2。
	Indent int `json:"indent,omitempty"`
}

type JSONFile struct {
	atomic *bool
	indent string
}

// New 创建 jsonfile 聚合器。
func New(opts *Options) *JSONFile {
	a := &JSONFile{indent: "  "}
	if opts != nil {
		a.atomic = opts.Atomic
		if opts.Indent > 0 {
			a.indent = string(bytes.Repeat([]byte(" "), opts.Indent))
		}
	}
	return a
}

var (
	_ contract.Aggregator      = (*JSONFile)(nil)
	_ contract.AggregateLookup = (*JSONFile)(nil)
)

// Exists 报告 dest 目录是否已存在（Aggregate 总会创建它）。
func (a *JSONFile) Exists(ctx context.Context, dest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	st, err := os.Stat(dest)
	return err == nil && st.IsDir(), nil
}

// Aggregate 先折叠元素结果再折叠文件结果；每个顶层统计名一个 JSON 文件。
// dest 目录总会被创建，即使没有任何统计项（供 new 模式判断已处理）。
func (a *JSONFile) Aggregate(ctx context.Context, _ *contract.Module, fs contract.FileStats, dest string) error {
	acc, err := numeric.Fold(ctx, fs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	w, err := wfs.New(&wfs.Options{OutputDir: dest, Atomic: a.atomic})
	if err != nil {
		return err
	}
	names := make([]string, 0, len(acc))
	for k := range acc {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := json.MarshalIndent(numeric.JSON(acc[name]), "", a.indent)
		if err != nil {
			return err
		}
		b = append(b, '\n')
		if err := w.Write(ctx, contract.ArtifactID(name+".json"), bytes.NewReader(b)); err != nil {
			return err
		}
	}
	return nil
}
