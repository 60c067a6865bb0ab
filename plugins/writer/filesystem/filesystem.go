// Package filesystem 将工件写入输出根目录：loop/<folder>/<file> 记录与聚合 JSON。
package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"statsrunner/pkg/contract"
)

const defaultBufSize = 64 * 1024

// Options 写入选项；零值即默认。
type Options struct {
	// OutputDir 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic 缺省为 true：同目录临时文件写完再替换目标。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat 为 true 时只保留文件名；不同发布者的同名文件会互相覆盖。
	Flat     *bool       `json:"flat,omitempty"`
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	BufSize  int         `json:"buf_size,omitempty"`
}

// FS 是 contract.Writer 的文件系统实现，无内部可变状态，可被多个 worker 并发使用。
type FS struct {
	root    string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

var (
	_ contract.Writer         = (*FS)(nil)
	_ contract.ArtifactLookup = (*FS)(nil)
)

// New 创建 Writer。OutputDir 为空返回 os.ErrInvalid。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	w := &FS{
		root:    opts.OutputDir,
		atomic:  opts.Atomic == nil || *opts.Atomic,
		flat:    opts.Flat != nil && *opts.Flat,
		permF:   orMode(opts.PermFile, 0o644),
		permD:   orMode(opts.PermDir, 0o755),
		bufSize: opts.BufSize,
	}
	if w.bufSize <= 0 {
		w.bufSize = defaultBufSize
	}
	return w, nil
}

func orMode(m, def os.FileMode) os.FileMode {
	if m == 0 {
		return def
	}
	return m
}

// Write 把 r 的全部字节写到 id 对应的路径。取消或读错误时目标保持原状（原子模式）。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	s, err := w.open(dest)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(s.f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return s.abort(err)
	}
	if err := bw.Flush(); err != nil {
		return s.abort(err)
	}
	if err := ctx.Err(); err != nil {
		return s.abort(err)
	}
	return s.commit()
}

// Exists 报告 id 映射后的目标文件是否存在；映射规则与 Write 相同。
func (w *FS) Exists(ctx context.Context, id contract.ArtifactID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(dest)
	return err == nil, nil
}

// sink: 一次写入的目标文件及其提交方式。
type sink struct {
	f    *os.File
	tmp  string // 原子模式下的临时文件；空为直写
	dest string
}

func (w *FS) open(dest string) (*sink, error) {
	if !w.atomic {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
		if err != nil {
			return nil, err
		}
		return &sink{f: f, dest: dest}, nil
	}
	f, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(f.Name(), w.permF)
	return &sink{f: f, tmp: f.Name(), dest: dest}, nil
}

func (s *sink) abort(err error) error {
	_ = s.f.Close()
	if s.tmp != "" {
		_ = os.Remove(s.tmp)
	}
	return err
}

func (s *sink) commit() error {
	if s.tmp == "" {
		return s.f.Close()
	}
	if err := s.f.Sync(); err != nil {
		return s.abort(err)
	}
	if err := s.f.Close(); err != nil {
		_ = os.Remove(s.tmp)
		return err
	}
	if err := osReplace(s.tmp, s.dest); err != nil {
		_ = os.Remove(s.tmp)
		return err
	}
	// 最佳努力：持久化目录项
	_ = syncDir(filepath.Dir(s.dest))
	return nil
}

// mapPath 把工件 ID 映射到 root 下；绝对路径、卷名与父级逃逸返回 ErrPathInvalid。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if w.flat {
		rel = filepath.Base(rel)
	}
	switch {
	case rel == "." || rel == ".." || rel == string(filepath.Separator):
		return "", contract.ErrPathInvalid
	case filepath.IsAbs(rel) || filepath.VolumeName(rel) != "":
		return "", contract.ErrPathInvalid
	case strings.HasPrefix(rel, ".."+string(filepath.Separator)):
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// readerWithCtx: 每次 Read 前检查取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
