package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"statsrunner/pkg/contract"
)

// DefaultExcludeDirNames 版本控制元数据目录，枚举发布者目录时跳过。
var DefaultExcludeDirNames = []string{".git", ".svn", ".hg"}

// Options 为 FileSystem 语料枚举的可选配置。
type Options struct {
	// ExcludeDirNames: 枚举发布者目录时跳过的目录基名（大小写不敏感）。
	// 为空时使用 DefaultExcludeDirNames。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// FileSystem 按 <root>/<folder>/<file> 两级布局枚举语料。
type FileSystem struct {
	// 以小写形式保存，比较时按小写基名匹配。
	excludeDir map[string]struct{}
}

// New 创建 FileSystem 语料枚举器。
func New(opts *Options) *FileSystem {
	names := DefaultExcludeDirNames
	if opts != nil && len(opts.ExcludeDirNames) > 0 {
		names = opts.ExcludeDirNames
	}
	ex := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.Trim(name, `/\ `)
		if name == "" {
			continue
		}
		ex[strings.ToLower(name)] = struct{}{}
	}
	return &FileSystem{excludeDir: ex}
}

var _ contract.Corpus = (*FileSystem)(nil)

// Enumerate 按稳定顺序对每个 (folder, name) 调用 yield。
// folder 非空时仅枚举该目录的直接常规文件，目录不存在或不是目录时不产出任何条目；
// yield 返回错误即中止。
func (r *FileSystem) Enumerate(ctx context.Context, root, folder string, yield func(folder, name string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if folder != "" {
		if st, err := os.Stat(filepath.Join(root, folder)); err != nil || !st.IsDir() {
			return nil
		}
		return r.files(ctx, root, folder, yield)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		// 不跟随目录符号链接，非目录项忽略
		if !e.IsDir() {
			continue
		}
		if err := r.files(ctx, root, e.Name(), yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) files(ctx context.Context, root, folder string, yield func(folder, name string) error) error {
	dir := filepath.Join(root, folder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		// 允许指向常规文件的符号链接；失效链接与设备、管道等跳过
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(filepath.Join(dir, e.Name()))
			if err != nil || !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		if err := yield(folder, e.Name()); err != nil {
			return err
		}
	}
	return nil
}
