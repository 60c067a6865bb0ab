package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

type pair struct{ folder, name string }

func enumerate(t *testing.T, r *FileSystem, root, folder string) []pair {
	t.Helper()
	var got []pair
	err := r.Enumerate(context.Background(), root, folder, func(f, n string) error {
		got = append(got, pair{f, n})
		return nil
	})
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	return got
}

func layout(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range []string{"pubB/z.xml", "pubB/a.xml", "pubA/one.xml", ".git/HEAD", ".svn/x"} {
		fp := filepath.Join(root, p)
		os.MkdirAll(filepath.Dir(fp), 0o755)
		os.WriteFile(fp, []byte("x"), 0o644)
	}
	os.WriteFile(filepath.Join(root, "stray.xml"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(root, "pubB", "nested"), 0o755)
	return root
}

// TestEnumerateAll 跳过版本控制目录与根目录下的文件，按字典序输出
func TestEnumerateAll(t *testing.T) {
	root := layout(t)
	got := enumerate(t, New(nil), root, "")
	want := []pair{{"pubA", "one.xml"}, {"pubB", "a.xml"}, {"pubB", "z.xml"}}
	if len(got) != len(want) {
		t.Fatalf("got %#v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: %#v", i, got)
		}
	}
}

// TestEnumerateFolder 指定 folder 时仅枚举该目录
func TestEnumerateFolder(t *testing.T) {
	root := layout(t)
	got := enumerate(t, New(nil), root, "pubB")
	if len(got) != 2 || got[0].name != "a.xml" || got[1].name != "z.xml" {
		t.Fatalf("folder enumerate: %#v", got)
	}
}

// TestEnumerateFolderMissing folder 不存在或不是目录时为空，不报错
func TestEnumerateFolderMissing(t *testing.T) {
	root := layout(t)
	for _, folder := range []string{"nope", "stray.xml"} {
		if got := enumerate(t, New(nil), root, folder); len(got) != 0 {
			t.Fatalf("folder %q: %#v", folder, got)
		}
	}
}

// TestExcludeDirCustom 自定义排除列表替换默认值
func TestExcludeDirCustom(t *testing.T) {
	root := layout(t)
	got := enumerate(t, New(&Options{ExcludeDirNames: []string{"PUBA/"}}), root, "")
	for _, p := range got {
		if p.folder == "pubA" {
			t.Fatalf("pubA should be skipped: %#v", got)
		}
	}
	var sawGit bool
	for _, p := range got {
		if p.folder == ".git" {
			sawGit = true
		}
	}
	if !sawGit {
		t.Fatalf("custom list replaces defaults, .git expected: %#v", got)
	}
}

// TestEnumerateSymlinks 文件符号链接保留，目录符号链接与失效链接忽略
func TestEnumerateSymlinks(t *testing.T) {
	root := t.TempDir()
	pub := filepath.Join(root, "pub")
	os.Mkdir(pub, 0o755)
	os.WriteFile(filepath.Join(pub, "t.xml"), []byte("x"), 0o644)
	os.Symlink(filepath.Join(pub, "t.xml"), filepath.Join(pub, "l.xml"))
	os.Symlink(filepath.Join(root, "nope"), filepath.Join(pub, "dangling.xml"))
	os.Symlink(pub, filepath.Join(root, "publink"))

	got := enumerate(t, New(nil), root, "")
	if len(got) != 2 || got[0].name != "l.xml" || got[1].name != "t.xml" {
		t.Fatalf("symlink handling: %#v", got)
	}
}

// TestEnumerateNonRegular 管道等非常规文件被忽略
func TestEnumerateNonRegular(t *testing.T) {
	root := t.TempDir()
	pub := filepath.Join(root, "pub")
	os.Mkdir(pub, 0o755)
	if err := syscall.Mkfifo(filepath.Join(pub, "fifo"), 0o644); err != nil {
		t.Skipf("mkfifo: %v", err)
	}
	if got := enumerate(t, New(nil), root, "pub"); len(got) != 0 {
		t.Fatalf("non-regular should skip, got %#v", got)
	}
}

// TestEnumerateYieldError yield 错误中止枚举
func TestEnumerateYieldError(t *testing.T) {
	root := layout(t)
	boom := errors.New("boom")
	n := 0
	err := New(nil).Enumerate(context.Background(), root, "", func(string, string) error {
		n++
		return boom
	})
	if !errors.Is(err, boom) || n != 1 {
		t.Fatalf("expect abort after first yield, n=%d err=%v", n, err)
	}
}

// TestEnumerateCtxCancel 上下文取消
func TestEnumerateCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(nil).Enumerate(ctx, t.TempDir(), "", func(string, string) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expect ctx cancel, got %v", err)
	}
}

// TestEnumerateMissingRoot 数据根不存在返回错误
func TestEnumerateMissingRoot(t *testing.T) {
	err := New(nil).Enumerate(context.Background(), filepath.Join(t.TempDir(), "no"), "", func(string, string) error { return nil })
	if err == nil {
		t.Fatalf("expect error")
	}
}
