package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	currentLogName = "statsrunner-current.txt"
	// DefaultKeepRotated 保留的历史轮转文件数。
	DefaultKeepRotated = 10
)

// RotatingFile 将日志行写入指定目录，并按文件大小轮转；实现 zapcore.WriteSyncer。
// - 当前文件固定名：statsrunner-current.txt
// - 轮转：当 size+len(line) 超过 maxBytes 时，将当前文件重命名为 statsrunner-<ts>.txt，重新创建 current。
// - 保留：仅保留最新 Keep 个轮转文件。
type RotatingFile struct {
	dir      string
	maxBytes int64
	// Keep <=0 表示不清理。
	Keep int

	mu      sync.Mutex
	f       *os.File
	curSize int64
}

func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024 // 10 MiB 默认
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, Keep: DefaultKeepRotated}
}

// Write 写入一条已编码事件（zap 每次 Write 恰为一行，含换行）。
func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	if w.curSize > 0 && w.curSize+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.curSize += int64(n)
	return n, err
}

// WriteLine 追加换行后写入。
func (w *RotatingFile) WriteLine(b []byte) error {
	line := make([]byte, 0, len(b)+1)
	line = append(append(line, b...), '\n')
	_, err := w.Write(line)
	return err
}

// Sync 将当前文件落盘。
func (w *RotatingFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

func (w *RotatingFile) ensureOpen() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(w.dir, currentLogName)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	if st, err := f.Stat(); err == nil {
		w.curSize = st.Size()
	} else {
		w.curSize = 0
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f == nil {
		return w.ensureOpen()
	}
	oldPath := w.f.Name()
	_ = w.f.Close()
	w.f = nil
	// 高精度时间戳，避免同秒冲突覆盖
	ts := time.Now().UTC().Format("20060102-150405.000000000")
	rotated := filepath.Join(filepath.Dir(oldPath), fmt.Sprintf("statsrunner-%s.txt", ts))
	if err := os.Rename(oldPath, rotated); err != nil {
		return fmt.Errorf("rename rotated file: %w", err)
	}
	w.prune()
	return w.ensureOpen()
}

// prune 删除超出 Keep 的最旧轮转文件；时间戳定宽，按名排序即按时间排序。
func (w *RotatingFile) prune() {
	if w.Keep <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(w.dir, "statsrunner-*.txt"))
	if err != nil {
		return
	}
	rotated := matches[:0]
	for _, m := range matches {
		if filepath.Base(m) != currentLogName {
			rotated = append(rotated, m)
		}
	}
	if len(rotated) <= w.Keep {
		return
	}
	sort.Strings(rotated)
	for _, old := range rotated[:len(rotated)-w.Keep] {
		_ = os.Remove(old)
	}
}

// Close 关闭当前打开的文件句柄
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		err := w.f.Close()
		w.f = nil
		return err
	}
	return nil
}
