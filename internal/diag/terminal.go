package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 每个文件一行。
// - 并发安全（多个 worker 同时回调）；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	concurrency int
	module      string
	filesDone   int
	filesFailed int
	// 跳过与哨兵标记（toolarge/emptyfile/invalidxml/nonstandardroots）分开计数
	filesSkipped int
	filesMarked  int
	runStart     time.Time

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录运行上下文（并发、统计模块）。
func (t *Terminal) RunStart(concurrency int, module string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.module = module
	t.filesDone, t.filesFailed, t.filesSkipped, t.filesMarked = 0, 0, 0, 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 并发=%d | stats=%s", concurrency, safe(module)))
}

// FileDone: 单个文件完成。outcome 为 ok/skipped/标记名/failed。
func (t *Terminal) FileDone(fileID, outcome string, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.filesDone++
	switch outcome {
	case "ok":
	case "failed":
		t.filesFailed++
	case "skipped":
		t.filesSkipped++
	default:
		t.filesMarked++
	}
	if !t.isTTY {
		t.println(fmt.Sprintf("[file] %s | %s | %s", shortenBase(fileID, 48), outcome, formatDur(dur)))
		return
	}
	// 节流：100ms
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[run] 文件 %d | 失败 %d | 并发 %d | 用时 %s",
		t.filesDone, t.filesFailed, t.concurrency, formatSince(t.runStart)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	line := fmt.Sprintf("[%s] 全部完成 | 文件 %d | 失败 %d", tag, t.filesDone, t.filesFailed)
	if t.filesSkipped > 0 {
		line += fmt.Sprintf(" | 跳过 %d", t.filesSkipped)
	}
	if t.filesMarked > 0 {
		line += fmt.Sprintf(" | 标记 %d", t.filesMarked)
	}
	t.println(line + " | 总用时 " + formatDur(dur))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		s = "\r" + s + strings.Repeat(" ", max(0, t.lastLen-visLen(s)))
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 清尾：若新行比旧短，填充空格覆盖
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 保留最后两级路径并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	s = filepath.ToSlash(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if parts := strings.Split(s, "/"); len(parts) > 2 {
		s = strings.Join(parts[len(parts)-2:], "/")
	}
	if visLen(s) <= max {
		return s
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	rs := []rune(s)
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
