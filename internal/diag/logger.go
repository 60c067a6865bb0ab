package diag

import (
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 为结构化日志器：zap JSON 编码，单行事件写入轮转文件（或指定 io.Writer）。
// 方法对 nil 接收者安全，调用方无需判空。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// NewLogger 通过配置的 level 初始化，并将日志写入默认路径 logs/，10m 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile("logs", 10*1024*1024)
	l := newLogger(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写入 w（测试或 stderr 场景）。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	return newLogger(zapcore.AddSync(w), corrID, level)
}

// Nop 返回丢弃全部事件的 Logger。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func newLogger(ws zapcore.WriteSyncer, corrID, level string) *Logger {
	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcRFC3339,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, zap.NewAtomicLevelAt(parseLevel(level)))
	z := zap.New(core)
	if corrID != "" {
		z = z.With(zap.String("corr_id", corrID))
	}
	return &Logger{z: z}
}

func utcRFC3339(t time.Time, e zapcore.PrimitiveArrayEncoder) {
	e.AppendString(t.UTC().Format(time.RFC3339))
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWith(comp, msg, "")
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string, fields ...zap.Field) *Timer {
	if l == nil {
		return nil
	}
	l.z.Info(msg, event(comp, "start", fileID, fields)...)
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// Debug 输出调试事件（仅在 level=debug 时生效）。
func (l *Logger) Debug(comp, msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Debug(msg, event(comp, "debug", "", fields)...)
}

// Info 输出普通事件。
func (l *Logger) Info(comp, msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Info(msg, event(comp, "info", "", fields)...)
}

// Warn 记录可恢复的异常（例如无法解码的文件名）。
func (l *Logger) Warn(comp, msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Warn(msg, event(comp, "warn", "", fields)...)
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, err error) {
	l.ErrorWith(comp, code, msg, err, "")
}

// ErrorWith 支持 file_id 与附加字段（例如 stat 名称、堆栈）。
func (l *Logger) ErrorWith(comp, code, msg string, err error, fileID string, fields ...zap.Field) {
	if l == nil {
		return
	}
	fs := event(comp, "error", fileID, fields)
	if code != "" {
		fs = append(fs, zap.String("code", code))
	}
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	l.z.Error(msg, fs...)
}

// Sync 刷新缓冲并关闭文件句柄（若有）。
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	err := l.z.Sync()
	if l.sink != nil {
		if cerr := l.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func event(comp, stage, fileID string, extra []zap.Field) []zap.Field {
	fs := make([]zap.Field, 0, len(extra)+3)
	fs = append(fs, zap.String("comp", comp), zap.String("stage", stage))
	if fileID != "" {
		fs = append(fs, zap.String("file_id", fileID))
	}
	return append(fs, extra...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Finish 记录 finish；可选 count。同时写入阶段耗时指标。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	fs := event(t.comp, "finish", t.fileID, []zap.Field{zap.Int64("dur_ms", dur)})
	if count != 0 {
		fs = append(fs, zap.Int64("count", count))
	}
	t.l.z.Info(msg, fs...)
	ObserveDuration(t.comp, msg, dur)
}
