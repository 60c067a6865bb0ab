package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
// 布尔开关使用指针以区分“未设置”与显式 false。
type Config struct {
	// Data: 语料根目录（<data>/<folder>/<file>）。
	Data string `json:"data"`
	// Output: 输出根目录（loop/ 与 aggregated-file/ 位于其下）。
	Output string `json:"output"`
	// Folder: 非空时仅处理该发布者目录。
	Folder string `json:"folder"`

	New         *bool `json:"new,omitempty"`
	VerboseLoop *bool `json:"verbose_loop,omitempty"`
	Strict      *bool `json:"strict,omitempty"`
	Debug       *bool `json:"debug,omitempty"`

	// Multi: worker 数；1 为顺序执行。
	Multi int `json:"multi"`
	// Today: 元素统计使用的 as-of 日期（2006-01-02）；空为运行当天。
	Today string `json:"today"`
	// MaxFileSize: 超过该字节数的文件记 toolarge 而不解析。
	MaxFileSize int64 `json:"max_file_size"`

	StatsModule string `json:"stats_module"`
	Aggregator  string `json:"aggregator"`
	Eligibility string `json:"eligibility"`
	Selector    string `json:"selector"`

	Logging Logging `json:"logging"`
	// MetricsFile: 非空时运行结束后以 Prometheus 文本格式写出指标。
	MetricsFile string `json:"metrics_file"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader string `json:"reader"`
	Writer string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader     json.RawMessage `json:"reader,omitempty"`
	Writer     json.RawMessage `json:"writer,omitempty"`
	Aggregator json.RawMessage `json:"aggregator,omitempty"`
}

// 布尔开关取值（nil 视为 false）。
func flag(b *bool) bool { return b != nil && *b }

// Bool 返回指向 v 的指针，便于构造覆盖层。
func Bool(v bool) *bool { return &v }
