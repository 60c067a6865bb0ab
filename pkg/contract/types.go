package contract

import (
	"iter"
	"time"
)

// FileID: 逻辑文档ID（<folder>/<file>，规范化后跨平台一致）。
type FileID string

// Family: 文档族，仅由根节点标签决定。
type Family int

const (
	FamilyUnrecognized Family = iota
	FamilyActivity
	FamilyOrganisation
)

func (f Family) String() string {
	switch f {
	case FamilyActivity:
		return "activity"
	case FamilyOrganisation:
		return "organisation"
	default:
		return "unrecognized"
	}
}

// StatResult: 统计名 → 结果。计算失败的统计项直接缺席，不写 null/0。
type StatResult map[string]any

// FileStats: 单文件的原子输出单元。Elements 为惰性序列，消费时才逐条计算。
type FileStats struct {
	File     StatResult
	Elements iter.Seq[StatResult]
	// Err: 元素序列消费完毕后调用；非 nil 表示序列被中止（如操作员取消），结果不可落盘。
	Err func() error
}

// Aborted 返回元素序列的中止原因；未设置 Err 时恒为 nil。
func (fs FileStats) Aborted() error {
	if fs.Err == nil {
		return nil
	}
	return fs.Err()
}

// Record: FileStats 的物化形态（可直接 JSON 序列化）。
type Record struct {
	Elements []StatResult `json:"elements"`
	File     StatResult   `json:"file"`
}

// Materialize 消费全部元素，返回物化记录。Elements 为 nil 时视为空序列。
func (fs FileStats) Materialize() Record {
	out := Record{File: fs.File, Elements: []StatResult{}}
	if out.File == nil {
		out.File = StatResult{}
	}
	if fs.Elements == nil {
		return out
	}
	for el := range fs.Elements {
		out.Elements = append(out.Elements, el)
	}
	return out
}

// NoElements 空元素序列。
func NoElements(yield func(StatResult) bool) {}

// 哨兵记录：文档无法正常处理时的一等结果，而非异常。

func TooLarge(size int64) FileStats {
	return FileStats{File: StatResult{"toolarge": 1, "file_size": size}, Elements: NoElements}
}

func EmptyFile() FileStats {
	return FileStats{File: StatResult{"emptyfile": 1}, Elements: NoElements}
}

func InvalidXML() FileStats {
	return FileStats{File: StatResult{"invalidxml": 1}, Elements: NoElements}
}

func NonStandardRoots() FileStats {
	return FileStats{File: StatResult{"nonstandardroots": 1}, Elements: NoElements}
}

// RunConfig: 随 WorkItem 传递的只读运行参数（值类型，可跨 worker 边界）。
type RunConfig struct {
	New         bool
	VerboseLoop bool
	Strict      bool
	Debug       bool
	Today       time.Time
	StatsModule string
	Selector    string
	MaxFileSize int64
}

// WorkItem: 自描述的单文件任务，不持有任何父进程共享状态的引用。
type WorkItem struct {
	InputPath  string
	OutputRoot string
	Folder     string
	FileName   string
	Run        RunConfig
}

// ID 返回 <folder>/<file> 形式的逻辑标识。
func (w WorkItem) ID() FileID {
	return NormalizeFileID(w.Folder + "/" + w.FileName)
}
