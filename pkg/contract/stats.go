package contract

import (
	"time"

	"github.com/beevik/etree"
)

// Stat: 一个具名、无参的统计计算。
// 约束：同一 StatSet 内名称唯一；执行顺序不影响结果。
type Stat struct {
	Name string
	Fn   func() (any, error)
	// StrictOnly: 仅在 strict 模式下参与计算。
	StrictOnly bool
}

// StatSet: 显式声明的统计能力集（替代运行期反射发现）。
type StatSet interface {
	Stats() []Stat
}

// Strictness: 可选接口，StatSet 通过嵌入 FileContext/ElementContext 获得。
type Strictness interface {
	IsStrict() bool
}

// Eligibility: 外部可替换的资格判定，每个发现的统计项调用一次。
type Eligibility func(set StatSet, st Stat) bool

// FileContext: 文件级统计的注入上下文。
type FileContext struct {
	Doc       *etree.Document
	Root      *etree.Element
	Strict    bool
	Context   string // "in <path>"
	FileName  string
	InputPath string
}

func (c FileContext) IsStrict() bool { return c.Strict }

// ElementContext: 元素级统计的注入上下文。
type ElementContext struct {
	Element *etree.Element
	Strict  bool
	Context string
	Today   time.Time
	// Version: 根节点声明的 schema 版本（缺省为 1.01）。
	Version string
}

func (c ElementContext) IsStrict() bool { return c.Strict }

// Definitions: 单个文档族的一对统计定义（文件级 + 元素级）。
type Definitions struct {
	File    func(FileContext) StatSet
	Element func(ElementContext) StatSet
}

// Module: 统计定义模块，按配置名在注册表中解析。
type Module struct {
	Name         string
	Activity     Definitions
	Organisation Definitions
}

// For 返回指定文档族的定义；未识别族或定义缺失时 ok=false。
func (m *Module) For(f Family) (Definitions, bool) {
	if m == nil {
		return Definitions{}, false
	}
	var d Definitions
	switch f {
	case FamilyActivity:
		d = m.Activity
	case FamilyOrganisation:
		d = m.Organisation
	default:
		return Definitions{}, false
	}
	if d.File == nil || d.Element == nil {
		return Definitions{}, false
	}
	return d, true
}
