// Package testmod 提供确定性的 "count" 统计模块，用于冒烟运行与端到端测试。
package testmod

import (
	"statsrunner/pkg/contract"
)

// Name 注册表中的模块名。
const Name = "count"

type fileSet struct{ contract.FileContext }

func (s fileSet) Stats() []contract.Stat {
	return []contract.Stat{
		{Name: "files", Fn: func() (any, error) { return 1, nil }},
		{Name: "children", Fn: func() (any, error) { return len(s.Root.ChildElements()), nil }},
	}
}

type elementSet struct{ contract.ElementContext }

func (s elementSet) Stats() []contract.Stat {
	return []contract.Stat{
		{Name: "elements", Fn: func() (any, error) { return 1, nil }},
	}
}

// New 活动与组织两族共用同一组定义。
func New() *contract.Module {
	defs := contract.Definitions{
		File:    func(c contract.FileContext) contract.StatSet { return fileSet{c} },
		Element: func(c contract.ElementContext) contract.StatSet { return elementSet{c} },
	}
	return &contract.Module{Name: Name, Activity: defs, Organisation: defs}
}
