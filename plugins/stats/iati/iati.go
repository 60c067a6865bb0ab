// Package iati 提供内置统计定义模块 "iati"：活动/组织文件的文件级与元素级统计。
package iati

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"statsrunner/pkg/contract"
)

// Name 注册表中的模块名。
const Name = "iati"

// New 返回统计定义模块。
func New() *contract.Module {
	return &contract.Module{
		Name: Name,
		Activity: contract.Definitions{
			File:    func(c contract.FileContext) contract.StatSet { return ActivityFileStats{c} },
			Element: func(c contract.ElementContext) contract.StatSet { return ActivityStats{c} },
		},
		Organisation: contract.Definitions{
			File:    func(c contract.FileContext) contract.StatSet { return OrganisationFileStats{c} },
			Element: func(c contract.ElementContext) contract.StatSet { return OrganisationStats{c} },
		},
	}
}

// commonFile 活动/组织文件共用的文件级统计。
type commonFile struct {
	contract.FileContext
}

func (s commonFile) versions() (any, error) {
	return map[string]int{s.Root.SelectAttrValue("version", "1.01"): 1}, nil
}

func (s commonFile) fileSize() (any, error) {
	st, err := os.Stat(s.InputPath)
	if err != nil {
		return nil, err
	}
	return st.Size(), nil
}

func (s commonFile) countChildren(tag string) func() (any, error) {
	return func() (any, error) {
		return len(s.Root.SelectElements(tag)), nil
	}
}

// namespacedElements 统计带命名空间前缀的元素（仅 strict 模式计算）。
func (s commonFile) namespacedElements() (any, error) {
	n := 0
	var walk func(*etree.Element)
	walk = func(el *etree.Element) {
		if el.Space != "" {
			n++
		}
		for _, c := range el.ChildElements() {
			walk(c)
		}
	}
	walk(s.Root)
	return n, nil
}

// elementTags 统计直接子元素标签出现次数。
func elementTags(el *etree.Element) map[string]int {
	out := make(map[string]int)
	for _, c := range el.ChildElements() {
		out[c.Tag]++
	}
	return out
}

// sumValues 按货币累加 path 命中的 value 元素（缺省货币取 fallback）。
func sumValues(el *etree.Element, path, fallback string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, v := range el.FindElements(path) {
		text := strings.TrimSpace(v.Text())
		if text == "" {
			continue
		}
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", text, err)
		}
		cur := v.SelectAttrValue("currency", fallback)
		if cur == "" {
			cur = "unknown"
		}
		out[cur] = out[cur].Add(d)
	}
	return out, nil
}

// parseISODate 解析 iso-date 属性（允许带时间部分）。
func parseISODate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}
