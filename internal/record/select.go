package record

import (
	"iter"

	"github.com/beevik/etree"

	"statsrunner/pkg/contract"
)

// Predicate: 子记录纳入判定；version 为根节点声明的 schema 版本。
type Predicate func(el *etree.Element, family contract.Family, version string) bool

// Select 惰性产出 root 下所有满足 pred 的直接子元素。
// 未识别族不产出任何元素。
func Select(root *etree.Element, family contract.Family, pred Predicate) iter.Seq[*etree.Element] {
	return func(yield func(*etree.Element) bool) {
		if root == nil || family == contract.FamilyUnrecognized || pred == nil {
			return
		}
		version := Version(root)
		for _, el := range root.ChildElements() {
			if !pred(el, family, version) {
				continue
			}
			if !yield(el) {
				return
			}
		}
	}
}

// Every: 所有与文档族子记录标签一致的元素。
func Every(el *etree.Element, family contract.Family, _ string) bool {
	return Is(el, SubrecordTag(family))
}
