// Package record 按根节点对文档分族，并惰性挑选需要元素级统计的子记录。
package record

import (
	"github.com/beevik/etree"

	"statsrunner/pkg/contract"
)

const (
	RootActivities    = "iati-activities"
	RootOrganisations = "iati-organisations"
	TagActivity       = "iati-activity"
	TagOrganisation   = "iati-organisation"

	// DefaultVersion: 根节点缺少 version 属性时采用的 schema 版本。
	DefaultVersion = "1.01"
)

// Classify 仅依据根节点标签判定文档族；带前缀或处于任何命名空间中的根节点不被识别。
func Classify(root *etree.Element) contract.Family {
	switch {
	case Is(root, RootActivities):
		return contract.FamilyActivity
	case Is(root, RootOrganisations):
		return contract.FamilyOrganisation
	default:
		return contract.FamilyUnrecognized
	}
}

// Is 报告 el 是否为无命名空间的 tag 元素。etree 的 Tag 是本地名，需另查前缀与默认命名空间。
func Is(el *etree.Element, tag string) bool {
	return el != nil && el.Tag == tag && el.Space == "" && el.NamespaceURI() == ""
}

// Version 返回根节点声明的 schema 版本。
func Version(root *etree.Element) string {
	if root == nil {
		return DefaultVersion
	}
	return root.SelectAttrValue("version", DefaultVersion)
}

// SubrecordTag 返回文档族的可重复子记录标签。
func SubrecordTag(f contract.Family) string {
	switch f {
	case contract.FamilyActivity:
		return TagActivity
	case contract.FamilyOrganisation:
		return TagOrganisation
	default:
		return ""
	}
}
