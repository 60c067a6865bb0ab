package record

import (
	"github.com/beevik/etree"

	"statsrunner/pkg/contract"
)

var (
	humanitarianSectorsDAC5 = map[string]struct{}{
		"72010": {}, "72040": {}, "72050": {}, "73010": {}, "74010": {},
	}
	humanitarianSectorsDAC3 = map[string]struct{}{
		"720": {}, "730": {}, "740": {},
	}
	// humanitarian 属性仅在这些版本中有效
	humanitarianAttrVersions = map[string]struct{}{
		"2.02": {},
	}
)

// Humanitarian 判定活动是否为人道主义活动：
// - 版本允许时，humanitarian 属性为 "1"/"true"；
// - 或 DAC 5 位部门（vocabulary="1" 或缺省）命中；
// - 或 DAC 3 位部门（vocabulary="2"）命中。
// 非 iati-activity 元素一律不纳入。
func Humanitarian(el *etree.Element, _ contract.Family, version string) bool {
	if !Is(el, TagActivity) {
		return false
	}
	return HumanitarianByAttrib(el, version) || HumanitarianBySector(el)
}

// HumanitarianByAttrib: humanitarian 属性仅在允许的版本中计入。
func HumanitarianByAttrib(el *etree.Element, version string) bool {
	if _, ok := humanitarianAttrVersions[version]; !ok || el == nil {
		return false
	}
	switch el.SelectAttrValue("humanitarian", "") {
	case "1", "true":
		return true
	}
	return false
}

// HumanitarianBySector: 任一部门代码命中对应词表的人道主义集合。
func HumanitarianBySector(el *etree.Element) bool {
	if el == nil {
		return false
	}
	for _, sector := range el.SelectElements("sector") {
		code := sector.SelectAttrValue("code", "")
		vocab := sector.SelectAttr("vocabulary")
		switch {
		case vocab == nil || vocab.Value == "1":
			if _, ok := humanitarianSectorsDAC5[code]; ok {
				return true
			}
		case vocab.Value == "2":
			if _, ok := humanitarianSectorsDAC3[code]; ok {
				return true
			}
		}
	}
	return false
}
