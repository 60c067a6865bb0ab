package iati

import (
	"statsrunner/internal/record"
	"statsrunner/pkg/contract"
)

// ActivityFileStats 活动文件的文件级统计。
type ActivityFileStats struct {
	contract.FileContext
}

func (s ActivityFileStats) Stats() []contract.Stat {
	c := commonFile{s.FileContext}
	return []contract.Stat{
		{Name: "activity_files", Fn: func() (any, error) { return 1, nil }},
		{Name: "activities", Fn: c.countChildren(record.TagActivity)},
		{Name: "versions", Fn: c.versions},
		{Name: "file_size", Fn: c.fileSize},
		{Name: "namespaced_elements", Fn: c.namespacedElements, StrictOnly: true},
		{Name: "_root_tag", Fn: func() (any, error) { return s.Root.Tag, nil }},
	}
}

// ActivityStats 单个活动（子记录）的元素级统计。
type ActivityStats struct {
	contract.ElementContext
}

func (s ActivityStats) Stats() []contract.Stat {
	return []contract.Stat{
		{Name: "activities", Fn: func() (any, error) { return 1, nil }},
		{Name: "elements", Fn: func() (any, error) { return elementTags(s.Element), nil }},
		{Name: "humanitarian", Fn: s.humanitarian},
		{Name: "sectors", Fn: s.sectors},
		{Name: "transaction_values", Fn: s.transactionValues},
		{Name: "current_activities", Fn: s.current},
	}
}

func (s ActivityStats) humanitarian() (any, error) {
	return map[string]int{
		"is_humanitarian":           flag(record.Humanitarian(s.Element, contract.FamilyActivity, s.Version)),
		"is_humanitarian_by_attrib": flag(record.HumanitarianByAttrib(s.Element, s.Version)),
	}, nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s ActivityStats) sectors() (any, error) {
	out := make(map[string]int)
	for _, sec := range s.Element.SelectElements("sector") {
		out[sec.SelectAttrValue("code", "")]++
	}
	return out, nil
}

func (s ActivityStats) transactionValues() (any, error) {
	return sumValues(s.Element, "transaction/value", s.Element.SelectAttrValue("default-currency", ""))
}

// current: 计划结束日期（type=3）不早于 as-of 日期记 1。
func (s ActivityStats) current() (any, error) {
	for _, d := range s.Element.SelectElements("activity-date") {
		if d.SelectAttrValue("type", "") != "3" {
			continue
		}
		end, err := parseISODate(d.SelectAttrValue("iso-date", ""))
		if err != nil {
			return nil, err
		}
		if !end.Before(s.Today) {
			return 1, nil
		}
		return 0, nil
	}
	return 0, nil
}
