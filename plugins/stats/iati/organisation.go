package iati

import (
	"statsrunner/internal/record"
	"statsrunner/pkg/contract"
)

// OrganisationFileStats 组织文件的文件级统计。
type OrganisationFileStats struct {
	contract.FileContext
}

func (s OrganisationFileStats) Stats() []contract.Stat {
	c := commonFile{s.FileContext}
	return []contract.Stat{
		{Name: "organisation_files", Fn: func() (any, error) { return 1, nil }},
		{Name: "organisations", Fn: c.countChildren(record.TagOrganisation)},
		{Name: "versions", Fn: c.versions},
		{Name: "file_size", Fn: c.fileSize},
		{Name: "namespaced_elements", Fn: c.namespacedElements, StrictOnly: true},
	}
}

// OrganisationStats 单个组织记录的元素级统计。
type OrganisationStats struct {
	contract.ElementContext
}

func (s OrganisationStats) Stats() []contract.Stat {
	return []contract.Stat{
		{Name: "organisations", Fn: func() (any, error) { return 1, nil }},
		{Name: "elements", Fn: func() (any, error) { return elementTags(s.Element), nil }},
		{Name: "total_budgets", Fn: func() (any, error) {
			return sumValues(s.Element, "total-budget/value", s.Element.SelectAttrValue("default-currency", ""))
		}},
	}
}
