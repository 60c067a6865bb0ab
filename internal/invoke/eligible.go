package invoke

import (
	"strings"

	"statsrunner/pkg/contract"
)

// Default: 排除 "_" 前缀的内部辅助项；StrictOnly 项仅在 strict 模式下参与。
func Default(set contract.StatSet, st contract.Stat) bool {
	if strings.HasPrefix(st.Name, "_") {
		return false
	}
	if st.StrictOnly {
		s, ok := set.(contract.Strictness)
		return ok && s.IsStrict()
	}
	return true
}

// All: 不做过滤。
func All(contract.StatSet, contract.Stat) bool { return true }
