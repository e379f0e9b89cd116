package criteria

import (
	"sort"
	"strings"
)

// 过滤键后缀，较长的后缀必须排在其后缀子串之前
var filterSuffixes = []struct {
	suffix string
	build  func(field, value string) *Condition
}{
	{"_not_in", func(f, v string) *Condition { return NotIn(f, splitList(v)...) }},
	{"_in", func(f, v string) *Condition { return In(f, splitList(v)...) }},
	{"_like", func(f, v string) *Condition { return Like(f, "%"+v+"%") }},
	{"_gte", func(f, v string) *Condition { return Gte(f, v) }},
	{"_gt", func(f, v string) *Condition { return Gt(f, v) }},
	{"_lte", func(f, v string) *Condition { return Lte(f, v) }},
	{"_lt", func(f, v string) *Condition { return Lt(f, v) }},
	{"_ne", func(f, v string) *Condition { return Ne(f, v) }},
}

// FromFilters 将查询串风格的过滤映射转换为 AND 条件。
// 支持 _like/_gt/_gte/_lt/_lte/_ne/_in/_not_in 后缀，无后缀为等值；
// allowed 为 nil 时接受所有字段，否则跳过不被允许的字段。
func FromFilters(filters map[string]string, allowed func(field string) bool) *Condition {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]*Condition, 0, len(keys))
	for _, key := range keys {
		value := filters[key]
		cond := parseFilter(key, value, allowed)
		if cond != nil {
			children = append(children, cond)
		}
	}
	return And(children...)
}

func parseFilter(key, value string, allowed func(string) bool) *Condition {
	for _, s := range filterSuffixes {
		if field, ok := strings.CutSuffix(key, s.suffix); ok && field != "" {
			if allowed != nil && !allowed(field) {
				// 后缀可能本身就是字段名的一部分（如 "created_in"），退回整键匹配
				break
			}
			return s.build(field, value)
		}
	}
	if allowed != nil && !allowed(key) {
		return nil
	}
	return Eq(key, value)
}

func splitList(v string) []any {
	parts := strings.Split(v, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
