// Package taskfilter 定义任务列表的过滤规则。
//
// 同一套条件既由 Refine 在内存中执行，也由 store 下推到 SQL，
// 两边对哪些行匹配的判断保持一致。
package taskfilter

import (
	"net/url"
	"strings"

	"preptracker/internal/model"
)

// Criteria 是可选的任务过滤条件，零值字段匹配所有任务。
type Criteria struct {
	Status    model.TaskStatus
	CompanyID string
	Type      string
	Search    string
}

// FromQuery 从查询参数读取 status、companyId、type、search。
func FromQuery(q url.Values) Criteria {
	return Criteria{
		Status:    model.TaskStatus(strings.TrimSpace(q.Get("status"))),
		CompanyID: strings.TrimSpace(q.Get("companyId")),
		Type:      strings.TrimSpace(q.Get("type")),
		Search:    strings.TrimSpace(q.Get("search")),
	}
}

// Encode 把非空条件写入 q。
func (c Criteria) Encode(q url.Values) {
	if c.Status != "" {
		q.Set("status", string(c.Status))
	}
	if c.CompanyID != "" {
		q.Set("companyId", c.CompanyID)
	}
	if c.Type != "" {
		q.Set("type", c.Type)
	}
	if c.Search != "" {
		q.Set("search", c.Search)
	}
}

// IsZero 报告是否未设置任何条件。
func (c Criteria) IsZero() bool {
	return c.Status == "" && c.CompanyID == "" && c.Type == "" && c.Search == ""
}

// Match 判断 t 是否满足所有已设置的条件。
func (c Criteria) Match(t model.Task) bool {
	if c.Status != "" && t.Status != c.Status {
		return false
	}
	if c.CompanyID != "" && (t.CompanyID == nil || *t.CompanyID != c.CompanyID) {
		return false
	}
	if c.Type != "" && model.FoldText(t.Type) != model.FoldText(c.Type) {
		return false
	}
	if c.Search != "" {
		term := model.FoldText(c.Search)
		inTitle := strings.Contains(model.FoldText(t.Title), term)
		inDesc := t.Description != nil && strings.Contains(model.FoldText(*t.Description), term)
		if !inTitle && !inDesc {
			return false
		}
	}
	return true
}

// Refine 保留已取回的一页中满足 c 的任务，顺序不变。
// 结果只会变少，不会超出给定的这一页。
func Refine(tasks []model.Task, c Criteria) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if c.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// LikeEscape 是 LikePattern 使用的转义字符。'!' 在 MySQL、Postgres、SQLite
// 的字符串字面量里都无需引号转义。
const LikeEscape = "!"

// LikePattern 返回折叠后的子串 LIKE 模式，
// 其中的 LIKE 元字符用 LikeEscape 转义。
func LikePattern(search string) string {
	r := strings.NewReplacer(LikeEscape, LikeEscape+LikeEscape, "%", LikeEscape+"%", "_", LikeEscape+"_")
	return "%" + r.Replace(model.FoldText(search)) + "%"
}
