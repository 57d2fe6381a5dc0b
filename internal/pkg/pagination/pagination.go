package pagination

import (
	"math"
	"strconv"
	"strings"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MinPageSize     = 1
	MaxPageSize     = 75

	// MaxPage 是页码上限，保证 Skip 在任何驱动的 OFFSET 范围内都不会溢出。
	MaxPage = math.MaxInt32
)

// Params 是经过归一化的分页参数。
type Params struct {
	Page     int
	PageSize int
}

// Page 是分页列表的统一响应结构。
type Page[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
}

// Parse 从原始查询字符串解析分页参数。
//
// page 缺失、非法或 <=0 时取 1；pageSize 缺失或非法时取 10，
// 然后被钳制到 [1, 75]。从不返回错误。
func Parse(rawPage, rawPageSize string) Params {
	return Params{
		Page:     ParsePage(rawPage),
		PageSize: ClampPageSize(parseInt(rawPageSize, DefaultPageSize)),
	}
}

// ParsePage 解析页码，非法值回落到 1，过大的值钳制到 MaxPage。
func ParsePage(raw string) int {
	return clampPage(parseInt(raw, DefaultPage))
}

func clampPage(page int) int {
	if page < 1 {
		return DefaultPage
	}
	if page > MaxPage {
		return MaxPage
	}
	return page
}

// ClampPageSize 把每页数量钳制到 [MinPageSize, MaxPageSize]。
func ClampPageSize(size int) int {
	if size < MinPageSize {
		return MinPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

// Skip 返回需要跳过的记录数。
//
// 直接构造的 Params 也会先钳制页码与每页数量，结果不会溢出为负数。
func (p Params) Skip() int {
	return (clampPage(p.Page) - 1) * ClampPageSize(p.PageSize)
}

// Limit 返回单页的最大记录数。
func (p Params) Limit() int {
	return p.PageSize
}

// TotalPages 计算总页数，空集合也至少返回 1。
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if pages < 1 {
		return 1
	}
	return pages
}

// NewPage 组装分页响应。items 为 nil 时输出空数组。
func NewPage[T any](items []T, total int64, p Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		TotalCount: total,
		TotalPages: TotalPages(total, p.PageSize),
		Page:       p.Page,
		PageSize:   p.PageSize,
	}
}

func parseInt(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
