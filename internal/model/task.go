package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskStatus 是任务状态枚举。
type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
)

// Valid 判断状态是否属于三种合法取值之一。
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task 表示一个准备任务（刷题、复习、模拟面试等）。
//
// 任务可选地关联一个同一用户名下的公司。
type Task struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"` // 任务 ID (UUID)
	CreatedAt time.Time `json:"createdAt"`                             // 创建时间
	UpdatedAt time.Time `json:"updatedAt"`                             // 更新时间

	UserID      string     `gorm:"type:varchar(36);index;not null" json:"userId"`              // 所属用户 ID
	Title       string     `gorm:"type:varchar(200);not null" json:"title"`                    // 标题
	Type        string     `gorm:"column:task_type;type:varchar(100);not null" json:"type"`    // 类型（自由文本，如 DSA / HR）
	Topic       string     `gorm:"type:varchar(200);not null" json:"topic"`                    // 主题
	Status      TaskStatus `gorm:"type:varchar(16);not null;default:TODO;index" json:"status"` // 状态
	DueDate     time.Time  `gorm:"index;not null" json:"dueDate"`                              // 截止日期（列表按此正序）
	CompanyID   *string    `gorm:"type:varchar(36);index" json:"companyId"`                    // 关联公司 ID（可空）
	Description *string    `gorm:"type:text" json:"description"`                               // 描述
	Notes       *string    `gorm:"type:text" json:"notes"`                                     // 备注

	// 折叠后的副本，过滤与搜索只比较这些列，各数据库的 LOWER() 行为不一致。
	TypeKey        string `gorm:"type:varchar(400);index" json:"-"`
	TitleKey       string `gorm:"type:varchar(800)" json:"-"`
	DescriptionKey string `gorm:"type:text" json:"-"`

	Company *Company `gorm:"foreignKey:CompanyID" json:"-"` // 关联公司（列表时仅加载名称）
}

// FoldText 是过滤与搜索使用的大小写折叠规则，内存过滤和 SQL 过滤都以它为准。
func FoldText(s string) string {
	return strings.ToLower(s)
}

// BeforeSave 同步折叠列。
func (t *Task) BeforeSave(tx *gorm.DB) error {
	t.TypeKey = FoldText(t.Type)
	t.TitleKey = FoldText(t.Title)
	t.DescriptionKey = ""
	if t.Description != nil {
		t.DescriptionKey = FoldText(*t.Description)
	}
	return nil
}

// BeforeCreate 在插入前生成 UUID 主键，并补齐默认状态。
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	return nil
}

// TaskStats 是仪表盘使用的任务统计。
type TaskStats struct {
	TotalCompanies  int64 `json:"totalCompanies"`
	TotalTasks      int64 `json:"totalTasks"`
	TodoTasks       int64 `json:"todoTasks"`
	InProgressTasks int64 `json:"inProgressTasks"`
	DoneTasks       int64 `json:"doneTasks"`
}

// ReminderTarget 是到期提醒所需的任务与收件人信息。
type ReminderTarget struct {
	TaskID      string
	UserID      string
	UserName    string
	Email       string
	Title       string
	Topic       string
	TaskType    string
	Status      TaskStatus
	DueDate     time.Time
	CompanyName string
}
