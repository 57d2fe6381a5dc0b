package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Company 表示用户的目标公司。
//
// 所有读写都按 UserID 限定范围；删除公司不会删除关联任务，只会清空任务的 CompanyID。
type Company struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"` // 公司 ID (UUID)
	CreatedAt time.Time `gorm:"index" json:"createdAt"`                // 创建时间（列表按此倒序）
	UpdatedAt time.Time `json:"updatedAt"`                             // 更新时间

	UserID         string  `gorm:"type:varchar(36);index;not null" json:"userId"` // 所属用户 ID
	Name           string  `gorm:"type:varchar(200);not null" json:"name"`        // 公司名称
	Role           string  `gorm:"type:varchar(200);not null" json:"role"`        // 目标岗位
	CTC            *string `gorm:"column:ctc;type:varchar(100)" json:"ctc"`       // 薪资描述
	Location       *string `gorm:"type:varchar(200)" json:"location"`             // 工作地点
	Rounds         *string `gorm:"type:varchar(500)" json:"rounds"`               // 面试轮次说明
	RequiredSkills *string `gorm:"type:varchar(500)" json:"requiredSkills"`       // 技能要求

	Tasks []Task `gorm:"foreignKey:CompanyID" json:"tasks,omitempty"` // 关联的准备任务
}

// BeforeCreate 在插入前生成 UUID 主键。
func (c *Company) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
