package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 表示系统用户。
type User struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`      // 用户 ID (UUID)
	Name      string    `gorm:"type:varchar(191);not null" json:"name"`     // 显示名称
	Email     string    `gorm:"type:varchar(191);uniqueIndex" json:"email"` // 邮箱（唯一，大小写敏感）
	Password  string    `gorm:"not null" json:"-"`                          // bcrypt 哈希
	CreatedAt time.Time `json:"createdAt"`                                  // 创建时间

	Companies []Company `gorm:"foreignKey:UserID" json:"-"`
	Tasks     []Task    `gorm:"foreignKey:UserID" json:"-"`
}

// BeforeCreate 在插入前生成 UUID 主键。
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
