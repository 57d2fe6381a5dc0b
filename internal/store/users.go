package store

import (
	"context"
	"errors"
	"fmt"

	"preptracker/internal/model"

	"gorm.io/gorm"
)

// CreateUser 创建用户，邮箱重复时返回 ErrEmailTaken。
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindUserByEmail 按邮箱精确查找用户（大小写敏感）。
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	// MySQL 默认排序规则忽略大小写，这里再做一次精确比较。
	if user.Email != email {
		return nil, ErrNotFound
	}
	return &user, nil
}

// FindUserByID 按 ID 查找用户。
func (s *Store) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}
