package store

import (
	"context"
	"fmt"
	"time"

	"preptracker/internal/model"
	"preptracker/internal/pkg/pagination"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ListCompanies 返回用户的一页公司（按创建时间倒序）以及总数。
//
// 列表与计数并发查询，任一失败则整体失败。
func (s *Store) ListCompanies(ctx context.Context, userID string, p pagination.Params) ([]model.Company, int64, error) {
	var (
		items []model.Company
		total int64
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.db.WithContext(egCtx).
			Scopes(ownedBy(userID)).
			Order("created_at DESC").
			Order("id DESC").
			Offset(p.Skip()).
			Limit(p.Limit()).
			Find(&items).Error
	})
	eg.Go(func() error {
		return s.db.WithContext(egCtx).
			Model(&model.Company{}).
			Scopes(ownedBy(userID)).
			Count(&total).Error
	})
	if err := eg.Wait(); err != nil {
		return nil, 0, fmt.Errorf("list companies: %w", err)
	}
	return items, total, nil
}

// CreateCompany 创建公司。调用方负责设置 UserID。
func (s *Store) CreateCompany(ctx context.Context, company *model.Company) error {
	if err := s.db.WithContext(ctx).Create(company).Error; err != nil {
		return fmt.Errorf("create company: %w", err)
	}
	return nil
}

// GetCompany 返回公司详情以及按截止日期正序排列的任务。
func (s *Store) GetCompany(ctx context.Context, userID, id string) (*model.Company, error) {
	var company model.Company
	err := s.db.WithContext(ctx).
		Scopes(ownedBy(userID)).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Where("user_id = ?", userID).Order("due_date ASC").Order("id ASC")
		}).
		Where("id = ?", id).
		First(&company).Error
	if err != nil {
		return nil, notFound(err)
	}
	if company.Tasks == nil {
		company.Tasks = []model.Task{}
	}
	return &company, nil
}

// UpdateCompany 按 (id, user_id) 部分更新公司，未命中返回 ErrNotFound。
func (s *Store) UpdateCompany(ctx context.Context, userID, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	res := s.db.WithContext(ctx).
		Model(&model.Company{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update company: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCompany 按 (id, user_id) 删除公司，并在同一事务中清空任务对它的引用。
func (s *Store) DeleteCompany(ctx context.Context, userID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Company{})
		if res.Error != nil {
			return fmt.Errorf("delete company: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&model.Task{}).
			Where("company_id = ? AND user_id = ?", id, userID).
			Updates(map[string]interface{}{"company_id": nil, "updated_at": time.Now()}).Error; err != nil {
			return fmt.Errorf("unlink tasks: %w", err)
		}
		return nil
	})
}

// CompanyOwnedBy 判断公司是否存在且属于指定用户。
func (s *Store) CompanyOwnedBy(ctx context.Context, userID, companyID string) (bool, error) {
	return companyOwnedBy(s.db.WithContext(ctx), userID, companyID)
}

func companyOwnedBy(db *gorm.DB, userID, companyID string) (bool, error) {
	var count int64
	if err := db.Model(&model.Company{}).
		Where("id = ? AND user_id = ?", companyID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check company owner: %w", err)
	}
	return count > 0, nil
}
