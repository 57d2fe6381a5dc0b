package store

import (
	"context"
	"fmt"
	"time"

	"preptracker/internal/model"
	"preptracker/internal/pkg/pagination"
	"preptracker/internal/taskfilter"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// applyTaskCriteria 把过滤条件下推到 SQL，语义与 taskfilter.Criteria.Match 一致。
func applyTaskCriteria(c taskfilter.Criteria) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if c.Status != "" {
			db = db.Where("status = ?", c.Status)
		}
		if c.CompanyID != "" {
			db = db.Where("company_id = ?", c.CompanyID)
		}
		if c.Type != "" {
			db = db.Where("type_key = ?", model.FoldText(c.Type))
		}
		if c.Search != "" {
			pattern := taskfilter.LikePattern(c.Search)
			db = db.Where("(title_key LIKE ? ESCAPE '"+taskfilter.LikeEscape+"' OR COALESCE(description_key, '') LIKE ? ESCAPE '"+taskfilter.LikeEscape+"')", pattern, pattern)
		}
		return db
	}
}

func preloadCompanyName(db *gorm.DB) *gorm.DB {
	return db.Select("id", "name")
}

// ListTasks 返回用户的一页任务（按截止日期正序，含公司名称）以及过滤后的总数。
func (s *Store) ListTasks(ctx context.Context, userID string, c taskfilter.Criteria, p pagination.Params) ([]model.Task, int64, error) {
	var (
		items []model.Task
		total int64
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.db.WithContext(egCtx).
			Scopes(ownedBy(userID), applyTaskCriteria(c)).
			Preload("Company", preloadCompanyName).
			Order("due_date ASC").
			Order("created_at ASC").
			Order("id ASC").
			Offset(p.Skip()).
			Limit(p.Limit()).
			Find(&items).Error
	})
	eg.Go(func() error {
		return s.db.WithContext(egCtx).
			Model(&model.Task{}).
			Scopes(ownedBy(userID), applyTaskCriteria(c)).
			Count(&total).Error
	})
	if err := eg.Wait(); err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	return items, total, nil
}

// CreateTask 创建任务。
//
// 若指定了 CompanyID，会在同一事务中确认公司属于同一用户，否则返回 ErrCompanyReference。
func (s *Store) CreateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if task.CompanyID != nil {
			ok, err := companyOwnedBy(tx, task.UserID, *task.CompanyID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrCompanyReference
			}
		}
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	})
}

// UpdateTask 按 (id, user_id) 部分更新任务。
//
// updates 中的 company_id 为非空字符串时同样校验公司归属；为 nil 表示解除关联。
func (s *Store) UpdateTask(ctx context.Context, userID, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	foldUpdates(updates)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if v, ok := updates["company_id"]; ok {
			if companyID, ok := v.(string); ok {
				owned, err := companyOwnedBy(tx, userID, companyID)
				if err != nil {
					return err
				}
				if !owned {
					return ErrCompanyReference
				}
			}
		}
		res := tx.Model(&model.Task{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// foldUpdates 为部分更新补齐折叠列，map 更新不会经过 BeforeSave 写回字段。
func foldUpdates(updates map[string]interface{}) {
	fold := map[string]string{"task_type": "type_key", "title": "title_key", "description": "description_key"}
	for col, key := range fold {
		v, ok := updates[col]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			updates[key] = model.FoldText(val)
		case *string:
			if val == nil {
				updates[key] = ""
			} else {
				updates[key] = model.FoldText(*val)
			}
		case nil:
			updates[key] = ""
		}
	}
}

// DeleteTask 按 (id, user_id) 删除任务。
func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Task{})
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskStats 统计用户的公司数与各状态任务数。
func (s *Store) TaskStats(ctx context.Context, userID string) (model.TaskStats, error) {
	var (
		stats model.TaskStats
		rows  []struct {
			Status model.TaskStatus
			Count  int64
		}
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.db.WithContext(egCtx).
			Model(&model.Company{}).
			Scopes(ownedBy(userID)).
			Count(&stats.TotalCompanies).Error
	})
	eg.Go(func() error {
		return s.db.WithContext(egCtx).
			Model(&model.Task{}).
			Select("status, COUNT(*) AS count").
			Scopes(ownedBy(userID)).
			Group("status").
			Scan(&rows).Error
	})
	if err := eg.Wait(); err != nil {
		return model.TaskStats{}, fmt.Errorf("task stats: %w", err)
	}

	for _, row := range rows {
		stats.TotalTasks += row.Count
		switch row.Status {
		case model.StatusTodo:
			stats.TodoTasks = row.Count
		case model.StatusInProgress:
			stats.InProgressTasks = row.Count
		case model.StatusDone:
			stats.DoneTasks = row.Count
		}
	}
	return stats, nil
}

// UpcomingTasks 返回最近到期的未完成任务（TODO / IN_PROGRESS）。
func (s *Store) UpcomingTasks(ctx context.Context, userID string, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 5
	}
	var tasks []model.Task
	err := s.db.WithContext(ctx).
		Scopes(ownedBy(userID)).
		Where("status IN ?", []model.TaskStatus{model.StatusTodo, model.StatusInProgress}).
		Preload("Company", preloadCompanyName).
		Order("due_date ASC").
		Order("id ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("upcoming tasks: %w", err)
	}
	return tasks, nil
}
