package store

import (
	"context"
	"fmt"
	"time"

	"preptracker/internal/model"
)

// DueTasks 按 ID 游标分批返回截止日期落在 [from, to] 且未完成的任务。
func (s *Store) DueTasks(ctx context.Context, from, to time.Time, afterID string, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []model.Task
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "due_date", "status").
		Where("status <> ? AND due_date >= ? AND due_date <= ? AND id > ?", model.StatusDone, from, to, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	return tasks, nil
}

// ReminderTarget 加载发送提醒所需的任务、用户与公司信息。
func (s *Store) ReminderTarget(ctx context.Context, userID, taskID string) (*model.ReminderTarget, error) {
	var target model.ReminderTarget
	res := s.db.WithContext(ctx).
		Table("tasks").
		Select(`tasks.id AS task_id, tasks.user_id AS user_id, users.name AS user_name, users.email AS email,
			tasks.title AS title, tasks.topic AS topic, tasks.task_type AS task_type, tasks.status AS status,
			tasks.due_date AS due_date, COALESCE(companies.name, '') AS company_name`).
		Joins("JOIN users ON users.id = tasks.user_id").
		Joins("LEFT JOIN companies ON companies.id = tasks.company_id").
		Where("tasks.id = ? AND tasks.user_id = ?", taskID, userID).
		Limit(1).
		Scan(&target)
	if res.Error != nil {
		return nil, fmt.Errorf("load reminder target: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &target, nil
}
