// Package notify 发送任务到期提醒。
package notify

import (
	"context"

	"preptracker/internal/model"
)

// Notifier 把提醒投递给任务所属用户。
type Notifier interface {
	SendTaskReminder(ctx context.Context, target *model.ReminderTarget) error
}
