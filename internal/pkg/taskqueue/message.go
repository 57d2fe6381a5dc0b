package taskqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 消息来源。
const (
	SourcePeriodic = "periodic" // 调度器周期扫描
	SourceRetry    = "retry"    // 失败后重新入队
)

var errIncompleteReminder = errors.New("reminder missing task_id or user_id")

// ReminderMessage 是提醒 Stream 中的一条消息。
//
// 消费端会按 (TaskID, UserID) 重新加载任务，DueDate 用于判断任务在入队后是否改期。
type ReminderMessage struct {
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	DueDate   time.Time `json:"due_date"`  // 扫描时的截止日期
	Timestamp time.Time `json:"timestamp"` // 本次入队时间
	Retry     int       `json:"retry"`     // 已重试次数
	Source    string    `json:"source"`
}

// NewReminderMessage 创建一条首次投递的提醒消息。
func NewReminderMessage(taskID, userID string, dueDate time.Time, source string) *ReminderMessage {
	return &ReminderMessage{
		TaskID:    taskID,
		UserID:    userID,
		DueDate:   dueDate.UTC(),
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

func (m *ReminderMessage) validate() error {
	if m == nil || m.TaskID == "" || m.UserID == "" {
		return errIncompleteReminder
	}
	return nil
}

// nextAttempt 返回重新入队用的副本。
func (m *ReminderMessage) nextAttempt() *ReminderMessage {
	next := *m
	next.Retry++
	next.Source = SourceRetry
	next.Timestamp = time.Now().UTC()
	return &next
}

func encodeReminder(m *ReminderMessage) (string, error) {
	if err := m.validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal reminder: %w", err)
	}
	return string(data), nil
}

func decodeReminder(data string) (*ReminderMessage, error) {
	var m ReminderMessage
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal reminder: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
