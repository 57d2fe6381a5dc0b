package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"preptracker/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Outcome 描述一次失败投递的去向。
type Outcome string

const (
	OutcomeRetried      Outcome = "retried"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Delivery 是从消费者组读到的一条提醒。
type Delivery struct {
	ID       string // Redis Stream 消息 ID
	Reminder *ReminderMessage
}

// Consumer 通过消费者组读取提醒，并负责确认、重试与死信。
type Consumer struct {
	stream     *stream
	logger     *slog.Logger
	group      string
	consumerID string

	block     time.Duration
	batch     int64
	claimIdle time.Duration
	claimFrom string
	maxRetry  int
}

// ConsumerOption 消费者配置选项。
type ConsumerOption func(*Consumer)

// WithBlockTime 设置 XREADGROUP 的阻塞时间。
func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.block = d }
}

// WithBatchSize 设置每次读取的消息数量。
func WithBatchSize(n int64) ConsumerOption {
	return func(c *Consumer) { c.batch = n }
}

// WithClaimIdle 设置 Pending 消息被其他消费者认领前的最小空闲时间。
func WithClaimIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.claimIdle = d }
}

// WithMaxRetry 设置进入死信前允许的重试次数。
func WithMaxRetry(n int) ConsumerOption {
	return func(c *Consumer) { c.maxRetry = n }
}

// NewConsumer 创建消费者，并在需要时创建消费者组。
func NewConsumer(rdb *redis.Client, logger *slog.Logger, streamName, group, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if group == "" {
		return nil, errors.New("group name is required")
	}
	if consumerID == "" {
		consumerID = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}

	c := &Consumer{
		stream:     newStream(rdb, logger, streamName),
		logger:     logger,
		group:      group,
		consumerID: consumerID,
		block:      time.Second,
		batch:      10,
		claimIdle:  time.Minute,
		claimFrom:  "0-0",
		maxRetry:   3,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.stream.ensureGroup(context.Background(), group); err != nil {
		return nil, err
	}
	logger.Info("reminder consumer ready",
		slog.String("stream", c.stream.name),
		slog.String("group", group),
		slog.String("consumer_id", consumerID))
	return c, nil
}

// Read 返回下一批提醒。
//
// 先用 XAUTOCLAIM 接管空闲超时的 Pending 消息，没有时再用 XREADGROUP 读取新消息。
// 无法解析的消息直接进入死信并确认，不会返回给调用方。
func (c *Consumer) Read(ctx context.Context) ([]*Delivery, error) {
	claimed, err := c.reclaim(ctx)
	if err != nil || len(claimed) > 0 {
		return claimed, err
	}
	return c.readFresh(ctx)
}

func (c *Consumer) reclaim(ctx context.Context) ([]*Delivery, error) {
	msgs, next, err := c.stream.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream.name,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.claimIdle,
		Start:    c.claimFrom,
		Count:    c.batch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if next != "" {
		c.claimFrom = next
	}
	if len(msgs) > 0 {
		metrics.TaskAutoClaimTotal.Add(float64(len(msgs)))
		c.logger.Info("reclaimed idle reminders", slog.Int("count", len(msgs)))
	}
	return c.decode(ctx, msgs), nil
}

func (c *Consumer) readFresh(ctx context.Context) ([]*Delivery, error) {
	streams, err := c.stream.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream.name, ">"},
		Count:    c.batch,
		Block:    c.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []*Delivery
	for _, s := range streams {
		out = append(out, c.decode(ctx, s.Messages)...)
	}
	return out, nil
}

func (c *Consumer) decode(ctx context.Context, msgs []redis.XMessage) []*Delivery {
	out := make([]*Delivery, 0, len(msgs))
	for _, msg := range msgs {
		data, _ := msg.Values[payloadField].(string)
		reminder, err := decodeReminder(data)
		if err != nil {
			c.logger.Warn("poison reminder message",
				slog.String("msg_id", msg.ID),
				slog.String("error", err.Error()))
			c.discard(ctx, msg.ID, data, err)
			continue
		}
		out = append(out, &Delivery{ID: msg.ID, Reminder: reminder})
	}
	return out
}

// Ack 确认消息已处理。
func (c *Consumer) Ack(ctx context.Context, msgID string) error {
	n, err := c.stream.rdb.XAck(ctx, c.stream.name, c.group, msgID).Result()
	if err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if n == 0 {
		c.logger.Warn("reminder already acked", slog.String("msg_id", msgID))
	}
	return nil
}

// Fail 处理一次失败投递：未超过 maxRetry 时以 retry+1 重新入队，否则写入死信。
// 两种情况下原消息都会被确认。
func (c *Consumer) Fail(ctx context.Context, d *Delivery, cause error) (Outcome, error) {
	if d == nil || d.Reminder == nil {
		return "", errors.New("delivery is nil")
	}

	if d.Reminder.Retry >= c.maxRetry {
		payload, _ := encodeReminder(d.Reminder)
		if err := c.deadLetter(ctx, d.ID, payload, cause); err != nil {
			return OutcomeDeadLettered, err
		}
		return OutcomeDeadLettered, c.Ack(ctx, d.ID)
	}

	if err := c.stream.appendReminder(ctx, d.Reminder.nextAttempt()); err != nil {
		return OutcomeRetried, err
	}
	return OutcomeRetried, c.Ack(ctx, d.ID)
}

// Pending 返回消费者组中尚未确认的消息数。
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.stream.rdb.XPending(ctx, c.stream.name, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	return info.Count, nil
}

func (c *Consumer) discard(ctx context.Context, msgID, payload string, cause error) {
	if err := c.deadLetter(ctx, msgID, payload, cause); err != nil {
		c.logger.Error("dead letter poison message failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
	if err := c.Ack(ctx, msgID); err != nil {
		c.logger.Error("ack poison message failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msgID, payload string, cause error) error {
	_, err := c.stream.xadd(ctx, c.stream.deadLetterName(), map[string]interface{}{
		"original_id": msgID,
		"payload":     payload,
		"reason":      cause.Error(),
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err == nil {
		metrics.TaskDLQTotal.Inc()
	}
	return err
}
