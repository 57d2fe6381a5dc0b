// Package dedup 记录已经发布过提醒的 (任务, 截止日期)，防止重复扫描时重复发信。
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimPrefix = "preptracker:dedup:reminder:"

// Deduplicator 在 Redis 中为每个提醒占一个带 TTL 的标记。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDeduplicator 创建去重器，ttl <= 0 时默认 1 小时。
func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduplicator{rdb: rdb, ttl: ttl}
}

// Claim 为任务在当前截止日期上占位，首次占位返回 true。
// 截止日期修改后会得到新的占位，因此改期的任务会再次提醒。
func (d *Deduplicator) Claim(ctx context.Context, taskID string, due time.Time) (bool, error) {
	if d == nil || d.rdb == nil {
		return true, nil
	}
	ok, err := d.rdb.SetNX(ctx, claimKey(taskID, due), due.UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim %s: %w", taskID, err)
	}
	return ok, nil
}

// Release 撤销占位，发布失败时调用以便下一轮重试。
func (d *Deduplicator) Release(ctx context.Context, taskID string, due time.Time) error {
	if d == nil || d.rdb == nil {
		return nil
	}
	if err := d.rdb.Del(ctx, claimKey(taskID, due)).Err(); err != nil {
		return fmt.Errorf("dedup release %s: %w", taskID, err)
	}
	return nil
}

func claimKey(taskID string, due time.Time) string {
	sum := sha256.Sum256([]byte(taskID + "|" + due.UTC().Format(time.RFC3339)))
	return claimPrefix + hex.EncodeToString(sum[:])
}
