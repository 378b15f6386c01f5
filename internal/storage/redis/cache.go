package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailbridge/backend/internal/storage"
)

const (
	processedKeyPrefix = "mailbridge:processed:"
	processedCacheTTL  = 7 * 24 * time.Hour
)

// ProcessedCache 在持久存储前加一层 Redis 缓存的已处理标记仓库。
//
// 读路径先查缓存、未命中回源数据库并回填；写路径先写库再写缓存。
// 缓存失效只会导致多一次数据库查询，正确性始终由数据库行保证。
type ProcessedCache struct {
	client *Client
	next   storage.ProcessedRepository
	log    *zap.Logger
}

var _ storage.ProcessedRepository = (*ProcessedCache)(nil)

// NewProcessedCache 创建带缓存的已处理标记仓库
func NewProcessedCache(client *Client, next storage.ProcessedRepository, log *zap.Logger) *ProcessedCache {
	return &ProcessedCache{client: client, next: next, log: log}
}

// IsMessageProcessed 查询邮件是否已处理
func (c *ProcessedCache) IsMessageProcessed(messageID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	n, err := c.client.rdb.Exists(ctx, processedKeyPrefix+messageID).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	if err != nil {
		c.log.Warn("processed cache lookup failed, falling back to database", zap.Error(err))
	}

	processed, err := c.next.IsMessageProcessed(messageID)
	if err != nil {
		return false, err
	}
	if processed {
		c.fill(messageID)
	}
	return processed, nil
}

// MarkMessageProcessed 先持久化再写缓存
func (c *ProcessedCache) MarkMessageProcessed(messageID string) error {
	if err := c.next.MarkMessageProcessed(messageID); err != nil {
		return err
	}
	c.fill(messageID)
	return nil
}

// FilterProcessed 批量查询；缓存命中的直接采纳，其余回源数据库
func (c *ProcessedCache) FilterProcessed(ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = processedKeyPrefix + id
	}

	var miss []string
	values, err := c.client.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("processed cache batch lookup failed", zap.Error(err))
		}
		miss = ids
	} else {
		for i, v := range values {
			if v != nil {
				out[ids[i]] = true
			} else {
				miss = append(miss, ids[i])
			}
		}
	}

	if len(miss) > 0 {
		fromDB, err := c.next.FilterProcessed(miss)
		if err != nil {
			return nil, err
		}
		for id := range fromDB {
			out[id] = true
			c.fill(id)
		}
	}
	return out, nil
}

func (c *ProcessedCache) fill(messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.client.rdb.Set(ctx, processedKeyPrefix+messageID, "1", processedCacheTTL).Err(); err != nil {
		c.log.Warn("failed to fill processed cache", zap.String("message_id", messageID), zap.Error(err))
	}
}
