package hybrid

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailbridge/backend/internal/storage"
	"mailbridge/backend/internal/storage/postgres"
	"mailbridge/backend/internal/storage/redis"
)

// Store 混合存储（SQL + Redis）
//
// 目标、审计日志和已处理记录落在关系数据库里；运行锁走
// Redis 的 SETNX 原子语义，已处理判定加一层 Redis 缓存。
// 数据库仍是权威，缓存失效只影响性能不影响正确性。
type Store struct {
	*postgres.Store
	redisClient *redis.Client
	lock        *redis.LockStore
	processed   *redis.ProcessedCache
}

var _ storage.Store = (*Store)(nil)

// NewStoreWithType 创建混合存储
func NewStoreWithType(dbType, dsn, redisAddr, redisPassword string, redisDB int, log *zap.Logger) (*Store, error) {
	sqlStore, err := postgres.NewStoreWithType(dbType, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating sql store: %w", err)
	}

	redisClient, err := redis.New(redis.Options{
		Address:  redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	}, log)
	if err != nil {
		sqlStore.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Store{
		Store:       sqlStore,
		redisClient: redisClient,
		lock:        redis.NewLockStore(redisClient),
		processed:   redis.NewProcessedCache(redisClient, sqlStore, log),
	}, nil
}

// AcquireLock 通过 Redis 获取运行锁
func (s *Store) AcquireLock(name, token string, ttl time.Duration) (bool, error) {
	return s.lock.AcquireLock(name, token, ttl)
}

// ReleaseLock 通过 Redis 释放运行锁
func (s *Store) ReleaseLock(name, token string) error {
	return s.lock.ReleaseLock(name, token)
}

// IsMessageProcessed 优先查 Redis 缓存，未命中回源数据库
func (s *Store) IsMessageProcessed(messageID string) (bool, error) {
	return s.processed.IsMessageProcessed(messageID)
}

// MarkMessageProcessed 写入数据库后同步缓存
func (s *Store) MarkMessageProcessed(messageID string) error {
	return s.processed.MarkMessageProcessed(messageID)
}

// FilterProcessed 批量判定已处理的邮件
func (s *Store) FilterProcessed(ids []string) (map[string]bool, error) {
	return s.processed.FilterProcessed(ids)
}

// Close 关闭数据库和 Redis 连接
func (s *Store) Close() error {
	redisErr := s.redisClient.Close()
	if err := s.Store.Close(); err != nil {
		return err
	}
	return redisErr
}

// Health 检查数据库和 Redis 连接
func (s *Store) Health() error {
	if err := s.Store.Health(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.redisClient.Ping(ctx)
}
