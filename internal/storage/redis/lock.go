package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailbridge/backend/internal/storage"
)

const lockKeyPrefix = "mailbridge:lock:"

// releaseScript 比较持有令牌后删除，保证不会误删新持有者的锁
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore 基于 Redis SET NX PX 的运行锁实现。
// TTL 到期后键自动消失，崩溃的运行无需清理即可自愈。
type LockStore struct {
	client *Client
}

var _ storage.LockRepository = (*LockStore)(nil)

// NewLockStore 创建 Redis 锁存储
func NewLockStore(client *Client) *LockStore {
	return &LockStore{client: client}
}

// AcquireLock 原子获取锁：键存在且未过期时返回 false
func (s *LockStore) AcquireLock(name, token string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.client.rdb.SetNX(ctx, lockKeyPrefix+name, token, ttl).Result()
}

// ReleaseLock 仅在令牌匹配时删除键；不匹配或键已消失时为空操作
func (s *LockStore) ReleaseLock(name, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return releaseScript.Run(ctx, s.client.rdb, []string{lockKeyPrefix + name}, token).Err()
}
